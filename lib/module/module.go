package module

import (
	"fmt"
	"github.com/ValentinKolb/dkvmod/lib/raw"
	"strings"
)

// --------------------------------------------------------------------------
// Registry Types
// --------------------------------------------------------------------------

// Handler implements a command. args[0] is the command name.
type Handler func(ctx *Context, args []RStr) (Value, error)

// InitFunc runs once when the module is loaded. args are the load arguments, without the
// module name. An error aborts the load.
type InitFunc func(ctx *Context, args []RStr) error

// Command describes one command of a module.
type Command struct {
	Name    string
	Handler Handler
	// Flags is a space separated list drawn from CommandFlags.
	Flags string
	// FirstKey, LastKey and KeyStep locate the key arguments; 0,0,0 means no keys.
	// A negative LastKey counts from the end.
	FirstKey int
	LastKey  int
	KeyStep  int
}

// Module is the explicit registry of a module: name, version, load hook and commands.
// It is built once and not modified after OnLoad.
type Module struct {
	Name     string
	Version  int
	Init     InitFunc
	Commands []Command
}

// CommandFlags is the vocabulary accepted in Command.Flags.
var CommandFlags = map[string]struct{}{
	"write":         {},
	"readonly":      {},
	"admin":         {},
	"deny-oom":      {},
	"deny-script":   {},
	"allow-loading": {},
	"pubsub":        {},
	"random":        {},
	"allow-stale":   {},
	"no-monitor":    {},
	"fast":          {},
	"getkeys-api":   {},
	"no-cluster":    {},
}

// --------------------------------------------------------------------------
// Validation
// --------------------------------------------------------------------------

// Validate checks names, flags and key specs of every command.
func (m *Module) Validate() error {
	if m.Name == "" {
		return Errorf("ERR module name is empty")
	}
	seen := make(map[string]struct{}, len(m.Commands))
	for _, cmd := range m.Commands {
		name := strings.ToLower(cmd.Name)
		if name == "" || strings.ContainsAny(name, " \t\r\n") {
			return Errorf("ERR invalid command name '%s'", cmd.Name)
		}
		if _, dup := seen[name]; dup {
			return Errorf("ERR duplicate command '%s'", cmd.Name)
		}
		seen[name] = struct{}{}
		if cmd.Handler == nil {
			return Errorf("ERR command '%s' has no handler", cmd.Name)
		}
		if err := ValidateFlags(cmd.Flags); err != nil {
			return Errorf("ERR command '%s': %s", cmd.Name, err.Error())
		}
		if cmd.FirstKey < 0 || cmd.KeyStep < 0 {
			return Errorf("ERR command '%s': invalid key spec", cmd.Name)
		}
		if cmd.FirstKey == 0 && (cmd.LastKey != 0 || cmd.KeyStep != 0) {
			return Errorf("ERR command '%s': invalid key spec", cmd.Name)
		}
		if cmd.FirstKey > 0 && cmd.KeyStep == 0 {
			return Errorf("ERR command '%s': invalid key spec", cmd.Name)
		}
	}
	return nil
}

// ValidateFlags checks that every token of flags is part of CommandFlags.
func ValidateFlags(flags string) error {
	for _, f := range strings.Fields(flags) {
		if _, ok := CommandFlags[strings.ToLower(f)]; !ok {
			return fmt.Errorf("unknown command flag '%s'", f)
		}
	}
	return nil
}

// --------------------------------------------------------------------------
// Load hook and dispatch
// --------------------------------------------------------------------------

// OnLoad registers the module with the host. It has the signature of raw.OnLoadFunc.
func (m *Module) OnLoad(h raw.Host, rctx raw.Ctx, argv []raw.StringPtr) raw.Status {
	if err := m.Validate(); err != nil {
		log.Errorf("module %s rejected: %v", m.Name, err)
		return raw.StatusErr
	}
	if h.SetModuleAttribs(rctx, m.Name, m.Version) != raw.StatusOK {
		log.Errorf("module %s: name already in use", m.Name)
		return raw.StatusErr
	}

	if m.Init != nil {
		ctx := newContext(h, rctx)
		err := runInit(m.Init, ctx, ctx.wrapArgs(argv))
		ctx.release()
		if err != nil {
			log.Errorf("module %s failed to initialize: %v", m.Name, err)
			return raw.StatusErr
		}
	}

	for _, cmd := range m.Commands {
		fn := dispatcher(h, cmd.Handler)
		if h.CreateCommand(rctx, cmd.Name, fn, cmd.Flags, cmd.FirstKey, cmd.LastKey, cmd.KeyStep) != raw.StatusOK {
			log.Errorf("module %s: fail to register command %s", m.Name, cmd.Name)
			return raw.StatusErr
		}
	}
	log.Infof("module %s v%d loaded with %d commands", m.Name, m.Version, len(m.Commands))
	return raw.StatusOK
}

func runInit(fn InitFunc, ctx *Context, args []RStr) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic in init: %v", r)
		}
	}()
	return fn(ctx, args)
}

// dispatcher adapts a Handler to the raw command entry point. The context is released
// and invalidated on every exit path; errors become error replies.
func dispatcher(h raw.Host, handler Handler) raw.CmdFunc {
	return func(rctx raw.Ctx, argv []raw.StringPtr) raw.Status {
		ctx := newContext(h, rctx)
		defer ctx.release()

		v, err := invoke(handler, ctx, ctx.wrapArgs(argv))
		if err != nil {
			h.ReplyWithError(rctx, replyErrorText(err))
			return raw.StatusOK
		}
		if err := v.reply(h, rctx); err != nil {
			log.Errorf("fail to send reply: %v", err)
			return raw.StatusErr
		}
		return raw.StatusOK
	}
}

// invoke runs the handler and turns a panic into an error.
func invoke(handler Handler, ctx *Context, args []RStr) (v Value, err error) {
	defer func() {
		if r := recover(); r != nil {
			log.Errorf("command %s panicked: %v", commandName(args), r)
			v, err = Value{}, NewError(ErrCHostStatus, fmt.Sprintf("ERR command panicked: %v", r))
		}
	}()
	return handler(ctx, args)
}

func commandName(args []RStr) string {
	if len(args) == 0 {
		return "?"
	}
	return args[0].String()
}
