package host

import (
	"errors"
	"fmt"
	"github.com/ValentinKolb/dkvmod/lib/raw"
	"sort"
	"strings"
)

var (
	ErrModuleLoad     = errors.New("module failed to load")
	ErrModuleNotFound = errors.New("module not loaded")
)

// --------------------------------------------------------------------------
// Module loading
// --------------------------------------------------------------------------

// loadedModule tracks what a module registered, so it can be removed again.
type loadedModule struct {
	name     string
	version  int
	commands []string
	loading  bool
}

// LoadModule runs the load hook of a module with the given arguments. Commands and
// receivers registered by a failing hook are removed again.
func (s *Server) LoadModule(onLoad raw.OnLoadFunc, args ...string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}

	mod := &loadedModule{loading: true}
	c := s.newCallCtx(nil, &execFrame{}, 0, nil)
	c.module = mod
	argv := make([]raw.StringPtr, len(args))
	for i, a := range args {
		argv[i] = s.newString(c, []byte(a))
	}

	st := s.invokeOnLoad(c, onLoad, argv)
	mod.loading = false
	s.releaseCtx(c)

	switch {
	case st != raw.StatusOK:
		s.removeModule(mod)
		return fmt.Errorf("%w: load hook of %q returned an error", ErrModuleLoad, mod.name)
	case mod.name == "":
		s.removeModule(mod)
		return fmt.Errorf("%w: module did not set its name", ErrModuleLoad)
	}

	for _, name := range mod.commands {
		if cmd, ok := s.commands.Load(name); ok {
			cmd.owner = mod.name
		}
	}
	s.modules[mod.name] = mod
	log.Infof("module %s (version %d) loaded with %d commands", mod.name, mod.version, len(mod.commands))
	return nil
}

func (s *Server) invokeOnLoad(c *callCtx, onLoad raw.OnLoadFunc, argv []raw.StringPtr) (st raw.Status) {
	defer func() {
		if rec := recover(); rec != nil {
			log.Errorf("module load hook panicked: %v", rec)
			st = raw.StatusErr
		}
	}()
	return onLoad(s, c.id, argv)
}

// UnloadModule removes the commands and cluster receivers of a module.
func (s *Server) UnloadModule(name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	mod, ok := s.modules[name]
	if !ok {
		return fmt.Errorf("%w: %s", ErrModuleNotFound, name)
	}
	s.removeModule(mod)
	delete(s.modules, name)
	log.Infof("module %s unloaded", name)
	return nil
}

func (s *Server) removeModule(mod *loadedModule) {
	for _, name := range mod.commands {
		s.commands.Delete(name)
	}
	if mod.name == "" {
		return
	}
	s.receivers.Range(func(t uint8, r receiver) bool {
		if r.owner == mod.name {
			s.receivers.Delete(t)
		}
		return true
	})
}

// Modules returns the names of the loaded modules.
func (s *Server) Modules() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	names := make([]string, 0, len(s.modules))
	for name := range s.modules {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// loading returns the module of a context whose load hook is running.
func (s *Server) loading(ctx raw.Ctx) *loadedModule {
	c := s.ctx(ctx)
	if c == nil || c.module == nil || !c.module.loading {
		return nil
	}
	return c.module
}

func (s *Server) SetModuleAttribs(ctx raw.Ctx, name string, version int) raw.Status {
	mod := s.loading(ctx)
	if mod == nil || name == "" || mod.name != "" {
		return raw.StatusErr
	}
	if _, exists := s.modules[name]; exists {
		log.Warningf("module %s is already loaded", name)
		return raw.StatusErr
	}
	mod.name = name
	mod.version = version
	return raw.StatusOK
}

func (s *Server) CreateCommand(ctx raw.Ctx, name string, fn raw.CmdFunc, flags string, firstKey, lastKey, keyStep int) raw.Status {
	mod := s.loading(ctx)
	if mod == nil || fn == nil || name == "" {
		return raw.StatusErr
	}
	f, err := parseFlags(flags)
	if err != nil {
		log.Warningf("command %s: %v", name, err)
		return raw.StatusErr
	}
	if firstKey < 0 || keyStep < 0 || (firstKey > 0 && lastKey > 0 && lastKey < firstKey) {
		log.Warningf("command %s: invalid key spec %d %d %d", name, firstKey, lastKey, keyStep)
		return raw.StatusErr
	}

	name = strings.ToLower(name)
	cmd := &command{
		name:     name,
		arity:    -1,
		flags:    f,
		module:   fn,
		owner:    mod.name,
		firstKey: firstKey,
		lastKey:  lastKey,
		keyStep:  keyStep,
	}
	if _, loaded := s.commands.LoadOrStore(name, cmd); loaded {
		log.Warningf("command %s already exists", name)
		return raw.StatusErr
	}
	mod.commands = append(mod.commands, name)
	return raw.StatusOK
}

// --------------------------------------------------------------------------
// Logging
// --------------------------------------------------------------------------

func (s *Server) Log(ctx raw.Ctx, level string, msg string) {
	owner := "module"
	if c := s.ctx(ctx); c != nil {
		if name := c.ownerModule(); name != "" {
			owner = name
		}
	}
	switch level {
	case raw.LogLevelDebug:
		moduleLog.Debugf("[%s] %s", owner, msg)
	case raw.LogLevelWarning:
		moduleLog.Warningf("[%s] %s", owner, msg)
	default:
		moduleLog.Infof("[%s] %s", owner, msg)
	}
}
