package module

import (
	"fmt"
	"github.com/ValentinKolb/dkvmod/lib/raw"
	"github.com/lni/dragonboat/v4/logger"
	"strconv"
	"strings"
)

var log = logger.GetLogger("module")

// --------------------------------------------------------------------------
// Call Flags
// --------------------------------------------------------------------------

// CallFlags control nested calls and explicit replication. Flags can be combined.
type CallFlags uint8

const (
	CallNone       CallFlags = 0
	CallReplicate  CallFlags = 1 << (iota - 1) // propagate the call to AOF and replicas
	CallNoAOF                                  // exclude the append only file from propagation
	CallNoReplicas                             // exclude replicas from propagation
	CallCheckOOM                               // refuse deny-oom commands when over the resource limit
)

// String returns the flag characters understood by the host.
func (f CallFlags) String() string {
	var sb strings.Builder
	if f&CallReplicate != 0 {
		sb.WriteByte(raw.CallFlagReplicate)
	}
	if f&CallNoAOF != 0 {
		sb.WriteByte(raw.CallFlagNoAOF)
	}
	if f&CallNoReplicas != 0 {
		sb.WriteByte(raw.CallFlagNoReplicas)
	}
	if f&CallCheckOOM != 0 {
		sb.WriteByte(raw.CallFlagCheckOOM)
	}
	return sb.String()
}

// --------------------------------------------------------------------------
// Context
// --------------------------------------------------------------------------

// resource is a host resource released when the callback returns.
type resource interface {
	release()
}

// Context is the handle of one callback invocation. It and everything obtained from it
// (keys, strings, replies, node lists) are only valid until the callback returns. Any use
// afterwards fails with ErrContextExpired or, for accessors without an error result, panics.
type Context struct {
	host  raw.Host
	raw   raw.Ctx
	valid bool
	arena []resource

	replicatedStr      bool
	replicatedVerbatim bool
	mixWarned          bool
}

// newContext wraps a raw context for the duration of one callback.
func newContext(h raw.Host, ctx raw.Ctx) *Context {
	return &Context{host: h, raw: ctx, valid: true}
}

// release frees every resource still held and invalidates the context. Resources are
// released in reverse order of acquisition.
func (c *Context) release() {
	if !c.valid {
		return
	}
	for i := len(c.arena) - 1; i >= 0; i-- {
		c.arena[i].release()
	}
	c.arena = nil
	c.valid = false
}

func (c *Context) track(r resource) {
	c.arena = append(c.arena, r)
}

// check fails once the callback has returned.
func (c *Context) check() error {
	if c == nil || !c.valid {
		return ErrContextExpired
	}
	return nil
}

func (c *Context) mustCheck() {
	if err := c.check(); err != nil {
		panic(err.Error())
	}
}

// Valid reports whether the context can still be used.
func (c *Context) Valid() bool {
	return c != nil && c.valid
}

// wrapArgs creates borrowed views for the raw argument vector.
func (c *Context) wrapArgs(argv []raw.StringPtr) []RStr {
	args := make([]RStr, len(argv))
	for i, p := range argv {
		args[i] = RStr{ctx: c, ptr: p}
	}
	return args
}

// --------------------------------------------------------------------------
// Database selection
// --------------------------------------------------------------------------

// SelectedDB returns the index of the selected database.
func (c *Context) SelectedDB() int {
	c.mustCheck()
	return c.host.GetSelectedDb(c.raw)
}

// SelectDB selects another database for the rest of the callback.
func (c *Context) SelectDB(id int) error {
	if err := c.check(); err != nil {
		return err
	}
	if id < 0 {
		return NewError(ErrCValidation, "ERR DB index is out of range")
	}
	return handleStatus(c.host.SelectDb(c.raw, id), "ERR DB index is out of range")
}

// --------------------------------------------------------------------------
// Keys
// --------------------------------------------------------------------------

// OpenKey opens name in the selected database.
func (c *Context) OpenKey(name StringLike, mode KeyMode) (*Key, error) {
	if err := c.check(); err != nil {
		return nil, err
	}
	p, err := name.handle()
	if err != nil {
		return nil, err
	}
	kp := c.host.OpenKey(c.raw, p, int(mode))
	if kp == 0 {
		return nil, NewError(ErrCHostStatus, "fail to open key")
	}
	k := &Key{ctx: c, ptr: kp, name: string(c.host.StringPtrLen(p)), mode: mode}
	c.track(k)
	return k, nil
}

// OpenReadKey opens name in read mode.
func (c *Context) OpenReadKey(name StringLike) (*Key, error) {
	return c.OpenKey(name, ModeRead)
}

// OpenWriteKey opens name in write mode.
func (c *Context) OpenWriteKey(name StringLike) (*Key, error) {
	return c.OpenKey(name, ModeWrite)
}

// --------------------------------------------------------------------------
// Owned strings
// --------------------------------------------------------------------------

// CreateString allocates a host string holding s.
func (c *Context) CreateString(s string) *RString {
	return c.CreateStringBytes([]byte(s))
}

// CreateStringBytes allocates a host string holding a copy of b.
func (c *Context) CreateStringBytes(b []byte) *RString {
	c.mustCheck()
	return c.adoptString(c.host.CreateString(c.raw, b))
}

// CreateStringFromInt allocates a host string holding v in base 10.
func (c *Context) CreateStringFromInt(v int64) *RString {
	return c.CreateString(strconv.FormatInt(v, 10))
}

// adoptString takes ownership of a string returned by the host.
func (c *Context) adoptString(p raw.StringPtr) *RString {
	s := &RString{str: RStr{ctx: c, ptr: p}}
	c.track(s)
	return s
}

// --------------------------------------------------------------------------
// Nested calls
// --------------------------------------------------------------------------

// Call runs cmd with args as if it was sent by a client and returns its reply. Unknown
// commands, wrong arity, refusal because of flags and error replies all fail.
func (c *Context) Call(cmd string, flags CallFlags, args ...StringLike) (*Reply, error) {
	if err := c.check(); err != nil {
		return nil, err
	}
	argv := make([]raw.StringPtr, len(args))
	for i, a := range args {
		p, err := a.handle()
		if err != nil {
			return nil, err
		}
		argv[i] = p
	}
	return c.call(cmd, flags, argv)
}

// CallStr is Call with Go string arguments.
func (c *Context) CallStr(cmd string, flags CallFlags, args ...string) (*Reply, error) {
	if err := c.check(); err != nil {
		return nil, err
	}
	argv, free := c.tempStrings(args)
	defer free()
	return c.call(cmd, flags, argv)
}

func (c *Context) call(cmd string, flags CallFlags, argv []raw.StringPtr) (*Reply, error) {
	p := c.host.Call(c.raw, cmd, flags.String(), argv)
	if p == 0 {
		return nil, NewError(ErrCHostStatus, fmt.Sprintf("ERR fail to call '%s': unknown command, wrong number of arguments or refused", cmd))
	}
	r := &Reply{ctx: c, ptr: p}
	if c.host.CallReplyType(p) == raw.ReplyError {
		msg := string(c.host.CallReplyStringPtr(p))
		c.host.FreeCallReply(p)
		return nil, NewError(ErrCHostStatus, msg)
	}
	c.track(r)
	return r, nil
}

// tempStrings creates host strings for args; free releases them.
func (c *Context) tempStrings(args []string) ([]raw.StringPtr, func()) {
	argv := make([]raw.StringPtr, len(args))
	for i, a := range args {
		argv[i] = c.host.CreateString(c.raw, []byte(a))
	}
	return argv, func() {
		for _, p := range argv {
			c.host.FreeString(c.raw, p)
		}
	}
}

// --------------------------------------------------------------------------
// Replication
// --------------------------------------------------------------------------

// ReplicateStr propagates cmd with args to the append only file and replicas instead of
// the current invocation. It may be called several times; the commands are propagated in
// order. Use either ReplicateStr or ReplicateVerbatim within one invocation, not both.
func (c *Context) ReplicateStr(cmd string, flags CallFlags, args ...string) error {
	if err := c.check(); err != nil {
		return err
	}
	argv, free := c.tempStrings(args)
	defer free()
	if err := handleStatus(c.host.Replicate(c.raw, cmd, flags.String(), argv), "fail to replicate "+cmd); err != nil {
		return err
	}
	c.replicatedStr = true
	c.warnMixedReplication()
	return nil
}

// ReplicateVerbatim propagates the current invocation unchanged.
func (c *Context) ReplicateVerbatim() error {
	if err := c.check(); err != nil {
		return err
	}
	if err := handleStatus(c.host.ReplicateVerbatim(c.raw), "fail to replicate verbatim"); err != nil {
		return err
	}
	c.replicatedVerbatim = true
	c.warnMixedReplication()
	return nil
}

// warnMixedReplication logs once per invocation when both replication styles are used.
// The host propagates both.
func (c *Context) warnMixedReplication() {
	if c.replicatedStr && c.replicatedVerbatim && !c.mixWarned {
		c.mixWarned = true
		log.Warningf("command uses both ReplicateStr and ReplicateVerbatim, replicas receive both")
	}
}

// --------------------------------------------------------------------------
// Logging
// --------------------------------------------------------------------------

// Debug writes msg to the server log at debug level. No-op on an expired context.
func (c *Context) Debug(msg string) {
	c.Log(raw.LogLevelDebug, msg)
}

// Log writes msg to the server log at the given level (debug, verbose, notice, warning).
// No-op on an expired context.
func (c *Context) Log(level string, msg string) {
	if c.check() != nil {
		return
	}
	c.host.Log(c.raw, level, msg)
}
