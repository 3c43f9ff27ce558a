package host

import (
	"fmt"
	"github.com/ValentinKolb/dkvmod/lib/raw"
	"strings"
)

// --------------------------------------------------------------------------
// Command flags
// --------------------------------------------------------------------------

type cmdFlags uint32

const (
	flagWrite cmdFlags = 1 << iota
	flagReadonly
	flagAdmin
	flagDenyOOM
	flagDenyScript
	flagAllowLoading
	flagPubsub
	flagRandom
	flagAllowStale
	flagNoMonitor
	flagFast
	flagGetkeysAPI
	flagNoCluster
)

var flagNames = map[string]cmdFlags{
	"write":         flagWrite,
	"readonly":      flagReadonly,
	"admin":         flagAdmin,
	"deny-oom":      flagDenyOOM,
	"deny-script":   flagDenyScript,
	"allow-loading": flagAllowLoading,
	"pubsub":        flagPubsub,
	"random":        flagRandom,
	"allow-stale":   flagAllowStale,
	"no-monitor":    flagNoMonitor,
	"fast":          flagFast,
	"getkeys-api":   flagGetkeysAPI,
	"no-cluster":    flagNoCluster,
}

// parseFlags parses a space separated flag list.
func parseFlags(s string) (cmdFlags, error) {
	var f cmdFlags
	for _, tok := range strings.Fields(s) {
		bit, ok := flagNames[strings.ToLower(tok)]
		if !ok {
			return 0, fmt.Errorf("unknown command flag %q", tok)
		}
		f |= bit
	}
	return f, nil
}

// --------------------------------------------------------------------------
// Command table
// --------------------------------------------------------------------------

type nativeFunc func(s *Server, c *callCtx, argv CmdLine) Reply

// command is one entry of the command table. Exactly one of native and module is set.
type command struct {
	name  string
	arity int // > 0 exact argument count, < 0 minimum count
	flags cmdFlags

	native nativeFunc
	module raw.CmdFunc
	owner  string // module name, empty for natives

	firstKey, lastKey, keyStep int
}

// arityOK checks an argument count (including the command name) against the arity.
func (cmd *command) arityOK(n int) bool {
	if cmd.arity >= 0 {
		return n == cmd.arity
	}
	return n >= -cmd.arity
}

// keys returns the key positions of argv following the key spec.
func (cmd *command) keys(argv CmdLine) []int {
	if cmd.firstKey <= 0 {
		return nil
	}
	last := cmd.lastKey
	if last < 0 {
		last = len(argv) + last
	}
	step := cmd.keyStep
	if step <= 0 {
		step = 1
	}
	var out []int
	for i := cmd.firstKey; i <= last && i < len(argv); i += step {
		out = append(out, i)
	}
	return out
}

// addNative registers a native command. Native names are fixed at startup.
func (s *Server) addNative(name string, arity int, flags string, firstKey, lastKey, keyStep int, fn nativeFunc) {
	f, err := parseFlags(flags)
	if err != nil {
		panic(fmt.Sprintf("native command %s: %v", name, err))
	}
	s.commands.Store(name, &command{
		name:     name,
		arity:    arity,
		flags:    f,
		native:   fn,
		firstKey: firstKey,
		lastKey:  lastKey,
		keyStep:  keyStep,
	})
}

// Commands returns the names of all registered commands.
func (s *Server) Commands() []string {
	names := make([]string, 0, s.commands.Size())
	s.commands.Range(func(name string, _ *command) bool {
		names = append(names, name)
		return true
	})
	return names
}

// CommandKeys returns the key arguments of argv according to the key spec of its command.
func (s *Server) CommandKeys(argv CmdLine) ([]string, error) {
	if len(argv) == 0 {
		return nil, fmt.Errorf("empty command")
	}
	cmd, ok := s.commands.Load(strings.ToLower(string(argv[0])))
	if !ok {
		return nil, fmt.Errorf("unknown command '%s'", argv[0])
	}
	var keys []string
	for _, i := range cmd.keys(argv) {
		keys = append(keys, string(argv[i]))
	}
	return keys, nil
}
