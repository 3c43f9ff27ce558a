package hello

import (
	"github.com/ValentinKolb/dkvmod/lib/cluster"
	"github.com/ValentinKolb/dkvmod/lib/host"
	"strings"
	"testing"
	"time"
)

// recordingSink collects the propagated commands.
type recordingSink struct {
	lines []string
}

func (r *recordingSink) Kind() host.SinkKind { return host.SinkReplica }

func (r *recordingSink) Propagate(batch []host.Propagated) error {
	for _, op := range batch {
		args := make([]string, len(op.Argv))
		for i, a := range op.Argv {
			args[i] = string(a)
		}
		r.lines = append(r.lines, strings.Join(args, " "))
	}
	return nil
}

type testServer struct {
	*host.Server
	sess *host.Session
	sink *recordingSink
}

func newServer(t *testing.T, config host.Config) *testServer {
	t.Helper()
	config.ExpireInterval = -1
	if config.Clock == nil {
		config.Clock = func() int64 { return 1_000_000 }
	}
	s := host.New(config)
	t.Cleanup(func() { _ = s.Close() })
	if err := s.LoadModule(Module.OnLoad, "arg1", "arg2"); err != nil {
		t.Fatalf("LoadModule() error = %v", err)
	}
	ts := &testServer{Server: s, sess: s.NewSession(), sink: &recordingSink{}}
	s.AddSink(ts.sink)
	return ts
}

func (s *testServer) do(args ...string) string {
	return s.ExecStrings(s.sess, args...).String()
}

type step struct {
	args []string
	want string
}

func run(t *testing.T, s *testServer, steps []step) {
	t.Helper()
	for _, st := range steps {
		if got := s.do(st.args...); got != st.want {
			t.Errorf("%v = %q, want %q", st.args, got, st.want)
		}
	}
}

func TestLoad(t *testing.T) {
	s := newServer(t, host.Config{})
	if mods := s.Modules(); len(mods) != 1 || mods[0] != "hello" {
		t.Errorf("Modules() = %v", mods)
	}
	for _, cmd := range Module.Commands {
		found := false
		for _, name := range s.Commands() {
			if name == cmd.Name {
				found = true
			}
		}
		if !found {
			t.Errorf("Command %s not registered", cmd.Name)
		}
	}
	if err := s.LoadModule(Module.OnLoad); err == nil {
		t.Error("Expected second load of the same module to fail")
	}
}

func TestSimple(t *testing.T) {
	s := newServer(t, host.Config{})
	run(t, s, []step{
		{[]string{"hello.simple"}, "(integer) 0"},
		{[]string{"SELECT", "3"}, "OK"},
		{[]string{"hello.simple"}, "(integer) 3"},
	})
}

func TestPush(t *testing.T) {
	s := newServer(t, host.Config{})
	run(t, s, []step{
		{[]string{"hello.push.native", "l", "a"}, "(integer) 1"},
		{[]string{"hello.push.native", "l", "bb"}, "(integer) 2"},
		{[]string{"hello.push.call", "l", "ccc"}, "(integer) 3"},
		{[]string{"hello.push.call2", "l", "dddd"}, "(integer) 4"},
		{[]string{"LRANGE", "l", "0", "-1"}, "1) \"a\"\n2) \"bb\"\n3) \"ccc\"\n4) \"dddd\""},
		{[]string{"hello.push.sum.len", "l"}, "(integer) 10"},
		{[]string{"hello.push.sum.len", "missing"}, "(integer) 0"},
		{[]string{"hello.push.native", "l"}, "(error) ERR wrong number of arguments"},
		{[]string{"SET", "s", "v"}, "OK"},
		{[]string{"hello.push.call", "s", "x"}, "(error) WRONGTYPE Operation against a key holding the wrong kind of value"},
	})
}

func TestListSplice(t *testing.T) {
	s := newServer(t, host.Config{})
	run(t, s, []step{
		{[]string{"RPUSH", "src", "1", "2", "3"}, "(integer) 3"},
		{[]string{"hello.list.splice", "src", "dst", "2"}, "(integer) 1"},
		{[]string{"LRANGE", "dst", "0", "-1"}, "1) \"2\"\n2) \"3\""},
		{[]string{"hello.list.splice.auto", "src", "dst", "5"}, "(integer) 0"},
		{[]string{"LRANGE", "dst", "0", "-1"}, "1) \"1\"\n2) \"2\"\n3) \"3\""},
		{[]string{"EXISTS", "src"}, "(integer) 0"},
		{[]string{"hello.list.splice", "src", "dst", "0"}, "(error) ERR invalid count"},
		{[]string{"hello.list.splice", "src", "dst", "x"}, "(error) ERR invalid count"},
		{[]string{"SET", "s", "v"}, "OK"},
		{[]string{"hello.list.splice", "s", "dst", "1"}, "(error) WRONGTYPE Operation against a key holding the wrong kind of value"},
	})
}

func TestRandArray(t *testing.T) {
	s := newServer(t, host.Config{})
	r := s.ExecStrings(s.sess, "hello.rand.array", "5")
	if r.Kind != host.KindArray || len(r.Elems) != 5 {
		t.Fatalf("hello.rand.array = %s", r)
	}
	for _, e := range r.Elems {
		if e.Kind != host.KindInteger {
			t.Errorf("Expected integer element, got %s", e)
		}
	}
	run(t, s, []step{
		{[]string{"hello.rand.array", "0"}, "(error) ERR invalid count"},
		{[]string{"hello.rand.array", "-3"}, "(error) ERR invalid count"},
		{[]string{"hello.rand.array", "1000000000"}, "(error) ERR invalid count"},
	})
}

func TestRepl1(t *testing.T) {
	s := newServer(t, host.Config{})
	run(t, s, []step{
		{[]string{"hello.repl1"}, "(integer) 0"},
		{[]string{"GET", "foo"}, `"1"`},
		{[]string{"GET", "bar"}, `"1"`},
	})
	if len(s.sink.lines) != 1 || s.sink.lines[0] != "ECHO foo" {
		t.Errorf("Propagated %q, want [ECHO foo]", s.sink.lines)
	}
}

func TestRepl2(t *testing.T) {
	s := newServer(t, host.Config{})
	run(t, s, []step{
		{[]string{"RPUSH", "l", "1", "2", "x"}, "(integer) 3"},
		{[]string{"hello.repl2", "l"}, "(integer) 6"},
		{[]string{"LRANGE", "l", "0", "-1"}, "1) \"2\"\n2) \"3\"\n3) \"1\""},
		{[]string{"hello.repl2", "missing"}, "(error) WRONGTYPE Operation against a key holding the wrong kind of value"},
	})
	want := []string{"RPUSH l 1 2 x", "hello.repl2 l"}
	if strings.Join(s.sink.lines, "|") != strings.Join(want, "|") {
		t.Errorf("Propagated %q, want %q", s.sink.lines, want)
	}
}

func TestToggleCase(t *testing.T) {
	s := newServer(t, host.Config{})
	run(t, s, []step{
		{[]string{"SET", "s", "Hello World 42"}, "OK"},
		{[]string{"hello.toggle.case", "s"}, "OK"},
		{[]string{"GET", "s"}, `"hELLO wORLD 42"`},
		{[]string{"hello.toggle.case", "missing"}, "OK"},
		{[]string{"EXISTS", "missing"}, "(integer) 0"},
		{[]string{"RPUSH", "l", "a"}, "(integer) 1"},
		{[]string{"hello.toggle.case", "l"}, "(error) WRONGTYPE Operation against a key holding the wrong kind of value"},
	})
}

func TestMoreExpire(t *testing.T) {
	s := newServer(t, host.Config{})
	run(t, s, []step{
		{[]string{"SET", "e", "v"}, "OK"},
		{[]string{"PEXPIRE", "e", "10000"}, "(integer) 1"},
		{[]string{"hello.more.expire", "e", "5000"}, "OK"},
		{[]string{"PTTL", "e"}, "(integer) 15000"},
		{[]string{"SET", "p", "v"}, "OK"},
		{[]string{"hello.more.expire", "p", "5000"}, "OK"},
		{[]string{"PTTL", "p"}, "(integer) -1"},
		{[]string{"hello.more.expire", "e", "abc"}, "(error) ERR invalid expire time"},
	})
}

func TestZsetRanges(t *testing.T) {
	s := newServer(t, host.Config{})
	run(t, s, []step{
		{[]string{"ZADD", "z", "1", "a", "3", "b", "5", "c", "7", "d"}, "(integer) 4"},
		{[]string{"hello.zsumrange", "z", "1", "5"}, "1) \"9\"\n2) \"9\""},
		{[]string{"hello.zsumrange", "z", "2", "100"}, "1) \"15\"\n2) \"15\""},
		{[]string{"hello.zsumrange", "z", "8", "9"}, "1) \"0\"\n2) \"0\""},
		{[]string{"hello.zsumrange", "z", "a", "5"}, "(error) ERR invalid range"},
		{[]string{"hello.zsumrange", "missing", "1", "5"}, "(error) WRONGTYPE Operation against a key holding the wrong kind of value"},
		{[]string{"ZADD", "lz", "0", "a", "0", "b", "0", "c", "0", "d"}, "(integer) 4"},
		{[]string{"hello.lexrange", "lz", "[b", "[c"}, "1) \"b\"\n2) \"c\""},
		{[]string{"hello.lexrange", "lz", "-", "(b"}, "1) \"a\""},
		{[]string{"hello.lexrange", "lz", "(d", "+"}, "(empty array)"},
	})
}

func TestHCopy(t *testing.T) {
	s := newServer(t, host.Config{})
	run(t, s, []step{
		{[]string{"HSET", "h", "f", "v"}, "(integer) 1"},
		{[]string{"hello.hcopy", "h", "f", "g"}, "(integer) 1"},
		{[]string{"HGET", "h", "g"}, `"v"`},
		{[]string{"hello.hcopy", "h", "missing", "x"}, "(integer) 0"},
		{[]string{"HLEN", "h"}, "(integer) 2"},
		{[]string{"SET", "s", "v"}, "OK"},
		{[]string{"hello.hcopy", "s", "f", "g"}, "(error) WRONGTYPE Operation against a key holding the wrong kind of value"},
	})
}

func TestLeftPad(t *testing.T) {
	s := newServer(t, host.Config{})
	tests := []struct {
		name string
		args []string
		want string
	}{
		{"pads", []string{"7", "3", "0"}, `"007"`},
		{"long enough", []string{"hello", "3", "x"}, `"hello"`},
		{"exact length", []string{"abc", "3", "x"}, `"abc"`},
		{"multi char padding", []string{"7", "3", "ab"}, "(error) ERR padding must be a single char"},
		{"zero length", []string{"7", "0", "0"}, "(error) ERR invalid padding length"},
		{"bad length", []string{"7", "x", "0"}, "(error) ERR invalid padding length"},
		{"length over bulk limit", []string{"7", "1099511627776", "0"}, "(error) ERR invalid padding length"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := s.do(append([]string{"hello.leftpad"}, tt.args...)...); got != tt.want {
				t.Errorf("hello.leftpad %v = %q, want %q", tt.args, got, tt.want)
			}
		})
	}
}

func TestClusterDisabled(t *testing.T) {
	s := newServer(t, host.Config{})
	run(t, s, []step{
		{[]string{"hello.cluster.id"}, "(nil)"},
		{[]string{"hello.cluster.nodes"}, "(error) ERR cluster support disabled"},
		{[]string{"hello.cluster.ping"}, "(error) ERR fail to send cluster message"},
	})
	if s.ClusterFlags() != 0 {
		t.Errorf("Cluster flags set without clustering: %d", s.ClusterFlags())
	}
}

func TestClusterPingPong(t *testing.T) {
	network := cluster.NewNetwork()
	b1, err := network.Join("")
	if err != nil {
		t.Fatal(err)
	}
	defer b1.Close()
	b2, err := network.Join("")
	if err != nil {
		t.Fatal(err)
	}
	defer b2.Close()

	s1 := newServer(t, host.Config{Bus: b1})
	s2 := newServer(t, host.Config{Bus: b2})

	if got := s1.do("hello.cluster.id"); got != `"`+b1.ID()+`"` {
		t.Errorf("hello.cluster.id = %s, want %s", got, b1.ID())
	}
	r := s1.ExecStrings(s1.sess, "hello.cluster.nodes")
	if r.Kind != host.KindArray || len(r.Elems) != 2 {
		t.Errorf("hello.cluster.nodes = %s", r)
	}
	if s1.ClusterFlags() == 0 {
		t.Error("Expected cluster flags to be set")
	}

	if got := s1.do("hello.cluster.ping", b2.ID()); got != "OK" {
		t.Fatalf("hello.cluster.ping = %s", got)
	}
	if got := s1.do("hello.cluster.ping", "unknown-node"); !strings.HasPrefix(got, "(error)") {
		t.Errorf("Ping to unknown node = %s", got)
	}
	if got := s2.do("hello.cluster.ping"); got != "OK" {
		t.Fatalf("hello.cluster.ping (all) = %s", got)
	}

	waitFor(t, func() bool {
		return s2.do("LLEN", PingsKey) == "(integer) 1" && s1.do("LLEN", PongsKey) == "(integer) 1" &&
			s1.do("LLEN", PingsKey) == "(integer) 1" && s2.do("LLEN", PongsKey) == "(integer) 1"
	})
	if got := s2.do("LRANGE", PingsKey, "0", "-1"); got != `1) "`+b1.ID()+`"` {
		t.Errorf("Pings on node 2 = %s", got)
	}
	if got := s1.do("LRANGE", PongsKey, "0", "-1"); got != `1) "`+b2.ID()+`"` {
		t.Errorf("Pongs on node 1 = %s", got)
	}
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatal("condition not met in time")
		}
		time.Sleep(10 * time.Millisecond)
	}
}
