package host

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

// testClock is a manually advanced clock
type testClock struct {
	now atomic.Int64
}

func (c *testClock) Now() int64 { return c.now.Load() }

func (c *testClock) Advance(d time.Duration) { c.now.Add(d.Milliseconds()) }

// recordingSink collects propagated batches
type recordingSink struct {
	mu      sync.Mutex
	kind    SinkKind
	batches [][]Propagated
}

func (r *recordingSink) Kind() SinkKind { return r.kind }

func (r *recordingSink) Propagate(batch []Propagated) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.batches = append(r.batches, batch)
	return nil
}

func (r *recordingSink) lines() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []string
	for _, b := range r.batches {
		for _, op := range b {
			out = append(out, formatLine(op.Argv))
		}
	}
	return out
}

func newTestServer(t *testing.T, config Config) (*Server, *testClock) {
	t.Helper()
	clock := &testClock{}
	clock.now.Store(1_000_000)
	if config.Clock == nil {
		config.Clock = clock.Now
	}
	if config.ExpireInterval == 0 {
		config.ExpireInterval = -1
	}
	s := New(config)
	t.Cleanup(func() { _ = s.Close() })
	return s, clock
}

// step is one command and the rendered reply it must produce
type step struct {
	cmd  string
	want string
}

func runSteps(t *testing.T, s *Server, sess *Session, steps []step) {
	t.Helper()
	for _, st := range steps {
		got := s.ExecStrings(sess, strings.Fields(st.cmd)...).String()
		if got != st.want {
			t.Errorf("%s: got %q, want %q", st.cmd, got, st.want)
		}
	}
}

// --------------------------------------------------------------------------
// Native commands
// --------------------------------------------------------------------------

func TestNativeCommands(t *testing.T) {
	tests := []struct {
		name  string
		steps []step
	}{
		{"connection", []step{
			{"PING", "PONG"},
			{"PING hi", `"hi"`},
			{"ECHO hello", `"hello"`},
			{"NOSUCH", "(error) ERR unknown command 'NOSUCH'"},
			{"GET", "(error) ERR wrong number of arguments for 'get' command"},
		}},
		{"strings", []step{
			{"SET k v", "OK"},
			{"GET k", `"v"`},
			{"GET missing", "(nil)"},
			{"SET k v2 NX", "(nil)"},
			{"SET n 10 XX", "(nil)"},
			{"INCR n", "(integer) 1"},
			{"INCRBY n 41", "(integer) 42"},
			{"DECR n", "(integer) 41"},
			{"INCR k", "(error) ERR value is not an integer or out of range"},
			{"SET big 9223372036854775807", "OK"},
			{"INCR big", "(error) ERR increment or decrement would overflow"},
			{"TYPE k", "string"},
			{"SET k v BOGUS", "(error) ERR syntax error"},
		}},
		{"lists", []step{
			{"RPUSH l b c", "(integer) 2"},
			{"LPUSH l a", "(integer) 3"},
			{"LLEN l", "(integer) 3"},
			{"LRANGE l 0 -1", "1) \"a\"\n2) \"b\"\n3) \"c\""},
			{"LRANGE l 5 10", "(empty array)"},
			{"LPOP l", `"a"`},
			{"RPOP l", `"c"`},
			{"RPOP l", `"b"`},
			{"EXISTS l", "(integer) 0"},
			{"LPOP l", "(nil)"},
			{"SET s x", "OK"},
			{"LPUSH s a", "(error) WRONGTYPE Operation against a key holding the wrong kind of value"},
		}},
		{"hashes", []step{
			{"HSET h f1 v1 f2 v2", "(integer) 2"},
			{"HSET h f1 v3", "(integer) 0"},
			{"HGET h f1", `"v3"`},
			{"HLEN h", "(integer) 2"},
			{"HGETALL h", "1) \"f1\"\n2) \"v3\"\n3) \"f2\"\n4) \"v2\""},
			{"HDEL h f1 f2 f3", "(integer) 2"},
			{"TYPE h", "none"},
			{"HSET h f1", "(error) ERR wrong number of arguments for 'hset' command"},
		}},
		{"sets", []step{
			{"SADD s a b a", "(integer) 2"},
			{"SCARD s", "(integer) 2"},
			{"SMEMBERS s", "1) \"a\"\n2) \"b\""},
		}},
		{"sorted sets", []step{
			{"ZADD z 1 a 3 b 5 c 7 d", "(integer) 4"},
			{"ZADD z XX 2 a 9 x", "(integer) 0"},
			{"ZADD z CH 1 a", "(integer) 1"},
			{"ZSCORE z a", `"1"`},
			{"ZSCORE z x", "(nil)"},
			{"ZCARD z", "(integer) 4"},
			{"ZRANGEBYSCORE z 1 5", "1) \"a\"\n2) \"b\"\n3) \"c\""},
			{"ZRANGEBYSCORE z (1 +inf LIMIT 1 1", "1) \"c\""},
			{"ZRANGEBYSCORE z -inf 3 WITHSCORES", "1) \"a\"\n2) \"1\"\n3) \"b\"\n4) \"3\""},
			{"ZRANGEBYSCORE z foo 3", "(error) ERR min or max is not a float"},
			{"ZADD z nan a", "(error) ERR value is not a valid float"},
			{"ZREM z a b c d", "(integer) 4"},
			{"EXISTS z", "(integer) 0"},
		}},
		{"keyspace", []step{
			{"SET a 1", "OK"},
			{"SET b 2", "OK"},
			{"DBSIZE", "(integer) 2"},
			{"DEL a b c", "(integer) 2"},
			{"SET a 1", "OK"},
			{"SELECT 1", "OK"},
			{"GET a", "(nil)"},
			{"SELECT 0", "OK"},
			{"GET a", `"1"`},
			{"SELECT 99", "(error) ERR DB index is out of range"},
			{"FLUSHDB", "OK"},
			{"DBSIZE", "(integer) 0"},
			{"SAVE", "(error) ERR snapshots are disabled, no snapshot path configured"},
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, _ := newTestServer(t, Config{})
			runSteps(t, s, s.NewSession(), tt.steps)
		})
	}
}

func TestExpiry(t *testing.T) {
	s, clock := newTestServer(t, Config{})
	sess := s.NewSession()

	runSteps(t, s, sess, []step{
		{"SET k v", "OK"},
		{"TTL k", "(integer) -1"},
		{"TTL missing", "(integer) -2"},
		{"EXPIRE k 10", "(integer) 1"},
		{"PTTL k", "(integer) 10000"},
		{"EXPIRE missing 10", "(integer) 0"},
	})

	clock.Advance(5 * time.Second)
	runSteps(t, s, sess, []step{
		{"TTL k", "(integer) 5"},
		{"PERSIST k", "(integer) 1"},
		{"PERSIST k", "(integer) 0"},
		{"PEXPIRE k 100", "(integer) 1"},
		{"SET other v PX 50", "OK"},
	})

	clock.Advance(time.Second)
	if got := s.ExecStrings(sess, "GET", "k").String(); got != "(nil)" {
		t.Errorf("Expected expired key to be gone, got %s", got)
	}
	// other was never read again, only the active cycle removes it
	if n := s.ExpireCycle(); n != 1 {
		t.Errorf("Expected the cycle to remove 1 key, removed %d", n)
	}
	if n := s.KeyCount(); n != 0 {
		t.Errorf("Expected empty keyspace, got %d keys", n)
	}
}

func TestKeyLimit(t *testing.T) {
	s, _ := newTestServer(t, Config{MaxKeys: 2})
	runSteps(t, s, s.NewSession(), []step{
		{"SET a 1", "OK"},
		{"SET b 2", "OK"},
		{"SET c 3", "(error) OOM command not allowed when the key limit is reached"},
		{"GET a", `"1"`},
		{"DEL a", "(integer) 1"},
		{"SET c 3", "OK"},
	})
}

func TestSaveCommandAndLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "dump.dkv")
	s, _ := newTestServer(t, Config{SnapshotPath: path})
	sess := s.NewSession()
	runSteps(t, s, sess, []step{
		{"SET k v", "OK"},
		{"ZADD z 1 a", "(integer) 1"},
		{"SAVE", "OK"},
	})

	f, err := os.Open(path)
	if err != nil {
		t.Fatalf("Snapshot file missing: %v", err)
	}
	defer f.Close()

	restored, _ := newTestServer(t, Config{})
	if err := restored.Load(f); err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	runSteps(t, restored, restored.NewSession(), []step{
		{"GET k", `"v"`},
		{"ZSCORE z a", `"1"`},
	})
}

func TestSnapshotRoundTrip(t *testing.T) {
	s, _ := newTestServer(t, Config{})
	sess := s.NewSession()
	runSteps(t, s, sess, []step{
		{"RPUSH l a b", "(integer) 2"},
		{"SELECT 3", "OK"},
		{"HSET h f v", "(integer) 1"},
	})

	var buf bytes.Buffer
	if err := s.Save(&buf); err != nil {
		t.Fatalf("Save failed: %v", err)
	}
	other, _ := newTestServer(t, Config{})
	if err := other.Load(&buf); err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if n := other.KeyCount(); n != 2 {
		t.Errorf("Expected 2 keys after load, got %d", n)
	}
}

// --------------------------------------------------------------------------
// Propagation
// --------------------------------------------------------------------------

func TestPropagation(t *testing.T) {
	s, _ := newTestServer(t, Config{})
	sink := &recordingSink{kind: SinkReplica}
	s.AddSink(sink)
	sess := s.NewSession()

	s.ExecStrings(sess, "SET", "k", "v")
	s.ExecStrings(sess, "GET", "k")
	s.ExecStrings(sess, "INCR", "k") // fails, not propagated
	s.ExecStrings(sess, "EXPIRE", "k", "10")
	s.ExecStrings(sess, "SET", "t", "v", "EX", "1")

	want := []string{
		"SET k v",
		"PEXPIREAT k 1010000",
		"SET t v PXAT 1001000",
	}
	got := sink.lines()
	if strings.Join(got, "|") != strings.Join(want, "|") {
		t.Errorf("Propagated %q, want %q", got, want)
	}
}

func TestApplyReplicated(t *testing.T) {
	s, _ := newTestServer(t, Config{})
	sink := &recordingSink{kind: SinkAOF}
	s.AddSink(sink)

	batch := []Propagated{
		{DB: 0, Argv: CmdLine{[]byte("SET"), []byte("a"), []byte("1")}},
		{DB: 2, Argv: CmdLine{[]byte("RPUSH"), []byte("l"), []byte("x")}},
	}
	if err := s.ApplyReplicated(batch); err != nil {
		t.Fatalf("ApplyReplicated failed: %v", err)
	}
	if len(sink.lines()) != 0 {
		t.Errorf("Replicated commands must not be propagated again, got %v", sink.lines())
	}

	sess := s.NewSession()
	runSteps(t, s, sess, []step{
		{"GET a", `"1"`},
		{"SELECT 2", "OK"},
		{"LLEN l", "(integer) 1"},
	})

	bad := []Propagated{{DB: 0, Argv: CmdLine{[]byte("NOSUCH")}}}
	if err := s.ApplyReplicated(bad); err == nil {
		t.Error("Expected an error for an unknown replicated command")
	}
	if err := s.ApplyReplicated([]Propagated{{DB: 99, Argv: CmdLine{[]byte("PING")}}}); err == nil {
		t.Error("Expected an error for an unknown database")
	}
}

func TestFilterBatch(t *testing.T) {
	ops := []Propagated{
		{Argv: CmdLine{[]byte("a")}},
		{Argv: CmdLine{[]byte("b")}, NoAOF: true},
		{Argv: CmdLine{[]byte("c")}, NoReplicas: true},
	}
	if got := filterBatch(ops, SinkAOF); len(got) != 2 || string(got[1].Argv[0]) != "c" {
		t.Errorf("AOF filter returned %v", got)
	}
	if got := filterBatch(ops, SinkReplica); len(got) != 2 || string(got[1].Argv[0]) != "b" {
		t.Errorf("Replica filter returned %v", got)
	}
}

// --------------------------------------------------------------------------
// Misc
// --------------------------------------------------------------------------

func TestArityAndKeys(t *testing.T) {
	tests := []struct {
		arity int
		n     int
		want  bool
	}{
		{2, 2, true},
		{2, 3, false},
		{-2, 2, true},
		{-2, 5, true},
		{-3, 2, false},
	}
	for _, tt := range tests {
		cmd := &command{arity: tt.arity}
		if got := cmd.arityOK(tt.n); got != tt.want {
			t.Errorf("arity %d with %d args: got %v, want %v", tt.arity, tt.n, got, tt.want)
		}
	}

	s, _ := newTestServer(t, Config{})
	keys, err := s.CommandKeys(CmdLine{[]byte("del"), []byte("a"), []byte("b")})
	if err != nil || strings.Join(keys, ",") != "a,b" {
		t.Errorf("CommandKeys(del a b) = %v, %v", keys, err)
	}
	if keys, _ := s.CommandKeys(CmdLine{[]byte("ping")}); len(keys) != 0 {
		t.Errorf("ping has no keys, got %v", keys)
	}
}

func TestParseFlags(t *testing.T) {
	f, err := parseFlags("write deny-oom  FAST")
	if err != nil {
		t.Fatalf("parseFlags failed: %v", err)
	}
	if f != flagWrite|flagDenyOOM|flagFast {
		t.Errorf("Unexpected flags %b", f)
	}
	if _, err := parseFlags("write bogus"); err == nil {
		t.Error("Expected an error for an unknown flag")
	}
}

func TestMetrics(t *testing.T) {
	s, _ := newTestServer(t, Config{})
	s.ExecStrings(s.NewSession(), "SET", "k", "v")
	s.ExecStrings(s.NewSession(), "INCR", "k")

	var buf bytes.Buffer
	s.WriteMetrics(&buf)
	out := buf.String()
	for _, want := range []string{
		`dkvmod_commands_total{cmd="set"} 1`,
		`dkvmod_command_errors_total{cmd="incr"} 1`,
		`dkvmod_keys 1`,
	} {
		if !strings.Contains(out, want) {
			t.Errorf("Metrics output misses %q", want)
		}
	}
}

func TestClosedServer(t *testing.T) {
	s := New(Config{ExpireInterval: time.Millisecond})
	if err := s.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	_ = s.Close()
	if r := s.ExecStrings(s.NewSession(), "PING"); !r.IsError() {
		t.Errorf("Expected an error reply from a closed server, got %s", r)
	}
}
