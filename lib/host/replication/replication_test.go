package replication

import (
	"bytes"
	"context"
	"errors"
	"github.com/ValentinKolb/dkvmod/lib/host"
	"github.com/lni/dragonboat/v4"
	sm "github.com/lni/dragonboat/v4/statemachine"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"
)

func newServer(t *testing.T) *host.Server {
	t.Helper()
	s := host.New(host.Config{ExpireInterval: -1})
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func exec(s *host.Server, sess *host.Session, args ...string) string {
	return s.ExecStrings(sess, args...).String()
}

func line(args ...string) host.CmdLine {
	argv := make(host.CmdLine, len(args))
	for i, a := range args {
		argv[i] = []byte(a)
	}
	return argv
}

// --------------------------------------------------------------------------
// Codec
// --------------------------------------------------------------------------

func TestBatchCodec(t *testing.T) {
	b := Batch{
		Origin: "node-1",
		Ops: []host.Propagated{
			{DB: 0, Argv: line("SET", "k", "v")},
			{DB: 3, Argv: line("RPUSH", "l", "", "a\x00b"), NoAOF: true},
			{DB: 15, Argv: line("PING"), NoReplicas: true},
		},
	}
	got, err := DecodeBatch(b.Encode())
	if err != nil {
		t.Fatalf("DecodeBatch() error = %v", err)
	}
	if got.Origin != b.Origin || len(got.Ops) != len(b.Ops) {
		t.Fatalf("DecodeBatch() = %+v", got)
	}
	for i, op := range got.Ops {
		want := b.Ops[i]
		if op.DB != want.DB || op.NoAOF != want.NoAOF || op.NoReplicas != want.NoReplicas {
			t.Errorf("op %d: got %+v, want %+v", i, op, want)
		}
		if !bytes.Equal(bytes.Join(op.Argv, []byte(" ")), bytes.Join(want.Argv, []byte(" "))) {
			t.Errorf("op %d: argv %q, want %q", i, op.Argv, want.Argv)
		}
	}

	empty, err := DecodeBatch(Batch{}.Encode())
	if err != nil || empty.Origin != "" || len(empty.Ops) != 0 {
		t.Errorf("Empty batch round trip = %+v, %v", empty, err)
	}
}

func TestDecodeCorruptBatch(t *testing.T) {
	valid := Batch{Origin: "n", Ops: []host.Propagated{{Argv: line("SET", "k", "v")}}}.Encode()
	tests := []struct {
		name string
		data []byte
	}{
		{"empty", nil},
		{"truncated", valid[:len(valid)-1]},
		{"trailing bytes", append(append([]byte{}, valid...), 0)},
		{"huge count", []byte{0, 0xff, 0xff, 0xff, 0x0f}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := DecodeBatch(tt.data); !errors.Is(err, ErrCorruptBatch) {
				t.Errorf("Expected corrupt batch error, got %v", err)
			}
		})
	}
}

// --------------------------------------------------------------------------
// Backlog
// --------------------------------------------------------------------------

func TestBacklogSync(t *testing.T) {
	primary := newServer(t)
	replica := newServer(t)
	backlog := NewBacklog(3)
	primary.AddSink(backlog)

	sess := primary.NewSession()
	exec(primary, sess, "SET", "a", "1")
	exec(primary, sess, "SELECT", "2")
	exec(primary, sess, "RPUSH", "l", "x")
	exec(primary, sess, "GET", "a") // not propagated

	if backlog.Offset() != 2 {
		t.Fatalf("Expected offset 2, got %d", backlog.Offset())
	}
	offset, err := backlog.Sync(replica, 0)
	if err != nil || offset != 2 {
		t.Fatalf("Sync() = %d, %v", offset, err)
	}
	rsess := replica.NewSession()
	if r := exec(replica, rsess, "GET", "a"); r != `"1"` {
		t.Errorf("Replica GET a = %s", r)
	}
	exec(replica, rsess, "SELECT", "2")
	if r := exec(replica, rsess, "LLEN", "l"); r != "(integer) 1" {
		t.Errorf("Replica LLEN l = %s", r)
	}

	// nothing new
	if offset, err = backlog.Sync(replica, offset); err != nil || offset != 2 {
		t.Errorf("Second Sync() = %d, %v", offset, err)
	}

	for i := 0; i < 3; i++ {
		exec(primary, sess, "INCR", "n")
	}
	if _, err := backlog.Since(1); !errors.Is(err, ErrOffsetTrimmed) {
		t.Errorf("Expected trimmed offset, got %v", err)
	}
	if offset, err = backlog.Sync(replica, offset); err != nil || offset != 5 {
		t.Errorf("Sync() after trim = %d, %v", offset, err)
	}
	if r := exec(replica, rsess, "GET", "n"); r != `"3"` {
		t.Errorf("Replica GET n = %s", r)
	}
}

// --------------------------------------------------------------------------
// Append only file
// --------------------------------------------------------------------------

func TestAOFWriteAndReplay(t *testing.T) {
	path := filepath.Join(t.TempDir(), "appendonly.aof")

	primary := newServer(t)
	aof, err := OpenAOF(path, FsyncAlways)
	if err != nil {
		t.Fatalf("OpenAOF() error = %v", err)
	}
	primary.AddSink(aof)

	sess := primary.NewSession()
	exec(primary, sess, "SET", "a", "1")
	exec(primary, sess, "SELECT", "1")
	exec(primary, sess, "HSET", "h", "f", "v")
	exec(primary, sess, "SELECT", "0")
	exec(primary, sess, "INCR", "a")
	if err := aof.Propagate([]host.Propagated{
		{DB: 0, Argv: line("SET", "b", "1")},
		{DB: 0, Argv: line("SET", "c", "1")},
	}); err != nil {
		t.Fatalf("Propagate() error = %v", err)
	}
	if err := aof.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	if err := aof.Close(); err != nil {
		t.Errorf("Second Close() error = %v", err)
	}

	data, _ := os.ReadFile(path)
	for _, want := range []string{"$6\r\nSELECT\r\n$1\r\n1\r\n", "$5\r\nMULTI\r\n", "$4\r\nEXEC\r\n"} {
		if !strings.Contains(string(data), want) {
			t.Errorf("Append only file misses %q", want)
		}
	}

	restored := newServer(t)
	n, err := ReplayAOF(path, restored)
	if err != nil {
		t.Fatalf("ReplayAOF() error = %v", err)
	}
	if n != 4 {
		t.Errorf("Expected 4 applied batches, got %d", n)
	}
	rsess := restored.NewSession()
	for _, tt := range []struct {
		args []string
		want string
	}{
		{[]string{"GET", "a"}, `"2"`},
		{[]string{"EXISTS", "b", "c"}, "(integer) 2"},
		{[]string{"SELECT", "1"}, "OK"},
		{[]string{"HGET", "h", "f"}, `"v"`},
	} {
		if r := exec(restored, rsess, tt.args...); r != tt.want {
			t.Errorf("%v = %s, want %s", tt.args, r, tt.want)
		}
	}
}

func TestReplayTruncatedAOF(t *testing.T) {
	path := filepath.Join(t.TempDir(), "appendonly.aof")
	content := "*3\r\n$3\r\nSET\r\n$1\r\nk\r\n$1\r\nv\r\n*3\r\n$3\r\nSET\r\n$1\r\nx\r\n$10\r\nabc"
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	s := newServer(t)
	n, err := ReplayAOF(path, s)
	if err != nil || n != 1 {
		t.Fatalf("ReplayAOF() = %d, %v", n, err)
	}
	if r := exec(s, s.NewSession(), "EXISTS", "k", "x"); r != "(integer) 1" {
		t.Errorf("Expected only k, got %s", r)
	}

	if n, err := ReplayAOF(filepath.Join(t.TempDir(), "missing.aof"), s); err != nil || n != 0 {
		t.Errorf("Missing file: ReplayAOF() = %d, %v", n, err)
	}

	bad := filepath.Join(t.TempDir(), "bad.aof")
	_ = os.WriteFile(bad, []byte("*1\r\n$4\r\nEXEC\r\n"), 0o644)
	if _, err := ReplayAOF(bad, s); err == nil {
		t.Error("Expected EXEC without MULTI to fail")
	}
}

func TestParseFsyncPolicy(t *testing.T) {
	for _, in := range []string{"always", "EverySec", "no"} {
		if _, err := ParseFsyncPolicy(in); err != nil {
			t.Errorf("ParseFsyncPolicy(%q) error = %v", in, err)
		}
	}
	if _, err := ParseFsyncPolicy("sometimes"); err == nil {
		t.Error("Expected invalid policy to fail")
	}
}

// --------------------------------------------------------------------------
// Raft
// --------------------------------------------------------------------------

// fakeLog stands in for a raft shard: every proposal is appended and applied to all
// state machines in order.
type fakeLog struct {
	mu       sync.Mutex
	machines []sm.IConcurrentStateMachine
	index    uint64
	busy     int
}

func (l *fakeLog) propose(_ context.Context, cmd []byte) (uint64, []byte, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.busy > 0 {
		l.busy--
		return 0, nil, dragonboat.ErrSystemBusy
	}
	l.index++
	var result sm.Result
	for i, m := range l.machines {
		entries, err := m.Update([]sm.Entry{{Index: l.index, Cmd: cmd}})
		if err != nil {
			return 0, nil, err
		}
		if i == 0 {
			result = entries[0].Result
		}
	}
	return result.Value, result.Data, nil
}

func TestRaftReplication(t *testing.T) {
	s1 := newServer(t)
	s2 := newServer(t)

	log := &fakeLog{busy: 1}
	m1 := CreateStateMachineFactory(s1, "node-1")(1, 1)
	m2 := CreateStateMachineFactory(s2, "node-2")(1, 2)
	log.machines = []sm.IConcurrentStateMachine{m1, m2}

	sink := newRaftSink(log.propose, "node-1", 10*time.Millisecond)
	s1.AddSink(sink)

	sess := s1.NewSession()
	exec(s1, sess, "SET", "k", "v")
	exec(s1, sess, "INCR", "n")
	exec(s1, sess, "INCR", "n")
	if err := sink.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	if sink.Failed() != 0 || sink.Pending() != 0 {
		t.Errorf("Expected all batches proposed, failed %d, pending %d", sink.Failed(), sink.Pending())
	}
	if err := sink.Propagate([]host.Propagated{{Argv: line("PING")}}); !errors.Is(err, ErrSinkClosed) {
		t.Errorf("Expected closed sink, got %v", err)
	}

	// s1 skipped its own batches, s2 applied them
	sess2 := s2.NewSession()
	if r := exec(s1, sess, "GET", "n"); r != `"2"` {
		t.Errorf("Origin applied its own batches again: n = %s", r)
	}
	if r := exec(s2, sess2, "GET", "n"); r != `"2"` {
		t.Errorf("Replica n = %s", r)
	}
	if r := exec(s2, sess2, "GET", "k"); r != `"v"` {
		t.Errorf("Replica k = %s", r)
	}

	applied, err := m2.Lookup(QueryApplied)
	if err != nil || applied.(uint64) != 3 {
		t.Errorf("Lookup(QueryApplied) = %v, %v", applied, err)
	}
	keys, err := m2.Lookup(QueryKeyCount)
	if err != nil || keys.(int) != 2 {
		t.Errorf("Lookup(QueryKeyCount) = %v, %v", keys, err)
	}
	if _, err := m2.Lookup("bogus"); err == nil {
		t.Error("Expected invalid query to fail")
	}
}

func TestStateMachineEntries(t *testing.T) {
	s := newServer(t)
	m := CreateStateMachineFactory(s, "self")(1, 1)

	entries := []sm.Entry{
		{Index: 1, Cmd: nil},
		{Index: 2, Cmd: []byte{0xff}},
		{Index: 3, Cmd: Batch{Origin: "other", Ops: []host.Propagated{{Argv: line("NOSUCH")}}}.Encode()},
		{Index: 4, Cmd: Batch{Origin: "other", Ops: []host.Propagated{{Argv: line("SET", "k", "v")}}}.Encode()},
	}
	out, err := m.Update(entries)
	if err != nil {
		t.Fatalf("Update() error = %v", err)
	}
	want := []uint64{resultOK, resultCorrupt, resultFailed, resultOK}
	for i, e := range out {
		if e.Result.Value != want[i] {
			t.Errorf("entry %d: result %d, want %d (%s)", i, e.Result.Value, want[i], e.Result.Data)
		}
	}
}

func TestStateMachineSnapshot(t *testing.T) {
	s1 := newServer(t)
	exec(s1, s1.NewSession(), "ZADD", "z", "1", "a", "2", "b")
	m1 := CreateStateMachineFactory(s1, "a")(1, 1)

	var buf bytes.Buffer
	ctx, _ := m1.PrepareSnapshot()
	if err := m1.SaveSnapshot(ctx, &buf, nil, nil); err != nil {
		t.Fatalf("SaveSnapshot() error = %v", err)
	}

	s2 := newServer(t)
	m2 := CreateStateMachineFactory(s2, "b")(1, 2)
	if err := m2.RecoverFromSnapshot(&buf, nil, nil); err != nil {
		t.Fatalf("RecoverFromSnapshot() error = %v", err)
	}
	if r := exec(s2, s2.NewSession(), "ZSCORE", "z", "b"); r != `"2"` {
		t.Errorf("Recovered ZSCORE = %s", r)
	}
	if err := m2.Close(); err != nil {
		t.Errorf("Close() error = %v", err)
	}
}
