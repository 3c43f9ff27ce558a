package host

import (
	"fmt"
	"strings"
)

// --------------------------------------------------------------------------
// Propagation
// --------------------------------------------------------------------------

// Propagated is one command of the replication stream.
type Propagated struct {
	DB         int     // database the command runs in
	Argv       CmdLine // command and arguments
	NoAOF      bool    // excluded from the append only file
	NoReplicas bool    // excluded from replicas
}

// SinkKind selects which propagation flags apply to a sink
type SinkKind uint8

const (
	SinkAOF     SinkKind = iota + 1 // persistence, skips NoAOF commands
	SinkReplica                     // replication, skips NoReplicas commands
)

// Sink receives the propagation stream. The commands of one invocation arrive as one
// batch, in the order they were issued. Propagate is called under the loop lock and must
// not call back into the server.
type Sink interface {
	Kind() SinkKind
	Propagate(batch []Propagated) error
}

// propagate hands the commands collected in frame to every sink.
func (s *Server) propagate(frame *execFrame) {
	if frame.replaying || len(frame.ops) == 0 {
		return
	}
	for _, sink := range s.sinks {
		batch := filterBatch(frame.ops, sink.Kind())
		if len(batch) == 0 {
			continue
		}
		if err := sink.Propagate(batch); err != nil {
			log.Errorf("propagation to %T failed: %v", sink, err)
		}
	}
	s.metrics.propagated.Add(len(frame.ops))
}

func filterBatch(ops []Propagated, kind SinkKind) []Propagated {
	out := make([]Propagated, 0, len(ops))
	for _, op := range ops {
		if kind == SinkAOF && op.NoAOF {
			continue
		}
		if kind == SinkReplica && op.NoReplicas {
			continue
		}
		out = append(out, op)
	}
	return out
}

// ApplyReplicated executes a batch received from the replication stream. The commands
// are not propagated again. The first failing command aborts the batch.
func (s *Server) ApplyReplicated(batch []Propagated) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	sess := &Session{}
	for _, op := range batch {
		if op.DB < 0 || op.DB >= len(s.dbs) {
			return fmt.Errorf("replicated command for unknown database %d", op.DB)
		}
		sess.db = op.DB
		r := s.execTop(sess, op.Argv, true)
		if r.IsError() {
			return fmt.Errorf("replicated command %s failed: %s", formatLine(op.Argv), r.Str)
		}
	}
	return nil
}

// formatLine renders argv for log messages.
func formatLine(argv CmdLine) string {
	parts := make([]string, len(argv))
	for i, a := range argv {
		parts[i] = string(a)
	}
	return strings.Join(parts, " ")
}
