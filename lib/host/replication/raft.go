package replication

import (
	"context"
	"errors"
	"fmt"
	"github.com/ValentinKolb/dkvmod/lib/host"
	"github.com/ValentinKolb/dkvmod/lib/util"
	"github.com/lni/dragonboat/v4"
	"github.com/lni/dragonboat/v4/logger"
	"sync/atomic"
	"time"
)

var (
	retries = 5
	log     = logger.GetLogger("replication")

	ErrSinkClosed = errors.New("replication sink is closed")
)

// --------------------------------------------------------------------------
// Raft sink
// --------------------------------------------------------------------------

// RaftSink proposes every propagated batch to a raft shard. Proposals are made by a
// background goroutine in propagation order, the server loop never waits for consensus.
// The state machine of the shard (see StateMachine) applies the batches of other nodes.
type RaftSink struct {
	propose func(ctx context.Context, cmd []byte) (uint64, []byte, error)
	origin  string
	timeout time.Duration
	queue   *util.LockFreeMPSC[Batch]
	done    chan struct{}
	failed  atomic.Uint64
}

// NewRaftSink creates a sink for shardID of nh. origin identifies this node in the
// batches; it must be the origin given to the state machine factory of the same node.
func NewRaftSink(nh *dragonboat.NodeHost, shardID uint64, origin string, timeout time.Duration) *RaftSink {
	cs := nh.GetNoOPSession(shardID)
	return newRaftSink(func(ctx context.Context, cmd []byte) (uint64, []byte, error) {
		res, err := nh.SyncPropose(ctx, cs, cmd)
		return res.Value, res.Data, err
	}, origin, timeout)
}

func newRaftSink(propose func(ctx context.Context, cmd []byte) (uint64, []byte, error), origin string, timeout time.Duration) *RaftSink {
	s := &RaftSink{
		propose: propose,
		origin:  origin,
		timeout: timeout,
		queue:   util.NewLockFreeMPSC[Batch](),
		done:    make(chan struct{}),
	}
	go s.run()
	return s
}

func (s *RaftSink) Kind() host.SinkKind { return host.SinkReplica }

func (s *RaftSink) Propagate(batch []host.Propagated) error {
	if !s.queue.Push(&Batch{Origin: s.origin, Ops: copyBatch(batch)}) {
		return ErrSinkClosed
	}
	return nil
}

// Pending returns the number of batches waiting for their proposal.
func (s *RaftSink) Pending() int {
	return s.queue.Len()
}

// Failed returns the number of batches that could not be proposed.
func (s *RaftSink) Failed() uint64 {
	return s.failed.Load()
}

// Close stops accepting batches and waits until the queued ones are proposed.
func (s *RaftSink) Close() error {
	s.queue.Close()
	<-s.done
	return nil
}

func (s *RaftSink) run() {
	defer close(s.done)
	for b := range s.queue.Recv() {
		if err := s.write(b.Encode()); err != nil {
			s.failed.Add(1)
			log.Errorf("failed to propose batch of %d commands: %v", len(b.Ops), err)
		}
	}
}

// write proposes cmd and retries while the node host is busy.
func (s *RaftSink) write(cmd []byte) error {
	for i := 0; i < retries; i++ {
		ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
		value, data, err := s.propose(ctx, cmd)
		cancel()

		if errors.Is(err, dragonboat.ErrSystemBusy) {
			log.Infof("SyncPropose: System busy, retrying (%d/%d)...", i+1, retries)
			time.Sleep(s.timeout / 10)
			continue
		}
		if err != nil {
			return err
		}
		if value != resultOK {
			return fmt.Errorf("batch rejected by state machine: %s", data)
		}
		return nil
	}
	return fmt.Errorf("propose timed out after %d retries", retries)
}
