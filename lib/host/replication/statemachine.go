package replication

import (
	"fmt"
	"github.com/ValentinKolb/dkvmod/lib/host"
	sm "github.com/lni/dragonboat/v4/statemachine"
	"io"
	"sync/atomic"
	"time"
)

// Result codes of applied entries
const (
	resultOK uint64 = iota
	resultCorrupt
	resultFailed
)

// QueryType selects what Lookup returns
type QueryType uint8

const (
	QueryApplied  QueryType = iota // index of the last applied entry (uint64)
	QueryKeyCount                  // number of keys of the server (int)
)

// --------------------------------------------------------------------------
// State Machine Implementation
// --------------------------------------------------------------------------

// StateMachine applies the replication stream of a raft shard to a server. Batches
// proposed by this node were executed locally already and are skipped.
type StateMachine struct {
	replicaID uint64
	shardID   uint64
	origin    string
	server    *host.Server
	applied   atomic.Uint64
}

// CreateStateMachineFactory returns the factory dragonboat uses to create the state
// machine of a replica. origin must match the origin of the RaftSink of this node.
func CreateStateMachineFactory(server *host.Server, origin string) func(shardID uint64, replicaID uint64) sm.IConcurrentStateMachine {
	return func(shardID uint64, replicaID uint64) sm.IConcurrentStateMachine {
		return &StateMachine{
			replicaID: replicaID,
			shardID:   shardID,
			origin:    origin,
			server:    server,
		}
	}
}

// Lookup answers a QueryType.
func (fsm *StateMachine) Lookup(itf interface{}) (interface{}, error) {
	q, ok := itf.(QueryType)
	if !ok {
		return nil, fmt.Errorf("invalid query type: %T", itf)
	}
	switch q {
	case QueryApplied:
		return fsm.applied.Load(), nil
	case QueryKeyCount:
		return fsm.server.KeyCount(), nil
	default:
		return nil, fmt.Errorf("unknown query: %d", q)
	}
}

// Update applies the batches of other nodes in log order.
func (fsm *StateMachine) Update(entries []sm.Entry) ([]sm.Entry, error) {
	if len(entries) == 0 {
		return entries, nil
	}
	start := time.Now()

	for idx, e := range entries {
		entries[idx].Result = fsm.apply(e.Cmd)
		fsm.applied.Store(e.Index)
	}

	if elapsed := time.Since(start); elapsed > time.Millisecond {
		log.Infof("State machine of shard %d took long to update. Batch updated %d entries, took %.2fms", fsm.shardID, len(entries), float64(elapsed)/float64(time.Millisecond))
	}
	return entries, nil
}

func (fsm *StateMachine) apply(cmd []byte) sm.Result {
	if len(cmd) == 0 {
		return sm.Result{Value: resultOK}
	}
	b, err := DecodeBatch(cmd)
	if err != nil {
		return sm.Result{Value: resultCorrupt, Data: []byte(err.Error())}
	}
	if b.Origin == fsm.origin {
		return sm.Result{Value: resultOK}
	}
	if err := fsm.server.ApplyReplicated(b.Ops); err != nil {
		// the entry is committed, other replicas apply it as well
		log.Warningf("replicated batch from %s failed: %v", b.Origin, err)
		return sm.Result{Value: resultFailed, Data: []byte(err.Error())}
	}
	return sm.Result{Value: resultOK}
}

// PrepareSnapshot is not used, snapshots are fuzzy like the server snapshots.
func (fsm *StateMachine) PrepareSnapshot() (interface{}, error) {
	return nil, nil
}

// SaveSnapshot writes a snapshot of the server.
func (fsm *StateMachine) SaveSnapshot(_ interface{}, w io.Writer, _ sm.ISnapshotFileCollection, _ <-chan struct{}) error {
	return fsm.server.Save(w)
}

// RecoverFromSnapshot replaces the server data with the snapshot.
func (fsm *StateMachine) RecoverFromSnapshot(r io.Reader, _ []sm.SnapshotFile, _ <-chan struct{}) error {
	return fsm.server.Load(r)
}

// Close does nothing, the server is owned by the caller.
func (fsm *StateMachine) Close() error {
	return nil
}
