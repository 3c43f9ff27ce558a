// Package replication provides the sinks of the host propagation stream and the raft state
// machine that applies it on other nodes.
//
// Sinks:
//
//   - Backlog: keeps recent batches in memory; Sync brings a replica up to date from an offset.
//
//   - AOF: appends the stream to a file in RESP. ReplayAOF restores a server from it on start.
//
//   - RaftSink: proposes every batch to a dragonboat shard. Batches carry the origin of the
//     node that executed them; the StateMachine of each node applies the batches of the
//     other nodes with host.Server.ApplyReplicated and skips its own. Raft snapshots are
//     server snapshots (host.Server.Save/Load).
//
// The raft mode is multi-writer: every node executes client commands locally and
// replicates the effects. Concurrent conflicting writes on different nodes are applied in
// log order on the other nodes, the writing nodes keep their local result.
package replication
