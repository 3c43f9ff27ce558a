// Package util provides small data structures shared by the server components.
//
// The package contains:
//   - mapheap: a min-heap with key-based access, used by the keyspace to schedule key expiry
//   - lockfreempsc: a lock-free Multi-Producer Single-Consumer queue, used as cluster node inbox and
//     as the proposal queue of the raft replication sink
//   - functions: hashing helpers (node name to raft replica id)
package util
