// Package db provides the typed keyspace of the module host.
//
// A Keyspace is one logical database. It maps keys to typed entries and tracks their
// deadlines:
//
//   - Entry: the value at a key. Its Type selects the payload: string, list, hash, set or
//     sorted set. Aggregates that lose their last element are removed by DeleteIfEmpty,
//     so an existing key never holds an empty aggregate.
//
//   - ZSet: a sorted set built from a member -> score map and a btree ordered by score,
//     then member. It answers score ranges (ScoreRange, ParseScoreBound) and lexicographic
//     ranges (LexRange, ParseLexBound) in both directions.
//
//   - Expiry: deadlines are unix milliseconds read from an injectable Clock. Expired keys
//     are invisible to every read. They are deleted lazily when touched and actively by
//     ActiveExpire, which pops deadlines from a util.MapHeap.
//
//   - Snapshots: Save and Load write all keyspaces of a server in a compact binary layout
//     (magic number, version, then the typed entries). Raft snapshots and the SAVE command
//     use the same format.
//
// Note on Thread-Safety:
//   - Nothing in this package is thread-safe. The host runs every command, module callback
//     and background expiry cycle under its loop lock, which is the only synchronization
//     the keyspace relies on.
package db
