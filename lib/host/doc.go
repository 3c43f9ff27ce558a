// Package host provides the embeddable key-value server that loads modules through the
// raw native interface.
//
// A Server owns a fixed number of logical databases (db.Keyspace), a command table and
// the handle tables behind every raw handle. It implements raw.Host, so a module's load
// hook receives the server itself.
//
// Key Components:
//
//   - Command table: native commands (GET, SET, LPUSH, ZADD, EXPIRE, ...) and the commands
//     modules register with CreateCommand. Each command carries an arity, a flag set parsed
//     from the module flag vocabulary and a key spec.
//
//   - Call contexts: every top level command, nested Call, module load hook and cluster
//     message callback gets a context with its own raw.Ctx. Handles created with a context
//     are released in reverse order when it ends, after which the raw values are never
//     handed out again. Stale handles therefore miss every table and fail.
//
//   - Propagation: write commands are propagated verbatim to the registered Sinks unless
//     the invocation replicated something explicitly (Replicate, ReplicateVerbatim, Call
//     with '!'). Relative expiry commands are rewritten to absolute deadlines. Commands
//     received from a replication stream go through ApplyReplicated and are not
//     propagated again.
//
//   - Cluster: an optional cluster.Bus delivers module messages to the receiver registered
//     for their type. Receivers are per server and replaced on re-registration.
//
//   - Metrics: per command counters and duration histograms in a VictoriaMetrics set,
//     written by WriteMetrics.
//
// Note on Thread-Safety:
//   - Exec, the module entry points and cluster delivery all run under one loop lock. The
//     raw.Host methods expect that lock to be held, they are only valid inside a callback
//     the server is running.
package host
