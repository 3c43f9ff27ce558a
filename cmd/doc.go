// Package cmd implements the command-line interface of dkvmod. It provides a
// hierarchical command structure for running the server and talking to it.
//
// The package is organized into several subpackages:
//
//   - serve: Starts the server: host, built-in modules, append only file, replication
//     backlog, raft shard, cluster bus, RESP and metrics endpoints
//   - cli: Sends commands to a server, one-shot or interactive, and runs benchmarks (perf)
//   - util: Shared utilities for command-line processing and configuration (internal use)
//
// All flags can also be set as environment variables with the prefix DKVMOD_, dashes
// replaced by underscores (e.g. DKVMOD_LOG_LEVEL=debug). `.env` and `.env.local` files in
// the working directory are loaded as well.
//
// See dkvmod -help for a list of all commands.
package cmd
