// Package common provides the configuration structures and the logging setup shared by the
// server, the client and the command line tools.
//
// Key Components:
//
//   - ServerConfig: configuration of a server node: RESP endpoint, keyspace limits, modules,
//     persistence (append only file, backlog), cluster bus and raft replication. Provides
//     utilities for converting to Dragonboat-specific configurations.
//
//   - ClientConfig: configuration of the RESP client.
//
//   - InitLoggers: installs the custom logger factory for Dragonboat's logging system, which
//     all packages of dkvmod log through, and sets the log levels.
package common
