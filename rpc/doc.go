// Package rpc provides the network surface of dkvmod.
//
// The package is organized into several subpackages:
//
//   - resp: the RESP2 codec (commands, replies, inline commands) shared by the server, the
//     client and the append only file.
//
//   - common: configuration structures and the logger setup.
//
//   - server: serves a host.Server over RESP.
//
//   - client: a RESP client used by the cli and by tests.
package rpc
