// Package lock is a module for distributed locks on top of the keyspace.
//
// A lock is a string key holding the id of its owner. lock.acquire creates the key with
// SET NX, so only one client can take a lock at a time, and hands the random owner id to
// the caller. lock.release deletes the key only when the given owner id matches. An
// optional timeout in milliseconds lets the key expire, so a crashed owner cannot hold a
// lock forever.
//
// The lock keys are ordinary string keys: they are persisted, replicated and expired like
// any other key, and a lock taken on one raft node is visible on all nodes.
//
// Commands:
//
//	lock.acquire key [timeout_ms]   -> owner id, or null if the lock is held
//	lock.release key owner          -> 1 if released or free, 0 if held by another owner
//	lock.owner key                  -> owner id, or null if the lock is free
package lock
