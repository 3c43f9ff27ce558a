// Package raw describes the native interface the embedding key-value server exposes to the
// modules loaded into its process.
//
// The interface is deliberately C-shaped: every resource is an opaque integer handle, every
// fallible entry point returns a two-valued Status, strings travel as untyped byte buffers and
// callbacks are plain function values. Nothing in this package is safe to use directly from
// command implementations; it exists so that the binding layer in lib/module has a single,
// documented surface to translate from, and so that any server implementing Host can load the
// same modules.
//
// Key Components:
//
//   - Host: the full set of entry points. A server implementation (see lib/host) provides it,
//     the binding layer consumes it.
//
//   - Handles (Ctx, KeyPtr, StringPtr, CallReplyPtr, NodeListPtr): opaque identifiers for
//     host-owned resources. The zero value is never a valid handle. A handle returned by an
//     allocating entry point must be released through the matching release entry point exactly
//     once (CloseKey, FreeString, FreeCallReply, FreeClusterNodesList).
//
//   - Buffers: byte slices returned by the host (StringPtrLen, StringDMA, CallReplyStringPtr)
//     are host-owned views. They are only valid until the owning handle is released or the
//     underlying value is modified, and must be copied before being retained.
//
// Ownership summary:
//
//	CreateString        -> caller owns, release with FreeString
//	OpenKey             -> caller owns, release with CloseKey
//	Call                -> caller owns, release with FreeCallReply
//	CallReplyArrayElement -> owned by the parent reply, never released directly
//	GetClusterNodesList -> caller owns, release with FreeClusterNodesList
//	ListPop, HashGet    -> caller owns the returned string, release with FreeString
//	argv of a CmdFunc   -> host owns, valid for the duration of the callback only
package raw
