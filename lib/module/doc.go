// Package module is the typed binding layer between command implementations and the raw
// host interface in lib/raw.
//
// A module is described by a Module value (name, version, load hook, commands) and
// registered with a host through Module.OnLoad. Every command callback receives a *Context
// and its arguments as borrowed RStr views and returns a Value or an error:
//
//	func hello(ctx *module.Context, args []module.RStr) (module.Value, error) {
//	    if err := module.AssertLen(args, 2); err != nil {
//	        return module.Value{}, err
//	    }
//	    key, err := ctx.OpenWriteKey(args[1])
//	    if err != nil {
//	        return module.Value{}, err
//	    }
//	    if err := key.ListPush(module.ListTail, ctx.CreateString("world")); err != nil {
//	        return module.Value{}, err
//	    }
//	    return module.IntValue(key.ValueLength()), nil
//	}
//
// Resource ownership:
//
//   - Keys, owned strings, call replies and cluster node lists are tracked by the Context
//     that created them and released when the callback returns, on every exit path. Close
//     releases them earlier and is idempotent.
//
//   - RStr is a borrowed view and never released by the module. RString is owned by the
//     module until it is passed to a storing operation (Key.ListPush, Key.HashSet,
//     Key.StringSet); afterwards the host owns it and any further use fails with
//     ErrStringConsumed.
//
//   - The Context is invalidated when the callback returns. Every operation on an
//     invalidated Context, or on anything obtained from it, fails with ErrContextExpired
//     (accessors without an error result panic instead).
//
// Errors:
//
// All fallible operations return *Error values with a Code (ErrCHostStatus, ErrCValidation,
// ErrCWrongType, ErrCNotFound, ErrCPermission, ErrCContextExpired, ErrCConsumed). The sentinels
// ErrHostStatus, ErrWrongType, ... match by code through errors.Is. The dispatcher sends
// the message of a returned error as error reply, prefixed with "ERR " unless it already
// starts with an upper-case error code.
//
// Replication:
//
// A command either does nothing (write commands are then propagated verbatim), calls
// ReplicateStr one or more times, or calls ReplicateVerbatim. Using both within one
// invocation is not prevented; the host propagates both and the binding logs a warning.
package module
