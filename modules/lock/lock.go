package lock

import (
	"bytes"
	"github.com/ValentinKolb/dkvmod/lib/module"
	"github.com/google/uuid"
	"strconv"
)

// Module is the lock module. Load it with host.Server.LoadModule(lock.Module.OnLoad).
var Module = &module.Module{
	Name:    "lock",
	Version: 1,
	Commands: []module.Command{
		{Name: "lock.acquire", Handler: acquire, Flags: "write deny-oom", FirstKey: 1, LastKey: 1, KeyStep: 1},
		{Name: "lock.release", Handler: release, Flags: "write", FirstKey: 1, LastKey: 1, KeyStep: 1},
		{Name: "lock.owner", Handler: owner, Flags: "readonly fast", FirstKey: 1, LastKey: 1, KeyStep: 1},
	},
}

// newOwnerID creates a unique owner id
var newOwnerID = uuid.NewString

// lock.acquire key [timeout_ms]: takes the lock and returns the owner id, or null if the
// lock is held. A timeout of 0 (default) never expires.
//
// The owner id is random, so the command replicates the SET it issues instead of itself.
func acquire(ctx *module.Context, args []module.RStr) (module.Value, error) {
	if len(args) != 2 && len(args) != 3 {
		return module.Value{}, module.WrongArity
	}
	timeout := int64(0)
	if len(args) == 3 {
		var err error
		timeout, err = args[2].AssertInteger(func(v int64) bool { return v >= 0 })
		if err != nil {
			return module.Value{}, module.Errorf("ERR invalid timeout")
		}
	}

	id := newOwnerID()
	set := []string{args[1].String(), id, "NX"}
	if timeout > 0 {
		set = append(set, "PX", strconv.FormatInt(timeout, 10))
	}
	reply, err := ctx.CallStr("SET", module.CallReplicate, set...)
	if err != nil {
		return module.Value{}, err
	}
	if reply.Type() == module.ReplyNull {
		return module.NullValue(), nil
	}
	return module.StringValue(id), nil
}

// lock.release key owner: releases the lock if owner holds it. Returns 1 if the lock was
// released or did not exist, 0 if someone else holds it.
func release(ctx *module.Context, args []module.RStr) (module.Value, error) {
	if err := module.AssertLen(args, 3); err != nil {
		return module.Value{}, err
	}
	key, err := ctx.OpenWriteKey(args[1])
	if err != nil {
		return module.Value{}, err
	}
	if key.IsEmpty() {
		return module.IntValue(1), nil
	}
	if err := key.VerifyType(module.KeyTypeString, false); err != nil {
		return module.Value{}, err
	}
	current, err := key.StringGet()
	if err != nil {
		return module.Value{}, err
	}
	if !bytes.Equal(current.Bytes(), args[2].Bytes()) {
		return module.IntValue(0), nil
	}
	if err := key.Delete(); err != nil {
		return module.Value{}, err
	}
	return module.IntValue(1), nil
}

// lock.owner key: the owner id of the lock, null if it is free
func owner(ctx *module.Context, args []module.RStr) (module.Value, error) {
	if err := module.AssertLen(args, 2); err != nil {
		return module.Value{}, err
	}
	key, err := ctx.OpenReadKey(args[1])
	if err != nil {
		return module.Value{}, err
	}
	if key.IsEmpty() {
		return module.NullValue(), nil
	}
	if err := key.VerifyType(module.KeyTypeString, false); err != nil {
		return module.Value{}, err
	}
	current, err := key.StringGet()
	if err != nil {
		return module.Value{}, err
	}
	return module.StringValue(current.String()), nil
}
