package hello

import (
	"fmt"
	"github.com/ValentinKolb/dkvmod/lib/module"
	"github.com/ValentinKolb/dkvmod/rpc/resp"
	"math/rand"
	"strings"
	"time"
)

// Cluster message types of the module
const (
	MsgTypePing uint8 = 1
	MsgTypePong uint8 = 2
)

// Keys written by the cluster receivers
const (
	PingsKey = "hello.cluster.pings"
	PongsKey = "hello.cluster.pongs"
)

// Module is the hello module. Load it with host.Server.LoadModule(hello.Module.OnLoad).
var Module = &module.Module{
	Name:    "hello",
	Version: 1,
	Init:    initModule,
	Commands: []module.Command{
		{Name: "hello.simple", Handler: helloSimple, Flags: "readonly fast"},
		{Name: "hello.push.native", Handler: helloPushNative, Flags: "write deny-oom", FirstKey: 1, LastKey: 1, KeyStep: 1},
		{Name: "hello.push.call", Handler: helloPushCall, Flags: "write deny-oom", FirstKey: 1, LastKey: 1, KeyStep: 1},
		{Name: "hello.push.call2", Handler: helloPushCall, Flags: "write deny-oom", FirstKey: 1, LastKey: 1, KeyStep: 1},
		{Name: "hello.push.sum.len", Handler: helloPushSumLen, Flags: "readonly", FirstKey: 1, LastKey: 1, KeyStep: 1},
		{Name: "hello.list.splice", Handler: helloListSplice, Flags: "write deny-oom", FirstKey: 1, LastKey: 2, KeyStep: 1},
		{Name: "hello.list.splice.auto", Handler: helloListSplice, Flags: "write deny-oom", FirstKey: 1, LastKey: 2, KeyStep: 1},
		{Name: "hello.rand.array", Handler: helloRandArray, Flags: "readonly random"},
		{Name: "hello.repl1", Handler: helloRepl1},
		{Name: "hello.repl2", Handler: helloRepl2, Flags: "write", FirstKey: 1, LastKey: 1, KeyStep: 1},
		{Name: "hello.toggle.case", Handler: helloToggleCase, Flags: "write", FirstKey: 1, LastKey: 1, KeyStep: 1},
		{Name: "hello.more.expire", Handler: helloMoreExpire, Flags: "write", FirstKey: 1, LastKey: 1, KeyStep: 1},
		{Name: "hello.zsumrange", Handler: helloZsumRange, Flags: "readonly", FirstKey: 1, LastKey: 1, KeyStep: 1},
		{Name: "hello.lexrange", Handler: helloLexRange, Flags: "readonly", FirstKey: 1, LastKey: 1, KeyStep: 1},
		{Name: "hello.hcopy", Handler: helloHCopy, Flags: "write deny-oom", FirstKey: 1, LastKey: 1, KeyStep: 1},
		{Name: "hello.leftpad", Handler: helloLeftPad, Flags: "fast"},
		{Name: "hello.cluster.id", Handler: helloClusterID, Flags: "readonly fast"},
		{Name: "hello.cluster.nodes", Handler: helloClusterNodes, Flags: "readonly"},
		{Name: "hello.cluster.ping", Handler: helloClusterPing, Flags: "readonly"},
	},
}

func initModule(ctx *module.Context, args []module.RStr) error {
	strs := make([]string, len(args))
	for i, a := range args {
		strs[i] = a.String()
	}
	ctx.Debug(fmt.Sprintf("Module loaded with ARGV[%d] = %q", len(args), strs))

	if _, ok := ctx.MyClusterID(); ok {
		ctx.SetClusterFlags(module.ClusterFlagNoRedirection)
	}
	ctx.RegisterClusterMessageReceiver(MsgTypePing, onPing)
	ctx.RegisterClusterMessageReceiver(MsgTypePong, onPong)
	return nil
}

// --------------------------------------------------------------------------
// Keyspace commands
// --------------------------------------------------------------------------

// hello.simple: returns the selected database
func helloSimple(ctx *module.Context, _ []module.RStr) (module.Value, error) {
	return module.IntValue(int64(ctx.SelectedDB())), nil
}

// hello.push.native key value: RPUSH through the key api, returns the new length
func helloPushNative(ctx *module.Context, args []module.RStr) (module.Value, error) {
	if err := module.AssertLen(args, 3); err != nil {
		return module.Value{}, err
	}
	key, err := ctx.OpenWriteKey(args[1])
	if err != nil {
		return module.Value{}, err
	}
	if err := key.ListPush(module.ListTail, args[2]); err != nil {
		return module.Value{}, err
	}
	return module.IntValue(key.ValueLength()), nil
}

// hello.push.call key value: RPUSH through Call
func helloPushCall(ctx *module.Context, args []module.RStr) (module.Value, error) {
	if err := module.AssertLen(args, 3); err != nil {
		return module.Value{}, err
	}
	reply, err := ctx.Call("RPUSH", module.CallNone, args[1], args[2])
	if err != nil {
		return module.Value{}, err
	}
	return reply.Value()
}

// hello.push.sum.len key: total length of all list elements
func helloPushSumLen(ctx *module.Context, args []module.RStr) (module.Value, error) {
	if err := module.AssertLen(args, 2); err != nil {
		return module.Value{}, err
	}
	name, err := args[1].ToStr()
	if err != nil {
		return module.Value{}, err
	}
	reply, err := ctx.CallStr("LRANGE", module.CallNone, name, "0", "-1")
	if err != nil {
		return module.Value{}, err
	}
	var sum int64
	for i := 0; i < reply.Length(); i++ {
		elem, err := reply.Element(i)
		if err != nil {
			return module.Value{}, err
		}
		sum += int64(elem.Length())
	}
	return module.IntValue(sum), nil
}

// hello.list.splice src dst count: moves count elements from the tail of src to the head
// of dst, returns the remaining length of src
func helloListSplice(ctx *module.Context, args []module.RStr) (module.Value, error) {
	if err := module.AssertLen(args, 4); err != nil {
		return module.Value{}, err
	}
	src, err := ctx.OpenWriteKey(args[1])
	if err != nil {
		return module.Value{}, err
	}
	dst, err := ctx.OpenWriteKey(args[2])
	if err != nil {
		return module.Value{}, err
	}
	if err := src.VerifyType(module.KeyTypeList, true); err != nil {
		return module.Value{}, err
	}
	if err := dst.VerifyType(module.KeyTypeList, true); err != nil {
		return module.Value{}, err
	}
	count, err := args[3].AssertInteger(func(v int64) bool { return v > 0 })
	if err != nil {
		return module.Value{}, module.Errorf("ERR invalid count")
	}

	for i := int64(0); i < count; i++ {
		elem, err := src.ListPop(module.ListTail)
		if err != nil {
			break
		}
		if err := dst.ListPush(module.ListHead, elem); err != nil {
			return module.Value{}, err
		}
	}
	return module.IntValue(src.ValueLength()), nil
}

// hello.rand.array count: count random integers
func helloRandArray(_ *module.Context, args []module.RStr) (module.Value, error) {
	if err := module.AssertLen(args, 2); err != nil {
		return module.Value{}, err
	}
	count, err := args[1].AssertInteger(func(v int64) bool { return v > 0 && v <= resp.MaxArrayLen })
	if err != nil {
		return module.Value{}, module.Errorf("ERR invalid count")
	}
	values := make([]module.Value, count)
	for i := range values {
		values[i] = module.IntValue(int64(rand.Uint64()))
	}
	return module.ArrayValue(values...), nil
}

// hello.repl1: replicates ECHO foo instead of its own effects (INCR foo, INCR bar)
func helloRepl1(ctx *module.Context, _ []module.RStr) (module.Value, error) {
	if err := ctx.ReplicateStr("ECHO", module.CallNone, "foo"); err != nil {
		return module.Value{}, err
	}
	if _, err := ctx.CallStr("INCR", module.CallNone, "foo"); err != nil {
		return module.Value{}, err
	}
	if _, err := ctx.CallStr("INCR", module.CallNone, "bar"); err != nil {
		return module.Value{}, err
	}
	return module.IntValue(0), nil
}

// hello.repl2 key: increments every element of the list (non integers count as 0) and
// returns the sum of the new values
func helloRepl2(ctx *module.Context, args []module.RStr) (module.Value, error) {
	if err := module.AssertLen(args, 2); err != nil {
		return module.Value{}, err
	}
	key, err := ctx.OpenWriteKey(args[1])
	if err != nil {
		return module.Value{}, err
	}
	if err := key.VerifyType(module.KeyTypeList, false); err != nil {
		return module.Value{}, err
	}

	var sum int64
	n := key.ValueLength()
	for i := int64(0); i < n; i++ {
		elem, err := key.ListPop(module.ListTail)
		if err != nil {
			return module.Value{}, err
		}
		val, err := elem.Integer()
		if err != nil {
			val = 0
		}
		val++
		sum += val
		if err := key.ListPush(module.ListHead, ctx.CreateStringFromInt(val)); err != nil {
			return module.Value{}, err
		}
	}
	if err := ctx.ReplicateVerbatim(); err != nil {
		return module.Value{}, err
	}
	return module.IntValue(sum), nil
}

// hello.toggle.case key: swaps the case of ascii letters of a string value
func helloToggleCase(ctx *module.Context, args []module.RStr) (module.Value, error) {
	if err := module.AssertLen(args, 2); err != nil {
		return module.Value{}, err
	}
	key, err := ctx.OpenWriteKey(args[1])
	if err != nil {
		return module.Value{}, err
	}
	if err := key.VerifyType(module.KeyTypeString, true); err != nil {
		return module.Value{}, err
	}
	if key.Type() == module.KeyTypeString {
		value, err := key.StringGet()
		if err != nil {
			return module.Value{}, err
		}
		s, err := value.ToStr()
		if err != nil {
			return module.Value{}, err
		}
		if err := key.StringSet(ctx.CreateString(toggleCase(s))); err != nil {
			return module.Value{}, err
		}
	}
	if err := ctx.ReplicateVerbatim(); err != nil {
		return module.Value{}, err
	}
	return module.SimpleValue("OK"), nil
}

func toggleCase(s string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'A' && r <= 'Z':
			return r + ('a' - 'A')
		case r >= 'a' && r <= 'z':
			return r - ('a' - 'A')
		default:
			return r
		}
	}, s)
}

// hello.more.expire key ms: extends an existing time to live by ms
func helloMoreExpire(ctx *module.Context, args []module.RStr) (module.Value, error) {
	if err := module.AssertLen(args, 3); err != nil {
		return module.Value{}, err
	}
	addMs, err := args[2].Integer()
	if err != nil || addMs < 0 {
		return module.Value{}, module.Errorf("ERR invalid expire time")
	}
	key, err := ctx.OpenWriteKey(args[1])
	if err != nil {
		return module.Value{}, err
	}
	ttl, ok := key.Expire()
	if !ok {
		ctx.Debug("current no duration")
		return module.SimpleValue("OK"), nil
	}
	ctx.Debug(fmt.Sprintf("current duration %d", int64(ttl.Seconds())))
	if err := key.SetExpire(ttl + time.Duration(addMs)*time.Millisecond); err != nil {
		return module.Value{}, err
	}
	return module.SimpleValue("OK"), nil
}

// hello.zsumrange key start end: sums the scores in [start, end], once ascending and once
// descending
func helloZsumRange(ctx *module.Context, args []module.RStr) (module.Value, error) {
	if err := module.AssertLen(args, 4); err != nil {
		return module.Value{}, err
	}
	key, err := ctx.OpenReadKey(args[1])
	if err != nil {
		return module.Value{}, err
	}
	if err := key.VerifyType(module.KeyTypeZSet, false); err != nil {
		return module.Value{}, err
	}
	start, err1 := args[2].Integer()
	end, err2 := args[3].Integer()
	if err1 != nil || err2 != nil {
		return module.Value{}, module.Errorf("ERR invalid range")
	}

	sums := make([]module.Value, 0, 2)
	for _, dir := range []module.ZsetRangeDirection{module.ZsetFirstIn, module.ZsetLastIn} {
		elems, err := key.ZsetScoreRange(dir, float64(start), float64(end), false, false)
		if err != nil {
			return module.Value{}, err
		}
		var sum float64
		for _, e := range elems {
			sum += e.Score
		}
		sums = append(sums, module.DoubleValue(sum))
	}
	return module.ArrayValue(sums...), nil
}

// hello.lexrange key min max: members of a lexicographical range
func helloLexRange(ctx *module.Context, args []module.RStr) (module.Value, error) {
	if err := module.AssertLen(args, 4); err != nil {
		return module.Value{}, err
	}
	key, err := ctx.OpenReadKey(args[1])
	if err != nil {
		return module.Value{}, err
	}
	if err := key.VerifyType(module.KeyTypeZSet, false); err != nil {
		return module.Value{}, err
	}
	elems, err := key.ZsetLexRange(module.ZsetFirstIn, args[2], args[3])
	if err != nil {
		return module.Value{}, err
	}
	members := make([]string, len(elems))
	for i, e := range elems {
		members[i] = e.MemberString()
	}
	return module.StringsValue(members...), nil
}

// hello.hcopy key src dst: copies a hash field, returns 1 if src existed
func helloHCopy(ctx *module.Context, args []module.RStr) (module.Value, error) {
	if err := module.AssertLen(args, 4); err != nil {
		return module.Value{}, err
	}
	key, err := ctx.OpenWriteKey(args[1])
	if err != nil {
		return module.Value{}, err
	}
	if err := key.VerifyType(module.KeyTypeHash, true); err != nil {
		return module.Value{}, err
	}
	old, err := key.HashGet(module.HashGetNone, args[2])
	if err != nil {
		return module.Value{}, err
	}
	if old == nil {
		return module.IntValue(0), nil
	}
	ctx.Debug("old value is " + old.String())
	if _, err := key.HashSet(module.HashNone, args[3], old); err != nil {
		return module.Value{}, err
	}
	return module.IntValue(1), nil
}

// hello.leftpad str len char: pads str on the left to len with char
func helloLeftPad(_ *module.Context, args []module.RStr) (module.Value, error) {
	if err := module.AssertLen(args, 4); err != nil {
		return module.Value{}, err
	}
	padLen, err := args[2].AssertInteger(func(v int64) bool { return v > 0 && v <= resp.MaxBulkLen })
	if err != nil {
		return module.Value{}, module.Errorf("ERR invalid padding length")
	}
	str, err := args[1].ToStr()
	if err != nil {
		return module.Value{}, err
	}
	if int64(len(str)) >= padLen {
		return module.StringValue(str), nil
	}
	ch, err := args[3].ToStr()
	if err != nil {
		return module.Value{}, err
	}
	if len(ch) != 1 {
		return module.Value{}, module.Errorf("ERR padding must be a single char")
	}
	return module.StringValue(strings.Repeat(ch, int(padLen)-len(str)) + str), nil
}

// --------------------------------------------------------------------------
// Cluster commands
// --------------------------------------------------------------------------

var errNoCluster = module.NewError(module.ErrCHostStatus, "ERR cluster support disabled")

// hello.cluster.id: the id of this node, nil without clustering
func helloClusterID(ctx *module.Context, _ []module.RStr) (module.Value, error) {
	id, ok := ctx.MyClusterID()
	if !ok {
		return module.NullValue(), nil
	}
	return module.StringValue(id), nil
}

// hello.cluster.nodes: the ids of all nodes
func helloClusterNodes(ctx *module.Context, _ []module.RStr) (module.Value, error) {
	nodes, ok := ctx.ClusterNodes()
	if !ok {
		return module.Value{}, errNoCluster
	}
	defer nodes.Close()
	return module.StringsValue(nodes.IDs()...), nil
}

// hello.cluster.ping [node]: pings node, or every other node. Receivers record the sender
// in PingsKey and answer with a pong, which is recorded in PongsKey.
func helloClusterPing(ctx *module.Context, args []module.RStr) (module.Value, error) {
	if len(args) > 2 {
		return module.Value{}, module.WrongArity
	}
	if len(args) == 2 {
		if err := ctx.SendClusterMessage(args[1].String(), MsgTypePing, []byte("ping")); err != nil {
			return module.Value{}, err
		}
		return module.SimpleValue("OK"), nil
	}
	if err := ctx.SendClusterMessageAll(MsgTypePing, []byte("ping")); err != nil {
		return module.Value{}, err
	}
	return module.SimpleValue("OK"), nil
}

func onPing(ctx *module.Context, sender string, _ uint8, _ []byte) {
	if err := record(ctx, PingsKey, sender); err != nil {
		ctx.Log("warning", "failed to record ping from "+sender+": "+err.Error())
		return
	}
	if err := ctx.SendClusterMessage(sender, MsgTypePong, []byte("pong")); err != nil {
		ctx.Log("warning", "failed to answer ping from "+sender+": "+err.Error())
	}
}

func onPong(ctx *module.Context, sender string, _ uint8, _ []byte) {
	if err := record(ctx, PongsKey, sender); err != nil {
		ctx.Log("warning", "failed to record pong from "+sender+": "+err.Error())
	}
}

// record appends sender to the list at name
func record(ctx *module.Context, name string, sender string) error {
	key, err := ctx.OpenWriteKey(ctx.CreateString(name))
	if err != nil {
		return err
	}
	return key.ListPush(module.ListTail, ctx.CreateString(sender))
}
