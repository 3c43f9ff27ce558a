package raw

// --------------------------------------------------------------------------
// Callback Types
// --------------------------------------------------------------------------

// CmdFunc is the entry point of a module command. argv[0] is the command name.
// The returned Status tells the host whether the callback itself completed; command
// errors are reported through ReplyWithError.
type CmdFunc func(ctx Ctx, argv []StringPtr) Status

// ClusterMessageReceiver is invoked inside the host loop for every inbound cluster message
// of the type it was registered for.
type ClusterMessageReceiver func(ctx Ctx, senderID string, msgType uint8, payload []byte)

// OnLoadFunc is the module load hook. A StatusErr result aborts the load.
type OnLoadFunc func(h Host, ctx Ctx, argv []StringPtr) Status

// --------------------------------------------------------------------------
// Host Entry Points
// --------------------------------------------------------------------------

// Host is the native interface of the embedding server.
//
// All entry points must be called from within a callback the host is currently running
// (command, module load or cluster message) using that callback's Ctx. Handles created
// with one Ctx are released automatically by the host when the callback returns, but a
// well-behaved caller releases them explicitly.
type Host interface {

	// ---- module setup

	// SetModuleAttribs registers the module name and version. Only valid in OnLoad.
	SetModuleAttribs(ctx Ctx, name string, version int) Status
	// CreateCommand registers a command. Only valid in OnLoad.
	CreateCommand(ctx Ctx, name string, fn CmdFunc, flags string, firstKey, lastKey, keyStep int) Status
	// Log writes msg to the server log at the given level (see LogLevel*).
	Log(ctx Ctx, level string, msg string)

	// ---- strings

	// CreateString copies buf into a new host string.
	CreateString(ctx Ctx, buf []byte) StringPtr
	// FreeString releases a string created by CreateString, ListPop or HashGet.
	FreeString(ctx Ctx, s StringPtr)
	// StringPtrLen returns a host-owned view of the string contents, nil for invalid handles.
	StringPtrLen(s StringPtr) []byte
	// StringToLongLong parses the string as a base-10 signed 64 bit integer.
	StringToLongLong(s StringPtr) (int64, Status)
	// StringToDouble parses the string as a 64 bit float.
	StringToDouble(s StringPtr) (float64, Status)

	// ---- database selection

	GetSelectedDb(ctx Ctx) int
	SelectDb(ctx Ctx, id int) Status

	// ---- keys

	// OpenKey opens the key with the given mode. The returned handle is never zero, even
	// for keys that do not exist; KeyType then reports KeyTypeEmpty.
	OpenKey(ctx Ctx, name StringPtr, mode int) KeyPtr
	CloseKey(k KeyPtr)
	KeyType(k KeyPtr) int
	// ValueLength returns the element count for aggregates and the byte length for strings.
	ValueLength(k KeyPtr) int64
	DeleteKey(k KeyPtr) Status
	// GetExpire returns the remaining time to live in milliseconds or NoExpire.
	GetExpire(k KeyPtr) int64
	// SetExpire sets the time to live in milliseconds. NoExpire removes it. Fails for
	// keys that do not exist.
	SetExpire(k KeyPtr, ms int64) Status

	// ---- string values

	// StringDMA returns a view of the string stored at the key. The view is invalidated
	// by any later modification of the key.
	StringDMA(k KeyPtr, mode int) ([]byte, Status)
	StringSet(k KeyPtr, s StringPtr) Status

	// ---- lists

	// ListPush inserts s at the given end. Fails on type mismatch or when the host is
	// over its resource limit.
	ListPush(k KeyPtr, where int, s StringPtr) Status
	// ListPop removes and returns an element, zero if the list is empty.
	ListPop(k KeyPtr, where int) StringPtr

	// ---- hashes

	// HashSet sets field to value honouring the Hash* flags. A zero value deletes the
	// field. Returns the number of fields added, updated or deleted.
	HashSet(k KeyPtr, flags int, field StringPtr, value StringPtr) (int, Status)
	// HashGet returns the value of field and whether it exists. With HashExists set no
	// string is allocated.
	HashGet(k KeyPtr, flags int, field StringPtr) (StringPtr, bool, Status)

	// ---- sorted sets

	// ZsetAdd adds or updates member. flags takes ZaddNX/ZaddXX and the result reports
	// ZaddAdded, ZaddUpdated or ZaddNop.
	ZsetAdd(k KeyPtr, score float64, member StringPtr, flags int) (int, Status)
	ZsetScore(k KeyPtr, member StringPtr) (float64, Status)
	ZsetRem(k KeyPtr, member StringPtr) (bool, Status)

	// Range iteration. A range is started with one of the *In*Range calls and must be
	// stopped with ZsetRangeStop.
	ZsetFirstInScoreRange(k KeyPtr, min, max float64, minExclusive, maxExclusive bool) Status
	ZsetLastInScoreRange(k KeyPtr, min, max float64, minExclusive, maxExclusive bool) Status
	ZsetFirstInLexRange(k KeyPtr, min, max StringPtr) Status
	ZsetLastInLexRange(k KeyPtr, min, max StringPtr) Status
	// ZsetRangeCurrentElement returns a new string the caller must free.
	ZsetRangeCurrentElement(k KeyPtr) (StringPtr, float64)
	ZsetRangeNext(k KeyPtr) bool
	ZsetRangePrev(k KeyPtr) bool
	ZsetRangeEndReached(k KeyPtr) bool
	ZsetRangeStop(k KeyPtr)

	// ---- nested calls

	// Call executes cmd as if it was sent by a client. Returns zero for unknown commands,
	// wrong arity or refusal because of the flags (see CallFlag*).
	Call(ctx Ctx, cmd string, flags string, args []StringPtr) CallReplyPtr
	FreeCallReply(r CallReplyPtr)
	CallReplyType(r CallReplyPtr) int
	CallReplyInteger(r CallReplyPtr) int64
	CallReplyLength(r CallReplyPtr) int
	// CallReplyArrayElement returns a child of r, owned by r.
	CallReplyArrayElement(r CallReplyPtr, idx int) CallReplyPtr
	// CallReplyStringPtr returns the payload of string, error and status replies.
	CallReplyStringPtr(r CallReplyPtr) []byte

	// ---- replication

	// Replicate queues cmd for propagation instead of the current invocation.
	Replicate(ctx Ctx, cmd string, flags string, args []StringPtr) Status
	// ReplicateVerbatim propagates the current invocation unchanged.
	ReplicateVerbatim(ctx Ctx) Status

	// ---- replies

	ReplyWithLongLong(ctx Ctx, v int64) Status
	ReplyWithDouble(ctx Ctx, v float64) Status
	ReplyWithSimpleString(ctx Ctx, s string) Status
	ReplyWithError(ctx Ctx, msg string) Status
	ReplyWithStringBuffer(ctx Ctx, buf []byte) Status
	// ReplyWithArray starts an array; the next n replies become its elements.
	ReplyWithArray(ctx Ctx, n int) Status
	ReplyWithNull(ctx Ctx) Status

	// ---- cluster

	// GetClusterNodesList returns zero when clustering is disabled.
	GetClusterNodesList(ctx Ctx) NodeListPtr
	ClusterNodesListLen(l NodeListPtr) int
	ClusterNodesListAt(l NodeListPtr, idx int) string
	FreeClusterNodesList(l NodeListPtr)
	// GetMyClusterID returns the empty string when clustering is disabled.
	GetMyClusterID(ctx Ctx) string
	SetClusterFlags(ctx Ctx, flags uint64)
	// RegisterClusterMessageReceiver installs cb for msgType, replacing any previous
	// receiver. A nil cb unregisters.
	RegisterClusterMessageReceiver(ctx Ctx, msgType uint8, cb ClusterMessageReceiver)
	// SendClusterMessage queues payload for target. An empty target broadcasts to every
	// other node. Fails when clustering is disabled or the target is unknown.
	SendClusterMessage(ctx Ctx, target string, msgType uint8, payload []byte) Status
}
