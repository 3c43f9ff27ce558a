package raw

// --------------------------------------------------------------------------
// Status Codes
// --------------------------------------------------------------------------

// Status is the two-valued result of a host entry point.
type Status int

const (
	StatusOK  Status = iota // 0: the call succeeded
	StatusErr               // 1: the call failed, the reason is not reported
)

// --------------------------------------------------------------------------
// Opaque Handles
// --------------------------------------------------------------------------

type (
	// Ctx identifies one invocation of a module callback.
	Ctx uint64
	// KeyPtr identifies an open key.
	KeyPtr uint64
	// StringPtr identifies a host string.
	StringPtr uint64
	// CallReplyPtr identifies the reply of a nested command call.
	CallReplyPtr uint64
	// NodeListPtr identifies a snapshot of the cluster node identifiers.
	NodeListPtr uint64
)

// --------------------------------------------------------------------------
// Keys
// --------------------------------------------------------------------------

// Open modes for OpenKey, combinable with bitwise OR.
const (
	ModeRead  = 1 << 0
	ModeWrite = 1 << 1
)

// Key types reported by KeyType.
const (
	KeyTypeEmpty = iota
	KeyTypeString
	KeyTypeList
	KeyTypeHash
	KeyTypeSet
	KeyTypeZSet
	KeyTypeModule
	KeyTypeStream
)

// NoExpire is reported by GetExpire for keys without a time to live.
const NoExpire int64 = -1

// List ends for ListPush and ListPop.
const (
	ListHead = 0
	ListTail = 1
)

// Flags for HashSet and HashGet.
const (
	HashNone   = 0
	HashNX     = 1 << 0 // only set fields that do not exist yet
	HashXX     = 1 << 1 // only set fields that already exist
	HashExists = 1 << 3 // HashGet only: report existence instead of the value
)

// Flags for ZsetAdd. The returned flags use the Zadd*Result values.
const (
	ZaddNX = 1 << 0
	ZaddXX = 1 << 1

	ZaddAdded   = 1 << 2
	ZaddUpdated = 1 << 3
	ZaddNop     = 1 << 4
)

// --------------------------------------------------------------------------
// Call Replies
// --------------------------------------------------------------------------

// Reply types reported by CallReplyType.
const (
	ReplyUnknown = -1
	ReplyString  = 0
	ReplyError   = 1
	ReplyInteger = 2
	ReplyArray   = 3
	ReplyNull    = 4
)

// Characters accepted in the flags string of Call and Replicate.
const (
	CallFlagReplicate  = '!' // propagate the call to AOF and replicas
	CallFlagNoAOF      = 'A' // do not propagate to the append only file
	CallFlagNoReplicas = 'R' // do not propagate to replicas
	CallFlagCheckOOM   = 'M' // refuse deny-oom commands when over the resource limit
)

// --------------------------------------------------------------------------
// Cluster
// --------------------------------------------------------------------------

// NodeIDLen is the length of a cluster node identifier.
const NodeIDLen = 40

// Cluster flags for SetClusterFlags.
const (
	ClusterFlagNone          = 0
	ClusterFlagNoFailover    = 1 << 1
	ClusterFlagNoRedirection = 1 << 2
)

// --------------------------------------------------------------------------
// Logging
// --------------------------------------------------------------------------

// Log levels accepted by Log.
const (
	LogLevelDebug   = "debug"
	LogLevelVerbose = "verbose"
	LogLevelNotice  = "notice"
	LogLevelWarning = "warning"
)
