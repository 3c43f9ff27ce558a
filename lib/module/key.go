package module

import (
	"fmt"
	"github.com/ValentinKolb/dkvmod/lib/raw"
	"time"
)

// --------------------------------------------------------------------------
// Key Enums
// --------------------------------------------------------------------------

// KeyMode is the mode a key is opened with.
type KeyMode int

const (
	ModeRead  KeyMode = raw.ModeRead
	ModeWrite KeyMode = raw.ModeRead | raw.ModeWrite // write access includes read access
)

func (m KeyMode) String() string {
	if m&raw.ModeWrite != 0 {
		return "write"
	}
	return "read"
}

// KeyType is the runtime type of a key.
type KeyType int

const (
	KeyTypeEmpty  KeyType = raw.KeyTypeEmpty
	KeyTypeString KeyType = raw.KeyTypeString
	KeyTypeList   KeyType = raw.KeyTypeList
	KeyTypeHash   KeyType = raw.KeyTypeHash
	KeyTypeSet    KeyType = raw.KeyTypeSet
	KeyTypeZSet   KeyType = raw.KeyTypeZSet
	KeyTypeModule KeyType = raw.KeyTypeModule
	KeyTypeStream KeyType = raw.KeyTypeStream
)

func (t KeyType) String() string {
	switch t {
	case KeyTypeEmpty:
		return "none"
	case KeyTypeString:
		return "string"
	case KeyTypeList:
		return "list"
	case KeyTypeHash:
		return "hash"
	case KeyTypeSet:
		return "set"
	case KeyTypeZSet:
		return "zset"
	case KeyTypeModule:
		return "module"
	case KeyTypeStream:
		return "stream"
	default:
		return fmt.Sprintf("unknown(%d)", int(t))
	}
}

// ListPosition selects the end of a list.
type ListPosition int

const (
	ListHead ListPosition = raw.ListHead
	ListTail ListPosition = raw.ListTail
)

// HashSetFlag controls HashSet.
type HashSetFlag int

const (
	HashNone HashSetFlag = raw.HashNone
	HashNX   HashSetFlag = raw.HashNX // only set fields that do not exist
	HashXX   HashSetFlag = raw.HashXX // only set fields that already exist
)

// HashGetFlag controls HashGet.
type HashGetFlag int

const (
	HashGetNone   HashGetFlag = raw.HashNone
	HashGetExists HashGetFlag = raw.HashExists // only report existence, see HashGet
)

// ZaddFlag controls ZsetAdd and reports its outcome.
type ZaddFlag int

const (
	ZaddNone    ZaddFlag = 0
	ZaddNX      ZaddFlag = raw.ZaddNX
	ZaddXX      ZaddFlag = raw.ZaddXX
	ZaddAdded   ZaddFlag = raw.ZaddAdded
	ZaddUpdated ZaddFlag = raw.ZaddUpdated
	ZaddNop     ZaddFlag = raw.ZaddNop
)

// ZsetRangeDirection is the iteration order of a sorted set range.
type ZsetRangeDirection int

const (
	ZsetFirstIn ZsetRangeDirection = iota // ascending
	ZsetLastIn                            // descending
)

// ZsetElement is one member of a sorted set range. Member is a copy.
type ZsetElement struct {
	Member []byte
	Score  float64
}

// MemberString returns the member as a string.
func (e ZsetElement) MemberString() string { return string(e.Member) }

// --------------------------------------------------------------------------
// Key
// --------------------------------------------------------------------------

// Key is an open key of the selected database. It is closed by Close or when the
// callback of its Context returns, whichever happens first.
type Key struct {
	ctx    *Context
	ptr    raw.KeyPtr
	name   string
	mode   KeyMode
	closed bool
}

func (k *Key) release() {
	k.Close()
}

// Close releases the key. Safe to call more than once.
func (k *Key) Close() {
	if k.closed {
		return
	}
	k.closed = true
	if k.ctx.valid {
		k.ctx.host.CloseKey(k.ptr)
	}
}

// Name returns the name the key was opened with.
func (k *Key) Name() string { return k.name }

// Mode returns the mode the key was opened with.
func (k *Key) Mode() KeyMode { return k.mode }

// IsWritable reports whether the key was opened in write mode.
func (k *Key) IsWritable() bool { return k.mode&raw.ModeWrite != 0 }

// check fails for closed keys and expired contexts.
func (k *Key) check() error {
	if err := k.ctx.check(); err != nil {
		return err
	}
	if k.closed {
		return NewError(ErrCValidation, "ERR key is closed")
	}
	return nil
}

// checkWrite additionally fails for keys opened in read mode.
func (k *Key) checkWrite() error {
	if err := k.check(); err != nil {
		return err
	}
	if !k.IsWritable() {
		return NewError(ErrCPermission, fmt.Sprintf("ERR key '%s' is not opened for writing", k.name))
	}
	return nil
}

// mustCheck panics for closed keys and expired contexts. Used by infallible accessors.
func (k *Key) mustCheck() {
	if err := k.check(); err != nil {
		panic(err.Error())
	}
}

// --------------------------------------------------------------------------
// Type and metadata
// --------------------------------------------------------------------------

// Type returns the current type of the key. The type is queried on every call because
// operations through this key can change it.
func (k *Key) Type() KeyType {
	k.mustCheck()
	return KeyType(k.ctx.host.KeyType(k.ptr))
}

// IsEmpty reports whether the key does not exist.
func (k *Key) IsEmpty() bool {
	return k.Type() == KeyTypeEmpty
}

// VerifyType succeeds if the key has the expected type, or if it does not exist and
// allowEmpty is set.
func (k *Key) VerifyType(expected KeyType, allowEmpty bool) error {
	if err := k.check(); err != nil {
		return err
	}
	t := KeyType(k.ctx.host.KeyType(k.ptr))
	if t == expected || (allowEmpty && t == KeyTypeEmpty) {
		return nil
	}
	return ErrWrongType
}

// ValueLength returns the number of elements for aggregates, the byte length for strings
// and 0 for keys that do not exist.
func (k *Key) ValueLength() int64 {
	k.mustCheck()
	return k.ctx.host.ValueLength(k.ptr)
}

// Delete removes the key.
func (k *Key) Delete() error {
	if err := k.checkWrite(); err != nil {
		return err
	}
	return handleStatus(k.ctx.host.DeleteKey(k.ptr), "fail to delete key")
}

// --------------------------------------------------------------------------
// Expiry
// --------------------------------------------------------------------------

// Expire returns the remaining time to live. The second result is false if the key has
// no expiry or does not exist.
func (k *Key) Expire() (time.Duration, bool) {
	k.mustCheck()
	ms := k.ctx.host.GetExpire(k.ptr)
	if ms == raw.NoExpire {
		return 0, false
	}
	return time.Duration(ms) * time.Millisecond, true
}

// SetExpire sets the time to live. Fails if the key does not exist.
func (k *Key) SetExpire(d time.Duration) error {
	if err := k.checkWrite(); err != nil {
		return err
	}
	if d < 0 {
		return NewError(ErrCValidation, "ERR invalid expire time")
	}
	// round up to whole milliseconds
	ms := d.Milliseconds()
	if d > time.Duration(ms)*time.Millisecond {
		ms++
	}
	return handleStatus(k.ctx.host.SetExpire(k.ptr, ms), "fail to set expire")
}

// Persist removes the time to live. Fails if the key does not exist.
func (k *Key) Persist() error {
	if err := k.checkWrite(); err != nil {
		return err
	}
	return handleStatus(k.ctx.host.SetExpire(k.ptr, raw.NoExpire), "fail to persist key")
}

// --------------------------------------------------------------------------
// Strings
// --------------------------------------------------------------------------

// StringGet returns a copy of the string stored at the key. The key must hold a string.
func (k *Key) StringGet() (*RString, error) {
	if err := k.VerifyType(KeyTypeString, false); err != nil {
		return nil, err
	}
	b, st := k.ctx.host.StringDMA(k.ptr, int(k.mode))
	if err := handleStatus(st, "fail to get string value"); err != nil {
		return nil, err
	}
	return k.ctx.CreateStringBytes(b), nil
}

// StringSet replaces the value of the key with v. The key must hold a string or not exist.
func (k *Key) StringSet(v StringLike) error {
	if err := k.checkWrite(); err != nil {
		return err
	}
	if err := k.VerifyType(KeyTypeString, true); err != nil {
		return err
	}
	p, err := v.handle()
	if err != nil {
		return err
	}
	if err := handleStatus(k.ctx.host.StringSet(k.ptr, p), "fail to set string value"); err != nil {
		return err
	}
	v.transferred()
	return nil
}

// --------------------------------------------------------------------------
// Lists
// --------------------------------------------------------------------------

// ListPush inserts v at the given end of the list. Fails on type mismatch and when the
// host refuses the write because of its resource limit.
func (k *Key) ListPush(pos ListPosition, v StringLike) error {
	if err := k.checkWrite(); err != nil {
		return err
	}
	if err := k.VerifyType(KeyTypeList, true); err != nil {
		return err
	}
	p, err := v.handle()
	if err != nil {
		return err
	}
	if err := handleStatus(k.ctx.host.ListPush(k.ptr, int(pos), p), "fail to push list"); err != nil {
		return err
	}
	v.transferred()
	return nil
}

// ListPop removes and returns the element at the given end. Fails with a not found error
// if the list is empty.
func (k *Key) ListPop(pos ListPosition) (*RString, error) {
	if err := k.checkWrite(); err != nil {
		return nil, err
	}
	if err := k.VerifyType(KeyTypeList, true); err != nil {
		return nil, err
	}
	p := k.ctx.host.ListPop(k.ptr, int(pos))
	if p == 0 {
		return nil, NewError(ErrCNotFound, "ERR fail to pop list")
	}
	return k.ctx.adoptString(p), nil
}

// --------------------------------------------------------------------------
// Hashes
// --------------------------------------------------------------------------

// HashGet returns the value of field, or nil if the field does not exist.
// With HashGetExists the value is not fetched and a non-nil result holding "1" signals
// presence; use HashExists for a plain boolean.
func (k *Key) HashGet(flags HashGetFlag, field StringLike) (*RString, error) {
	if err := k.check(); err != nil {
		return nil, err
	}
	if err := k.VerifyType(KeyTypeHash, true); err != nil {
		return nil, err
	}
	f, err := field.handle()
	if err != nil {
		return nil, err
	}
	p, exists, st := k.ctx.host.HashGet(k.ptr, int(flags), f)
	if err := handleStatus(st, "fail to get hash value"); err != nil {
		return nil, err
	}
	if !exists {
		return nil, nil
	}
	if flags&HashGetExists != 0 {
		return k.ctx.CreateString("1"), nil
	}
	return k.ctx.adoptString(p), nil
}

// HashExists reports whether field exists.
func (k *Key) HashExists(field StringLike) (bool, error) {
	if err := k.check(); err != nil {
		return false, err
	}
	if err := k.VerifyType(KeyTypeHash, true); err != nil {
		return false, err
	}
	f, err := field.handle()
	if err != nil {
		return false, err
	}
	_, exists, st := k.ctx.host.HashGet(k.ptr, raw.HashExists, f)
	if err := handleStatus(st, "fail to get hash value"); err != nil {
		return false, err
	}
	return exists, nil
}

// HashSet sets field to value. A nil value deletes the field. Returns the number of
// fields that were added, updated or deleted.
func (k *Key) HashSet(flags HashSetFlag, field StringLike, value StringLike) (int, error) {
	if err := k.checkWrite(); err != nil {
		return 0, err
	}
	if err := k.VerifyType(KeyTypeHash, true); err != nil {
		return 0, err
	}
	f, err := field.handle()
	if err != nil {
		return 0, err
	}
	var v raw.StringPtr
	if !isNilString(value) {
		if v, err = value.handle(); err != nil {
			return 0, err
		}
	}
	n, st := k.ctx.host.HashSet(k.ptr, int(flags), f, v)
	if err := handleStatus(st, "fail to set hash value"); err != nil {
		return 0, err
	}
	if v != 0 {
		value.transferred()
	}
	return n, nil
}

// isNilString treats both a nil interface and a nil *RString as absent.
func isNilString(s StringLike) bool {
	if s == nil {
		return true
	}
	rs, ok := s.(*RString)
	return ok && rs == nil
}

// --------------------------------------------------------------------------
// Sorted sets
// --------------------------------------------------------------------------

// ZsetAdd adds member with score. flags takes ZaddNX or ZaddXX; the result reports
// ZaddAdded, ZaddUpdated or ZaddNop.
func (k *Key) ZsetAdd(score float64, member StringLike, flags ZaddFlag) (ZaddFlag, error) {
	if err := k.checkWrite(); err != nil {
		return 0, err
	}
	if err := k.VerifyType(KeyTypeZSet, true); err != nil {
		return 0, err
	}
	m, err := member.handle()
	if err != nil {
		return 0, err
	}
	out, st := k.ctx.host.ZsetAdd(k.ptr, score, m, int(flags))
	if err := handleStatus(st, "fail to add zset member"); err != nil {
		return 0, err
	}
	return ZaddFlag(out), nil
}

// ZsetScore returns the score of member. Fails with a not found error if the member or
// the key does not exist.
func (k *Key) ZsetScore(member StringLike) (float64, error) {
	if err := k.check(); err != nil {
		return 0, err
	}
	if err := k.VerifyType(KeyTypeZSet, true); err != nil {
		return 0, err
	}
	m, err := member.handle()
	if err != nil {
		return 0, err
	}
	score, st := k.ctx.host.ZsetScore(k.ptr, m)
	if st != raw.StatusOK {
		return 0, NewError(ErrCNotFound, "ERR zset member not found")
	}
	return score, nil
}

// ZsetRem removes member and reports whether it was present.
func (k *Key) ZsetRem(member StringLike) (bool, error) {
	if err := k.checkWrite(); err != nil {
		return false, err
	}
	if err := k.VerifyType(KeyTypeZSet, true); err != nil {
		return false, err
	}
	m, err := member.handle()
	if err != nil {
		return false, err
	}
	removed, st := k.ctx.host.ZsetRem(k.ptr, m)
	if err := handleStatus(st, "fail to remove zset member"); err != nil {
		return false, err
	}
	return removed, nil
}

// ZsetScoreRange returns the members with a score between min and max in the given
// direction. exMin and exMax make the respective bound exclusive.
func (k *Key) ZsetScoreRange(dir ZsetRangeDirection, min, max float64, exMin, exMax bool) ([]ZsetElement, error) {
	if err := k.check(); err != nil {
		return nil, err
	}
	if err := k.VerifyType(KeyTypeZSet, true); err != nil {
		return nil, err
	}
	var st raw.Status
	if dir == ZsetFirstIn {
		st = k.ctx.host.ZsetFirstInScoreRange(k.ptr, min, max, exMin, exMax)
	} else {
		st = k.ctx.host.ZsetLastInScoreRange(k.ptr, min, max, exMin, exMax)
	}
	if err := handleStatus(st, "fail to start zset score range"); err != nil {
		return nil, err
	}
	return k.collectRange(dir), nil
}

// ZsetLexRange returns the members between min and max in the given direction. Bounds
// use the server syntax: "[a" inclusive, "(a" exclusive, "-" and "+" for the extremes.
// All members of the set must have the same score.
func (k *Key) ZsetLexRange(dir ZsetRangeDirection, min, max StringLike) ([]ZsetElement, error) {
	if err := k.check(); err != nil {
		return nil, err
	}
	if err := k.VerifyType(KeyTypeZSet, true); err != nil {
		return nil, err
	}
	lo, err := min.handle()
	if err != nil {
		return nil, err
	}
	hi, err := max.handle()
	if err != nil {
		return nil, err
	}
	var st raw.Status
	if dir == ZsetFirstIn {
		st = k.ctx.host.ZsetFirstInLexRange(k.ptr, lo, hi)
	} else {
		st = k.ctx.host.ZsetLastInLexRange(k.ptr, lo, hi)
	}
	if err := handleStatus(st, "fail to start zset lex range"); err != nil {
		return nil, err
	}
	return k.collectRange(dir), nil
}

// collectRange drains a started range iterator and stops it.
func (k *Key) collectRange(dir ZsetRangeDirection) []ZsetElement {
	h := k.ctx.host
	defer h.ZsetRangeStop(k.ptr)

	result := make([]ZsetElement, 0)
	for !h.ZsetRangeEndReached(k.ptr) {
		p, score := h.ZsetRangeCurrentElement(k.ptr)
		if p == 0 {
			break
		}
		member := h.StringPtrLen(p)
		elem := ZsetElement{Member: make([]byte, len(member)), Score: score}
		copy(elem.Member, member)
		h.FreeString(k.ctx.raw, p)
		result = append(result, elem)

		var more bool
		if dir == ZsetFirstIn {
			more = h.ZsetRangeNext(k.ptr)
		} else {
			more = h.ZsetRangePrev(k.ptr)
		}
		if !more {
			break
		}
	}
	return result
}
