package db

import (
	"errors"
	"github.com/ValentinKolb/dkvmod/lib/util"
	"sort"
	"time"
)

// --------------------------------------------------------------------------
// Helper Types
// --------------------------------------------------------------------------

// ErrWrongType is returned when a key holds a different type than the operation needs.
var ErrWrongType = errors.New("WRONGTYPE Operation against a key holding the wrong kind of value")

// Type is the type of a value. The numbering matches the raw host interface.
type Type uint8

const (
	TypeNone   Type = iota // key does not exist
	TypeString             // binary safe string
	TypeList               // list of strings
	TypeHash               // field -> value map
	TypeSet                // unordered set of strings
	TypeZSet               // sorted set
)

func (t Type) String() string {
	switch t {
	case TypeNone:
		return "none"
	case TypeString:
		return "string"
	case TypeList:
		return "list"
	case TypeHash:
		return "hash"
	case TypeSet:
		return "set"
	case TypeZSet:
		return "zset"
	default:
		return "unknown"
	}
}

// Clock returns the current time in unix milliseconds.
type Clock func() int64

// SystemClock reads the wall clock.
func SystemClock() int64 {
	return time.Now().UnixMilli()
}

// --------------------------------------------------------------------------
// Entry Type (typed value with metadata)
// --------------------------------------------------------------------------

// Entry is the value stored at a key. Exactly one payload field is used, selected by Type.
type Entry struct {
	Type Type
	Str  []byte              // TypeString
	List [][]byte            // TypeList, head at index 0
	Hash map[string][]byte   // TypeHash
	Set  map[string]struct{} // TypeSet
	ZSet *ZSet               // TypeZSet

	expireAt int64 // unix ms, 0 = no expiry
}

// NewEntry creates an empty entry of type t.
func NewEntry(t Type) *Entry {
	e := &Entry{Type: t}
	switch t {
	case TypeList:
		e.List = make([][]byte, 0)
	case TypeHash:
		e.Hash = make(map[string][]byte)
	case TypeSet:
		e.Set = make(map[string]struct{})
	case TypeZSet:
		e.ZSet = NewZSet()
	}
	return e
}

// NewStringEntry creates a string entry holding a copy of v.
func NewStringEntry(v []byte) *Entry {
	c := make([]byte, len(v))
	copy(c, v)
	return &Entry{Type: TypeString, Str: c}
}

// Len returns the element count of aggregates and the byte length of strings.
func (e *Entry) Len() int64 {
	switch e.Type {
	case TypeString:
		return int64(len(e.Str))
	case TypeList:
		return int64(len(e.List))
	case TypeHash:
		return int64(len(e.Hash))
	case TypeSet:
		return int64(len(e.Set))
	case TypeZSet:
		return int64(e.ZSet.Len())
	default:
		return 0
	}
}

// isEmptyAggregate reports whether an aggregate has no elements left.
func (e *Entry) isEmptyAggregate() bool {
	return e.Type != TypeString && e.Len() == 0
}

// ExpireAt returns the expiry deadline in unix ms, 0 if none.
func (e *Entry) ExpireAt() int64 {
	return e.expireAt
}

// --------------------------------------------------------------------------
// Keyspace
// --------------------------------------------------------------------------

// Keyspace is one logical database: a map of keys to typed entries plus the expiry queue.
// Expired keys are removed lazily on access and actively by ActiveExpire.
//
// Thread-safety: Keyspace is not thread-safe. The server uses it under its loop lock.
type Keyspace struct {
	data    map[string]*Entry
	expires *util.MapHeap
	clock   Clock
}

// NewKeyspace creates an empty keyspace. A nil clock uses SystemClock.
func NewKeyspace(clock Clock) *Keyspace {
	if clock == nil {
		clock = SystemClock
	}
	return &Keyspace{
		data:    make(map[string]*Entry),
		expires: util.NewMapHeap(),
		clock:   clock,
	}
}

// Now returns the keyspace clock.
func (ks *Keyspace) Now() int64 {
	return ks.clock()
}

// Get returns the entry at key or nil. Expired keys are deleted and reported missing.
func (ks *Keyspace) Get(key string) *Entry {
	e, ok := ks.data[key]
	if !ok {
		return nil
	}
	if e.expireAt != 0 && e.expireAt <= ks.clock() {
		ks.Delete(key)
		return nil
	}
	return e
}

// GetTyped returns the entry at key if it has type t. A missing key returns nil and no
// error.
func (ks *Keyspace) GetTyped(key string, t Type) (*Entry, error) {
	e := ks.Get(key)
	if e == nil {
		return nil, nil
	}
	if e.Type != t {
		return nil, ErrWrongType
	}
	return e, nil
}

// GetOrCreate returns the entry at key, creating an empty one of type t if missing.
func (ks *Keyspace) GetOrCreate(key string, t Type) (*Entry, error) {
	e, err := ks.GetTyped(key, t)
	if err != nil {
		return nil, err
	}
	if e == nil {
		e = NewEntry(t)
		ks.data[key] = e
	}
	return e, nil
}

// TypeOf returns the type of key, TypeNone if missing.
func (ks *Keyspace) TypeOf(key string) Type {
	if e := ks.Get(key); e != nil {
		return e.Type
	}
	return TypeNone
}

// Put stores e at key, replacing any previous value and its expiry.
func (ks *Keyspace) Put(key string, e *Entry) {
	ks.expires.RemoveByKey(key)
	e.expireAt = 0
	ks.data[key] = e
}

// Delete removes key and reports whether it existed.
func (ks *Keyspace) Delete(key string) bool {
	if _, ok := ks.data[key]; !ok {
		return false
	}
	delete(ks.data, key)
	ks.expires.RemoveByKey(key)
	return true
}

// DeleteIfEmpty removes key if it holds an aggregate without elements. Called after
// every operation that removes elements.
func (ks *Keyspace) DeleteIfEmpty(key string) bool {
	e, ok := ks.data[key]
	if !ok || !e.isEmptyAggregate() {
		return false
	}
	return ks.Delete(key)
}

// Exists reports whether key exists and is not expired.
func (ks *Keyspace) Exists(key string) bool {
	return ks.Get(key) != nil
}

// Len returns the number of keys, including expired keys not yet collected.
func (ks *Keyspace) Len() int {
	return len(ks.data)
}

// Flush removes every key.
func (ks *Keyspace) Flush() {
	ks.data = make(map[string]*Entry)
	ks.expires.Reset()
}

// Keys returns all live keys in sorted order.
func (ks *Keyspace) Keys() []string {
	now := ks.clock()
	keys := make([]string, 0, len(ks.data))
	for k, e := range ks.data {
		if e.expireAt != 0 && e.expireAt <= now {
			continue
		}
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// --------------------------------------------------------------------------
// Expiry
// --------------------------------------------------------------------------

// SetExpireAt sets the deadline of key in unix ms. A deadline in the past deletes the key.
// Returns false if key does not exist.
func (ks *Keyspace) SetExpireAt(key string, at int64) bool {
	e := ks.Get(key)
	if e == nil {
		return false
	}
	if at <= ks.clock() {
		ks.Delete(key)
		return true
	}
	e.expireAt = at
	ks.expires.AddItem(key, at)
	return true
}

// SetExpire sets the time to live of key relative to now.
func (ks *Keyspace) SetExpire(key string, ttl time.Duration) bool {
	return ks.SetExpireAt(key, ks.clock()+ttl.Milliseconds())
}

// Persist removes the deadline of key. Returns false if key does not exist or has no
// deadline.
func (ks *Keyspace) Persist(key string) bool {
	e := ks.Get(key)
	if e == nil || e.expireAt == 0 {
		return false
	}
	e.expireAt = 0
	ks.expires.RemoveByKey(key)
	return true
}

// TTL returns the remaining time to live of key in ms. The result is -1 for keys without
// deadline; ok is false for missing keys.
func (ks *Keyspace) TTL(key string) (ms int64, ok bool) {
	e := ks.Get(key)
	if e == nil {
		return 0, false
	}
	if e.expireAt == 0 {
		return -1, true
	}
	ms = e.expireAt - ks.clock()
	if ms < 0 {
		ms = 0
	}
	return ms, true
}

// ActiveExpire deletes up to max keys whose deadline has passed and returns the number
// deleted. max <= 0 means no limit.
func (ks *Keyspace) ActiveExpire(max int) int {
	now := ks.clock()
	n := 0
	for max <= 0 || n < max {
		it, ok := ks.expires.Peek()
		if !ok || it.Priority > now {
			break
		}
		key := it.Key
		ks.expires.RemoveByKey(key)

		// the deadline may have moved since it was queued
		if e, ok := ks.data[key]; ok && e.expireAt != 0 && e.expireAt <= now {
			delete(ks.data, key)
			n++
		}
	}
	return n
}

// PendingExpires returns the number of keys with a deadline.
func (ks *Keyspace) PendingExpires() int {
	return ks.expires.Len()
}

// restore stores e at key with its deadline, used by Load.
func (ks *Keyspace) restore(key string, e *Entry, expireAt int64) {
	ks.data[key] = e
	if expireAt != 0 {
		e.expireAt = expireAt
		ks.expires.AddItem(key, expireAt)
	}
}
