package host

import (
	"github.com/ValentinKolb/dkvmod/lib/db"
	"github.com/ValentinKolb/dkvmod/lib/raw"
	"math"
	"strconv"
)

var _ raw.Host = (*Server)(nil)

// All raw.Host entry points run inside a callback, so the loop lock is already held by
// the goroutine that invoked the module.

// --------------------------------------------------------------------------
// Strings
// --------------------------------------------------------------------------

func (s *Server) CreateString(ctx raw.Ctx, buf []byte) raw.StringPtr {
	c := s.ctx(ctx)
	if c == nil {
		return 0
	}
	return s.newString(c, buf)
}

func (s *Server) FreeString(_ raw.Ctx, p raw.StringPtr) {
	delete(s.handles.strings, p)
}

func (s *Server) StringPtrLen(p raw.StringPtr) []byte {
	b, ok := s.stringData(p)
	if !ok {
		return nil
	}
	return b
}

func (s *Server) StringToLongLong(p raw.StringPtr) (int64, raw.Status) {
	b, ok := s.stringData(p)
	if !ok {
		return 0, raw.StatusErr
	}
	v, ok := parseInt(b)
	if !ok {
		return 0, raw.StatusErr
	}
	return v, raw.StatusOK
}

func (s *Server) StringToDouble(p raw.StringPtr) (float64, raw.Status) {
	b, ok := s.stringData(p)
	if !ok {
		return 0, raw.StatusErr
	}
	v, err := strconv.ParseFloat(string(b), 64)
	if err != nil || math.IsNaN(v) {
		return 0, raw.StatusErr
	}
	return v, raw.StatusOK
}

// --------------------------------------------------------------------------
// Database selection
// --------------------------------------------------------------------------

func (s *Server) GetSelectedDb(ctx raw.Ctx) int {
	c := s.ctx(ctx)
	if c == nil {
		return -1
	}
	return c.db
}

func (s *Server) SelectDb(ctx raw.Ctx, id int) raw.Status {
	c := s.ctx(ctx)
	if c == nil || id < 0 || id >= len(s.dbs) {
		return raw.StatusErr
	}
	c.db = id
	return raw.StatusOK
}

// --------------------------------------------------------------------------
// Keys
// --------------------------------------------------------------------------

// openKey is the host side of a raw.KeyPtr. The key stays bound to the database that was
// selected when it was opened.
type openKey struct {
	ctx  *callCtx
	db   int
	name string
	mode int
	zr   *zsetIter
}

func (k *openKey) writable() bool {
	return k.mode&raw.ModeWrite != 0
}

// zsetIter is an active range iteration. The range is materialized when it starts.
type zsetIter struct {
	items []db.ZItem
	pos   int
}

func (it *zsetIter) done() bool {
	return it.pos < 0 || it.pos >= len(it.items)
}

func (s *Server) key(p raw.KeyPtr) (*openKey, *db.Keyspace) {
	k, ok := s.handles.keys[p]
	if !ok {
		return nil, nil
	}
	return k, s.dbs[k.db]
}

func (s *Server) OpenKey(ctx raw.Ctx, name raw.StringPtr, mode int) raw.KeyPtr {
	c := s.ctx(ctx)
	if c == nil {
		return 0
	}
	b, ok := s.stringData(name)
	if !ok {
		return 0
	}
	if mode&(raw.ModeRead|raw.ModeWrite) == 0 {
		mode = raw.ModeRead
	}
	id := s.handles.nextID()
	s.handles.keys[raw.KeyPtr(id)] = &openKey{ctx: c, db: c.db, name: string(b), mode: mode}
	c.owned = append(c.owned, id)
	return raw.KeyPtr(id)
}

func (s *Server) CloseKey(p raw.KeyPtr) {
	if _, ok := s.handles.keys[p]; ok {
		s.handles.drop(uint64(p))
	}
}

func (s *Server) KeyType(p raw.KeyPtr) int {
	k, ks := s.key(p)
	if k == nil {
		return raw.KeyTypeEmpty
	}
	e := ks.Get(k.name)
	if e == nil {
		return raw.KeyTypeEmpty
	}
	return int(e.Type)
}

func (s *Server) ValueLength(p raw.KeyPtr) int64 {
	k, ks := s.key(p)
	if k == nil {
		return 0
	}
	if e := ks.Get(k.name); e != nil {
		return e.Len()
	}
	return 0
}

func (s *Server) DeleteKey(p raw.KeyPtr) raw.Status {
	k, ks := s.key(p)
	if k == nil || !k.writable() {
		return raw.StatusErr
	}
	ks.Delete(k.name)
	return raw.StatusOK
}

func (s *Server) GetExpire(p raw.KeyPtr) int64 {
	k, ks := s.key(p)
	if k == nil {
		return raw.NoExpire
	}
	ms, ok := ks.TTL(k.name)
	if !ok || ms < 0 {
		return raw.NoExpire
	}
	return ms
}

func (s *Server) SetExpire(p raw.KeyPtr, ms int64) raw.Status {
	k, ks := s.key(p)
	if k == nil || !k.writable() || !ks.Exists(k.name) {
		return raw.StatusErr
	}
	switch {
	case ms == raw.NoExpire:
		ks.Persist(k.name)
	case ms < 0:
		return raw.StatusErr
	default:
		ks.SetExpireAt(k.name, ks.Now()+ms)
	}
	return raw.StatusOK
}

// --------------------------------------------------------------------------
// String values
// --------------------------------------------------------------------------

func (s *Server) StringDMA(p raw.KeyPtr, mode int) ([]byte, raw.Status) {
	k, ks := s.key(p)
	if k == nil {
		return nil, raw.StatusErr
	}
	write := mode&raw.ModeWrite != 0
	if write && !k.writable() {
		return nil, raw.StatusErr
	}
	e := ks.Get(k.name)
	if e == nil {
		if !write {
			return []byte{}, raw.StatusOK
		}
		e = db.NewStringEntry(nil)
		ks.Put(k.name, e)
	}
	if e.Type != db.TypeString {
		return nil, raw.StatusErr
	}
	return e.Str, raw.StatusOK
}

func (s *Server) StringSet(p raw.KeyPtr, v raw.StringPtr) raw.Status {
	k, ks := s.key(p)
	if k == nil || !k.writable() {
		return raw.StatusErr
	}
	b, ok := s.stringData(v)
	if !ok {
		return raw.StatusErr
	}
	ks.Put(k.name, db.NewStringEntry(b))
	return raw.StatusOK
}

// --------------------------------------------------------------------------
// Lists
// --------------------------------------------------------------------------

func (s *Server) ListPush(p raw.KeyPtr, where int, v raw.StringPtr) raw.Status {
	k, ks := s.key(p)
	if k == nil || !k.writable() || s.overLimit() {
		return raw.StatusErr
	}
	b, ok := s.stringData(v)
	if !ok {
		return raw.StatusErr
	}
	e, err := ks.GetOrCreate(k.name, db.TypeList)
	if err != nil {
		return raw.StatusErr
	}
	b = cloneBytes(b)
	if where == raw.ListHead {
		e.List = append([][]byte{b}, e.List...)
	} else {
		e.List = append(e.List, b)
	}
	return raw.StatusOK
}

func (s *Server) ListPop(p raw.KeyPtr, where int) raw.StringPtr {
	k, ks := s.key(p)
	if k == nil || !k.writable() {
		return 0
	}
	e, err := ks.GetTyped(k.name, db.TypeList)
	if err != nil || e == nil || len(e.List) == 0 {
		return 0
	}
	var v []byte
	if where == raw.ListHead {
		v, e.List = e.List[0], e.List[1:]
	} else {
		v, e.List = e.List[len(e.List)-1], e.List[:len(e.List)-1]
	}
	ks.DeleteIfEmpty(k.name)
	return s.newString(k.ctx, v)
}

// --------------------------------------------------------------------------
// Hashes
// --------------------------------------------------------------------------

func (s *Server) HashSet(p raw.KeyPtr, flags int, field raw.StringPtr, value raw.StringPtr) (int, raw.Status) {
	k, ks := s.key(p)
	if k == nil || !k.writable() || flags&raw.HashNX != 0 && flags&raw.HashXX != 0 {
		return 0, raw.StatusErr
	}
	f, ok := s.stringData(field)
	if !ok {
		return 0, raw.StatusErr
	}

	// delete
	if value == 0 {
		e, err := ks.GetTyped(k.name, db.TypeHash)
		if err != nil {
			return 0, raw.StatusErr
		}
		if e == nil {
			return 0, raw.StatusOK
		}
		if _, exists := e.Hash[string(f)]; !exists {
			return 0, raw.StatusOK
		}
		delete(e.Hash, string(f))
		ks.DeleteIfEmpty(k.name)
		return 1, raw.StatusOK
	}

	v, ok := s.stringData(value)
	if !ok {
		return 0, raw.StatusErr
	}
	e, err := ks.GetOrCreate(k.name, db.TypeHash)
	if err != nil {
		return 0, raw.StatusErr
	}
	_, exists := e.Hash[string(f)]
	if (flags&raw.HashNX != 0 && exists) || (flags&raw.HashXX != 0 && !exists) {
		ks.DeleteIfEmpty(k.name)
		return 0, raw.StatusOK
	}
	e.Hash[string(f)] = cloneBytes(v)
	return 1, raw.StatusOK
}

func (s *Server) HashGet(p raw.KeyPtr, flags int, field raw.StringPtr) (raw.StringPtr, bool, raw.Status) {
	k, ks := s.key(p)
	if k == nil {
		return 0, false, raw.StatusErr
	}
	f, ok := s.stringData(field)
	if !ok {
		return 0, false, raw.StatusErr
	}
	e, err := ks.GetTyped(k.name, db.TypeHash)
	if err != nil {
		return 0, false, raw.StatusErr
	}
	if e == nil {
		return 0, false, raw.StatusOK
	}
	v, exists := e.Hash[string(f)]
	if !exists || flags&raw.HashExists != 0 {
		return 0, exists, raw.StatusOK
	}
	return s.newString(k.ctx, v), true, raw.StatusOK
}

// --------------------------------------------------------------------------
// Sorted sets
// --------------------------------------------------------------------------

func (s *Server) ZsetAdd(p raw.KeyPtr, score float64, member raw.StringPtr, flags int) (int, raw.Status) {
	k, ks := s.key(p)
	if k == nil || !k.writable() || math.IsNaN(score) || flags&raw.ZaddNX != 0 && flags&raw.ZaddXX != 0 {
		return 0, raw.StatusErr
	}
	m, ok := s.stringData(member)
	if !ok {
		return 0, raw.StatusErr
	}
	e, err := ks.GetOrCreate(k.name, db.TypeZSet)
	if err != nil {
		return 0, raw.StatusErr
	}
	defer ks.DeleteIfEmpty(k.name)

	_, exists := e.ZSet.Score(string(m))
	if (flags&raw.ZaddNX != 0 && exists) || (flags&raw.ZaddXX != 0 && !exists) {
		return raw.ZaddNop, raw.StatusOK
	}
	added, updated := e.ZSet.Add(string(m), score)
	switch {
	case added:
		return raw.ZaddAdded, raw.StatusOK
	case updated:
		return raw.ZaddUpdated, raw.StatusOK
	default:
		return raw.ZaddNop, raw.StatusOK
	}
}

func (s *Server) ZsetScore(p raw.KeyPtr, member raw.StringPtr) (float64, raw.Status) {
	k, ks := s.key(p)
	if k == nil {
		return 0, raw.StatusErr
	}
	m, ok := s.stringData(member)
	if !ok {
		return 0, raw.StatusErr
	}
	e, err := ks.GetTyped(k.name, db.TypeZSet)
	if err != nil || e == nil {
		return 0, raw.StatusErr
	}
	score, ok := e.ZSet.Score(string(m))
	if !ok {
		return 0, raw.StatusErr
	}
	return score, raw.StatusOK
}

func (s *Server) ZsetRem(p raw.KeyPtr, member raw.StringPtr) (bool, raw.Status) {
	k, ks := s.key(p)
	if k == nil || !k.writable() {
		return false, raw.StatusErr
	}
	m, ok := s.stringData(member)
	if !ok {
		return false, raw.StatusErr
	}
	e, err := ks.GetTyped(k.name, db.TypeZSet)
	if err != nil {
		return false, raw.StatusErr
	}
	if e == nil {
		return false, raw.StatusOK
	}
	removed := e.ZSet.Rem(string(m))
	ks.DeleteIfEmpty(k.name)
	return removed, raw.StatusOK
}

// startRange positions a new iteration over the members selected by pick, at the first
// element or the last one.
func (s *Server) startRange(p raw.KeyPtr, last bool, pick func(z *db.ZSet) []db.ZItem) raw.Status {
	k, ks := s.key(p)
	if k == nil {
		return raw.StatusErr
	}
	e, err := ks.GetTyped(k.name, db.TypeZSet)
	if err != nil {
		return raw.StatusErr
	}
	it := &zsetIter{}
	if e != nil {
		it.items = pick(e.ZSet)
	}
	if last {
		it.pos = len(it.items) - 1
	}
	k.zr = it
	return raw.StatusOK
}

func (s *Server) scoreRange(p raw.KeyPtr, last bool, min, max float64, minEx, maxEx bool) raw.Status {
	if math.IsNaN(min) || math.IsNaN(max) {
		return raw.StatusErr
	}
	r := db.ScoreRange{Min: min, Max: max, MinEx: minEx, MaxEx: maxEx}
	return s.startRange(p, last, func(z *db.ZSet) []db.ZItem {
		return z.RangeByScore(r, false)
	})
}

func (s *Server) lexRange(p raw.KeyPtr, last bool, min, max raw.StringPtr) raw.Status {
	minB, ok1 := s.stringData(min)
	maxB, ok2 := s.stringData(max)
	if !ok1 || !ok2 {
		return raw.StatusErr
	}
	lo, err := db.ParseLexBound(minB)
	if err != nil {
		return raw.StatusErr
	}
	hi, err := db.ParseLexBound(maxB)
	if err != nil {
		return raw.StatusErr
	}
	r := db.LexRange{Min: lo, Max: hi}
	return s.startRange(p, last, func(z *db.ZSet) []db.ZItem {
		return z.RangeByLex(r, false)
	})
}

func (s *Server) ZsetFirstInScoreRange(p raw.KeyPtr, min, max float64, minEx, maxEx bool) raw.Status {
	return s.scoreRange(p, false, min, max, minEx, maxEx)
}

func (s *Server) ZsetLastInScoreRange(p raw.KeyPtr, min, max float64, minEx, maxEx bool) raw.Status {
	return s.scoreRange(p, true, min, max, minEx, maxEx)
}

func (s *Server) ZsetFirstInLexRange(p raw.KeyPtr, min, max raw.StringPtr) raw.Status {
	return s.lexRange(p, false, min, max)
}

func (s *Server) ZsetLastInLexRange(p raw.KeyPtr, min, max raw.StringPtr) raw.Status {
	return s.lexRange(p, true, min, max)
}

func (s *Server) ZsetRangeCurrentElement(p raw.KeyPtr) (raw.StringPtr, float64) {
	k, _ := s.key(p)
	if k == nil || k.zr == nil || k.zr.done() {
		return 0, 0
	}
	it := k.zr.items[k.zr.pos]
	return s.newString(k.ctx, []byte(it.Member)), it.Score
}

func (s *Server) ZsetRangeNext(p raw.KeyPtr) bool {
	k, _ := s.key(p)
	if k == nil || k.zr == nil || k.zr.done() {
		return false
	}
	k.zr.pos++
	return !k.zr.done()
}

func (s *Server) ZsetRangePrev(p raw.KeyPtr) bool {
	k, _ := s.key(p)
	if k == nil || k.zr == nil || k.zr.done() {
		return false
	}
	k.zr.pos--
	return !k.zr.done()
}

func (s *Server) ZsetRangeEndReached(p raw.KeyPtr) bool {
	k, _ := s.key(p)
	if k == nil || k.zr == nil {
		return true
	}
	return k.zr.done()
}

func (s *Server) ZsetRangeStop(p raw.KeyPtr) {
	if k, _ := s.key(p); k != nil {
		k.zr = nil
	}
}
