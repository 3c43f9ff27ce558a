package host

import (
	"bytes"
	"fmt"
	"github.com/ValentinKolb/dkvmod/lib/db"
	"math"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
)

// --------------------------------------------------------------------------
// Native commands
// --------------------------------------------------------------------------

var (
	errNotInteger  = ErrorReply("ERR value is not an integer or out of range")
	errNotFloat    = ErrorReply("ERR value is not a valid float")
	errSyntax      = ErrorReply("ERR syntax error")
	errWrongType   = ErrorReply(db.ErrWrongType.Error())
	errOverflow    = ErrorReply("ERR increment or decrement would overflow")
	errDBIndex     = ErrorReply("ERR DB index is out of range")
	errInvalidTTL  = ErrorReply("ERR invalid expire time")
	errNoSnapshots = ErrorReply("ERR snapshots are disabled, no snapshot path configured")
)

// registerNatives installs the built-in commands. Arity and key specs follow the usual
// conventions: the arity counts the command name, negative values are minimums.
func registerNatives(s *Server) {
	// connection
	s.addNative("ping", -1, "fast", 0, 0, 0, cmdPing)
	s.addNative("echo", 2, "fast", 0, 0, 0, cmdEcho)
	s.addNative("select", 2, "fast allow-loading", 0, 0, 0, cmdSelect)

	// keyspace
	s.addNative("del", -2, "write", 1, -1, 1, cmdDel)
	s.addNative("exists", -2, "readonly fast", 1, -1, 1, cmdExists)
	s.addNative("type", 2, "readonly fast", 1, 1, 1, cmdType)
	s.addNative("expire", 3, "write fast", 1, 1, 1, cmdExpire)
	s.addNative("pexpire", 3, "write fast", 1, 1, 1, cmdPexpire)
	s.addNative("pexpireat", 3, "write fast", 1, 1, 1, cmdPexpireat)
	s.addNative("ttl", 2, "readonly fast random", 1, 1, 1, cmdTTL)
	s.addNative("pttl", 2, "readonly fast random", 1, 1, 1, cmdPTTL)
	s.addNative("persist", 2, "write fast", 1, 1, 1, cmdPersist)
	s.addNative("dbsize", 1, "readonly fast", 0, 0, 0, cmdDBSize)
	s.addNative("flushdb", 1, "write", 0, 0, 0, cmdFlushDB)
	s.addNative("save", 1, "admin no-cluster", 0, 0, 0, cmdSave)

	// strings
	s.addNative("get", 2, "readonly fast", 1, 1, 1, cmdGet)
	s.addNative("set", -3, "write deny-oom", 1, 1, 1, cmdSet)
	s.addNative("incr", 2, "write deny-oom fast", 1, 1, 1, cmdIncr)
	s.addNative("decr", 2, "write deny-oom fast", 1, 1, 1, cmdDecr)
	s.addNative("incrby", 3, "write deny-oom fast", 1, 1, 1, cmdIncrBy)

	// lists
	s.addNative("lpush", -3, "write deny-oom fast", 1, 1, 1, cmdLPush)
	s.addNative("rpush", -3, "write deny-oom fast", 1, 1, 1, cmdRPush)
	s.addNative("lpop", 2, "write fast", 1, 1, 1, cmdLPop)
	s.addNative("rpop", 2, "write fast", 1, 1, 1, cmdRPop)
	s.addNative("llen", 2, "readonly fast", 1, 1, 1, cmdLLen)
	s.addNative("lrange", 4, "readonly", 1, 1, 1, cmdLRange)

	// hashes
	s.addNative("hset", -4, "write deny-oom fast", 1, 1, 1, cmdHSet)
	s.addNative("hget", 3, "readonly fast", 1, 1, 1, cmdHGet)
	s.addNative("hdel", -3, "write fast", 1, 1, 1, cmdHDel)
	s.addNative("hlen", 2, "readonly fast", 1, 1, 1, cmdHLen)
	s.addNative("hgetall", 2, "readonly", 1, 1, 1, cmdHGetAll)

	// sets
	s.addNative("sadd", -3, "write deny-oom fast", 1, 1, 1, cmdSAdd)
	s.addNative("scard", 2, "readonly fast", 1, 1, 1, cmdSCard)
	s.addNative("smembers", 2, "readonly", 1, 1, 1, cmdSMembers)

	// sorted sets
	s.addNative("zadd", -4, "write deny-oom fast", 1, 1, 1, cmdZAdd)
	s.addNative("zscore", 3, "readonly fast", 1, 1, 1, cmdZScore)
	s.addNative("zcard", 2, "readonly fast", 1, 1, 1, cmdZCard)
	s.addNative("zrem", -3, "write fast", 1, 1, 1, cmdZRem)
	s.addNative("zrangebyscore", -4, "readonly", 1, 1, 1, cmdZRangeByScore)
}

func parseInt(b []byte) (int64, bool) {
	v, err := strconv.ParseInt(string(b), 10, 64)
	return v, err == nil
}

func cloneBytes(b []byte) []byte {
	return append([]byte{}, b...)
}

// ---- connection

func cmdPing(_ *Server, _ *callCtx, argv CmdLine) Reply {
	switch len(argv) {
	case 1:
		return StatusReply("PONG")
	case 2:
		return BulkReply(argv[1])
	default:
		return errorf("ERR wrong number of arguments for 'ping' command")
	}
}

func cmdEcho(_ *Server, _ *callCtx, argv CmdLine) Reply {
	return BulkReply(argv[1])
}

func cmdSelect(s *Server, c *callCtx, argv CmdLine) Reply {
	id, ok := parseInt(argv[1])
	if !ok {
		return errNotInteger
	}
	if id < 0 || id >= int64(len(s.dbs)) {
		return errDBIndex
	}
	c.db = int(id)
	return okReply()
}

// ---- keyspace

func cmdDel(s *Server, c *callCtx, argv CmdLine) Reply {
	ks := c.keyspace(s)
	var n int64
	for _, k := range argv[1:] {
		if ks.Get(string(k)) != nil && ks.Delete(string(k)) {
			n++
		}
	}
	return IntReply(n)
}

func cmdExists(s *Server, c *callCtx, argv CmdLine) Reply {
	ks := c.keyspace(s)
	var n int64
	for _, k := range argv[1:] {
		if ks.Exists(string(k)) {
			n++
		}
	}
	return IntReply(n)
}

func cmdType(s *Server, c *callCtx, argv CmdLine) Reply {
	return StatusReply(c.keyspace(s).TypeOf(string(argv[1])).String())
}

// expireAt sets an absolute deadline and rewrites the command to PEXPIREAT so replicas
// apply the same deadline.
func expireAt(s *Server, c *callCtx, key []byte, at int64) Reply {
	c.rewritten = CmdLine{[]byte("PEXPIREAT"), cloneBytes(key), []byte(strconv.FormatInt(at, 10))}
	if c.keyspace(s).SetExpireAt(string(key), at) {
		return IntReply(1)
	}
	return IntReply(0)
}

func cmdExpire(s *Server, c *callCtx, argv CmdLine) Reply {
	sec, ok := parseInt(argv[2])
	if !ok {
		return errNotInteger
	}
	if sec > math.MaxInt64/1000 || sec < math.MinInt64/1000 {
		return errInvalidTTL
	}
	return expireAt(s, c, argv[1], c.keyspace(s).Now()+sec*1000)
}

func cmdPexpire(s *Server, c *callCtx, argv CmdLine) Reply {
	ms, ok := parseInt(argv[2])
	if !ok {
		return errNotInteger
	}
	return expireAt(s, c, argv[1], c.keyspace(s).Now()+ms)
}

func cmdPexpireat(s *Server, c *callCtx, argv CmdLine) Reply {
	at, ok := parseInt(argv[2])
	if !ok {
		return errNotInteger
	}
	if c.keyspace(s).SetExpireAt(string(argv[1]), at) {
		return IntReply(1)
	}
	return IntReply(0)
}

func cmdPTTL(s *Server, c *callCtx, argv CmdLine) Reply {
	ms, ok := c.keyspace(s).TTL(string(argv[1]))
	if !ok {
		return IntReply(-2)
	}
	return IntReply(ms)
}

func cmdTTL(s *Server, c *callCtx, argv CmdLine) Reply {
	ms, ok := c.keyspace(s).TTL(string(argv[1]))
	switch {
	case !ok:
		return IntReply(-2)
	case ms < 0:
		return IntReply(-1)
	}
	return IntReply((ms + 500) / 1000)
}

func cmdPersist(s *Server, c *callCtx, argv CmdLine) Reply {
	if c.keyspace(s).Persist(string(argv[1])) {
		return IntReply(1)
	}
	return IntReply(0)
}

func cmdDBSize(s *Server, c *callCtx, _ CmdLine) Reply {
	return IntReply(int64(c.keyspace(s).Len()))
}

func cmdFlushDB(s *Server, c *callCtx, _ CmdLine) Reply {
	c.keyspace(s).Flush()
	return okReply()
}

// cmdSave writes a snapshot of all databases to the configured path through a temporary
// file, so a crash never leaves a truncated snapshot behind.
func cmdSave(s *Server, _ *callCtx, _ CmdLine) Reply {
	path := s.config.SnapshotPath
	if path == "" {
		return errNoSnapshots
	}
	if err := writeSnapshotFile(path, s.dbs); err != nil {
		log.Errorf("SAVE failed: %v", err)
		return errorf("ERR %v", err)
	}
	log.Infof("snapshot written to %s", path)
	return okReply()
}

func writeSnapshotFile(path string, dbs []*db.Keyspace) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), filepath.Base(path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("failed to create snapshot file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if err := db.Save(tmp, dbs); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("failed to write snapshot: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("failed to sync snapshot: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to close snapshot: %w", err)
	}
	return os.Rename(tmp.Name(), path)
}

// ---- strings

func cmdGet(s *Server, c *callCtx, argv CmdLine) Reply {
	e, err := c.keyspace(s).GetTyped(string(argv[1]), db.TypeString)
	if err != nil {
		return errWrongType
	}
	if e == nil {
		return NullReply()
	}
	return BulkReply(e.Str)
}

// cmdSet implements SET key value [NX|XX] [EX s|PX ms|PXAT ms|KEEPTTL]. Relative
// deadlines are rewritten to PXAT for propagation.
func cmdSet(s *Server, c *callCtx, argv CmdLine) Reply {
	ks := c.keyspace(s)
	key := string(argv[1])

	var nx, xx, keepTTL bool
	var at int64
	for i := 3; i < len(argv); i++ {
		opt := strings.ToUpper(string(argv[i]))
		switch opt {
		case "NX":
			nx = true
		case "XX":
			xx = true
		case "KEEPTTL":
			keepTTL = true
		case "EX", "PX", "PXAT":
			if i+1 >= len(argv) || at != 0 {
				return errSyntax
			}
			i++
			v, ok := parseInt(argv[i])
			if !ok {
				return errNotInteger
			}
			switch opt {
			case "EX":
				v = ks.Now() + v*1000
			case "PX":
				v = ks.Now() + v
			}
			if v <= 0 {
				return errInvalidTTL
			}
			at = v
		default:
			return errSyntax
		}
	}
	if (nx && xx) || (keepTTL && at != 0) {
		return errSyntax
	}

	exists := ks.Exists(key)
	if (nx && exists) || (xx && !exists) {
		return NullReply()
	}

	prevTTL := int64(0)
	if keepTTL && exists {
		prevTTL = ks.Get(key).ExpireAt()
	}
	ks.Put(key, db.NewStringEntry(argv[2]))
	switch {
	case at != 0:
		ks.SetExpireAt(key, at)
		c.rewritten = CmdLine{[]byte("SET"), cloneBytes(argv[1]), cloneBytes(argv[2]), []byte("PXAT"), []byte(strconv.FormatInt(at, 10))}
	case prevTTL != 0:
		ks.SetExpireAt(key, prevTTL)
	}
	return okReply()
}

func incrBy(s *Server, c *callCtx, key []byte, delta int64) Reply {
	ks := c.keyspace(s)
	e, err := ks.GetTyped(string(key), db.TypeString)
	if err != nil {
		return errWrongType
	}
	var cur int64
	if e != nil {
		v, ok := parseInt(e.Str)
		if !ok {
			return errNotInteger
		}
		cur = v
	}
	if (delta > 0 && cur > math.MaxInt64-delta) || (delta < 0 && cur < math.MinInt64-delta) {
		return errOverflow
	}
	cur += delta
	if e == nil {
		ks.Put(string(key), db.NewStringEntry([]byte(strconv.FormatInt(cur, 10))))
	} else {
		e.Str = []byte(strconv.FormatInt(cur, 10))
	}
	return IntReply(cur)
}

func cmdIncr(s *Server, c *callCtx, argv CmdLine) Reply {
	return incrBy(s, c, argv[1], 1)
}

func cmdDecr(s *Server, c *callCtx, argv CmdLine) Reply {
	return incrBy(s, c, argv[1], -1)
}

func cmdIncrBy(s *Server, c *callCtx, argv CmdLine) Reply {
	d, ok := parseInt(argv[2])
	if !ok {
		return errNotInteger
	}
	return incrBy(s, c, argv[1], d)
}

// ---- lists

func push(s *Server, c *callCtx, argv CmdLine, head bool) Reply {
	e, err := c.keyspace(s).GetOrCreate(string(argv[1]), db.TypeList)
	if err != nil {
		return errWrongType
	}
	for _, v := range argv[2:] {
		if head {
			e.List = append([][]byte{cloneBytes(v)}, e.List...)
		} else {
			e.List = append(e.List, cloneBytes(v))
		}
	}
	return IntReply(int64(len(e.List)))
}

func cmdLPush(s *Server, c *callCtx, argv CmdLine) Reply { return push(s, c, argv, true) }
func cmdRPush(s *Server, c *callCtx, argv CmdLine) Reply { return push(s, c, argv, false) }

func pop(s *Server, c *callCtx, argv CmdLine, head bool) Reply {
	ks := c.keyspace(s)
	key := string(argv[1])
	e, err := ks.GetTyped(key, db.TypeList)
	if err != nil {
		return errWrongType
	}
	if e == nil || len(e.List) == 0 {
		return NullReply()
	}
	var v []byte
	if head {
		v, e.List = e.List[0], e.List[1:]
	} else {
		v, e.List = e.List[len(e.List)-1], e.List[:len(e.List)-1]
	}
	ks.DeleteIfEmpty(key)
	return BulkReply(v)
}

func cmdLPop(s *Server, c *callCtx, argv CmdLine) Reply { return pop(s, c, argv, true) }
func cmdRPop(s *Server, c *callCtx, argv CmdLine) Reply { return pop(s, c, argv, false) }

func cmdLLen(s *Server, c *callCtx, argv CmdLine) Reply {
	e, err := c.keyspace(s).GetTyped(string(argv[1]), db.TypeList)
	if err != nil {
		return errWrongType
	}
	if e == nil {
		return IntReply(0)
	}
	return IntReply(int64(len(e.List)))
}

func cmdLRange(s *Server, c *callCtx, argv CmdLine) Reply {
	start, ok1 := parseInt(argv[2])
	stop, ok2 := parseInt(argv[3])
	if !ok1 || !ok2 {
		return errNotInteger
	}
	e, err := c.keyspace(s).GetTyped(string(argv[1]), db.TypeList)
	if err != nil {
		return errWrongType
	}
	if e == nil {
		return ArrayReply()
	}
	n := int64(len(e.List))
	if start < 0 {
		start = max(n+start, 0)
	}
	if stop < 0 {
		stop = n + stop
	}
	if stop >= n {
		stop = n - 1
	}
	if start > stop || start >= n {
		return ArrayReply()
	}
	out := make([]Reply, 0, stop-start+1)
	for _, v := range e.List[start : stop+1] {
		out = append(out, BulkReply(v))
	}
	return ArrayReply(out...)
}

// ---- hashes

func cmdHSet(s *Server, c *callCtx, argv CmdLine) Reply {
	if len(argv)%2 != 0 {
		return errorf("ERR wrong number of arguments for 'hset' command")
	}
	e, err := c.keyspace(s).GetOrCreate(string(argv[1]), db.TypeHash)
	if err != nil {
		return errWrongType
	}
	var added int64
	for i := 2; i < len(argv); i += 2 {
		f := string(argv[i])
		if _, ok := e.Hash[f]; !ok {
			added++
		}
		e.Hash[f] = cloneBytes(argv[i+1])
	}
	return IntReply(added)
}

func cmdHGet(s *Server, c *callCtx, argv CmdLine) Reply {
	e, err := c.keyspace(s).GetTyped(string(argv[1]), db.TypeHash)
	if err != nil {
		return errWrongType
	}
	if e == nil {
		return NullReply()
	}
	v, ok := e.Hash[string(argv[2])]
	if !ok {
		return NullReply()
	}
	return BulkReply(v)
}

func cmdHDel(s *Server, c *callCtx, argv CmdLine) Reply {
	ks := c.keyspace(s)
	e, err := ks.GetTyped(string(argv[1]), db.TypeHash)
	if err != nil {
		return errWrongType
	}
	if e == nil {
		return IntReply(0)
	}
	var n int64
	for _, f := range argv[2:] {
		if _, ok := e.Hash[string(f)]; ok {
			delete(e.Hash, string(f))
			n++
		}
	}
	ks.DeleteIfEmpty(string(argv[1]))
	return IntReply(n)
}

func cmdHLen(s *Server, c *callCtx, argv CmdLine) Reply {
	e, err := c.keyspace(s).GetTyped(string(argv[1]), db.TypeHash)
	if err != nil {
		return errWrongType
	}
	if e == nil {
		return IntReply(0)
	}
	return IntReply(int64(len(e.Hash)))
}

func cmdHGetAll(s *Server, c *callCtx, argv CmdLine) Reply {
	e, err := c.keyspace(s).GetTyped(string(argv[1]), db.TypeHash)
	if err != nil {
		return errWrongType
	}
	if e == nil {
		return ArrayReply()
	}
	fields := make([]string, 0, len(e.Hash))
	for f := range e.Hash {
		fields = append(fields, f)
	}
	sort.Strings(fields)
	out := make([]Reply, 0, 2*len(fields))
	for _, f := range fields {
		out = append(out, BulkReply([]byte(f)), BulkReply(e.Hash[f]))
	}
	return ArrayReply(out...)
}

// ---- sets

func cmdSAdd(s *Server, c *callCtx, argv CmdLine) Reply {
	e, err := c.keyspace(s).GetOrCreate(string(argv[1]), db.TypeSet)
	if err != nil {
		return errWrongType
	}
	var n int64
	for _, m := range argv[2:] {
		if _, ok := e.Set[string(m)]; !ok {
			e.Set[string(m)] = struct{}{}
			n++
		}
	}
	return IntReply(n)
}

func cmdSCard(s *Server, c *callCtx, argv CmdLine) Reply {
	e, err := c.keyspace(s).GetTyped(string(argv[1]), db.TypeSet)
	if err != nil {
		return errWrongType
	}
	if e == nil {
		return IntReply(0)
	}
	return IntReply(int64(len(e.Set)))
}

func cmdSMembers(s *Server, c *callCtx, argv CmdLine) Reply {
	e, err := c.keyspace(s).GetTyped(string(argv[1]), db.TypeSet)
	if err != nil {
		return errWrongType
	}
	if e == nil {
		return ArrayReply()
	}
	members := make([]string, 0, len(e.Set))
	for m := range e.Set {
		members = append(members, m)
	}
	sort.Strings(members)
	out := make([]Reply, len(members))
	for i, m := range members {
		out[i] = BulkReply([]byte(m))
	}
	return ArrayReply(out...)
}

// ---- sorted sets

func parseScore(b []byte) (float64, bool) {
	v, err := strconv.ParseFloat(string(b), 64)
	if err != nil || math.IsNaN(v) {
		return 0, false
	}
	return v, true
}

// cmdZAdd implements ZADD key [NX|XX] [CH] score member [score member ...].
func cmdZAdd(s *Server, c *callCtx, argv CmdLine) Reply {
	var nx, xx, ch bool
	i := 2
loop:
	for ; i < len(argv); i++ {
		switch strings.ToUpper(string(argv[i])) {
		case "NX":
			nx = true
		case "XX":
			xx = true
		case "CH":
			ch = true
		default:
			break loop
		}
	}
	pairs := argv[i:]
	if len(pairs) == 0 || len(pairs)%2 != 0 || (nx && xx) {
		return errSyntax
	}
	scores := make([]float64, len(pairs)/2)
	for j := range scores {
		v, ok := parseScore(pairs[2*j])
		if !ok {
			return errNotFloat
		}
		scores[j] = v
	}

	ks := c.keyspace(s)
	key := string(argv[1])
	e, err := ks.GetOrCreate(key, db.TypeZSet)
	if err != nil {
		return errWrongType
	}
	var added, changed int64
	for j, score := range scores {
		member := string(pairs[2*j+1])
		_, exists := e.ZSet.Score(member)
		if (nx && exists) || (xx && !exists) {
			continue
		}
		a, u := e.ZSet.Add(member, score)
		if a {
			added++
		}
		if u {
			changed++
		}
	}
	ks.DeleteIfEmpty(key)
	if ch {
		return IntReply(added + changed)
	}
	return IntReply(added)
}

func cmdZScore(s *Server, c *callCtx, argv CmdLine) Reply {
	e, err := c.keyspace(s).GetTyped(string(argv[1]), db.TypeZSet)
	if err != nil {
		return errWrongType
	}
	if e == nil {
		return NullReply()
	}
	v, ok := e.ZSet.Score(string(argv[2]))
	if !ok {
		return NullReply()
	}
	return DoubleReply(v)
}

func cmdZCard(s *Server, c *callCtx, argv CmdLine) Reply {
	e, err := c.keyspace(s).GetTyped(string(argv[1]), db.TypeZSet)
	if err != nil {
		return errWrongType
	}
	if e == nil {
		return IntReply(0)
	}
	return IntReply(int64(e.ZSet.Len()))
}

func cmdZRem(s *Server, c *callCtx, argv CmdLine) Reply {
	ks := c.keyspace(s)
	key := string(argv[1])
	e, err := ks.GetTyped(key, db.TypeZSet)
	if err != nil {
		return errWrongType
	}
	if e == nil {
		return IntReply(0)
	}
	var n int64
	for _, m := range argv[2:] {
		if e.ZSet.Rem(string(m)) {
			n++
		}
	}
	ks.DeleteIfEmpty(key)
	return IntReply(n)
}

// cmdZRangeByScore implements ZRANGEBYSCORE key min max [WITHSCORES] [LIMIT offset count].
func cmdZRangeByScore(s *Server, c *callCtx, argv CmdLine) Reply {
	var r db.ScoreRange
	var err error
	if r.Min, r.MinEx, err = db.ParseScoreBound(string(argv[2])); err != nil {
		return ErrorReply(err.Error())
	}
	if r.Max, r.MaxEx, err = db.ParseScoreBound(string(argv[3])); err != nil {
		return ErrorReply(err.Error())
	}

	withScores := false
	offset, count := int64(0), int64(-1)
	for i := 4; i < len(argv); i++ {
		switch {
		case bytes.EqualFold(argv[i], []byte("WITHSCORES")):
			withScores = true
		case bytes.EqualFold(argv[i], []byte("LIMIT")) && i+2 < len(argv):
			o, ok1 := parseInt(argv[i+1])
			n, ok2 := parseInt(argv[i+2])
			if !ok1 || !ok2 {
				return errNotInteger
			}
			offset, count = o, n
			i += 2
		default:
			return errSyntax
		}
	}

	e, err := c.keyspace(s).GetTyped(string(argv[1]), db.TypeZSet)
	if err != nil {
		return errWrongType
	}
	if e == nil || offset < 0 {
		return ArrayReply()
	}
	items := e.ZSet.RangeByScore(r, false)
	if offset >= int64(len(items)) {
		return ArrayReply()
	}
	items = items[offset:]
	if count >= 0 && count < int64(len(items)) {
		items = items[:count]
	}

	out := make([]Reply, 0, 2*len(items))
	for _, it := range items {
		out = append(out, BulkReply([]byte(it.Member)))
		if withScores {
			out = append(out, DoubleReply(it.Score))
		}
	}
	return ArrayReply(out...)
}
