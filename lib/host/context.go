package host

import (
	"github.com/ValentinKolb/dkvmod/lib/db"
	"github.com/ValentinKolb/dkvmod/lib/raw"
)

// --------------------------------------------------------------------------
// Call contexts
// --------------------------------------------------------------------------

// execFrame is shared by a top level invocation and all calls nested in it.
type execFrame struct {
	ops       []Propagated
	replaying bool
}

func (f *execFrame) add(dbID int, argv CmdLine, flags string) {
	if f.replaying {
		return
	}
	op := Propagated{DB: dbID, Argv: cloneLine(argv)}
	for _, fl := range flags {
		switch fl {
		case raw.CallFlagNoAOF:
			op.NoAOF = true
		case raw.CallFlagNoReplicas:
			op.NoReplicas = true
		}
	}
	f.ops = append(f.ops, op)
}

// callCtx is the host side of a raw.Ctx: one command invocation, module load or cluster
// message callback.
type callCtx struct {
	id      raw.Ctx
	frame   *execFrame
	parent  *callCtx
	db      int
	startDB int
	argv    CmdLine
	cmd     *command
	module  *loadedModule // set while the module's OnLoad runs
	replies replyBuilder

	rewritten CmdLine  // propagation form of a native command, nil = argv
	owned     []uint64 // handles created in this context
}

// newCallCtx creates and registers a context. A nil parent starts a top level invocation.
func (s *Server) newCallCtx(parent *callCtx, frame *execFrame, dbID int, argv CmdLine) *callCtx {
	c := &callCtx{
		id:      raw.Ctx(s.handles.nextID()),
		frame:   frame,
		parent:  parent,
		db:      dbID,
		startDB: dbID,
		argv:    argv,
	}
	s.handles.ctxs[c.id] = c
	return c
}

// releaseCtx frees every handle still owned by c and unregisters it. Later use of the
// raw context or its handles is rejected.
func (s *Server) releaseCtx(c *callCtx) {
	for i := len(c.owned) - 1; i >= 0; i-- {
		s.handles.drop(c.owned[i])
	}
	c.owned = nil
	delete(s.handles.ctxs, c.id)
}

// ctx resolves a raw context, nil if it is unknown or released.
func (s *Server) ctx(id raw.Ctx) *callCtx {
	return s.handles.ctxs[id]
}

// keyspace returns the selected database of c.
func (c *callCtx) keyspace(s *Server) *db.Keyspace {
	return s.dbs[c.db]
}

// ownerModule returns the module whose code runs in c, empty for client commands.
func (c *callCtx) ownerModule() string {
	for cur := c; cur != nil; cur = cur.parent {
		if cur.module != nil {
			return cur.module.name
		}
		if cur.cmd != nil && cur.cmd.owner != "" {
			return cur.cmd.owner
		}
	}
	return ""
}

func cloneLine(argv CmdLine) CmdLine {
	out := make(CmdLine, len(argv))
	for i, a := range argv {
		out[i] = append([]byte(nil), a...)
	}
	return out
}

// --------------------------------------------------------------------------
// Handle tables
// --------------------------------------------------------------------------

// hstring is a host string
type hstring struct {
	data []byte
}

// callReply is a nested call result. Children are owned by the root.
type callReply struct {
	reply    *Reply
	child    bool
	children map[int]raw.CallReplyPtr
}

// nodeList is a snapshot of the cluster node ids
type nodeList struct {
	ids []string
}

// handleTable maps raw handles to host objects. Handle values are never reused, so a
// stale handle misses every table.
type handleTable struct {
	next      uint64
	ctxs      map[raw.Ctx]*callCtx
	strings   map[raw.StringPtr]*hstring
	keys      map[raw.KeyPtr]*openKey
	replies   map[raw.CallReplyPtr]*callReply
	nodeLists map[raw.NodeListPtr]*nodeList
}

func newHandleTable() handleTable {
	return handleTable{
		ctxs:      make(map[raw.Ctx]*callCtx),
		strings:   make(map[raw.StringPtr]*hstring),
		keys:      make(map[raw.KeyPtr]*openKey),
		replies:   make(map[raw.CallReplyPtr]*callReply),
		nodeLists: make(map[raw.NodeListPtr]*nodeList),
	}
}

func (t *handleTable) nextID() uint64 {
	t.next++
	return t.next
}

// drop releases whatever object id refers to.
func (t *handleTable) drop(id uint64) {
	delete(t.strings, raw.StringPtr(id))
	if k, ok := t.keys[raw.KeyPtr(id)]; ok {
		k.zr = nil
		delete(t.keys, raw.KeyPtr(id))
	}
	if r, ok := t.replies[raw.CallReplyPtr(id)]; ok {
		delete(t.replies, raw.CallReplyPtr(id))
		for _, child := range r.children {
			t.drop(uint64(child))
		}
	}
	delete(t.nodeLists, raw.NodeListPtr(id))
}

// Handles reports the number of live handles, used by tests to detect leaks.
func (s *Server) Handles() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	t := &s.handles
	return len(t.ctxs) + len(t.strings) + len(t.keys) + len(t.replies) + len(t.nodeLists)
}

// newString creates a host string owned by c.
func (s *Server) newString(c *callCtx, b []byte) raw.StringPtr {
	id := s.handles.nextID()
	s.handles.strings[raw.StringPtr(id)] = &hstring{data: append([]byte{}, b...)}
	c.owned = append(c.owned, id)
	return raw.StringPtr(id)
}

// newReply registers r as a call reply owned by c.
func (s *Server) newReply(c *callCtx, r *Reply) raw.CallReplyPtr {
	id := s.handles.nextID()
	s.handles.replies[raw.CallReplyPtr(id)] = &callReply{reply: r}
	c.owned = append(c.owned, id)
	return raw.CallReplyPtr(id)
}

// stringData returns the bytes of a host string, false for invalid handles.
func (s *Server) stringData(p raw.StringPtr) ([]byte, bool) {
	hs, ok := s.handles.strings[p]
	if !ok {
		return nil, false
	}
	return hs.data, true
}
