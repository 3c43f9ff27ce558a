package host

import (
	"github.com/ValentinKolb/dkvmod/lib/raw"
	"strings"
)

// --------------------------------------------------------------------------
// Nested calls
// --------------------------------------------------------------------------

// argvOf builds a command line from a name and host strings. ok is false if a handle is
// invalid.
func (s *Server) argvOf(name string, args []raw.StringPtr) (CmdLine, bool) {
	argv := make(CmdLine, 0, len(args)+1)
	argv = append(argv, []byte(name))
	for _, p := range args {
		b, ok := s.stringData(p)
		if !ok {
			return nil, false
		}
		argv = append(argv, b)
	}
	return argv, true
}

// Call runs a command in a nested context that shares the caller's database and
// propagation frame. The reply handle is owned by the caller's context.
func (s *Server) Call(ctx raw.Ctx, name string, flags string, args []raw.StringPtr) raw.CallReplyPtr {
	c := s.ctx(ctx)
	if c == nil {
		return 0
	}
	cmd, ok := s.commands.Load(strings.ToLower(name))
	if !ok {
		log.Debugf("call of unknown command %s", name)
		return 0
	}
	argv, ok := s.argvOf(name, args)
	if !ok || !cmd.arityOK(len(argv)) {
		return 0
	}
	if strings.ContainsRune(flags, raw.CallFlagCheckOOM) && cmd.flags&flagDenyOOM != 0 && s.overLimit() {
		log.Debugf("call of %s refused, key limit reached", cmd.name)
		return 0
	}

	nested := s.newCallCtx(c, c.frame, c.db, argv)
	nested.cmd = cmd
	r, prop := s.run(nested, cmd, argv)
	s.releaseCtx(nested)

	if prop != nil && strings.ContainsRune(flags, raw.CallFlagReplicate) {
		c.frame.add(nested.startDB, prop, flags)
	}
	return s.newReply(c, &r)
}

func (s *Server) FreeCallReply(p raw.CallReplyPtr) {
	cr, ok := s.handles.replies[p]
	if !ok || cr.child {
		return
	}
	s.handles.drop(uint64(p))
}

func (s *Server) CallReplyType(p raw.CallReplyPtr) int {
	cr, ok := s.handles.replies[p]
	if !ok {
		return raw.ReplyUnknown
	}
	switch cr.reply.Kind {
	case KindStatus, KindBulk:
		return raw.ReplyString
	case KindError:
		return raw.ReplyError
	case KindInteger:
		return raw.ReplyInteger
	case KindArray:
		return raw.ReplyArray
	case KindNull:
		return raw.ReplyNull
	}
	return raw.ReplyUnknown
}

func (s *Server) CallReplyInteger(p raw.CallReplyPtr) int64 {
	cr, ok := s.handles.replies[p]
	if !ok || cr.reply.Kind != KindInteger {
		return 0
	}
	return cr.reply.Int
}

func (s *Server) CallReplyLength(p raw.CallReplyPtr) int {
	cr, ok := s.handles.replies[p]
	if !ok {
		return 0
	}
	switch cr.reply.Kind {
	case KindArray:
		return len(cr.reply.Elems)
	case KindStatus, KindBulk, KindError:
		return len(cr.reply.Str)
	}
	return 0
}

func (s *Server) CallReplyArrayElement(p raw.CallReplyPtr, idx int) raw.CallReplyPtr {
	cr, ok := s.handles.replies[p]
	if !ok || cr.reply.Kind != KindArray || idx < 0 || idx >= len(cr.reply.Elems) {
		return 0
	}
	if child, ok := cr.children[idx]; ok {
		return child
	}
	id := raw.CallReplyPtr(s.handles.nextID())
	s.handles.replies[id] = &callReply{reply: &cr.reply.Elems[idx], child: true}
	if cr.children == nil {
		cr.children = make(map[int]raw.CallReplyPtr)
	}
	cr.children[idx] = id
	return id
}

func (s *Server) CallReplyStringPtr(p raw.CallReplyPtr) []byte {
	cr, ok := s.handles.replies[p]
	if !ok {
		return nil
	}
	switch cr.reply.Kind {
	case KindStatus, KindBulk, KindError:
		return cr.reply.Str
	}
	return nil
}

// --------------------------------------------------------------------------
// Replication
// --------------------------------------------------------------------------

// Replicate queues a command for propagation in the current database. Once anything is
// queued the invocation itself is no longer propagated verbatim.
func (s *Server) Replicate(ctx raw.Ctx, name string, flags string, args []raw.StringPtr) raw.Status {
	c := s.ctx(ctx)
	if c == nil {
		return raw.StatusErr
	}
	if _, ok := s.commands.Load(strings.ToLower(name)); !ok {
		return raw.StatusErr
	}
	argv, ok := s.argvOf(name, args)
	if !ok {
		return raw.StatusErr
	}
	c.frame.add(c.db, argv, flags)
	return raw.StatusOK
}

func (s *Server) ReplicateVerbatim(ctx raw.Ctx) raw.Status {
	c := s.ctx(ctx)
	if c == nil || len(c.argv) == 0 {
		return raw.StatusErr
	}
	c.frame.add(c.startDB, c.argv, "")
	return raw.StatusOK
}

// --------------------------------------------------------------------------
// Replies
// --------------------------------------------------------------------------

func (s *Server) reply(ctx raw.Ctx, r Reply) raw.Status {
	c := s.ctx(ctx)
	if c == nil {
		return raw.StatusErr
	}
	c.replies.add(r)
	return raw.StatusOK
}

func (s *Server) ReplyWithLongLong(ctx raw.Ctx, v int64) raw.Status {
	return s.reply(ctx, IntReply(v))
}

func (s *Server) ReplyWithDouble(ctx raw.Ctx, v float64) raw.Status {
	return s.reply(ctx, DoubleReply(v))
}

func (s *Server) ReplyWithSimpleString(ctx raw.Ctx, str string) raw.Status {
	return s.reply(ctx, StatusReply(str))
}

func (s *Server) ReplyWithError(ctx raw.Ctx, msg string) raw.Status {
	return s.reply(ctx, ErrorReply(msg))
}

func (s *Server) ReplyWithStringBuffer(ctx raw.Ctx, buf []byte) raw.Status {
	return s.reply(ctx, BulkReply(buf))
}

func (s *Server) ReplyWithNull(ctx raw.Ctx) raw.Status {
	return s.reply(ctx, NullReply())
}

func (s *Server) ReplyWithArray(ctx raw.Ctx, n int) raw.Status {
	c := s.ctx(ctx)
	if c == nil || n < 0 {
		return raw.StatusErr
	}
	c.replies.startArray(n)
	return raw.StatusOK
}
