package host

import (
	"fmt"
	"math"
	"strconv"
	"strings"
)

// CmdLine is one command with its arguments, argv[0] is the command name.
type CmdLine = [][]byte

// --------------------------------------------------------------------------
// Reply tree
// --------------------------------------------------------------------------

// ReplyKind is the type of a reply node
type ReplyKind uint8

const (
	KindNull    ReplyKind = iota // null bulk string
	KindStatus                   // simple string
	KindError                    // error reply
	KindInteger                  // 64 bit signed integer
	KindBulk                     // binary safe string
	KindArray                    // array of replies
)

// Reply is the result of a command. Doubles are sent as bulk strings.
type Reply struct {
	Kind  ReplyKind
	Int   int64
	Str   []byte
	Elems []Reply
}

func NullReply() Reply { return Reply{Kind: KindNull} }
func StatusReply(s string) Reply { return Reply{Kind: KindStatus, Str: []byte(s)} }
func ErrorReply(msg string) Reply { return Reply{Kind: KindError, Str: []byte(msg)} }
func IntReply(v int64) Reply { return Reply{Kind: KindInteger, Int: v} }
func BulkReply(b []byte) Reply { return Reply{Kind: KindBulk, Str: append([]byte{}, b...)} }
func ArrayReply(e ...Reply) Reply { return Reply{Kind: KindArray, Elems: append([]Reply{}, e...)} }
func DoubleReply(v float64) Reply { return Reply{Kind: KindBulk, Str: []byte(FormatDouble(v))} }
func okReply() Reply { return StatusReply("OK") }
func errorf(f string, a ...any) Reply { return ErrorReply(fmt.Sprintf(f, a...)) }

// IsError reports whether r is an error reply.
func (r Reply) IsError() bool {
	return r.Kind == KindError
}

// String renders r for logs and the cli.
func (r Reply) String() string {
	var sb strings.Builder
	r.render(&sb, "")
	return sb.String()
}

func (r Reply) render(sb *strings.Builder, indent string) {
	switch r.Kind {
	case KindNull:
		sb.WriteString("(nil)")
	case KindStatus:
		sb.Write(r.Str)
	case KindError:
		sb.WriteString("(error) ")
		sb.Write(r.Str)
	case KindInteger:
		sb.WriteString("(integer) ")
		sb.WriteString(strconv.FormatInt(r.Int, 10))
	case KindBulk:
		sb.WriteString(strconv.Quote(string(r.Str)))
	case KindArray:
		if len(r.Elems) == 0 {
			sb.WriteString("(empty array)")
			return
		}
		for i, e := range r.Elems {
			if i > 0 {
				sb.WriteString("\n")
				sb.WriteString(indent)
			}
			prefix := strconv.Itoa(i+1) + ") "
			sb.WriteString(prefix)
			e.render(sb, indent+strings.Repeat(" ", len(prefix)))
		}
	}
}

// FormatDouble formats v the way the server sends doubles.
func FormatDouble(v float64) string {
	switch {
	case math.IsInf(v, 1):
		return "inf"
	case math.IsInf(v, -1):
		return "-inf"
	}
	return strconv.FormatFloat(v, 'g', 17, 64)
}

// --------------------------------------------------------------------------
// Reply builder
// --------------------------------------------------------------------------

// arrayFrame is an array reply waiting for its elements
type arrayFrame struct {
	reply Reply
	want  int
}

// replyBuilder assembles the flat ReplyWith* calls of a callback into a tree.
type replyBuilder struct {
	replies []Reply
	stack   []*arrayFrame
}

func (b *replyBuilder) add(r Reply) {
	for {
		if len(b.stack) == 0 {
			b.replies = append(b.replies, r)
			return
		}
		top := b.stack[len(b.stack)-1]
		top.reply.Elems = append(top.reply.Elems, r)
		if len(top.reply.Elems) < top.want {
			return
		}
		// the array is complete, it becomes an element of the level below
		b.stack = b.stack[:len(b.stack)-1]
		r = top.reply
	}
}

func (b *replyBuilder) startArray(n int) {
	if n == 0 {
		b.add(Reply{Kind: KindArray, Elems: []Reply{}})
		return
	}
	b.stack = append(b.stack, &arrayFrame{
		reply: Reply{Kind: KindArray, Elems: make([]Reply, 0, n)},
		want:  n,
	})
}

// result returns the reply of the callback. Incomplete arrays are padded with nulls.
func (b *replyBuilder) result() (Reply, bool) {
	for len(b.stack) > 0 {
		b.add(NullReply())
	}
	if len(b.replies) == 0 {
		return NullReply(), false
	}
	return b.replies[0], true
}
