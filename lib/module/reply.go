package module

import (
	"fmt"
	"github.com/ValentinKolb/dkvmod/lib/raw"
	"strconv"
)

// ReplyType is the type of a nested call reply.
type ReplyType int

const (
	ReplyUnknown ReplyType = raw.ReplyUnknown
	ReplyString  ReplyType = raw.ReplyString
	ReplyError   ReplyType = raw.ReplyError
	ReplyInteger ReplyType = raw.ReplyInteger
	ReplyArray   ReplyType = raw.ReplyArray
	ReplyNull    ReplyType = raw.ReplyNull
)

func (t ReplyType) String() string {
	switch t {
	case ReplyString:
		return "string"
	case ReplyError:
		return "error"
	case ReplyInteger:
		return "integer"
	case ReplyArray:
		return "array"
	case ReplyNull:
		return "null"
	default:
		return "unknown"
	}
}

// Reply is the result of Context.Call. The root reply owns the host reply tree; elements
// returned by Element are borrowed from their root and become invalid when it is closed.
type Reply struct {
	ctx    *Context
	ptr    raw.CallReplyPtr
	root   *Reply // nil for the root itself
	closed bool
}

func (r *Reply) release() {
	r.Close()
}

// Close releases the reply tree. Closing an element is a no-op; safe to call more than once.
func (r *Reply) Close() {
	if r.root != nil || r.closed {
		return
	}
	r.closed = true
	if r.ctx.valid {
		r.ctx.host.FreeCallReply(r.ptr)
	}
}

func (r *Reply) check() error {
	if err := r.ctx.check(); err != nil {
		return err
	}
	owner := r
	if r.root != nil {
		owner = r.root
	}
	if owner.closed {
		return NewError(ErrCValidation, "ERR reply is closed")
	}
	return nil
}

func (r *Reply) mustCheck() {
	if err := r.check(); err != nil {
		panic(err.Error())
	}
}

// Type returns the reply type.
func (r *Reply) Type() ReplyType {
	r.mustCheck()
	return ReplyType(r.ctx.host.CallReplyType(r.ptr))
}

// Integer returns the value of an integer reply.
func (r *Reply) Integer() int64 {
	r.mustCheck()
	return r.ctx.host.CallReplyInteger(r.ptr)
}

// Length returns the number of elements of an array reply or the length of a string reply.
func (r *Reply) Length() int {
	r.mustCheck()
	return r.ctx.host.CallReplyLength(r.ptr)
}

// Bytes returns a copy of the payload of a string, status or error reply.
func (r *Reply) Bytes() []byte {
	r.mustCheck()
	b := r.ctx.host.CallReplyStringPtr(r.ptr)
	if b == nil {
		return nil
	}
	c := make([]byte, len(b))
	copy(c, b)
	return c
}

// String returns the payload as a string. Integer replies are formatted in base 10.
func (r *Reply) String() string {
	if r.Type() == ReplyInteger {
		return strconv.FormatInt(r.Integer(), 10)
	}
	return string(r.Bytes())
}

// Element returns the idx-th element of an array reply.
func (r *Reply) Element(idx int) (*Reply, error) {
	if err := r.check(); err != nil {
		return nil, err
	}
	p := r.ctx.host.CallReplyArrayElement(r.ptr, idx)
	if p == 0 {
		return nil, NewError(ErrCNotFound, fmt.Sprintf("ERR reply has no element %d", idx))
	}
	root := r.root
	if root == nil {
		root = r
	}
	return &Reply{ctx: r.ctx, ptr: p, root: root}, nil
}

// Value converts the reply tree into a Value.
func (r *Reply) Value() (Value, error) {
	return ValueFromReply(r)
}

// ValueFromReply converts a reply tree into a Value, recursively for arrays.
func ValueFromReply(r *Reply) (Value, error) {
	if err := r.check(); err != nil {
		return Value{}, err
	}
	switch r.Type() {
	case ReplyInteger:
		return IntValue(r.Integer()), nil
	case ReplyString:
		return BulkValue(r.Bytes()), nil
	case ReplyError:
		return ErrorValue(string(r.Bytes())), nil
	case ReplyNull:
		return NullValue(), nil
	case ReplyArray:
		n := r.Length()
		elems := make([]Value, n)
		for i := 0; i < n; i++ {
			e, err := r.Element(i)
			if err != nil {
				return Value{}, err
			}
			if elems[i], err = ValueFromReply(e); err != nil {
				return Value{}, err
			}
		}
		return Value{kind: KindArray, arr: elems}, nil
	default:
		return Value{}, NewError(ErrCValidation, "ERR unknown reply type")
	}
}
