package module

import (
	"github.com/ValentinKolb/dkvmod/lib/raw"
	"unicode/utf8"
)

// StringLike is implemented by RStr and *RString. Operations that take a string argument
// accept either. Storing operations (Key.ListPush, Key.HashSet, Key.StringSet) take
// ownership of an *RString on success.
type StringLike interface {
	handle() (raw.StringPtr, error)
	transferred()
}

// --------------------------------------------------------------------------
// Borrowed string view
// --------------------------------------------------------------------------

// RStr is a read-only view over a host-owned string, typically a command argument.
// It is only valid while the Context it belongs to is valid.
type RStr struct {
	ctx *Context
	ptr raw.StringPtr
}

func (s RStr) handle() (raw.StringPtr, error) {
	if s.ctx == nil || s.ptr == 0 {
		return 0, NewError(ErrCValidation, "ERR invalid string")
	}
	if err := s.ctx.check(); err != nil {
		return 0, err
	}
	return s.ptr, nil
}

// transferred is a no-op, borrowed strings stay owned by the host.
func (s RStr) transferred() {}

// view returns the host buffer without copying. Panics on an expired context.
func (s RStr) view() []byte {
	p, err := s.handle()
	if err != nil {
		panic(err.Error())
	}
	return s.ctx.host.StringPtrLen(p)
}

// Bytes returns a copy of the string contents.
func (s RStr) Bytes() []byte {
	v := s.view()
	c := make([]byte, len(v))
	copy(c, v)
	return c
}

// String returns the contents as a Go string without validating UTF-8.
func (s RStr) String() string {
	return string(s.view())
}

// Len returns the length in bytes.
func (s RStr) Len() int {
	return len(s.view())
}

// ToStr returns the contents as text. Fails if the bytes are not valid UTF-8.
func (s RStr) ToStr() (string, error) {
	p, err := s.handle()
	if err != nil {
		return "", err
	}
	b := s.ctx.host.StringPtrLen(p)
	if !utf8.Valid(b) {
		return "", NewError(ErrCValidation, "ERR invalid UTF-8 string")
	}
	return string(b), nil
}

// Integer parses the string as a base-10 signed 64 bit integer.
func (s RStr) Integer() (int64, error) {
	p, err := s.handle()
	if err != nil {
		return 0, err
	}
	v, st := s.ctx.host.StringToLongLong(p)
	if st != raw.StatusOK {
		return 0, NewError(ErrCValidation, "ERR value is not an integer or out of range")
	}
	return v, nil
}

// AssertInteger parses the string like Integer and additionally fails if pred rejects
// the parsed value.
func (s RStr) AssertInteger(pred func(int64) bool) (int64, error) {
	v, err := s.Integer()
	if err != nil {
		return 0, err
	}
	if !pred(v) {
		return 0, NewError(ErrCValidation, "ERR value is out of range")
	}
	return v, nil
}

// Float parses the string as a 64 bit float.
func (s RStr) Float() (float64, error) {
	p, err := s.handle()
	if err != nil {
		return 0, err
	}
	v, st := s.ctx.host.StringToDouble(p)
	if st != raw.StatusOK {
		return 0, NewError(ErrCValidation, "ERR value is not a valid float")
	}
	return v, nil
}

// --------------------------------------------------------------------------
// Owned string
// --------------------------------------------------------------------------

// RString is a host string owned by the module. It is created through the Context and
// released by Close or, at the latest, when the callback returns. Once it has been passed
// to a storing operation the host owns it: further use fails with ErrStringConsumed and
// Close is a no-op.
type RString struct {
	str      RStr
	consumed bool
	closed   bool
}

func (s *RString) handle() (raw.StringPtr, error) {
	if s == nil {
		return 0, NewError(ErrCValidation, "ERR nil string")
	}
	if s.consumed {
		return 0, ErrStringConsumed
	}
	if s.closed {
		return 0, NewError(ErrCValidation, "ERR string is closed")
	}
	return s.str.handle()
}

func (s *RString) transferred() {
	if s.consumed || s.closed {
		return
	}
	s.consumed = true
	s.str.ctx.host.FreeString(s.str.ctx.raw, s.str.ptr)
}

func (s *RString) release() {
	s.Close()
}

// Close releases the host string. Safe to call more than once and after a transfer.
func (s *RString) Close() {
	if s == nil || s.consumed || s.closed {
		return
	}
	s.closed = true
	if s.str.ctx.valid {
		s.str.ctx.host.FreeString(s.str.ctx.raw, s.str.ptr)
	}
}

// Consumed reports whether ownership moved to the host.
func (s *RString) Consumed() bool {
	return s.consumed
}

// View returns a borrowed view of the string. Panics if the string is no longer usable.
func (s *RString) View() RStr {
	if _, err := s.handle(); err != nil {
		panic(err.Error())
	}
	return s.str
}

// Bytes returns a copy of the contents. Panics if the string is no longer usable.
func (s *RString) Bytes() []byte { return s.View().Bytes() }

// String returns the contents. Panics if the string is no longer usable.
func (s *RString) String() string { return s.View().String() }

// ToStr returns the contents as validated UTF-8 text.
func (s *RString) ToStr() (string, error) {
	if _, err := s.handle(); err != nil {
		return "", err
	}
	return s.str.ToStr()
}

// Integer parses the contents as a base-10 signed 64 bit integer.
func (s *RString) Integer() (int64, error) {
	if _, err := s.handle(); err != nil {
		return 0, err
	}
	return s.str.Integer()
}

// Float parses the contents as a 64 bit float.
func (s *RString) Float() (float64, error) {
	if _, err := s.handle(); err != nil {
		return 0, err
	}
	return s.str.Float()
}
