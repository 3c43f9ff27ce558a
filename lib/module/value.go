package module

import (
	"fmt"
	"github.com/ValentinKolb/dkvmod/lib/raw"
	"strconv"
	"strings"
)

// --------------------------------------------------------------------------
// Value Kinds
// --------------------------------------------------------------------------

// ValueKind is the tag of a Value.
type ValueKind uint8

const (
	KindNull    ValueKind = iota // null bulk reply
	KindInteger                  // signed 64 bit integer
	KindDouble                   // float, sent as bulk string
	KindSimple                   // status reply (+OK)
	KindError                    // error reply
	KindBulk                     // binary safe string
	KindArray                    // array of values, may nest
)

func (k ValueKind) String() string {
	switch k {
	case KindNull:
		return "Null"
	case KindInteger:
		return "Integer"
	case KindDouble:
		return "Double"
	case KindSimple:
		return "Simple"
	case KindError:
		return "Error"
	case KindBulk:
		return "Bulk"
	case KindArray:
		return "Array"
	default:
		return fmt.Sprintf("Unknown(%d)", k)
	}
}

// --------------------------------------------------------------------------
// Value
// --------------------------------------------------------------------------

// Value is the result of a command handler. Values are immutable: constructors copy
// their input and accessors return copies.
type Value struct {
	kind ValueKind
	i    int64
	f    float64
	s    []byte
	arr  []Value
}

// NullValue returns the null value. The zero Value is null as well.
func NullValue() Value { return Value{kind: KindNull} }

// IntValue returns an integer value.
func IntValue(v int64) Value { return Value{kind: KindInteger, i: v} }

// DoubleValue returns a float value.
func DoubleValue(v float64) Value { return Value{kind: KindDouble, f: v} }

// SimpleValue returns a status value such as "OK".
func SimpleValue(s string) Value { return Value{kind: KindSimple, s: []byte(s)} }

// ErrorValue returns an error value. Returning it from a handler sends an error reply
// without an error being raised.
func ErrorValue(msg string) Value { return Value{kind: KindError, s: []byte(msg)} }

// StringValue returns a bulk value from a Go string.
func StringValue(s string) Value { return Value{kind: KindBulk, s: []byte(s)} }

// BulkValue returns a bulk value. b is copied, nil is stored as an empty string.
func BulkValue(b []byte) Value {
	c := make([]byte, len(b))
	copy(c, b)
	return Value{kind: KindBulk, s: c}
}

// ArrayValue returns an array value. An empty call yields an empty array, not null.
func ArrayValue(elems ...Value) Value {
	c := make([]Value, len(elems))
	copy(c, elems)
	return Value{kind: KindArray, arr: c}
}

// StringsValue returns an array of bulk values.
func StringsValue(elems ...string) Value {
	arr := make([]Value, len(elems))
	for i, s := range elems {
		arr[i] = StringValue(s)
	}
	return Value{kind: KindArray, arr: arr}
}

// Kind returns the tag of the value.
func (v Value) Kind() ValueKind { return v.kind }

// IsNull reports whether v is the null value.
func (v Value) IsNull() bool { return v.kind == KindNull }

// Int returns the integer payload, 0 for other kinds.
func (v Value) Int() int64 { return v.i }

// Float returns the float payload, 0 for other kinds.
func (v Value) Float() float64 { return v.f }

// Bytes returns a copy of the string payload of bulk, simple and error values.
func (v Value) Bytes() []byte {
	if v.s == nil {
		return nil
	}
	c := make([]byte, len(v.s))
	copy(c, v.s)
	return c
}

// Str returns the string payload of bulk, simple and error values.
func (v Value) Str() string { return string(v.s) }

// Len returns the number of elements of an array value, 0 for other kinds.
func (v Value) Len() int { return len(v.arr) }

// Index returns the i-th element of an array value.
func (v Value) Index(i int) Value { return v.arr[i] }

// Elems returns a copy of the elements of an array value.
func (v Value) Elems() []Value {
	c := make([]Value, len(v.arr))
	copy(c, v.arr)
	return c
}

// String renders the value for logs and tests.
func (v Value) String() string {
	switch v.kind {
	case KindNull:
		return "(nil)"
	case KindInteger:
		return "(integer) " + strconv.FormatInt(v.i, 10)
	case KindDouble:
		return "(double) " + formatDouble(v.f)
	case KindSimple:
		return string(v.s)
	case KindError:
		return "(error) " + string(v.s)
	case KindBulk:
		return strconv.Quote(string(v.s))
	case KindArray:
		parts := make([]string, len(v.arr))
		for i, e := range v.arr {
			parts[i] = e.String()
		}
		return "[" + strings.Join(parts, ", ") + "]"
	default:
		return "(unknown)"
	}
}

// Equal reports whether two values have the same kind and content.
func (v Value) Equal(o Value) bool {
	if v.kind != o.kind {
		return false
	}
	switch v.kind {
	case KindNull:
		return true
	case KindInteger:
		return v.i == o.i
	case KindDouble:
		return v.f == o.f
	case KindArray:
		if len(v.arr) != len(o.arr) {
			return false
		}
		for i := range v.arr {
			if !v.arr[i].Equal(o.arr[i]) {
				return false
			}
		}
		return true
	default:
		return string(v.s) == string(o.s)
	}
}

// formatDouble renders f the way the server does on the wire (%.17g).
func formatDouble(f float64) string {
	return strconv.FormatFloat(f, 'g', 17, 64)
}

// --------------------------------------------------------------------------
// Serialization to the host reply protocol
// --------------------------------------------------------------------------

// reply writes v through the host reply entry points. Arrays are written depth first.
func (v Value) reply(h raw.Host, ctx raw.Ctx) error {
	var st raw.Status
	switch v.kind {
	case KindNull:
		st = h.ReplyWithNull(ctx)
	case KindInteger:
		st = h.ReplyWithLongLong(ctx, v.i)
	case KindDouble:
		st = h.ReplyWithDouble(ctx, v.f)
	case KindSimple:
		st = h.ReplyWithSimpleString(ctx, string(v.s))
	case KindError:
		st = h.ReplyWithError(ctx, string(v.s))
	case KindBulk:
		st = h.ReplyWithStringBuffer(ctx, v.s)
	case KindArray:
		if err := handleStatus(h.ReplyWithArray(ctx, len(v.arr)), "fail to reply with array"); err != nil {
			return err
		}
		for _, e := range v.arr {
			if err := e.reply(h, ctx); err != nil {
				return err
			}
		}
		return nil
	default:
		return NewError(ErrCValidation, fmt.Sprintf("ERR cannot reply with value kind %s", v.kind))
	}
	return handleStatus(st, "fail to reply with "+strings.ToLower(v.kind.String()))
}
