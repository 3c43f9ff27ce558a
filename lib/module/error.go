package module

import (
	"fmt"
	"github.com/ValentinKolb/dkvmod/lib/raw"
	"strings"
	"unicode"
)

// --------------------------------------------------------------------------
// Error Codes
// --------------------------------------------------------------------------

// ErrCode classifies an Error. The code never changes the message sent to clients.
type ErrCode uint8

const (
	ErrCHostStatus     ErrCode = iota + 1 // 1: a host entry point reported failure
	ErrCValidation                        // 2: malformed or out of range argument
	ErrCWrongType                         // 3: the key holds a different type
	ErrCNotFound                          // 4: an expected element is absent
	ErrCPermission                        // 5: write through a read-only key
	ErrCContextExpired                    // 6: use of a context after its callback returned
	ErrCConsumed                          // 7: use of an owned string after ownership moved to the host
)

func (c ErrCode) String() string {
	switch c {
	case ErrCHostStatus:
		return "HostStatus"
	case ErrCValidation:
		return "Validation"
	case ErrCWrongType:
		return "WrongType"
	case ErrCNotFound:
		return "NotFound"
	case ErrCPermission:
		return "Permission"
	case ErrCContextExpired:
		return "ContextExpired"
	case ErrCConsumed:
		return "Consumed"
	default:
		return fmt.Sprintf("Unknown(%d)", c)
	}
}

// --------------------------------------------------------------------------
// Error Type
// --------------------------------------------------------------------------

// Error is the error type of every fallible binding operation.
type Error struct {
	Code ErrCode // The kind of failure
	Msg  string  // The message, sent to the client unchanged
}

// Error implements the error interface. Only the message is returned.
func (e *Error) Error() string {
	return e.Msg
}

// Is reports whether target is an *Error with the same code, so that
// errors.Is(err, ErrWrongType) works for every wrong type error regardless of its message.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Code == e.Code
}

// NewError creates a new Error with the given code and message.
func NewError(code ErrCode, msg string) *Error {
	return &Error{
		Code: code,
		Msg:  msg,
	}
}

// Errorf creates a validation error. Handlers use it for argument errors.
func Errorf(format string, args ...any) *Error {
	return NewError(ErrCValidation, fmt.Sprintf(format, args...))
}

// Sentinels for errors.Is. Matching is done by code only.
var (
	ErrHostStatus     = &Error{Code: ErrCHostStatus, Msg: "ERR host call failed"}
	ErrValidation     = &Error{Code: ErrCValidation, Msg: "ERR invalid argument"}
	ErrWrongType      = &Error{Code: ErrCWrongType, Msg: "WRONGTYPE Operation against a key holding the wrong kind of value"}
	ErrNotFound       = &Error{Code: ErrCNotFound, Msg: "ERR not found"}
	ErrPermission     = &Error{Code: ErrCPermission, Msg: "ERR key opened in read mode"}
	ErrContextExpired = &Error{Code: ErrCContextExpired, Msg: "ERR context used after its callback returned"}
	ErrStringConsumed = &Error{Code: ErrCConsumed, Msg: "ERR string ownership was transferred to the host"}
)

// WrongArity is returned by handlers that received the wrong number of arguments.
var WrongArity = &Error{Code: ErrCValidation, Msg: "ERR wrong number of arguments"}

// --------------------------------------------------------------------------
// Status Translation
// --------------------------------------------------------------------------

// handleStatus converts a raw status into nil or a host status error carrying msg.
// Every binding operation that calls a fallible host entry point goes through it.
func handleStatus(status raw.Status, msg string) error {
	if status == raw.StatusOK {
		return nil
	}
	return NewError(ErrCHostStatus, msg)
}

// AssertLen returns WrongArity unless len(args) == n.
func AssertLen(args []RStr, n int) error {
	if len(args) != n {
		return WrongArity
	}
	return nil
}

// replyErrorText converts an error into the text of an error reply. Messages that do not
// start with an upper-case code (ERR, WRONGTYPE, ...) are prefixed with "ERR ".
func replyErrorText(err error) string {
	msg := err.Error()
	if hasErrorCode(msg) {
		return msg
	}
	return "ERR " + msg
}

func hasErrorCode(msg string) bool {
	word, _, _ := strings.Cut(msg, " ")
	if len(word) < 2 {
		return false
	}
	for _, r := range word {
		if !unicode.IsUpper(r) && r != '_' && r != '-' {
			return false
		}
	}
	return true
}
