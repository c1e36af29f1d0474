package raid5

import (
	"errors"
	"fmt"
)

// Error represents a structured array error with enough context to tell
// a caller what stripe/child/operation failed and why.
type Error struct {
	Op      string    // operation that failed (e.g. "SubmitRW", "ChannelResourceInit")
	Stripe  uint64     // stripe index, if applicable
	Child   int        // child index, -1 if not applicable
	Code    ErrorCode  // high-level category
	Msg     string     // human-readable message
	Inner   error      // wrapped error
}

func (e *Error) Error() string {
	msg := e.Msg
	if msg == "" {
		msg = string(e.Code)
	}
	if e.Child >= 0 {
		return fmt.Sprintf("raid5: %s (stripe=%d child=%d)", msg, e.Stripe, e.Child)
	}
	return fmt.Sprintf("raid5: %s (stripe=%d)", msg, e.Stripe)
}

func (e *Error) Unwrap() error {
	return e.Inner
}

func (e *Error) Is(target error) bool {
	if target == nil {
		return false
	}
	if te, ok := target.(*Error); ok {
		return e.Code == te.Code
	}
	return false
}

// ErrorCode is the high-level category of an array error.
type ErrorCode string

const (
	// CodeNoMem is returned when the stripe cache or request pool is
	// exhausted; the caller is expected to retry once resources free up.
	// This is the Go analogue of spdk's -ENOMEM short-circuit.
	CodeNoMem ErrorCode = "no memory"
	// CodeDegraded means a data or parity child is missing but the
	// operation can still be serviced via reconstruction.
	CodeDegraded ErrorCode = "degraded"
	// CodeFailed means too many children are missing to service the
	// operation (more than one below the geometry's parity count).
	CodeFailed ErrorCode = "failed"
	// CodeInvalidParams covers bad ArrayParams or out-of-range requests.
	CodeInvalidParams ErrorCode = "invalid parameters"
	// CodeIOError wraps an underlying child I/O failure.
	CodeIOError ErrorCode = "I/O error"
	// CodeClosed is returned by operations submitted after the array
	// has been stopped.
	CodeClosed ErrorCode = "array closed"
)

// NewError constructs an *Error with Child set to -1 (not applicable).
func NewError(op string, stripe uint64, code ErrorCode, msg string) *Error {
	return &Error{Op: op, Stripe: stripe, Child: -1, Code: code, Msg: msg}
}

// NewChildError constructs an *Error scoped to a specific child.
func NewChildError(op string, stripe uint64, child int, code ErrorCode, msg string) *Error {
	return &Error{Op: op, Stripe: stripe, Child: child, Code: code, Msg: msg}
}

// WrapError wraps an arbitrary error with array context, preserving an
// existing *Error's fields if inner already is one.
func WrapError(op string, stripe uint64, inner error) *Error {
	if inner == nil {
		return nil
	}
	if re, ok := inner.(*Error); ok {
		return &Error{Op: op, Stripe: stripe, Child: re.Child, Code: re.Code, Msg: re.Msg, Inner: re.Inner}
	}
	return &Error{Op: op, Stripe: stripe, Child: -1, Code: CodeIOError, Msg: inner.Error(), Inner: inner}
}

// IsCode reports whether err is an *Error (possibly wrapped) with the
// given code.
func IsCode(err error, code ErrorCode) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Code == code
	}
	return false
}

// ErrClosed is returned by Array.SubmitRW after Stop has completed.
var ErrClosed = NewError("SubmitRW", 0, CodeClosed, "array is closed")
