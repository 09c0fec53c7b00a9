package shared

import (
	"errors"
	"fmt"
)

// Kind classifies domain failures so callers can branch without string matching.
type Kind string

const (
	KindValidation             Kind = "validation"
	KindNotFound               Kind = "not_found"
	KindForbidden              Kind = "forbidden"
	KindInvalidTransition      Kind = "invalid_state_transition"
	KindQuantityOutOfBounds    Kind = "quantity_out_of_bounds"
	KindDamagedExceedsReceived Kind = "damaged_exceeds_received"
	KindUnknownLineItem        Kind = "unknown_line_item"
	KindAlreadyProcessed       Kind = "already_processed"
	KindConcurrencyConflict    Kind = "concurrency_conflict"
	KindInsufficientStock      Kind = "insufficient_stock"
	KindInternal               Kind = "internal"
)

// Kind sentinels usable with errors.Is.
var (
	ErrValidation             = &Error{Kind: KindValidation}
	ErrNotFound               = &Error{Kind: KindNotFound}
	ErrForbidden              = &Error{Kind: KindForbidden}
	ErrInvalidTransition      = &Error{Kind: KindInvalidTransition}
	ErrQuantityOutOfBounds    = &Error{Kind: KindQuantityOutOfBounds}
	ErrDamagedExceedsReceived = &Error{Kind: KindDamagedExceedsReceived}
	ErrUnknownLineItem        = &Error{Kind: KindUnknownLineItem}
	ErrAlreadyProcessed       = &Error{Kind: KindAlreadyProcessed}
	ErrConcurrencyConflict    = &Error{Kind: KindConcurrencyConflict}
	ErrInsufficientStock      = &Error{Kind: KindInsufficientStock}
)

// Error is the structured domain error returned by every core operation.
type Error struct {
	Kind    Kind
	Op      string
	Message string
	Fields  map[string]string
	Err     error
}

// Error implements error.
func (e *Error) Error() string {
	msg := e.Message
	if msg == "" {
		msg = string(e.Kind)
	}
	if e.Op != "" {
		msg = e.Op + ": " + msg
	}
	if e.Err != nil {
		msg = msg + ": " + e.Err.Error()
	}
	return msg
}

// Unwrap exposes the wrapped cause.
func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches any *Error of the same kind, which makes the sentinels above work with errors.Is.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind
}

// NewError builds a domain error of the given kind.
func NewError(kind Kind, op, format string, args ...any) *Error {
	return &Error{Kind: kind, Op: op, Message: fmt.Sprintf(format, args...)}
}

// Validation builds a validation error carrying per-field messages.
func Validation(op string, fields map[string]string) *Error {
	return &Error{Kind: KindValidation, Op: op, Message: "invalid input", Fields: fields}
}

// Conflict wraps an infrastructure error as a retryable concurrency conflict.
func Conflict(op string, cause error) *Error {
	return &Error{Kind: KindConcurrencyConflict, Op: op, Message: "concurrent modification, retry", Err: cause}
}

// KindOf returns the kind of err, or KindInternal when err is not a domain error.
func KindOf(err error) Kind {
	var de *Error
	if errors.As(err, &de) {
		return de.Kind
	}
	return KindInternal
}

// IsRetryable reports whether the operation may be retried from scratch.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrConcurrencyConflict)
}

// UserSafeMessage returns a message that can be shown to API clients.
func UserSafeMessage(err error) string {
	var de *Error
	if errors.As(err, &de) {
		if de.Message != "" {
			return de.Message
		}
		return string(de.Kind)
	}
	return "internal error"
}
