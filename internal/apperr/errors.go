// Package apperr defines the typed errors shared by the slot subsystem.
package apperr

import (
	"errors"
	"fmt"
)

// Kind classifies an error for callers.
type Kind string

const (
	KindValidation Kind = "validation"
	KindConflict   Kind = "conflict"
	KindNotFound   Kind = "not_found"
	KindStore      Kind = "store"
)

// Error represents a typed domain error.
type Error struct {
	Kind    Kind   `json:"kind"`
	Code    string `json:"code"`
	Message string `json:"message"`
	Err     error  `json:"-"`
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e == nil {
		return "<nil>"
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

// Unwrap returns the wrapped error.
func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// New creates a new Error instance.
func New(kind Kind, code, message string) *Error {
	return &Error{Kind: kind, Code: code, Message: message}
}

// Wrap attaches context to an existing error.
func Wrap(err error, kind Kind, code, message string) *Error {
	return &Error{Kind: kind, Code: code, Message: message, Err: err}
}

// Validation reports malformed input. Always raised before any store mutation.
func Validation(message string) *Error {
	return New(KindValidation, "VALIDATION_ERROR", message)
}

// Conflict reports a state conflict: capacity, overlap or transition.
func Conflict(code, message string) *Error {
	return New(KindConflict, code, message)
}

// Store wraps an underlying KV or relational failure.
func Store(message string, err error) *Error {
	return Wrap(err, KindStore, "STORE_ERROR", message)
}

// Predefined errors for common scenarios.
var (
	ErrHoldNotFound      = New(KindNotFound, "HOLD_NOT_FOUND", "hold not found")
	ErrBookingNotFound   = New(KindNotFound, "BOOKING_NOT_FOUND", "booking not found")
	ErrInvalidTransition = New(KindConflict, "INVALID_TRANSITION", "invalid status transition")
	ErrSlotUnavailable   = New(KindConflict, "SLOT_UNAVAILABLE", "slot unavailable")
)

// KindOf returns the Kind of the first *Error in err's chain, or "" if none.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

// IsKind reports whether err carries the given kind.
func IsKind(err error, kind Kind) bool {
	return KindOf(err) == kind
}

// Is lets errors.Is match on Code so wrapped copies compare equal to the sentinels.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok || e == nil || t == nil {
		return false
	}
	return e.Code == t.Code && e.Kind == t.Kind
}

// Clone returns a copy of the error allowing for message overrides.
func Clone(err *Error, message string) *Error {
	if err == nil {
		return nil
	}
	clone := *err
	if message != "" {
		clone.Message = message
	}
	return &clone
}
