// File: api/errors.go
// Package api carries the structured error type shared across the runtime's
// packages. Author: vela-run contributors. License: Apache-2.0.
//
// Kept and adapted from the teacher's api/errors.go: same ErrorCode/Error
// shape, trimmed to the codes this runtime actually raises and extended with
// Unwrap so hook-layer errors compose with golang.org/x/sys/unix.Errno via
// errors.Is/errors.As (spec.md §4.6's ETIMEDOUT/EBADF surfacing).
package api

import "fmt"

// ErrorCode classifies the structured errors this module raises.
type ErrorCode int

const (
	ErrCodeOK ErrorCode = iota
	ErrCodeInvalidArgument
	ErrCodeResourceExhausted
	ErrCodeTimeout
	ErrCodeNotSupported
	ErrCodeAlreadyRegistered
	ErrCodeNotFound
	ErrCodeClosed
	ErrCodeInternal
)

func (c ErrorCode) String() string {
	switch c {
	case ErrCodeOK:
		return "OK"
	case ErrCodeInvalidArgument:
		return "INVALID_ARGUMENT"
	case ErrCodeResourceExhausted:
		return "RESOURCE_EXHAUSTED"
	case ErrCodeTimeout:
		return "TIMEOUT"
	case ErrCodeNotSupported:
		return "NOT_SUPPORTED"
	case ErrCodeAlreadyRegistered:
		return "ALREADY_REGISTERED"
	case ErrCodeNotFound:
		return "NOT_FOUND"
	case ErrCodeClosed:
		return "CLOSED"
	default:
		return "INTERNAL"
	}
}

// Error is a structured error carrying a code, a human message, free-form
// context, and an optional underlying cause (e.g. a raw unix.Errno).
type Error struct {
	Code    ErrorCode
	Message string
	Context map[string]any
	cause   error
}

// Error implements the error interface.
func (e *Error) Error() string {
	msg := fmt.Sprintf("%s: %s", e.Code, e.Message)
	if e.cause != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.cause)
	}
	if len(e.Context) == 0 {
		return msg
	}
	return fmt.Sprintf("%s (context: %+v)", msg, e.Context)
}

// Unwrap exposes the underlying cause, if any, so errors.Is/errors.As see
// through to it (e.g. errors.Is(err, unix.ETIMEDOUT)).
func (e *Error) Unwrap() error { return e.cause }

// NewError creates a structured error with no underlying cause.
func NewError(code ErrorCode, message string) *Error {
	return &Error{Code: code, Message: message}
}

// Wrap creates a structured error around an underlying cause, preserving it
// for errors.Is/errors.As.
func Wrap(code ErrorCode, message string, cause error) *Error {
	return &Error{Code: code, Message: message, cause: cause}
}

// WithContext attaches a key/value pair, returning the same *Error for
// chaining.
func (e *Error) WithContext(key string, value any) *Error {
	if e.Context == nil {
		e.Context = make(map[string]any)
	}
	e.Context[key] = value
	return e
}
