// Package syncerr defines the error taxonomy of a sync run.
package syncerr

import (
	"errors"
	"fmt"
)

// Code identifies a class of sync failure.
type Code string

const (
	// CodeConcurrentSync is returned when another live process holds the lock
	CodeConcurrentSync Code = "CONCURRENT_SYNC"
	// CodeStaleLock is returned when the lock holder is gone and reclaim was not confirmed
	CodeStaleLock Code = "STALE_LOCK"
	// CodeCorruptState is returned when the persisted state cannot be read
	CodeCorruptState Code = "CORRUPT_STATE"
	// CodeEntityFetch is returned when a single entity cannot be fetched or validated
	CodeEntityFetch Code = "ENTITY_FETCH_FAILURE"
	// CodeSizeLimit is returned when an artifact exceeds a configured limit
	CodeSizeLimit Code = "SIZE_LIMIT_EXCEEDED"
	// CodeIO is returned when a local filesystem operation fails
	CodeIO Code = "IO_FAILURE"
)

// Sentinels usable with errors.Is.
var (
	ErrConcurrentSync = New(CodeConcurrentSync, "another sync is in progress")
	ErrStaleLock      = New(CodeStaleLock, "stale lock")
	ErrCorruptState   = New(CodeCorruptState, "sync state is corrupt")
	ErrEntityFetch    = New(CodeEntityFetch, "entity fetch failed")
	ErrSizeLimit      = New(CodeSizeLimit, "size limit exceeded")
	ErrIO             = New(CodeIO, "i/o failure")
)

// Error is a coded error with optional details and a wrapped cause.
type Error struct {
	code       Code
	message    string
	details    map[string]any
	wrappedErr error
}

// New creates a new Error.
func New(code Code, message string) *Error {
	return &Error{code: code, message: message}
}

// Newf creates a new Error with a formatted message.
func Newf(code Code, format string, args ...any) *Error {
	return New(code, fmt.Sprintf(format, args...))
}

// WithDetail adds a single detail to the error.
func (e *Error) WithDetail(key string, value any) *Error {
	if e.details == nil {
		e.details = make(map[string]any)
	}
	e.details[key] = value
	return e
}

// Wrap wraps an underlying error.
func (e *Error) Wrap(err error) *Error {
	e.wrappedErr = err
	return e
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.wrappedErr != nil {
		return fmt.Sprintf("%s: %v", e.message, e.wrappedErr)
	}
	return e.message
}

// Code returns the error code.
func (e *Error) Code() Code {
	return e.code
}

// Details returns additional error details.
func (e *Error) Details() map[string]any {
	return e.details
}

// Unwrap returns the wrapped error if any.
func (e *Error) Unwrap() error {
	return e.wrappedErr
}

// Is matches any *Error carrying the same code, so the package sentinels
// match errors built with New.
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) {
		return false
	}
	return t.code == e.code
}

// CodeOf returns the code of the first *Error in err's chain, or "".
func CodeOf(err error) Code {
	var e *Error
	if errors.As(err, &e) {
		return e.code
	}
	return ""
}

// Fatal reports whether err must abort a run before any state mutation.
// I/O failures are per artifact; the coordinator decides when they add up to
// an abort.
func Fatal(err error) bool {
	switch CodeOf(err) {
	case CodeConcurrentSync, CodeStaleLock, CodeCorruptState:
		return true
	default:
		return false
	}
}

// IO wraps a filesystem error.
func IO(op, path string, err error) *Error {
	return Newf(CodeIO, "%s %s", op, path).WithDetail("path", path).Wrap(err)
}
