// Package errors provides the structured error taxonomy used by the
// connection manager. Every error surfaced by a pool or the manager carries
// an ErrorType so callers can tell exhaustion from an open circuit and pick
// the right backoff.
package errors

import (
	"errors"
	"fmt"
	"runtime"
)

// ErrorType classifies an Error.
type ErrorType string

const (
	// ErrorTypeInternal is a bug or an unexpected state
	ErrorTypeInternal ErrorType = "internal"
	// ErrorTypeConfig represents an invalid pool or backend configuration
	ErrorTypeConfig ErrorType = "config"
	// ErrorTypeConnectionCreate represents a factory create failure
	ErrorTypeConnectionCreate ErrorType = "connection_create"
	// ErrorTypePoolExhausted represents an acquisition that found no free slot in time
	ErrorTypePoolExhausted ErrorType = "pool_exhausted"
	// ErrorTypeCircuitOpen represents a fail-fast rejection by the circuit breaker
	ErrorTypeCircuitOpen ErrorType = "circuit_open"
	// ErrorTypeConnectionInvalid represents a connection that failed validation
	ErrorTypeConnectionInvalid ErrorType = "connection_invalid"
	// ErrorTypePoolClosed represents use of a pool after shutdown
	ErrorTypePoolClosed ErrorType = "pool_closed"
	// ErrorTypeNotFound represents an unknown connection type or backend kind
	ErrorTypeNotFound ErrorType = "not_found"
)

// Sentinels for errors.Is. Matching is by type, so any *Error of the same
// type satisfies errors.Is(err, ErrPoolExhausted).
var (
	ErrConfig            = &Error{Type: ErrorTypeConfig, Message: "invalid configuration"}
	ErrConnectionCreate  = &Error{Type: ErrorTypeConnectionCreate, Message: "failed to create connection"}
	ErrPoolExhausted     = &Error{Type: ErrorTypePoolExhausted, Message: "pool exhausted"}
	ErrCircuitOpen       = &Error{Type: ErrorTypeCircuitOpen, Message: "circuit breaker is open"}
	ErrConnectionInvalid = &Error{Type: ErrorTypeConnectionInvalid, Message: "connection failed validation"}
	ErrPoolClosed        = &Error{Type: ErrorTypePoolClosed, Message: "pool is closed"}
	ErrNotFound          = &Error{Type: ErrorTypeNotFound, Message: "not found"}
)

// Error is a typed error carrying its cause, call stack and key/value details.
type Error struct {
	Type    ErrorType
	Message string
	Cause   error
	Details map[string]interface{}
	Stack   []StackFrame
}

// StackFrame is one captured call site.
type StackFrame struct {
	Function string
	File     string
	Line     int
}

// Error formats the type, message and cause.
func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Type, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Type, e.Message)
}

// Unwrap returns the cause.
func (e *Error) Unwrap() error {
	return e.Cause
}

// Is reports whether target is an *Error of the same type.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Type == t.Type
}

// WithDetail attaches a key/value pair and returns e.
func (e *Error) WithDetail(key string, value interface{}) *Error {
	if e.Details == nil {
		e.Details = make(map[string]interface{})
	}
	e.Details[key] = value
	return e
}

// New returns an Error of the given type with the caller's stack.
func New(errType ErrorType, message string) *Error {
	return &Error{
		Type:    errType,
		Message: message,
		Stack:   captureStack(2),
	}
}

// Newf creates a new error with a formatted message
func Newf(errType ErrorType, format string, args ...interface{}) *Error {
	return &Error{
		Type:    errType,
		Message: fmt.Sprintf(format, args...),
		Stack:   captureStack(2),
	}
}

// Wrap returns an Error of the given type with err as its cause. The stack of an
// inner *Error is kept.
func Wrap(err error, errType ErrorType, message string) *Error {
	if err == nil {
		return nil
	}

	// keep the innermost stack
	var existingErr *Error
	if errors.As(err, &existingErr) {
		return &Error{
			Type:    errType,
			Message: message,
			Cause:   err,
			Stack:   existingErr.Stack,
		}
	}

	return &Error{
		Type:    errType,
		Message: message,
		Cause:   err,
		Stack:   captureStack(2),
	}
}

// IsRetryable returns true if the caller may retry after a backoff.
// Exhaustion clears when a slot frees up; an open circuit clears after the
// recovery window, so callers should back off longer for it.
func IsRetryable(err error) bool {
	var e *Error
	if !errors.As(err, &e) {
		return false
	}

	switch e.Type {
	case ErrorTypePoolExhausted, ErrorTypeCircuitOpen, ErrorTypeConnectionCreate:
		return true
	default:
		return false
	}
}

// IsType reports whether the outermost *Error in err's chain has the given type.
func IsType(err error, errType ErrorType) bool {
	var e *Error
	if !errors.As(err, &e) {
		return false
	}
	return e.Type == errType
}

// captureStack records up to maxFrames callers starting skip frames up.
func captureStack(skip int) []StackFrame {
	const maxFrames = 32
	frames := make([]StackFrame, 0, maxFrames)

	for i := skip; i < maxFrames+skip; i++ {
		pc, file, line, ok := runtime.Caller(i)
		if !ok {
			break
		}

		fn := runtime.FuncForPC(pc)
		if fn == nil {
			continue
		}

		frames = append(frames, StackFrame{
			Function: fn.Name(),
			File:     file,
			Line:     line,
		})
	}

	return frames
}
