// Package errors provides the typed errors shared by every Interlink
// component. The type of an error decides how the scheduler and the delivery
// workers react to it: retry, dead-letter, move a file to error/ or stop.
package errors

import (
	"errors"
	"fmt"
	"path/filepath"
	"runtime"
)

// ErrorType represents the category of error
type ErrorType string

const (
	// ErrorTypeMalformedPayload is returned for source batches that cannot be debatched
	ErrorTypeMalformedPayload ErrorType = "malformed_payload"
	// ErrorTypeNotSupported is returned when a connector lacks the requested capability
	ErrorTypeNotSupported ErrorType = "not_supported"
	// ErrorTypeDeliveryFailed is returned when a destination write fails
	ErrorTypeDeliveryFailed ErrorType = "delivery_failed"
	// ErrorTypeLeaseConflict marks a lost claim race. Callers treat it as "fewer rows".
	ErrorTypeLeaseConflict ErrorType = "lease_conflict"
	// ErrorTypeConnectivity is returned when an external system is unreachable
	ErrorTypeConnectivity ErrorType = "connectivity"
	// ErrorTypeConfig represents configuration errors
	ErrorTypeConfig ErrorType = "config"
	// ErrorTypeValidation represents validation errors
	ErrorTypeValidation ErrorType = "validation"
	// ErrorTypeNotFound represents resource not found errors
	ErrorTypeNotFound ErrorType = "not_found"
	// ErrorTypeTimeout represents timeout errors
	ErrorTypeTimeout ErrorType = "timeout"
	// ErrorTypeInternal represents internal system errors
	ErrorTypeInternal ErrorType = "internal"
)

var retryable = map[ErrorType]bool{
	ErrorTypeConnectivity:   true,
	ErrorTypeTimeout:        true,
	ErrorTypeDeliveryFailed: true,
}

// Error is a typed error with optional cause and details.
type Error struct {
	Type    ErrorType
	Message string
	Cause   error
	Details map[string]interface{}
	// Origin is the function and file:line that created the innermost typed error
	Origin string
}

// Error implements the error interface
func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Type, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Type, e.Message)
}

// Unwrap returns the underlying error
func (e *Error) Unwrap() error {
	return e.Cause
}

// WithDetail adds a key-value detail to the error
func (e *Error) WithDetail(key string, value interface{}) *Error {
	if e.Details == nil {
		e.Details = make(map[string]interface{})
	}
	e.Details[key] = value
	return e
}

// New creates a new error with the given type and message
func New(errType ErrorType, message string) *Error {
	return &Error{Type: errType, Message: message, Origin: origin(2)}
}

// Newf creates a new error with a formatted message
func Newf(errType ErrorType, format string, args ...interface{}) *Error {
	return &Error{Type: errType, Message: fmt.Sprintf(format, args...), Origin: origin(2)}
}

// Wrap gives err a type and a message. A wrapped typed error keeps its origin.
// Wrap returns nil when err is nil.
func Wrap(err error, errType ErrorType, message string) *Error {
	if err == nil {
		return nil
	}
	e := &Error{Type: errType, Message: message, Cause: err}
	var inner *Error
	if errors.As(err, &inner) {
		e.Origin = inner.Origin
	} else {
		e.Origin = origin(2)
	}
	return e
}

// NotSupported reports that a connector type cannot perform operation.
func NotSupported(adapterType, operation string) *Error {
	return New(ErrorTypeNotSupported, fmt.Sprintf("%s does not support %s", adapterType, operation)).
		WithDetail("adapter_type", adapterType).
		WithDetail("operation", operation)
}

// TypeOf returns the type of the outermost typed error in err's chain, or
// ErrorTypeInternal for untyped errors.
func TypeOf(err error) ErrorType {
	var e *Error
	if errors.As(err, &e) {
		return e.Type
	}
	return ErrorTypeInternal
}

// IsRetryable reports whether the outermost typed error is worth another attempt.
func IsRetryable(err error) bool {
	var e *Error
	return errors.As(err, &e) && retryable[e.Type]
}

// IsType checks if the error, or any error it wraps, is of the given type
func IsType(err error, errType ErrorType) bool {
	for err != nil {
		var e *Error
		if !errors.As(err, &e) {
			return false
		}
		if e.Type == errType {
			return true
		}
		err = e.Cause
	}
	return false
}

// Is, As and Join re-export the standard library helpers so callers need one import.
var (
	Is   = errors.Is
	As   = errors.As
	Join = errors.Join
)

func origin(skip int) string {
	pc, file, line, ok := runtime.Caller(skip)
	if !ok {
		return ""
	}
	name := "?"
	if fn := runtime.FuncForPC(pc); fn != nil {
		name = fn.Name()
	}
	return fmt.Sprintf("%s (%s:%d)", name, filepath.Base(file), line)
}
