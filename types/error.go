package types

import (
	"errors"
	"fmt"
)

// ErrorCode represents a unified error code across the runtime.
type ErrorCode string

// Workflow error codes
const (
	ErrTopology          ErrorCode = "TOPOLOGY_INVALID"
	ErrNodeFailed        ErrorCode = "NODE_FAILED"
	ErrTimeout           ErrorCode = "TIMEOUT"
	ErrCheckpoint        ErrorCode = "CHECKPOINT_FAILED"
	ErrCheckpointCorrupt ErrorCode = "CHECKPOINT_CORRUPT"
	ErrNotFound          ErrorCode = "NOT_FOUND"
)

// Actor and tool error codes
const (
	ErrUnroutable       ErrorCode = "UNROUTABLE"
	ErrPermissionDenied ErrorCode = "PERMISSION_DENIED"
	ErrInvalidInput     ErrorCode = "INVALID_INPUT"
	ErrCircuitOpen      ErrorCode = "CIRCUIT_OPEN"
	ErrRateLimited      ErrorCode = "RATE_LIMITED"
)

// Error represents a structured error with code, message, and metadata.
type Error struct {
	Code      ErrorCode `json:"code"`
	Message   string    `json:"message"`
	Retryable bool      `json:"retryable"`
	Component string    `json:"component,omitempty"`
	Cause     error     `json:"-"`
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error {
	return e.Cause
}

// NewError creates a new Error with the given code and message.
func NewError(code ErrorCode, message string) *Error {
	return &Error{Code: code, Message: message}
}

// Errorf creates a new Error with a formatted message.
func Errorf(code ErrorCode, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// WithCause adds a cause to the error.
func (e *Error) WithCause(cause error) *Error {
	e.Cause = cause
	return e
}

// WithRetryable marks the error as retryable.
func (e *Error) WithRetryable(retryable bool) *Error {
	e.Retryable = retryable
	return e
}

// WithComponent records which component raised the error.
func (e *Error) WithComponent(component string) *Error {
	e.Component = component
	return e
}

// WrapError wraps err with a code. A nil err yields nil.
func WrapError(err error, code ErrorCode, message string) error {
	if err == nil {
		return nil
	}
	return &Error{Code: code, Message: message, Cause: err}
}

// AsError finds the first *Error in err's chain.
func AsError(err error) (*Error, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e, true
	}
	return nil, false
}

// IsCode reports whether any *Error in err's chain carries code.
func IsCode(err error, code ErrorCode) bool {
	for err != nil {
		var e *Error
		if !errors.As(err, &e) {
			return false
		}
		if e.Code == code {
			return true
		}
		err = e.Cause
	}
	return false
}

// IsRetryable checks if an error is retryable.
func IsRetryable(err error) bool {
	if e, ok := AsError(err); ok {
		return e.Retryable
	}
	return false
}

// GetErrorCode extracts the outermost error code from an error.
func GetErrorCode(err error) ErrorCode {
	if e, ok := AsError(err); ok {
		return e.Code
	}
	return ""
}
