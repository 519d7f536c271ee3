package errors

import (
	"fmt"
	"net/http"
)

// ErrorType represents the type of error
type ErrorType string

const (
	ErrorTypeInternal          ErrorType = "internal"
	ErrorTypeUnavailable       ErrorType = "unavailable"
	ErrorTypeBadRequest        ErrorType = "bad_request"
	ErrorTypeUnauthorized      ErrorType = "unauthorized"
	ErrorTypeConfigInvalid     ErrorType = "config_invalid"
	ErrorTypeServiceNotAllowed ErrorType = "service_not_allowed"
	ErrorTypeDeliveryFailure   ErrorType = "delivery_failure"
)

// Sentinels for errors.Is checks by category.
var (
	ErrConfigInvalid     = &Error{Type: ErrorTypeConfigInvalid}
	ErrServiceNotAllowed = &Error{Type: ErrorTypeServiceNotAllowed}
	ErrUnauthorized      = &Error{Type: ErrorTypeUnauthorized}
	ErrDeliveryFailure   = &Error{Type: ErrorTypeDeliveryFailure}
)

// Error represents a structured error with additional context
type Error struct {
	Type    ErrorType
	Message string
	Cause   error
	Details map[string]any
}

// NewError creates a new structured error
func NewError(errType ErrorType, message string) *Error {
	return &Error{
		Type:    errType,
		Message: message,
		Details: make(map[string]any),
	}
}

// WithCause adds the underlying cause to the error
func (e *Error) WithCause(cause error) *Error {
	e.Cause = cause
	return e
}

// WithDetail adds a detail to the error
func (e *Error) WithDetail(key string, value any) *Error {
	if e.Details == nil {
		e.Details = make(map[string]any)
	}
	e.Details[key] = value
	return e
}

// Error implements the error interface
func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Type, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Type, e.Message)
}

// Unwrap returns the underlying cause
func (e *Error) Unwrap() error {
	return e.Cause
}

// Is implements errors.Is
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Type == t.Type
}

// HTTPStatusCode returns the appropriate HTTP status code for the error type
func (e *Error) HTTPStatusCode() int {
	switch e.Type {
	case ErrorTypeBadRequest, ErrorTypeServiceNotAllowed:
		return http.StatusBadRequest
	case ErrorTypeUnauthorized:
		return http.StatusUnauthorized
	case ErrorTypeUnavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// ConfigInvalid builds a config_invalid error naming the offending path.
func ConfigInvalid(path, message string) *Error {
	return NewError(ErrorTypeConfigInvalid, message).WithDetail("path", path)
}

// Wrap wraps an error with additional context
func Wrap(err error, message string) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", message, err)
}
