// Package errors provides domain-specific errors for leadline.
package errors

import (
	"errors"
	"fmt"
)

// Sentinel errors for common domain error conditions.
var (
	ErrPhoneIncomplete     = errors.New("phone number must have exactly 10 digits")
	ErrAssigneeRequired    = errors.New("assignee required")
	ErrDuplicateUnresolved = errors.New("duplicate lead found: choose update-existing or create-new")
	ErrNoActiveSession     = errors.New("no active call session")
	ErrSessionBusy         = errors.New("a call session is already active")
	ErrQueuedCallNotFound  = errors.New("queued call not found")
	ErrRemoteUnavailable   = errors.New("remote store unavailable")
	ErrRecordNotFound      = errors.New("record not found")
	ErrUnknownOperation    = errors.New("unknown pending operation")
	ErrUnknownAction       = errors.New("unknown session action")
	ErrStoreClosed         = errors.New("store is closed")
)

// ErrorCode categorizes errors for handling and reporting.
type ErrorCode string

const (
	CodeValidation    ErrorCode = "VALIDATION"
	CodeNotFound      ErrorCode = "NOT_FOUND"
	CodeRemote        ErrorCode = "REMOTE"
	CodeStorage       ErrorCode = "STORAGE"
	CodeState         ErrorCode = "STATE"
	CodeConfiguration ErrorCode = "CONFIG"
)

// LeadlineError wraps errors with a code and optional key/value context.
type LeadlineError struct {
	Code    ErrorCode
	Message string
	Cause   error
	Context map[string]any
}

// Error returns a formatted error string including the code, message, and cause if present.
func (e *LeadlineError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause for errors.Is and errors.As.
func (e *LeadlineError) Unwrap() error {
	return e.Cause
}

// NewError creates a new LeadlineError with the given code, message, and optional cause.
func NewError(code ErrorCode, message string, cause error) *LeadlineError {
	return &LeadlineError{
		Code:    code,
		Message: message,
		Cause:   cause,
		Context: make(map[string]any),
	}
}

// WithContext adds a key-value pair to the error's context and returns the error.
func WithContext(err *LeadlineError, key string, value any) *LeadlineError {
	if err.Context == nil {
		err.Context = make(map[string]any)
	}
	err.Context[key] = value
	return err
}

// Validation is shorthand for a CodeValidation error wrapping a sentinel.
func Validation(message string, cause error) *LeadlineError {
	return NewError(CodeValidation, message, cause)
}

// CodeOf returns the code of the first LeadlineError in err's chain, or "".
func CodeOf(err error) ErrorCode {
	var le *LeadlineError
	if errors.As(err, &le) {
		return le.Code
	}
	return ""
}

// Is reports whether err matches target using errors.Is semantics.
func Is(err, target error) bool {
	return errors.Is(err, target)
}

// As finds the first error in err's chain that matches target.
func As(err error, target any) bool {
	return errors.As(err, target)
}
