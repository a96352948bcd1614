// Package errors provides unified error handling with structured error codes.
// Codes fall into three families: transient (retryable), permanent input, and
// lifecycle/internal, mirroring how the pipeline decides between retry,
// fail-fast, and fail-loud.
package errors

import (
	"errors"
	"fmt"
)

// Code classifies an error for retry and propagation decisions.
type Code string

const (
	CodeUnknown  Code = "UNKNOWN"
	CodeInternal Code = "INTERNAL"

	// Transient external failures, retried with backoff inside the stage.
	CodeTimeout     Code = "TIMEOUT"
	CodeUnavailable Code = "UNAVAILABLE"
	CodeRateLimited Code = "RATE_LIMITED"

	// Permanent input failures, never retried.
	CodeInvalidInput    Code = "INPUT_INVALID"
	CodeEmptyTranscript Code = "INPUT_EMPTY_TRANSCRIPT"

	// Task lifecycle failures.
	CodeNotFound          Code = "NOT_FOUND"
	CodeInvalidState      Code = "INVALID_STATE"
	CodeMissingDependency Code = "MISSING_DEPENDENCY"
	CodeCancelled         Code = "CANCELLED"

	// Data-model invariant broken; surfaced fatally, never silently repaired.
	CodeInvariantViolation Code = "INVARIANT_VIOLATION"
)

// AppError is the base error type with structured code and metadata.
type AppError struct {
	Code     Code
	Message  string
	Metadata map[string]string
	Cause    error
}

// Error implements the error interface.
func (e *AppError) Error() string {
	s := fmt.Sprintf("[%s] %s", e.Code, e.Message)
	if len(e.Metadata) > 0 {
		s += fmt.Sprintf(" %v", e.Metadata)
	}
	if e.Cause != nil {
		s += fmt.Sprintf(" caused by: %v", e.Cause)
	}
	return s
}

// Unwrap returns the underlying cause for errors.Is/As.
func (e *AppError) Unwrap() error { return e.Cause }

// New creates a new AppError with the given code and message.
func New(code Code, msg string) *AppError {
	return &AppError{Code: code, Message: msg}
}

// Newf creates a new AppError with formatted message.
func Newf(code Code, format string, args ...interface{}) *AppError {
	return &AppError{Code: code, Message: fmt.Sprintf(format, args...)}
}

// Wrap wraps an existing error with an AppError.
func Wrap(err error, code Code, msg string) *AppError {
	return &AppError{Code: code, Message: msg, Cause: err}
}

// Wrapf wraps an existing error with formatted message.
func Wrapf(err error, code Code, format string, args ...interface{}) *AppError {
	return &AppError{Code: code, Message: fmt.Sprintf(format, args...), Cause: err}
}

// WithMetadata adds metadata to an AppError.
func (e *AppError) WithMetadata(key, value string) *AppError {
	if e.Metadata == nil {
		e.Metadata = make(map[string]string)
	}
	e.Metadata[key] = value
	return e
}

// CodeOf extracts the code from an error chain, or CodeUnknown.
func CodeOf(err error) Code {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Code
	}
	return CodeUnknown
}

// IsCode checks if an error (or any error in its chain) has a specific code.
func IsCode(err error, code Code) bool {
	return CodeOf(err) == code
}

// IsRetryable returns true if the error is a transient external failure.
func IsRetryable(err error) bool {
	switch CodeOf(err) {
	case CodeTimeout, CodeUnavailable, CodeRateLimited:
		return true
	default:
		return false
	}
}

// IsPermanentInput returns true for malformed or unsupported input errors.
func IsPermanentInput(err error) bool {
	switch CodeOf(err) {
	case CodeInvalidInput, CodeEmptyTranscript:
		return true
	default:
		return false
	}
}
