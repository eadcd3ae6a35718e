package rferrors

import (
	"errors"
	"fmt"
)

// Sentinel errors surfaced across package boundaries. Callers match
// these with errors.Is; the structured Error type wraps them with
// codes and context.
var (
	// ErrInvalidFilterType indicates a filter comparison value whose type
	// does not match the declared metadata field type.
	ErrInvalidFilterType = errors.New("invalid filter value type")

	// ErrDimensionMismatch indicates an embedding whose dimension does not
	// match the index dimension.
	ErrDimensionMismatch = errors.New("embedding dimension mismatch")

	// ErrCorruptSnapshot indicates a persisted index snapshot that failed
	// integrity checks on load. Startup must fail loudly.
	ErrCorruptSnapshot = errors.New("corrupt index snapshot")

	// ErrProviderUnavailable indicates an external provider that cannot
	// be reached.
	ErrProviderUnavailable = errors.New("provider unavailable")

	// ErrRateLimited indicates an external provider rejecting calls due
	// to rate limiting.
	ErrRateLimited = errors.New("provider rate limited")
)

// Error is the structured error type for RankFuse.
// It carries a stable code for machine handling plus human context.
type Error struct {
	// Code is the unique error code (e.g., "ERR_402_DIMENSION_MISMATCH").
	Code string

	// Message is the human-readable error message.
	Message string

	// Category is the error category (Config, IO, Provider, etc.).
	Category Category

	// Severity is the error severity level.
	Severity Severity

	// Details contains additional context as key-value pairs.
	Details map[string]string

	// Cause is the underlying error that caused this error.
	Cause error

	// Retryable indicates if the operation can be retried.
	Retryable bool
}

// Error implements the error interface.
func (e *Error) Error() string {
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause for error chain support.
func (e *Error) Unwrap() error {
	return e.Cause
}

// Is checks if this error matches the target error by code.
func (e *Error) Is(target error) bool {
	if t, ok := target.(*Error); ok {
		return e.Code == t.Code
	}
	return false
}

// WithDetail adds a key-value detail to the error.
func (e *Error) WithDetail(key, value string) *Error {
	if e.Details == nil {
		e.Details = make(map[string]string)
	}
	e.Details[key] = value
	return e
}

// New creates a new Error with the given code and message.
// Category, severity, and retryable flag are derived from the code.
func New(code string, message string, cause error) *Error {
	return &Error{
		Code:      code,
		Message:   message,
		Category:  categoryFromCode(code),
		Severity:  severityFromCode(code),
		Cause:     cause,
		Retryable: isRetryableCode(code),
	}
}

// Wrap creates an Error from an existing error.
func Wrap(code string, err error) *Error {
	if err == nil {
		return nil
	}
	return New(code, err.Error(), err)
}

// ValidationError creates a validation-related error.
func ValidationError(message string, cause error) *Error {
	return New(ErrCodeInvalidQuery, message, cause)
}

// IsRetryable checks if an error is retryable.
func IsRetryable(err error) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Retryable
	}
	return false
}

// IsFatal checks if an error has fatal severity.
func IsFatal(err error) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Severity == SeverityFatal
	}
	return false
}

// GetCode extracts the error code, or empty string if unstructured.
func GetCode(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ""
}
