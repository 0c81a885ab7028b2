package errors

import (
	stderrors "errors"
	"fmt"
)

// RegError is the structured error type for regscope.
// It provides rich context for error handling, logging, and aggregation
// in per-unit pipeline results.
type RegError struct {
	// Code is the unique error code (e.g., "ERR_302_SCRAPING").
	Code string

	// Message is the human-readable error message.
	Message string

	// Category is the error category (Config, Network, etc.).
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
func (e *RegError) Error() string {
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause for error chain support.
func (e *RegError) Unwrap() error {
	return e.Cause
}

// Is checks if this error matches the target error by code.
// This enables errors.Is() to work with RegError.
func (e *RegError) Is(target error) bool {
	if t, ok := target.(*RegError); ok {
		return e.Code == t.Code
	}
	return false
}

// WithRetryable marks the error as retryable regardless of its code.
// Used where the code alone does not imply it: a 5xx or a transport
// failure keeps its service error code but still gets the backoff.
func (e *RegError) WithRetryable() *RegError {
	e.Retryable = true
	return e
}

// WithDetail adds a key-value detail to the error.
// Returns the error for method chaining.
func (e *RegError) WithDetail(key, value string) *RegError {
	if e.Details == nil {
		e.Details = make(map[string]string)
	}
	e.Details[key] = value
	return e
}

// New creates a new RegError with the given code and message.
// Category, severity, and retryable flag are derived from the code.
func New(code string, message string, cause error) *RegError {
	return &RegError{
		Code:      code,
		Message:   message,
		Category:  categoryFromCode(code),
		Severity:  severityFromCode(code),
		Cause:     cause,
		Retryable: isRetryableCode(code),
	}
}

// Newf creates a new RegError with a formatted message and no cause.
func Newf(code string, format string, args ...any) *RegError {
	return New(code, fmt.Sprintf(format, args...), nil)
}

// Wrap creates a RegError from an existing error.
// The error's message becomes the RegError message.
func Wrap(code string, err error) *RegError {
	if err == nil {
		return nil
	}
	return New(code, err.Error(), err)
}

// ConfigError creates a configuration-related error (fatal, exit code 1).
func ConfigError(message string, cause error) *RegError {
	return New(ErrCodeConfig, message, cause)
}

// ValidationError creates a validation-related error.
func ValidationError(message string, cause error) *RegError {
	return New(ErrCodeValidation, message, cause)
}

// NotFound creates a not-found error for a 404 response.
// Fetchers skip not-found sections; everything else aborts the section.
func NotFound(message string) *RegError {
	return New(ErrCodeNotFound, message, nil)
}

// IsNotFound reports whether err is a not-found error.
func IsNotFound(err error) bool {
	return HasCode(err, ErrCodeNotFound)
}

// HasCode reports whether err or any error in its chain carries code.
func HasCode(err error, code string) bool {
	var re *RegError
	if stderrors.As(err, &re) {
		return re.Code == code
	}
	return false
}

// IsRetryable checks if an error is retryable.
func IsRetryable(err error) bool {
	var re *RegError
	if stderrors.As(err, &re) {
		return re.Retryable
	}
	return false
}

// GetCode extracts the error code from a RegError chain.
// Returns ErrCodeInternal for non-RegError values.
func GetCode(err error) string {
	var re *RegError
	if stderrors.As(err, &re) {
		return re.Code
	}
	return ErrCodeInternal
}
