// Package errors provides structured error handling for regscope.
//
// Error codes follow the pattern ERR_XXX_DESCRIPTION where:
//   - 1XX: Configuration errors
//   - 2XX: Validation errors (parser, chunker, input)
//   - 3XX: Network and external-service errors
//   - 4XX: Upstream-content errors (not found, token limits, refusals)
//   - 5XX: Internal errors
package errors

// Category defines error categories for classification.
type Category string

const (
	// CategoryConfig indicates configuration-related errors.
	CategoryConfig Category = "CONFIG"
	// CategoryValidation indicates parser/chunker/input validation errors.
	CategoryValidation Category = "VALIDATION"
	// CategoryNetwork indicates network and external-service errors.
	CategoryNetwork Category = "NETWORK"
	// CategoryContent indicates upstream-content errors.
	CategoryContent Category = "CONTENT"
	// CategoryInternal indicates unexpected internal errors.
	CategoryInternal Category = "INTERNAL"
)

// Severity defines error severity levels.
type Severity string

const (
	// SeverityFatal indicates unrecoverable error, must abort.
	SeverityFatal Severity = "FATAL"
	// SeverityError indicates operation failed but the run can continue.
	SeverityError Severity = "ERROR"
	// SeverityWarning indicates degraded operation, continuing.
	SeverityWarning Severity = "WARNING"
)

// Error codes organized by category. These are the error kinds of the
// ingestion and retrieval pipelines; callers branch on code, not type.
const (
	// Config errors (100-199)
	ErrCodeConfig = "ERR_101_CONFIG"

	// Validation errors (200-299)
	ErrCodeValidation = "ERR_201_VALIDATION"

	// Network / external-service errors (300-399)
	ErrCodeTimeout   = "ERR_301_TIMEOUT"
	ErrCodeScraping  = "ERR_302_SCRAPING"
	ErrCodeRateLimit = "ERR_303_RATE_LIMIT"
	ErrCodeAPI       = "ERR_304_API"
	ErrCodeGeocode   = "ERR_305_GEOCODE"

	// Upstream-content errors (400-499)
	ErrCodeNotFound      = "ERR_401_NOT_FOUND"
	ErrCodeTokenLimit    = "ERR_402_TOKEN_LIMIT"
	ErrCodeContentFilter = "ERR_403_CONTENT_FILTER"

	// Internal errors (500-599)
	ErrCodeInternal = "ERR_501_INTERNAL"
)

// categoryFromCode extracts category from error code.
func categoryFromCode(code string) Category {
	if len(code) < 7 {
		return CategoryInternal
	}

	switch code[4] {
	case '1':
		return CategoryConfig
	case '2':
		return CategoryValidation
	case '3':
		return CategoryNetwork
	case '4':
		return CategoryContent
	default:
		return CategoryInternal
	}
}

// severityFromCode determines severity based on error code.
func severityFromCode(code string) Severity {
	switch code {
	case ErrCodeConfig:
		return SeverityFatal
	case ErrCodeNotFound, ErrCodeGeocode:
		// Skipped or downgraded locally by callers.
		return SeverityWarning
	}
	return SeverityError
}

// isRetryableCode checks if an error code represents a retryable error.
func isRetryableCode(code string) bool {
	switch code {
	case ErrCodeTimeout, ErrCodeRateLimit:
		return true
	default:
		return false
	}
}
