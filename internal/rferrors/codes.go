// Package rferrors provides structured error handling for RankFuse.
//
// Error codes follow the pattern ERR_XXX_DESCRIPTION where:
//   - 1XX: Configuration errors
//   - 2XX: IO errors (snapshots, document store)
//   - 3XX: Provider/network errors
//   - 4XX: Validation errors
//   - 5XX: Internal errors
package rferrors

// Category defines error categories for classification.
type Category string

const (
	CategoryConfig     Category = "CONFIG"
	CategoryIO         Category = "IO"
	CategoryProvider   Category = "PROVIDER"
	CategoryValidation Category = "VALIDATION"
	CategoryInternal   Category = "INTERNAL"
)

// Severity defines error severity levels.
type Severity string

const (
	// SeverityFatal indicates unrecoverable error, must abort.
	SeverityFatal Severity = "FATAL"
	// SeverityError indicates operation failed but can continue.
	SeverityError Severity = "ERROR"
	// SeverityWarning indicates degraded operation, continuing.
	SeverityWarning Severity = "WARNING"
)

// Error codes organized by category.
const (
	// Config errors (100-199)
	ErrCodeConfigNotFound = "ERR_101_CONFIG_NOT_FOUND"
	ErrCodeConfigInvalid  = "ERR_102_CONFIG_INVALID"

	// IO errors (200-299)
	ErrCodeSnapshotWrite   = "ERR_201_SNAPSHOT_WRITE"
	ErrCodeCorruptSnapshot = "ERR_202_CORRUPT_SNAPSHOT"
	ErrCodeStoreFailure    = "ERR_203_STORE_FAILURE"

	// Provider errors (300-399)
	ErrCodeProviderTimeout     = "ERR_301_PROVIDER_TIMEOUT"
	ErrCodeProviderUnavailable = "ERR_302_PROVIDER_UNAVAILABLE"
	ErrCodeRateLimited         = "ERR_303_RATE_LIMITED"

	// Validation errors (400-499)
	ErrCodeInvalidFilterType  = "ERR_401_INVALID_FILTER_TYPE"
	ErrCodeDimensionMismatch  = "ERR_402_DIMENSION_MISMATCH"
	ErrCodeInvalidQuery       = "ERR_403_INVALID_QUERY"
	ErrCodeUnknownField       = "ERR_404_UNKNOWN_FIELD"
	ErrCodeInvalidRegex       = "ERR_405_INVALID_REGEX"

	// Internal errors (500-599)
	ErrCodeInternal        = "ERR_501_INTERNAL"
	ErrCodeSearchFailed    = "ERR_502_SEARCH_FAILED"
	ErrCodeIndexFailed     = "ERR_503_INDEX_FAILED"
	ErrCodeEmbeddingFailed = "ERR_504_EMBEDDING_FAILED"
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
		return CategoryIO
	case '3':
		return CategoryProvider
	case '4':
		return CategoryValidation
	default:
		return CategoryInternal
	}
}

// severityFromCode derives default severity from the error code.
// Corrupt snapshots abort startup; provider failures degrade.
func severityFromCode(code string) Severity {
	switch code {
	case ErrCodeCorruptSnapshot, ErrCodeConfigInvalid:
		return SeverityFatal
	case ErrCodeProviderTimeout, ErrCodeProviderUnavailable, ErrCodeRateLimited:
		return SeverityWarning
	default:
		return SeverityError
	}
}

// isRetryableCode reports whether operations failing with this code
// may be retried.
func isRetryableCode(code string) bool {
	switch code {
	case ErrCodeProviderTimeout, ErrCodeProviderUnavailable, ErrCodeRateLimited:
		return true
	default:
		return false
	}
}
