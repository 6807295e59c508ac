// Package errors provides structured error types for geolimes.
// All errors include a category, code, message, and retryable flag so that
// retrieval faults can be told apart from "no data" outcomes.
package errors

import (
	"errors"
	"fmt"
)

// ErrorCategory classifies errors by the stage that produced them.
type ErrorCategory string

const (
	ErrCategoryTransport     ErrorCategory = "TRANSPORT"
	ErrCategoryDecode        ErrorCategory = "DECODE"
	ErrCategoryGeometry      ErrorCategory = "GEOMETRY"
	ErrCategoryConfiguration ErrorCategory = "CONFIGURATION"
	ErrCategoryCache         ErrorCategory = "CACHE"
	ErrCategoryStorage       ErrorCategory = "STORAGE"
	ErrCategoryInternal      ErrorCategory = "INTERNAL"
)

// Error codes for each category.
const (
	// Transport codes
	CodeEndpointNotFound = "ENDPOINT_NOT_FOUND"
	CodeUnauthorized     = "UNAUTHORIZED"
	CodeEndpointInternal = "ENDPOINT_INTERNAL"
	CodeQueryBadFormed   = "QUERY_BAD_FORMED"
	CodeProtocolFault    = "PROTOCOL_FAULT"

	// Decode codes
	CodeDecompressFailed    = "DECOMPRESS_FAILED"
	CodeUnsupportedEncoding = "UNSUPPORTED_ENCODING"
	CodeInvalidEncoding     = "INVALID_ENCODING"
	CodeMalformedTable      = "MALFORMED_TABLE"
	CodeFieldTooLarge       = "FIELD_TOO_LARGE"
	CodeSchemaMismatch      = "SCHEMA_MISMATCH"

	// Geometry codes
	CodeMalformedGeometry = "MALFORMED_GEOMETRY"
	CodeMissingColumn     = "MISSING_COLUMN"
	CodeDuplicateIndex    = "DUPLICATE_INDEX"

	// Configuration codes
	CodeInvalidRole      = "INVALID_ROLE"
	CodeMissingParameter = "MISSING_PARAMETER"
	CodeInvalidParameter = "INVALID_PARAMETER"

	// Cache codes
	CodeCorruptionDetected = "CORRUPTION_DETECTED"
	CodeEmptyResult        = "EMPTY_RESULT"

	// Storage codes
	CodeUploadFailed   = "UPLOAD_FAILED"
	CodeDownloadFailed = "DOWNLOAD_FAILED"
	CodeObjectNotFound = "OBJECT_NOT_FOUND"

	// Internal codes
	CodeUnexpected = "UNEXPECTED"
)

// GeoError is the structured error type used throughout the system.
type GeoError struct {
	Category  ErrorCategory
	Code      string
	Message   string
	Details   map[string]interface{}
	Cause     error
	Retryable bool
}

// Error returns a formatted error string.
func (e *GeoError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s:%s] %s: %v", e.Category, e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s:%s] %s", e.Category, e.Code, e.Message)
}

// Unwrap returns the underlying cause for errors.Is/As compatibility.
func (e *GeoError) Unwrap() error {
	return e.Cause
}

// Is reports whether the target matches this error's category and code.
func (e *GeoError) Is(target error) bool {
	var t *GeoError
	if errors.As(target, &t) {
		return e.Category == t.Category && e.Code == t.Code
	}
	return false
}

// New creates a new GeoError.
func New(category ErrorCategory, code, message string) *GeoError {
	return &GeoError{
		Category:  category,
		Code:      code,
		Message:   message,
		Retryable: isRetryable(category, code),
	}
}

// Wrap creates a new GeoError wrapping an existing error.
func Wrap(category ErrorCategory, code, message string, cause error) *GeoError {
	return &GeoError{
		Category:  category,
		Code:      code,
		Message:   message,
		Cause:     cause,
		Retryable: isRetryable(category, code),
	}
}

// WithDetails returns a copy of the error with additional details.
func (e *GeoError) WithDetails(details map[string]interface{}) *GeoError {
	cp := *e
	cp.Details = details
	return &cp
}

// IsRetryable checks whether an error (or its chain) is retryable.
func IsRetryable(err error) bool {
	var ge *GeoError
	if errors.As(err, &ge) {
		return ge.Retryable
	}
	return false
}

// GetCategory extracts the error category from an error chain.
// Returns empty string if the error is not a GeoError.
func GetCategory(err error) ErrorCategory {
	var ge *GeoError
	if errors.As(err, &ge) {
		return ge.Category
	}
	return ""
}

// GetCode extracts the error code from an error chain.
// Returns empty string if the error is not a GeoError.
func GetCode(err error) string {
	var ge *GeoError
	if errors.As(err, &ge) {
		return ge.Code
	}
	return ""
}

// IsTransportFault reports whether err is a transport-level failure.
func IsTransportFault(err error) bool {
	return GetCategory(err) == ErrCategoryTransport
}

// isRetryable determines if an error code is worth another attempt.
// Only server-side and protocol faults qualify; a bad query or missing
// endpoint will fail the same way again.
func isRetryable(category ErrorCategory, code string) bool {
	switch {
	case category == ErrCategoryTransport && code == CodeEndpointInternal:
		return true
	case category == ErrCategoryTransport && code == CodeProtocolFault:
		return true
	case category == ErrCategoryStorage && code == CodeUploadFailed:
		return true
	case category == ErrCategoryStorage && code == CodeDownloadFailed:
		return true
	default:
		return false
	}
}

// Convenience constructors for common errors.

func NewTransportError(code, message string, cause error) *GeoError {
	return Wrap(ErrCategoryTransport, code, message, cause)
}

func NewDecodeError(code, message string, cause error) *GeoError {
	return Wrap(ErrCategoryDecode, code, message, cause)
}

func NewGeometryError(code, message string, cause error) *GeoError {
	return Wrap(ErrCategoryGeometry, code, message, cause)
}

func NewConfigurationError(code, message string) *GeoError {
	return New(ErrCategoryConfiguration, code, message)
}

func NewCacheError(code, message string, cause error) *GeoError {
	return Wrap(ErrCategoryCache, code, message, cause)
}

func NewStorageError(code, message string, cause error) *GeoError {
	return Wrap(ErrCategoryStorage, code, message, cause)
}

func NewInternalError(message string, cause error) *GeoError {
	return Wrap(ErrCategoryInternal, CodeUnexpected, message, cause)
}
