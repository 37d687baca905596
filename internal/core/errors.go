// internal/core/errors.go
package core

import "fmt"

// Error represents a structured error with code and optional cause.
type Error struct {
	Code    string
	Message string
	Cause   error
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause for errors.Is/As support.
func (e *Error) Unwrap() error {
	return e.Cause
}

// Is implements errors.Is matching by code.
func (e *Error) Is(target error) bool {
	if t, ok := target.(*Error); ok {
		return e.Code == t.Code
	}
	return false
}

// WrapError creates a new error with the same code but with a cause.
func WrapError(base *Error, cause error) *Error {
	return &Error{
		Code:    base.Code,
		Message: base.Message,
		Cause:   cause,
	}
}

// Predefined errors
var (
	// Config errors
	ErrConfigInvalid = &Error{Code: "CONFIG_INVALID", Message: "configuration invalid"}
	ErrConfigMissing = &Error{Code: "CONFIG_MISSING", Message: "required configuration missing"}

	// Artifact production
	ErrDumpFailed        = &Error{Code: "DUMP_FAILED", Message: "database dump failed"}
	ErrCompressionFailed = &Error{Code: "COMPRESSION_FAILED", Message: "compression failed"}
	ErrIO                = &Error{Code: "IO_FAILED", Message: "local archive I/O failed"}

	// Remote store errors
	ErrUploadFailed   = &Error{Code: "UPLOAD_FAILED", Message: "remote upload failed"}
	ErrListingFailed  = &Error{Code: "LISTING_FAILED", Message: "archive listing failed"}
	ErrDeletionFailed = &Error{Code: "DELETION_FAILED", Message: "archive deletion failed"}

	// Run-level
	ErrPipelineFailed = &Error{Code: "PIPELINE_FAILED", Message: "backup run failed"}
)
