package errors

import (
	"errors"
	"fmt"
)

// PipelineError is a structured error carried through the batch pipeline.
// Code identifies the failure class for logs and diagnostics; Err holds
// the wrapped cause when one exists.
type PipelineError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Err     error  `json:"-"`
}

// Error implements the error interface.
func (e *PipelineError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap exposes the wrapped cause to errors.Is/As.
func (e *PipelineError) Unwrap() error {
	return e.Err
}

// New creates a new PipelineError with the given code and message.
func New(code, message string) *PipelineError {
	return &PipelineError{Code: code, Message: message}
}

// Wrap attaches a code and message to an underlying error.
func Wrap(err error, code, message string) *PipelineError {
	return &PipelineError{Code: code, Message: message, Err: err}
}

// Error codes for the failure classes the pipeline distinguishes.
const (
	CodeValidation = "VALIDATION_FAILED"
	CodeConfig     = "CONFIG_INVALID"
	CodeFetch      = "FETCH_FAILED"
	CodeExport     = "EXPORT_FAILED"
	CodeCapacity   = "CAPACITY_EXCEEDED"
)

// ValidationError reports an input contract violation: a required table
// absent or empty, a join key missing, or an empty entity scope. Always
// fatal; a batch re-run with the same inputs would fail identically, so
// callers must not retry.
type ValidationError struct {
	Table   string `json:"table,omitempty"`
	Field   string `json:"field,omitempty"`
	Message string `json:"message"`
}

// Error implements the error interface.
func (e *ValidationError) Error() string {
	switch {
	case e.Table != "" && e.Field != "":
		return fmt.Sprintf("validation failed: %s.%s: %s", e.Table, e.Field, e.Message)
	case e.Table != "":
		return fmt.Sprintf("validation failed: %s: %s", e.Table, e.Message)
	default:
		return fmt.Sprintf("validation failed: %s", e.Message)
	}
}

// NewValidation creates a table-level validation error.
func NewValidation(table, message string) *ValidationError {
	return &ValidationError{Table: table, Message: message}
}

// NewFieldValidation creates a column-level validation error.
func NewFieldValidation(table, field, message string) *ValidationError {
	return &ValidationError{Table: table, Field: field, Message: message}
}

// IsValidation reports whether err is (or wraps) a ValidationError.
func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

// Predefined errors for common pipeline failures.
var (
	ErrEmptyEntityScope = NewValidation("grid", "entity scope is empty: no card_sku_id present in prices or sales")
	ErrWindowInverted   = New(CodeConfig, "analysis window end_date precedes start_date")
)
