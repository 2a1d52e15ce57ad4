// Package errors provides the categorised error type used across the payment
// matcher.
//
// Every error that crosses a package boundary is a *ReconcilerError carrying a
// category, a stable code, a human readable message, an optional suggestion and
// free-form context. Categories map onto CLI exit codes so that scripts driving
// the matcher can react to storage outages differently from bad input.
//
// Unmatched payments are not errors. Extraction and matching failures are
// recorded as match attempts and never surface through this package; only
// malformed input, storage problems, illegal state transitions and
// configuration mistakes do.
//
// Example usage:
//
//	if msg.TextBody == "" && msg.HTMLBody == "" {
//		return errors.InputError(errors.CodeMalformedMessage, "body", nil).
//			WithContext("unique_id", msg.UniqueID)
//	}
package errors

import (
	"fmt"
	"strings"

	"github.com/pkg/errors"
)

// ErrorCategory represents different categories of errors
type ErrorCategory string

const (
	CategoryInput         ErrorCategory = "input"
	CategoryExtraction    ErrorCategory = "extraction"
	CategoryMatching      ErrorCategory = "matching"
	CategoryStorage       ErrorCategory = "storage"
	CategoryValidation    ErrorCategory = "validation"
	CategoryConfiguration ErrorCategory = "configuration"
	CategoryInternal      ErrorCategory = "internal"
)

// ErrorCode represents specific error codes within categories
type ErrorCode string

const (
	// Input errors
	CodeMalformedMessage ErrorCode = "malformed_message"
	CodeDuplicateMessage ErrorCode = "duplicate_message"
	CodeUnreadableFile   ErrorCode = "unreadable_file"

	// Extraction errors
	CodeNoAmount        ErrorCode = "no_amount"
	CodeInvalidTemplate ErrorCode = "invalid_template"

	// Matching errors
	CodeNoCandidates ErrorCode = "no_candidates"
	CodeConflict     ErrorCode = "conflict"

	// Storage errors
	CodeNotFound        ErrorCode = "not_found"
	CodeQueryFailed     ErrorCode = "query_failed"
	CodeMigrationFailed ErrorCode = "migration_failed"

	// Validation errors
	CodeInvalidAmount     ErrorCode = "invalid_amount"
	CodeMissingField      ErrorCode = "missing_field"
	CodeIllegalTransition ErrorCode = "illegal_transition"

	// Configuration errors
	CodeInvalidConfig ErrorCode = "invalid_config"
	CodeMissingConfig ErrorCode = "missing_config"

	// Internal errors
	CodeUnexpectedError ErrorCode = "unexpected_error"
)

// ReconcilerError is the base error type for all application errors
type ReconcilerError struct {
	Category   ErrorCategory     `json:"category"`
	Code       ErrorCode         `json:"code"`
	Message    string            `json:"message"`
	Suggestion string            `json:"suggestion,omitempty"`
	Details    string            `json:"details,omitempty"`
	Context    Context           `json:"context,omitempty"`
	Cause      error             `json:"-"`
	StackTrace errors.StackTrace `json:"-"`
}

// Context provides additional information about the error
type Context map[string]interface{}

// Error implements the error interface
func (e *ReconcilerError) Error() string {
	msg := e.Message
	if e.Cause != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Cause)
	}
	if e.Suggestion != "" {
		return fmt.Sprintf("%s (suggestion: %s)", msg, e.Suggestion)
	}
	return msg
}

// Unwrap returns the underlying cause error
func (e *ReconcilerError) Unwrap() error {
	return e.Cause
}

// Is reports whether target is a ReconcilerError with the same category and code.
func (e *ReconcilerError) Is(target error) bool {
	t, ok := target.(*ReconcilerError)
	if !ok {
		return false
	}
	return e.Category == t.Category && e.Code == t.Code
}

// GetExitCode returns an appropriate exit code for the error
func (e *ReconcilerError) GetExitCode() int {
	switch e.Category {
	case CategoryInput:
		return 2
	case CategoryValidation, CategoryExtraction, CategoryMatching:
		return 3
	case CategoryConfiguration:
		return 4
	case CategoryStorage:
		return 5
	case CategoryInternal:
		return 6
	default:
		return 1
	}
}

// WithContext adds context information to the error
func (e *ReconcilerError) WithContext(key string, value interface{}) *ReconcilerError {
	if e.Context == nil {
		e.Context = make(Context)
	}
	e.Context[key] = value
	return e
}

// WithDetails attaches a multi-line explanation shown below the message
func (e *ReconcilerError) WithDetails(details string) *ReconcilerError {
	e.Details = details
	return e
}

// WithSuggestion adds a suggestion for fixing the error
func (e *ReconcilerError) WithSuggestion(suggestion string) *ReconcilerError {
	e.Suggestion = suggestion
	return e
}

// New creates a new ReconcilerError
func New(category ErrorCategory, code ErrorCode, message string) *ReconcilerError {
	return &ReconcilerError{
		Category:   category,
		Code:       code,
		Message:    message,
		StackTrace: errors.New("").(stackTracer).StackTrace(),
	}
}

// Wrap wraps an existing error with ReconcilerError context
func Wrap(err error, category ErrorCategory, code ErrorCode, message string) *ReconcilerError {
	if err == nil {
		return nil
	}

	return &ReconcilerError{
		Category:   category,
		Code:       code,
		Message:    message,
		Cause:      err,
		StackTrace: errors.WithStack(err).(stackTracer).StackTrace(),
	}
}

type stackTracer interface {
	StackTrace() errors.StackTrace
}

func build(category ErrorCategory, code ErrorCode, message, suggestion string, err error) *ReconcilerError {
	var result *ReconcilerError
	if err != nil {
		result = Wrap(err, category, code, message)
	} else {
		result = New(category, code, message)
	}
	return result.WithSuggestion(suggestion)
}

// InputError creates an error for raw input that cannot be processed
func InputError(code ErrorCode, field string, err error) *ReconcilerError {
	var message, suggestion string

	switch code {
	case CodeMalformedMessage:
		message = fmt.Sprintf("malformed message: %s", field)
		suggestion = "the transport must supply a text or HTML body"
	case CodeDuplicateMessage:
		message = fmt.Sprintf("message already processed: %s", field)
		suggestion = "no action needed, the earlier copy was reconciled"
	case CodeUnreadableFile:
		message = fmt.Sprintf("cannot read message file: %s", field)
		suggestion = "check that the file is an RFC 822 message or a JSON ingest record"
	default:
		message = fmt.Sprintf("invalid input: %s", field)
		suggestion = "check the message content"
	}

	return build(CategoryInput, code, message, suggestion, err).
		WithContext("field", field)
}

// ExtractionError creates an extraction or template related error
func ExtractionError(code ErrorCode, subject string, err error) *ReconcilerError {
	var message, suggestion string

	switch code {
	case CodeNoAmount:
		message = fmt.Sprintf("no amount extracted from %s", subject)
		suggestion = "add a bank template for this sender or retry with the HTML body"
	case CodeInvalidTemplate:
		message = fmt.Sprintf("invalid bank template %s", subject)
		suggestion = "fix the template definition; patterns need exactly one capture group"
	default:
		message = fmt.Sprintf("extraction error: %s", subject)
		suggestion = "inspect the attempt diagnostics"
	}

	return build(CategoryExtraction, code, message, suggestion, err).
		WithContext("subject", subject)
}

// MatchingError creates a matching related error
func MatchingError(code ErrorCode, requestID string, err error) *ReconcilerError {
	var message, suggestion string

	switch code {
	case CodeNoCandidates:
		message = "no pending request found"
		suggestion = "check that the payment request exists and has not expired"
	case CodeConflict:
		message = fmt.Sprintf("payment request %s was claimed concurrently", requestID)
		suggestion = "retry the message; the request is no longer pending"
	default:
		message = fmt.Sprintf("matching error for request %s", requestID)
		suggestion = "review the attempt log"
	}

	return build(CategoryMatching, code, message, suggestion, err).
		WithContext("request_id", requestID)
}

// StorageError creates a persistence related error
func StorageError(code ErrorCode, operation string, err error) *ReconcilerError {
	var message, suggestion string

	switch code {
	case CodeNotFound:
		message = fmt.Sprintf("record not found during %s", operation)
		suggestion = "check the identifier"
	case CodeQueryFailed:
		message = fmt.Sprintf("database query failed during %s", operation)
		suggestion = "check that the database file is writable and not locked"
	case CodeMigrationFailed:
		message = fmt.Sprintf("schema migration failed during %s", operation)
		suggestion = "restore the database from backup or remove the dirty migration flag"
	default:
		message = fmt.Sprintf("storage error during %s", operation)
		suggestion = "try again"
	}

	return build(CategoryStorage, code, message, suggestion, err).
		WithContext("operation", operation)
}

// ValidationError creates a validation-related error
func ValidationError(code ErrorCode, field string, value interface{}, err error) *ReconcilerError {
	var message, suggestion string

	switch code {
	case CodeInvalidAmount:
		message = fmt.Sprintf("invalid amount in field '%s': %v", field, value)
		suggestion = "amounts must be positive decimals such as '5000.00'"
	case CodeMissingField:
		message = fmt.Sprintf("required field '%s' is missing or empty", field)
		suggestion = "provide a value for this required field"
	case CodeIllegalTransition:
		message = fmt.Sprintf("illegal status transition for '%s': %v", field, value)
		suggestion = "requests only move pending→matched→approved, pending→expired or matched→rejected"
	default:
		message = fmt.Sprintf("validation error in field '%s': %v", field, value)
		suggestion = "check the field value and format"
	}

	return build(CategoryValidation, code, message, suggestion, err).
		WithContext("field", field).
		WithContext("value", value)
}

// ConfigurationError creates a configuration-related error
func ConfigurationError(code ErrorCode, setting string, value interface{}, err error) *ReconcilerError {
	var message, suggestion string

	switch code {
	case CodeInvalidConfig:
		message = fmt.Sprintf("invalid configuration for '%s': %v", setting, value)
		suggestion = "check the configuration documentation for valid values"
	case CodeMissingConfig:
		message = fmt.Sprintf("missing required configuration: %s", setting)
		suggestion = "set it in the config file or the PAYMATCH_ environment"
	default:
		message = fmt.Sprintf("configuration error: %s", setting)
		suggestion = "check your configuration and try again"
	}

	return build(CategoryConfiguration, code, message, suggestion, err).
		WithContext("setting", setting).
		WithContext("value", value)
}

// InternalError creates an internal error
func InternalError(code ErrorCode, operation string, err error) *ReconcilerError {
	message := fmt.Sprintf("unexpected error during %s", operation)
	return build(CategoryInternal, code, message, "this is likely a bug, please report it with the error details", err).
		WithContext("operation", operation)
}

// ErrorSummary provides a summary of multiple errors
type ErrorSummary struct {
	Total      int                   `json:"total"`
	ByCategory map[ErrorCategory]int `json:"by_category"`
	ByCode     map[ErrorCode]int     `json:"by_code"`
	Errors     []*ReconcilerError    `json:"errors"`
}

// NewErrorSummary creates a new error summary
func NewErrorSummary(errs []*ReconcilerError) *ErrorSummary {
	summary := &ErrorSummary{
		Total:      len(errs),
		ByCategory: make(map[ErrorCategory]int),
		ByCode:     make(map[ErrorCode]int),
		Errors:     errs,
	}
	for _, err := range errs {
		summary.ByCategory[err.Category]++
		summary.ByCode[err.Code]++
	}
	return summary
}

// Error returns a formatted error message for the summary
func (es *ErrorSummary) Error() string {
	if es.Total == 0 {
		return "no errors"
	}
	if es.Total == 1 {
		return es.Errors[0].Error()
	}

	var categories []string
	for category, count := range es.ByCategory {
		categories = append(categories, fmt.Sprintf("%s: %d", category, count))
	}
	return fmt.Sprintf("%d errors occurred (%s)", es.Total, strings.Join(categories, ", "))
}

// HasCode checks if the summary contains errors with the given code
func (es *ErrorSummary) HasCode(code ErrorCode) bool {
	return es.ByCode[code] > 0
}

// GetExitCode returns the highest priority exit code from all errors
func (es *ErrorSummary) GetExitCode() int {
	if es.Total == 0 {
		return 0
	}
	maxCode := 1
	for _, err := range es.Errors {
		if code := err.GetExitCode(); code > maxCode {
			maxCode = code
		}
	}
	return maxCode
}

// AsReconcilerError extracts a ReconcilerError from an error chain
func AsReconcilerError(err error) (*ReconcilerError, bool) {
	var reconcilerErr *ReconcilerError
	if errors.As(err, &reconcilerErr) {
		return reconcilerErr, true
	}
	return nil, false
}

// HasCode reports whether err carries a ReconcilerError with the given code.
func HasCode(err error, code ErrorCode) bool {
	re, ok := AsReconcilerError(err)
	return ok && re.Code == code
}

// Is reports whether any error in err's chain matches target
func Is(err, target error) bool {
	return errors.Is(err, target)
}
