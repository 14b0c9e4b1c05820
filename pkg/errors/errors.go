package errors

import (
	"fmt"
	"strings"

	"github.com/pkg/errors"
)

// ErrorCategory represents different categories of errors
type ErrorCategory string

const (
	CategoryFile          ErrorCategory = "file"
	CategoryParse         ErrorCategory = "parse"
	CategoryValidation    ErrorCategory = "validation"
	CategoryConfiguration ErrorCategory = "configuration"
	CategoryStorage       ErrorCategory = "storage"
	CategoryIngestion     ErrorCategory = "ingestion"
	CategoryInternal      ErrorCategory = "internal"
)

// ErrorCode represents specific error codes within categories
type ErrorCode string

const (
	// File errors
	CodeFileNotFound   ErrorCode = "file_not_found"
	CodeFilePermission ErrorCode = "file_permission"

	// Parse errors
	CodeMalformedTable ErrorCode = "malformed_table"
	CodeEncodingError  ErrorCode = "encoding_error"

	// Validation errors
	CodeRowRejected  ErrorCode = "row_rejected"
	CodeMissingField ErrorCode = "missing_field"
	CodeInvalidValue ErrorCode = "invalid_value"

	// Configuration errors
	CodeInvalidConfig ErrorCode = "invalid_config"
	CodeMissingConfig ErrorCode = "missing_config"

	// Storage errors
	CodeStoreNotFound    ErrorCode = "store_not_found"
	CodeStoreUnavailable ErrorCode = "store_unavailable"
	CodeRecordNotFound   ErrorCode = "record_not_found"
	CodeLockNotObtained  ErrorCode = "lock_not_obtained"

	// Ingestion errors
	CodeIngestionFailed ErrorCode = "ingestion_failed"

	// Internal errors
	CodeUnexpectedError ErrorCode = "unexpected_error"
	CodeCancelled       ErrorCode = "cancelled"
)

// ReconcilerError is the base error type for all application errors
type ReconcilerError struct {
	Category   ErrorCategory     `json:"category"`
	Code       ErrorCode         `json:"code"`
	Message    string            `json:"message"`
	Suggestion string            `json:"suggestion,omitempty"`
	Context    Context           `json:"context,omitempty"`
	Cause      error             `json:"-"`
	StackTrace errors.StackTrace `json:"-"`
}

// Context provides additional information about the error
type Context map[string]interface{}

// Error implements the error interface
func (e *ReconcilerError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

// Unwrap returns the underlying cause error
func (e *ReconcilerError) Unwrap() error {
	return e.Cause
}

// Is matches another ReconcilerError by code, so sentinel comparisons such as
// errors.Is(err, ErrRecordNotFound) work through wrapping.
func (e *ReconcilerError) Is(target error) bool {
	t, ok := target.(*ReconcilerError)
	if !ok {
		return false
	}
	return t.Code != "" && t.Code == e.Code
}

// GetExitCode returns an appropriate exit code for the error
func (e *ReconcilerError) GetExitCode() int {
	switch e.Category {
	case CategoryFile:
		return 2
	case CategoryParse, CategoryValidation:
		return 3
	case CategoryConfiguration:
		return 4
	case CategoryIngestion, CategoryInternal:
		return 5
	case CategoryStorage:
		if e.Code == CodeRecordNotFound {
			return 7
		}
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

// stackTracer interface for extracting stack traces
type stackTracer interface {
	StackTrace() errors.StackTrace
}

// Sentinels for errors.Is comparisons
var (
	ErrStoreNotFound    = &ReconcilerError{Category: CategoryStorage, Code: CodeStoreNotFound, Message: "object not found"}
	ErrStoreUnavailable = &ReconcilerError{Category: CategoryStorage, Code: CodeStoreUnavailable, Message: "store unavailable"}
	ErrRecordNotFound   = &ReconcilerError{Category: CategoryStorage, Code: CodeRecordNotFound, Message: "record not found"}
	ErrMalformedTable   = &ReconcilerError{Category: CategoryParse, Code: CodeMalformedTable, Message: "malformed table"}
	ErrLockNotObtained  = &ReconcilerError{Category: CategoryStorage, Code: CodeLockNotObtained, Message: "lock not obtained"}
)

// Specific error constructors

// FileError creates a file-related error
func FileError(code ErrorCode, path string, err error) *ReconcilerError {
	var message string
	var suggestion string

	switch code {
	case CodeFileNotFound:
		message = fmt.Sprintf("file not found: %s", path)
		suggestion = "check if the file path is correct and the file exists"
	case CodeFilePermission:
		message = fmt.Sprintf("permission denied accessing file: %s", path)
		suggestion = "check file permissions and ensure you have read access"
	default:
		message = fmt.Sprintf("file error: %s", path)
		suggestion = "check the file and try again"
	}

	return newOrWrap(err, CategoryFile, code, message).
		WithSuggestion(suggestion).
		WithContext("file_path", path)
}

// MalformedTableError reports a byte stream the table codec could not decode at all
func MalformedTableError(format string, err error) *ReconcilerError {
	return newOrWrap(err, CategoryParse, CodeMalformedTable, fmt.Sprintf("cannot decode %s table", format)).
		WithSuggestion("verify the file is a valid spreadsheet export with one header row").
		WithContext("format", format)
}

// ConfigurationError creates a configuration-related error
func ConfigurationError(code ErrorCode, setting string, value interface{}, err error) *ReconcilerError {
	var message string
	var suggestion string

	switch code {
	case CodeInvalidConfig:
		message = fmt.Sprintf("invalid configuration for '%s': %v", setting, value)
		suggestion = "check the configuration documentation for valid values"
	case CodeMissingConfig:
		message = fmt.Sprintf("missing required configuration: %s", setting)
		suggestion = "provide this configuration setting or use a config file"
	default:
		message = fmt.Sprintf("configuration error: %s", setting)
		suggestion = "check your configuration and try again"
	}

	return newOrWrap(err, CategoryConfiguration, code, message).
		WithSuggestion(suggestion).
		WithContext("setting", setting).
		WithContext("value", value)
}

// ValidationError creates a validation-related error
func ValidationError(code ErrorCode, field string, value interface{}, err error) *ReconcilerError {
	var message string

	switch code {
	case CodeMissingField:
		message = fmt.Sprintf("required field '%s' is missing or empty", field)
	case CodeInvalidValue:
		message = fmt.Sprintf("invalid value for '%s': %v", field, value)
	default:
		message = fmt.Sprintf("validation error in field '%s': %v", field, value)
	}

	return newOrWrap(err, CategoryValidation, code, message).
		WithContext("field", field).
		WithContext("value", value)
}

// StorageError creates a backing-store error for the given path
func StorageError(code ErrorCode, operation, path string, err error) *ReconcilerError {
	var message string
	var suggestion string

	switch code {
	case CodeStoreNotFound:
		message = fmt.Sprintf("%s: object not found at %s", operation, path)
	case CodeStoreUnavailable:
		message = fmt.Sprintf("%s failed for %s", operation, path)
		suggestion = "check storage credentials, permissions and connectivity"
	case CodeLockNotObtained:
		message = fmt.Sprintf("%s: another writer holds %s", operation, path)
		suggestion = "wait for the running ingestion for this platform to finish and retry"
	default:
		message = fmt.Sprintf("storage error during %s on %s", operation, path)
	}

	result := newOrWrap(err, CategoryStorage, code, message).
		WithContext("operation", operation).
		WithContext("path", path)
	if suggestion != "" {
		result.WithSuggestion(suggestion)
	}
	return result
}

// RecordNotFoundError reports an identity key absent from a ledger
func RecordNotFoundError(path, key string) *ReconcilerError {
	return New(CategoryStorage, CodeRecordNotFound, fmt.Sprintf("record %s not found in %s", key, path)).
		WithSuggestion("check the order id and sub-order id; the order must be ingested before it can be updated").
		WithContext("path", path).
		WithContext("key", key)
}

// IngestionError wraps a failure of one ingestion step
func IngestionError(operation string, err error) *ReconcilerError {
	return newOrWrap(err, CategoryIngestion, CodeIngestionFailed, fmt.Sprintf("ingestion failed during %s", operation)).
		WithContext("operation", operation)
}

// InternalError creates an internal error
func InternalError(code ErrorCode, operation string, err error) *ReconcilerError {
	var message string
	var suggestion string

	switch code {
	case CodeCancelled:
		message = fmt.Sprintf("%s cancelled", operation)
		suggestion = "nothing was persisted; rerun the command"
	case CodeUnexpectedError:
		message = fmt.Sprintf("unexpected error during %s", operation)
		suggestion = "this is likely a bug - please report it with the error details"
	default:
		message = fmt.Sprintf("internal error during %s", operation)
		suggestion = "try again or contact support if the problem persists"
	}

	return newOrWrap(err, CategoryInternal, code, message).
		WithSuggestion(suggestion).
		WithContext("operation", operation)
}

func newOrWrap(err error, category ErrorCategory, code ErrorCode, message string) *ReconcilerError {
	if err != nil {
		return Wrap(err, category, code, message)
	}
	return New(category, code, message)
}

// ErrorSummary provides a summary of multiple errors
type ErrorSummary struct {
	Total        int                   `json:"total"`
	ByCategory   map[ErrorCategory]int `json:"by_category"`
	ByCode       map[ErrorCode]int     `json:"by_code"`
	Errors       []*ReconcilerError    `json:"errors"`
	SampleErrors []*ReconcilerError    `json:"sample_errors,omitempty"`
}

// NewErrorSummary creates a new error summary
func NewErrorSummary(errs []*ReconcilerError) *ErrorSummary {
	summary := &ErrorSummary{
		Total:      len(errs),
		ByCategory: make(map[ErrorCategory]int),
		ByCode:     make(map[ErrorCode]int),
		Errors:     errs,
	}
	if len(errs) == 0 {
		summary.Errors = []*ReconcilerError{}
		return summary
	}

	for _, err := range errs {
		summary.ByCategory[err.Category]++
		summary.ByCode[err.Code]++
	}

	maxSamples := 5
	if len(errs) > maxSamples {
		summary.SampleErrors = errs[:maxSamples]
	} else {
		summary.SampleErrors = errs
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

	var codes []string
	for code, count := range es.ByCode {
		codes = append(codes, fmt.Sprintf("%s: %d", code, count))
	}

	return fmt.Sprintf("%d errors occurred (%s)", es.Total, strings.Join(codes, ", "))
}

// HasCode checks if the summary contains errors with the given code
func (es *ErrorSummary) HasCode(code ErrorCode) bool {
	return es.ByCode[code] > 0
}

// Utility functions

// Is reports whether any error in err's chain matches target
func Is(err, target error) bool {
	return errors.Is(err, target)
}

// As finds the first error in err's chain that matches target
func As(err error, target interface{}) bool {
	return errors.As(err, target)
}

// AsReconcilerError extracts a ReconcilerError from an error chain
func AsReconcilerError(err error) (*ReconcilerError, bool) {
	var reconcilerErr *ReconcilerError
	if errors.As(err, &reconcilerErr) {
		return reconcilerErr, true
	}
	return nil, false
}

// HasCode reports whether any ReconcilerError in the chain carries code
func HasCode(err error, code ErrorCode) bool {
	for err != nil {
		if re, ok := err.(*ReconcilerError); ok && re.Code == code {
			return true
		}
		err = errors.Unwrap(err)
	}
	return false
}

// IsRecordNotFound reports whether err is a RecordNotFound error
func IsRecordNotFound(err error) bool {
	return HasCode(err, CodeRecordNotFound)
}

// WrapIfNeeded wraps an error if it's not already a ReconcilerError
func WrapIfNeeded(err error, category ErrorCategory, code ErrorCode, message string) *ReconcilerError {
	if err == nil {
		return nil
	}

	if reconcilerErr, ok := AsReconcilerError(err); ok {
		return reconcilerErr
	}

	return Wrap(err, category, code, message)
}
