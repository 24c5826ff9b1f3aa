// Package errors provides structured error types for bundlefix.
package errors

import (
	stderrors "errors"
	"fmt"
	"time"
)

// ErrorCode identifies specific error conditions
type ErrorCode string

const (
	ErrCodeValidation    ErrorCode = "VALIDATION_ERROR"
	ErrCodeNotFound      ErrorCode = "NOT_FOUND"
	ErrCodeLocked        ErrorCode = "STATE_LOCKED"
	ErrCodeBackend       ErrorCode = "BACKEND_ERROR"
	ErrCodeParse         ErrorCode = "PARSE_ERROR"
	ErrCodeInvariant     ErrorCode = "STRUCTURAL_INVARIANT_VIOLATION"
	ErrCodeSerialization ErrorCode = "SERIALIZATION_ERROR"
	ErrCodeConflict      ErrorCode = "REVISION_CONFLICT"
)

// Error is the base error type for bundlefix
type Error struct {
	Code    ErrorCode
	Message string
	Cause   error
	Details map[string]interface{}
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// New creates a new error with the given code and message
func New(code ErrorCode, message string) *Error {
	return &Error{
		Code:    code,
		Message: message,
		Details: make(map[string]interface{}),
	}
}

// Wrap creates a new error wrapping an existing error
func Wrap(code ErrorCode, message string, cause error) *Error {
	return &Error{
		Code:    code,
		Message: message,
		Cause:   cause,
		Details: make(map[string]interface{}),
	}
}

// WithDetail adds a single detail to an error
func (e *Error) WithDetail(key string, value interface{}) *Error {
	e.Details[key] = value
	return e
}

// ValidationError creates a validation error
func ValidationError(message string, details map[string]interface{}) *Error {
	if details == nil {
		details = make(map[string]interface{})
	}
	return &Error{
		Code:    ErrCodeValidation,
		Message: message,
		Details: details,
	}
}

// NotFoundError creates a not found error
func NotFoundError(resourceType, name string) *Error {
	return &Error{
		Code:    ErrCodeNotFound,
		Message: fmt.Sprintf("%s %q not found", resourceType, name),
		Details: map[string]interface{}{
			"resource_type": resourceType,
			"name":          name,
		},
	}
}

// LockInfo contains metadata about a lock
type LockInfo struct {
	ID        string
	Path      string
	Who       string
	Operation string
	Created   time.Time
}

// StateLocked creates a state locked error
func StateLocked(lockInfo LockInfo) *Error {
	return &Error{
		Code:    ErrCodeLocked,
		Message: "document is locked",
		Details: map[string]interface{}{
			"lock_id":   lockInfo.ID,
			"path":      lockInfo.Path,
			"locked_by": lockInfo.Who,
			"operation": lockInfo.Operation,
			"created":   lockInfo.Created,
		},
	}
}

// RevisionConflict reports a save against a revision that is no longer current.
func RevisionConflict(project string, expected, actual int) *Error {
	return &Error{
		Code:    ErrCodeConflict,
		Message: fmt.Sprintf("project %q is at revision %d, expected %d", project, actual, expected),
		Details: map[string]interface{}{
			"project":  project,
			"expected": expected,
			"actual":   actual,
		},
	}
}

// ParseError creates a parse error
func ParseError(filePath string, err error) *Error {
	return &Error{
		Code:    ErrCodeParse,
		Message: fmt.Sprintf("failed to parse %s", filePath),
		Cause:   err,
		Details: map[string]interface{}{
			"file": filePath,
		},
	}
}

// BackendError creates a backend error
func BackendError(backend string, operation string, err error) *Error {
	return &Error{
		Code:    ErrCodeBackend,
		Message: fmt.Sprintf("backend %s failed during %s", backend, operation),
		Cause:   err,
		Details: map[string]interface{}{
			"backend":   backend,
			"operation": operation,
		},
	}
}

// InvariantViolation reports a broken structural invariant in a site graph.
// These are never retried: they point at a data or logic bug.
func InvariantViolation(message string, details map[string]interface{}) *Error {
	if details == nil {
		details = make(map[string]interface{})
	}
	return &Error{
		Code:    ErrCodeInvariant,
		Message: message,
		Details: details,
	}
}

// SerializationError creates an error for a bundle that failed to encode or decode.
func SerializationError(operation string, err error) *Error {
	return &Error{
		Code:    ErrCodeSerialization,
		Message: fmt.Sprintf("bundle %s failed", operation),
		Cause:   err,
		Details: map[string]interface{}{
			"operation": operation,
		},
	}
}

// Is reports whether any error in err's chain is an *Error with the given code.
func Is(err error, code ErrorCode) bool {
	var e *Error
	for err != nil {
		if !stderrors.As(err, &e) {
			return false
		}
		if e.Code == code {
			return true
		}
		err = e.Cause
	}
	return false
}
