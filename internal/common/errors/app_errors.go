// Package errors provides the structured error type shared by the FOIA Coach packages
package errors

import (
	"errors"
	"fmt"
	"runtime"
	"strings"
)

// ErrorDomain represents the component where an error originated
type ErrorDomain string

const (
	// ErrorDomainConfig represents errors from the configuration system
	ErrorDomainConfig ErrorDomain = "config"

	// ErrorDomainProvider represents errors from RAG provider backends
	ErrorDomainProvider ErrorDomain = "provider"

	// ErrorDomainCoach represents errors from the query orchestrator
	ErrorDomainCoach ErrorDomain = "coach"

	// ErrorDomainStorage represents errors from the database or file storage
	ErrorDomainStorage ErrorDomain = "storage"

	// ErrorDomainValidation represents request validation failures
	ErrorDomainValidation ErrorDomain = "validation"

	// ErrorDomainHTTP represents errors from outbound HTTP calls
	ErrorDomainHTTP ErrorDomain = "http"

	// ErrorDomainInternal represents internal application errors
	ErrorDomainInternal ErrorDomain = "internal"
)

// Error codes used across packages.
const (
	CodeNoResources         = "no_resources"
	CodeProviderUnavailable = "provider_unavailable"
	CodeInvalidField        = "invalid_field"
	CodeNotFound            = "not_found"
	CodeQueueFailure        = "queue_failure"
	CodeStorageFailed       = "storage_failed"
)

// DataKeyField is the Data key holding the offending field of a validation error.
const DataKeyField = "field"

// DomainError is the central error type for the application,
// providing structured information about the error context
type DomainError struct {
	// Domain is the component where the error originated
	Domain ErrorDomain

	// Code is a machine-readable identifier for the error type
	Code string

	// Message is a human-readable description of the error
	Message string

	// Cause is the underlying error that led to this error
	Cause error

	// Stack contains the stack trace at the point of error creation
	Stack string

	// Data contains additional contextual data about the error
	Data map[string]interface{}
}

// Error implements the error interface
func (e *DomainError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s:%s] %s: %v", e.Domain, e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s:%s] %s", e.Domain, e.Code, e.Message)
}

// Unwrap returns the underlying cause
func (e *DomainError) Unwrap() error {
	return e.Cause
}

// WithData adds contextual data to the error
func (e *DomainError) WithData(key string, value interface{}) *DomainError {
	if e.Data == nil {
		e.Data = make(map[string]interface{})
	}
	e.Data[key] = value
	return e
}

// NewDomainError creates a new DomainError with the given domain, code, and message
func NewDomainError(domain ErrorDomain, code, message string) *DomainError {
	return &DomainError{
		Domain:  domain,
		Code:    code,
		Message: message,
		Stack:   captureStack(2),
	}
}

// WrapWithDomain creates a new DomainError that wraps an existing error
func WrapWithDomain(err error, domain ErrorDomain, code, message string) *DomainError {
	if err == nil {
		return nil
	}
	return &DomainError{
		Domain:  domain,
		Code:    code,
		Message: message,
		Cause:   err,
		Stack:   captureStack(2),
	}
}

// NewDomainErrorf creates a new DomainError with formatted message
func NewDomainErrorf(domain ErrorDomain, code string, format string, args ...interface{}) *DomainError {
	return NewDomainError(domain, code, fmt.Sprintf(format, args...))
}

// IsDomainError checks if an error is a DomainError
func IsDomainError(err error) bool {
	var domainErr *DomainError
	return errors.As(err, &domainErr)
}

// GetDomain extracts the domain from an error if it's a DomainError
func GetDomain(err error) (ErrorDomain, bool) {
	var domainErr *DomainError
	if errors.As(err, &domainErr) {
		return domainErr.Domain, true
	}
	return "", false
}

// GetErrorCode extracts the code from an error if it's a DomainError
func GetErrorCode(err error) (string, bool) {
	var domainErr *DomainError
	if errors.As(err, &domainErr) {
		return domainErr.Code, true
	}
	return "", false
}

// GetErrorData extracts data from an error if it's a DomainError
func GetErrorData(err error, key string) (interface{}, bool) {
	var domainErr *DomainError
	if errors.As(err, &domainErr) && domainErr.Data != nil {
		val, ok := domainErr.Data[key]
		return val, ok
	}
	return nil, false
}

func captureStack(skip int) string {
	const depth = 32
	var pcs [depth]uintptr
	n := runtime.Callers(skip+1, pcs[:])
	frames := runtime.CallersFrames(pcs[:n])

	var sb strings.Builder
	for {
		frame, more := frames.Next()
		fmt.Fprintf(&sb, "%s\n\t%s:%d\n", frame.Function, frame.File, frame.Line)
		if !more {
			break
		}
	}
	return sb.String()
}

// NewConfigError creates a new error in the config domain
func NewConfigError(code, message string) *DomainError {
	return NewDomainError(ErrorDomainConfig, code, message)
}

// NewConfigErrorf creates a new formatted error in the config domain
func NewConfigErrorf(code string, format string, args ...interface{}) *DomainError {
	return NewDomainErrorf(ErrorDomainConfig, code, format, args...)
}

// WrapConfigError wraps an error in the config domain
func WrapConfigError(err error, code, message string) *DomainError {
	return WrapWithDomain(err, ErrorDomainConfig, code, message)
}

// NewCoachErrorf creates a new formatted error in the coach domain
func NewCoachErrorf(code string, format string, args ...interface{}) *DomainError {
	return NewDomainErrorf(ErrorDomainCoach, code, format, args...)
}

// NewStorageError creates a new error in the storage domain
func NewStorageError(code, message string) *DomainError {
	return NewDomainError(ErrorDomainStorage, code, message)
}

// WrapStorageError wraps an error in the storage domain
func WrapStorageError(err error, code, message string) *DomainError {
	return WrapWithDomain(err, ErrorDomainStorage, code, message)
}

// NewValidationError creates a field-scoped validation error
func NewValidationError(field, message string) *DomainError {
	return NewDomainError(ErrorDomainValidation, CodeInvalidField, message).WithData(DataKeyField, field)
}

// NewValidationErrorf creates a formatted field-scoped validation error
func NewValidationErrorf(field, format string, args ...interface{}) *DomainError {
	return NewValidationError(field, fmt.Sprintf(format, args...))
}

// IsValidationError reports whether err is a field-scoped validation error
// and returns the field name.
func IsValidationError(err error) (string, bool) {
	var domainErr *DomainError
	if !errors.As(err, &domainErr) || domainErr.Domain != ErrorDomainValidation {
		return "", false
	}
	field, _ := domainErr.Data[DataKeyField].(string)
	return field, true
}

// NewHTTPErrorf creates a new formatted error in the HTTP domain
func NewHTTPErrorf(code string, format string, args ...interface{}) *DomainError {
	return NewDomainErrorf(ErrorDomainHTTP, code, format, args...)
}

// WrapHTTPError wraps an error in the HTTP domain
func WrapHTTPError(err error, code, message string) *DomainError {
	return WrapWithDomain(err, ErrorDomainHTTP, code, message)
}

// WrapInternalError wraps an error in the internal domain
func WrapInternalError(err error, code, message string) *DomainError {
	return WrapWithDomain(err, ErrorDomainInternal, code, message)
}
