package project

import (
	"errors"
	"fmt"
)

// ErrorCode identifies well-known domain error categories for projects.
type ErrorCode string

const (
	ErrCodeValidation ErrorCode = "VALIDATION_ERROR"
	ErrCodeDuplicate  ErrorCode = "DUPLICATE_STEP"
	ErrCodeNotFound   ErrorCode = "NOT_FOUND"
	ErrCodeMissing    ErrorCode = "MISSING_REQUIRED"
	ErrCodeLanguage   ErrorCode = "UNSUPPORTED_LANGUAGE"
)

// DomainError represents a typed error enriched with contextual data while
// remaining free from infrastructure dependencies.
type DomainError struct {
	Code    ErrorCode
	Message string
	Cause   error
	Context map[string]interface{}
}

// Error implements the error interface.
func (e *DomainError) Error() string {
	if e == nil {
		return "<nil>"
	}
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap exposes the wrapped cause for errors.Is / errors.As usage.
func (e *DomainError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Cause
}

// Is matches another DomainError with the same code and message.
func (e *DomainError) Is(target error) bool {
	var domainErr *DomainError
	if !errors.As(target, &domainErr) {
		return false
	}
	return e.Code == domainErr.Code && e.Message == domainErr.Message
}

// WithContext clones the error with additional contextual metadata.
func (e *DomainError) WithContext(ctx map[string]interface{}) *DomainError {
	if e == nil {
		return nil
	}
	merged := make(map[string]interface{}, len(e.Context)+len(ctx))
	for k, v := range e.Context {
		merged[k] = v
	}
	for k, v := range ctx {
		merged[k] = v
	}
	return &DomainError{
		Code:    e.Code,
		Message: e.Message,
		Cause:   e.Cause,
		Context: merged,
	}
}

func newDomainError(code ErrorCode, message string, context map[string]interface{}) *DomainError {
	return &DomainError{Code: code, Message: message, Context: context}
}

func newMissingFieldError(field string) *DomainError {
	return newDomainError(ErrCodeMissing, fmt.Sprintf("missing required field %q", field), map[string]interface{}{"field": field})
}

func newDuplicateError(name string) *DomainError {
	return newDomainError(ErrCodeDuplicate, fmt.Sprintf("duplicate step %q", name), map[string]interface{}{"step": name})
}

func newNotFoundError(name string) *DomainError {
	return newDomainError(ErrCodeNotFound, fmt.Sprintf("step %q not found", name), map[string]interface{}{"step": name})
}
