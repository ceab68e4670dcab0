package services

import (
	"errors"
	"fmt"
)

// ErrorType represents the type/category of error
type ErrorType string

const (
	ErrorTypeNotFound     ErrorType = "not_found"
	ErrorTypeValidation   ErrorType = "validation"
	ErrorTypeUnauthorized ErrorType = "unauthorized"
	ErrorTypeRateLimit    ErrorType = "rate_limit"
	ErrorTypeInternal     ErrorType = "internal"
	ErrorTypeUnavailable  ErrorType = "unavailable"
)

// DomainError represents a structured error with additional context
type DomainError struct {
	Type    ErrorType
	Message string
	Err     error
	Details map[string]interface{}
}

// Error implements the error interface
func (e *DomainError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s (%v)", e.Type, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Type, e.Message)
}

// Unwrap implements errors.Unwrap
func (e *DomainError) Unwrap() error {
	return e.Err
}

// Is matches domain errors of the same type and message, so a wrapped copy of a
// sentinel still satisfies errors.Is against the sentinel.
func (e *DomainError) Is(target error) bool {
	t, ok := target.(*DomainError)
	if !ok {
		return false
	}
	return e.Type == t.Type && e.Message == t.Message
}

// WithDetail returns a copy of the error carrying an extra detail.
// Sentinels are never mutated.
func (e *DomainError) WithDetail(key string, value interface{}) *DomainError {
	cp := &DomainError{
		Type:    e.Type,
		Message: e.Message,
		Err:     e.Err,
		Details: make(map[string]interface{}, len(e.Details)+1),
	}
	for k, v := range e.Details {
		cp.Details[k] = v
	}
	cp.Details[key] = value
	return cp
}

// Wrap returns a copy of the sentinel with err as its cause.
func (e *DomainError) Wrap(err error) *DomainError {
	return &DomainError{
		Type:    e.Type,
		Message: e.Message,
		Err:     err,
		Details: e.Details,
	}
}

// NewDomainError creates a new domain error
func NewDomainError(errType ErrorType, message string, err error) *DomainError {
	return &DomainError{
		Type:    errType,
		Message: message,
		Err:     err,
		Details: make(map[string]interface{}),
	}
}

// Domain error variables

var (
	// Authentication errors (401)
	ErrUnauthenticated  = NewDomainError(ErrorTypeUnauthorized, "missing or malformed access token", nil)
	ErrInvalidSignature = NewDomainError(ErrorTypeUnauthorized, "invalid token signature", nil)
	ErrTokenExpired     = NewDomainError(ErrorTypeUnauthorized, "access token expired", nil)
	ErrIssuerMismatch   = NewDomainError(ErrorTypeUnauthorized, "token issuer mismatch", nil)

	// Validation errors (400)
	ErrInvalidInput     = NewDomainError(ErrorTypeValidation, "invalid input", nil)
	ErrMissingEmail     = NewDomainError(ErrorTypeValidation, "email not found in token", nil)
	ErrMissingTenant    = NewDomainError(ErrorTypeValidation, "tenant is required", nil)
	ErrEmailNotVerified = NewDomainError(ErrorTypeValidation, "email not verified, please verify your email before continuing", nil)

	// Not found errors (404)
	ErrTenantNotFound = NewDomainError(ErrorTypeNotFound, "tenant not found", nil)
	ErrUserNotFound   = NewDomainError(ErrorTypeNotFound, "user not found", nil)

	// Rate limit errors (429)
	ErrRateLimited = NewDomainError(ErrorTypeRateLimit, "too many requests", nil)

	// Internal errors (500)
	ErrInternal    = NewDomainError(ErrorTypeInternal, "internal server error", nil)
	ErrSyncFailed  = NewDomainError(ErrorTypeInternal, "failed to provision user", nil)
	ErrUnavailable = NewDomainError(ErrorTypeUnavailable, "upstream service unavailable", nil)
)

// Error type checking helper functions

// IsNotFoundError checks if an error is a not found error
func IsNotFoundError(err error) bool {
	return GetErrorType(err) == ErrorTypeNotFound
}

// IsValidationError checks if an error is a validation error
func IsValidationError(err error) bool {
	return GetErrorType(err) == ErrorTypeValidation
}

// IsUnauthorizedError checks if an error is an unauthorized error
func IsUnauthorizedError(err error) bool {
	return GetErrorType(err) == ErrorTypeUnauthorized
}

// IsRateLimitError checks if an error is a rate limit error
func IsRateLimitError(err error) bool {
	return GetErrorType(err) == ErrorTypeRateLimit
}

// IsInternalError checks if an error is an internal error
func IsInternalError(err error) bool {
	return GetErrorType(err) == ErrorTypeInternal
}

// IsUnavailableError checks if an error is caused by an unreachable or slow upstream
func IsUnavailableError(err error) bool {
	return GetErrorType(err) == ErrorTypeUnavailable
}

// GetErrorType returns the ErrorType of a domain error, or empty string if not a domain error
func GetErrorType(err error) ErrorType {
	var domainErr *DomainError
	if errors.As(err, &domainErr) {
		return domainErr.Type
	}
	return ""
}

// GetErrorDetails returns the details map of a domain error, or nil if not a domain error
func GetErrorDetails(err error) map[string]interface{} {
	var domainErr *DomainError
	if errors.As(err, &domainErr) {
		return domainErr.Details
	}
	return nil
}

// WrapInternal wraps an error as an internal error
func WrapInternal(message string, err error) error {
	return NewDomainError(ErrorTypeInternal, message, err)
}

// WrapUnavailable wraps an upstream connectivity or timeout error
func WrapUnavailable(err error) error {
	return ErrUnavailable.Wrap(err)
}
