package services

import (
	"context"
	"errors"
	"fmt"
)

// ErrorType represents the type/category of error
type ErrorType string

const (
	ErrorTypeValidation   ErrorType = "validation"
	ErrorTypeEmbedding    ErrorType = "embedding"
	ErrorTypeRetrieval    ErrorType = "retrieval"
	ErrorTypeGeneration   ErrorType = "generation"
	ErrorTypeUnauthorized ErrorType = "unauthorized"
	ErrorTypeRateLimit    ErrorType = "rate_limit"
	ErrorTypeInternal     ErrorType = "internal"
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

// Is implements errors.Is; two domain errors match when their types match
func (e *DomainError) Is(target error) bool {
	t, ok := target.(*DomainError)
	if !ok {
		return false
	}
	return e.Type == t.Type
}

// WithDetail adds a detail to the error
func (e *DomainError) WithDetail(key string, value interface{}) *DomainError {
	if e.Details == nil {
		e.Details = make(map[string]interface{})
	}
	e.Details[key] = value
	return e
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

// Sentinels for errors.Is comparisons. Do not attach details to these; build a
// fresh error with NewDomainError instead.
var (
	ErrEmptyQuery      = NewDomainError(ErrorTypeValidation, "query cannot be empty", nil)
	ErrQueryTooLong    = NewDomainError(ErrorTypeValidation, "query exceeds maximum length", nil)
	ErrInvalidEncoding = NewDomainError(ErrorTypeValidation, "query is not valid UTF-8", nil)

	ErrEmbeddingFailed = NewDomainError(ErrorTypeEmbedding, "embedding service failed", nil)
	ErrEmptyEmbedding  = NewDomainError(ErrorTypeEmbedding, "embedding service returned an empty vector", nil)

	ErrIndexUnavailable = NewDomainError(ErrorTypeRetrieval, "vector index unavailable", nil)

	ErrGenerationFailed  = NewDomainError(ErrorTypeGeneration, "language model failed", nil)
	ErrGenerationTimeout = NewDomainError(ErrorTypeGeneration, "language model timed out", nil)
)

// Error type checking helper functions

func hasType(err error, errType ErrorType) bool {
	var domainErr *DomainError
	if errors.As(err, &domainErr) {
		return domainErr.Type == errType
	}
	return false
}

// IsValidationError checks if an error is a validation error
func IsValidationError(err error) bool {
	return hasType(err, ErrorTypeValidation)
}

// IsEmbeddingError checks if an error came from the embedding step
func IsEmbeddingError(err error) bool {
	return hasType(err, ErrorTypeEmbedding)
}

// IsRetrievalError checks if an error came from the vector index
func IsRetrievalError(err error) bool {
	return hasType(err, ErrorTypeRetrieval)
}

// IsGenerationError checks if an error came from the language model
func IsGenerationError(err error) bool {
	return hasType(err, ErrorTypeGeneration)
}

// IsUnauthorizedError checks if an error is an unauthorized error
func IsUnauthorizedError(err error) bool {
	return hasType(err, ErrorTypeUnauthorized)
}

// IsRateLimitError checks if an error is a rate limit error
func IsRateLimitError(err error) bool {
	return hasType(err, ErrorTypeRateLimit)
}

// IsTimeout reports whether the error chain ends in a context deadline
func IsTimeout(err error) bool {
	return errors.Is(err, context.DeadlineExceeded)
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

// WrapEmbedding wraps an error as an embedding error
func WrapEmbedding(message string, err error) *DomainError {
	return NewDomainError(ErrorTypeEmbedding, message, err)
}

// WrapRetrieval wraps an error as a retrieval error
func WrapRetrieval(message string, err error) *DomainError {
	return NewDomainError(ErrorTypeRetrieval, message, err)
}

// WrapGeneration wraps an error as a generation error
func WrapGeneration(message string, err error) *DomainError {
	return NewDomainError(ErrorTypeGeneration, message, err)
}

// WrapInternal wraps an error as an internal error
func WrapInternal(message string, err error) *DomainError {
	return NewDomainError(ErrorTypeInternal, message, err)
}
