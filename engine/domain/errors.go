package domain

import (
	"errors"
	"fmt"
)

// Sentinel errors forming the closed failure taxonomy of the pipeline.
var (
	ErrAuthDenied        = errors.New("credential denied")
	ErrInvalidQuery      = errors.New("invalid query")
	ErrQuestionMissing   = errors.New("question is required")
	ErrQuestionTooLong   = errors.New("question too long")
	ErrTopKOutOfRange    = errors.New("top_k out of range")
	ErrRetrievalTimeout  = errors.New("retrieval timed out")
	ErrRetrievalFailure  = errors.New("retrieval failed")
	ErrGenerationTimeout = errors.New("generation timed out")
	ErrGenerationFailure = errors.New("generation failed")
	ErrInternal          = errors.New("internal error")
)

// ValidationError wraps a sentinel with the offending field.
type ValidationError struct {
	Field   string
	Value   string
	Wrapped error
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation: %s: %s (value=%q)", e.Field, e.Wrapped, e.Value)
}

func (e *ValidationError) Unwrap() error { return e.Wrapped }

// NewValidationError creates a ValidationError.
func NewValidationError(field, value string, wrapped error) *ValidationError {
	return &ValidationError{Field: field, Value: value, Wrapped: wrapped}
}
