package domain

import "errors"

// Common domain errors
var (
	// Run errors
	ErrRunNotFound    = errors.New("optimization run not found")
	ErrPromptNotFound = errors.New("prompt candidate not found")

	// Pipeline errors
	ErrOracleFailure      = errors.New("oracle call failed")
	ErrSchemaMismatch     = errors.New("oracle response does not match schema")
	ErrInvalidConfig      = errors.New("invalid configuration")
	ErrInvariantViolation = errors.New("invariant violation")
	ErrEmptyStage         = errors.New("no scored candidates in stage")

	// Validation errors
	ErrInvalidID    = errors.New("invalid ID format")
	ErrInvalidInput = errors.New("invalid input")
)

// DomainError wraps a domain error with additional context
type DomainError struct {
	Err     error
	Message string
}

func (e *DomainError) Error() string {
	if e.Message != "" {
		return e.Message + ": " + e.Err.Error()
	}
	return e.Err.Error()
}

func (e *DomainError) Unwrap() error {
	return e.Err
}

func NewDomainError(err error, message string) *DomainError {
	return &DomainError{
		Err:     err,
		Message: message,
	}
}
