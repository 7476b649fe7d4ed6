package apperrors

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound    = errors.New("not found")
	ErrConflict    = errors.New("conflict")
	ErrValidation  = errors.New("validation failed")
	ErrPersistence = errors.New("persistence failure")
)

// ValidationError reports malformed input (fact kind, version label, turn payload).
// It is always surfaced to the caller and never retried.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("validation failed: %s", e.Message)
	}
	return fmt.Sprintf("validation failed: %s: %s", e.Field, e.Message)
}

func (e *ValidationError) Is(target error) bool {
	return target == ErrValidation
}

// NewValidationError creates a ValidationError for the given field.
func NewValidationError(field, message string) *ValidationError {
	return &ValidationError{Field: field, Message: message}
}

// ConflictError reports that a uniquely keyed write lost a race, e.g. two
// appends computing the same version label for one project.
type ConflictError struct {
	Resource string
	Key      string
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("conflict: %s %q already exists", e.Resource, e.Key)
}

func (e *ConflictError) Is(target error) bool {
	return target == ErrConflict
}

// IsRetryable lets retry.Do treat label collisions as transient.
func (e *ConflictError) IsRetryable() bool {
	return true
}

// StaleError reports that a write was computed from a parent that is no
// longer the head, e.g. a version merged onto v1.1 while v1.2 already exists.
// The caller has to re-read and recompute; retrying the same write cannot succeed.
type StaleError struct {
	Resource string
	Expected string // "" when the write expected no parent
	Actual   string
}

func (e *StaleError) Error() string {
	expected := e.Expected
	if expected == "" {
		expected = "none"
	}
	return fmt.Sprintf("conflict: %s moved from %s to %s", e.Resource, expected, e.Actual)
}

func (e *StaleError) Is(target error) bool {
	return target == ErrConflict
}

// IsRetryable reports false so retry.DoIfRetryable returns it to the caller at once.
func (e *StaleError) IsRetryable() bool {
	return false
}

// PersistenceError wraps an underlying storage failure.
type PersistenceError struct {
	Op  string
	Err error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("persistence failure during %s: %v", e.Op, e.Err)
}

func (e *PersistenceError) Unwrap() error {
	return e.Err
}

func (e *PersistenceError) Is(target error) bool {
	return target == ErrPersistence
}

// IsRetryable reports false; the engine never retries storage failures itself.
func (e *PersistenceError) IsRetryable() bool {
	return false
}

// Persistence wraps err as a PersistenceError unless it already carries a
// domain classification (not found, conflict, validation, persistence).
func Persistence(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, ErrNotFound) || errors.Is(err, ErrConflict) ||
		errors.Is(err, ErrValidation) || errors.Is(err, ErrPersistence) {
		return err
	}
	return &PersistenceError{Op: op, Err: err}
}

// IsNotFound reports whether err is or wraps ErrNotFound.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}
