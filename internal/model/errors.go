package model

import (
	"context"
	"errors"
	"fmt"
)

var (
	ErrValidation       = errors.New("validation failed")
	ErrStoreUnavailable = errors.New("event store unavailable")
	ErrInvalidQuery     = errors.New("invalid query")
	ErrQueryTimeout     = errors.New("query timed out")
	ErrQueryCancelled   = errors.New("query cancelled")
)

// ValidationError rejects a single append. It never affects the store.
type ValidationError struct {
	Field  string
	Reason string
}

func NewValidationError(field, reason string) *ValidationError {
	return &ValidationError{Field: field, Reason: reason}
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s %s", ErrValidation, e.Field, e.Reason)
}

func (e *ValidationError) Is(target error) bool {
	return target == ErrValidation
}

// InvalidQuery wraps ErrInvalidQuery with a reason.
func InvalidQuery(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", ErrInvalidQuery, fmt.Sprintf(format, args...))
}

// FromContext maps a context error onto the query error taxonomy. Other
// errors are returned unchanged.
func FromContext(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, ErrQueryTimeout), errors.Is(err, ErrQueryCancelled):
		return err
	case errors.Is(err, context.DeadlineExceeded):
		return fmt.Errorf("%w: %w", ErrQueryTimeout, err)
	case errors.Is(err, context.Canceled):
		return fmt.Errorf("%w: %w", ErrQueryCancelled, err)
	}
	return err
}
