package service

import (
	"errors"
	"fmt"

	"github.com/cx-tal-miterani/flight-tracker/internal/database"
)

// ValidationError is returned for malformed input; handlers map it to 400
type ValidationError struct {
	Message string
}

func (e *ValidationError) Error() string { return e.Message }

func invalid(format string, args ...any) error {
	return &ValidationError{Message: fmt.Sprintf(format, args...)}
}

// NotFoundError carries the client-facing message for a missing flight; handlers map it to 404
type NotFoundError struct {
	Message string
}

func (e *NotFoundError) Error() string { return e.Message }

// Unwrap lets callers match database.ErrNotFound
func (e *NotFoundError) Unwrap() error { return database.ErrNotFound }

func notFound(format string, args ...any) error {
	return &NotFoundError{Message: fmt.Sprintf(format, args...)}
}

// IsValidation reports whether err is a ValidationError
func IsValidation(err error) bool {
	var v *ValidationError
	return errors.As(err, &v)
}

// IsNotFound reports whether err is a NotFoundError
func IsNotFound(err error) bool {
	var n *NotFoundError
	return errors.As(err, &n)
}
