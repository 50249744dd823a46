package models

import "errors"

var (
	ErrValidation     = errors.New("validation failed")
	ErrConflict       = errors.New("already exists")
	ErrAuthentication = errors.New("invalid credentials")
	ErrAuthorization  = errors.New("not authorised")
	ErrNotFound       = errors.New("not found")
)

// ValidationError describes a rejected input field.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return e.Field + ": " + e.Message
}

// Unwrap lets errors.Is match ErrValidation.
func (e *ValidationError) Unwrap() error {
	return ErrValidation
}

// Invalid returns a ValidationError for field.
func Invalid(field, message string) error {
	return &ValidationError{Field: field, Message: message}
}
