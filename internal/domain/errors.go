package domain

import "errors"

// Sentinel errors for the application.
var (
	ErrNotFound               = errors.New("resource not found")
	ErrUnauthorized           = errors.New("unauthorized access")
	ErrForbidden              = errors.New("forbidden")
	ErrInvalidCredentials     = errors.New("invalid email or password")
	ErrDuplicateAccount       = errors.New("user with this email already exists")
	ErrAccountNotFound        = errors.New("no account found with this email")
	ErrSecurityAnswerMismatch = errors.New("incorrect security answer")
	ErrValidation             = errors.New("validation failed")
	ErrBackend                = errors.New("backend unavailable")
)

// ValidationError describes invalid input for a single field.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return e.Message
}

func (e *ValidationError) Unwrap() error {
	return ErrValidation
}

// Invalid builds a ValidationError for field.
func Invalid(field, message string) *ValidationError {
	return &ValidationError{Field: field, Message: message}
}
