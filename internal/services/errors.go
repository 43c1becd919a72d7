package services

import "errors"

// Error kinds surfaced to the HTTP layer. Handlers map these to status codes;
// anything else is a storage failure reported as a generic 500.
var (
	// ErrNotFound means a referenced order, user, or product does not exist
	ErrNotFound = errors.New("not found")

	// ErrConflict means a uniqueness constraint was violated, e.g. a
	// duplicate email on registration
	ErrConflict = errors.New("conflict")

	// ErrTimeout means a bounded operation exceeded its deadline
	ErrTimeout = errors.New("timeout")

	// ErrInvalidCredentials means login failed; callers must not learn
	// whether the email or the password was wrong
	ErrInvalidCredentials = errors.New("invalid email or password")
)

// ValidationError reports rejected input. Detected before any mutation.
type ValidationError struct {
	Message string
}

func (e *ValidationError) Error() string {
	return e.Message
}

// NewValidationError builds a ValidationError with the given message
func NewValidationError(msg string) error {
	return &ValidationError{Message: msg}
}

// IsValidation reports whether err is a ValidationError
func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}
