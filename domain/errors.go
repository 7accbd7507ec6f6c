package domain

import "errors"

// ErrUnauthenticated is returned when a request carries no verified identity.
var ErrUnauthenticated = errors.New("Unauthenticated")

// ValidationError reports malformed or missing input. It is always produced
// before any store call.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e == nil {
		return ""
	}
	return e.Message
}

var (
	ErrInvalidTitle = &ValidationError{Field: "title", Message: "Missing or invalid title"}
	ErrEmptyPatch   = &ValidationError{Message: "Nothing to update"}
)

// IsValidation reports whether err is a ValidationError.
func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}
