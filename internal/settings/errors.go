package settings

import (
	"errors"
	"fmt"
)

var (
	// ErrCorrupt is returned by Load when the persisted record cannot be parsed.
	ErrCorrupt = errors.New("settings record corrupt")

	// ErrInvalid is wrapped by every FieldError.
	ErrInvalid = errors.New("invalid setting")

	// ErrUnchanged is wrapped by FieldError when the new value equals the current one.
	ErrUnchanged = errors.New("value unchanged")
)

// FieldError reports a rejected field in an update request.
// Other fields of the same request are unaffected.
type FieldError struct {
	Field string
	Value any
	Err   error
}

func (e *FieldError) Error() string {
	return fmt.Sprintf("setting %s=%v: %v", e.Field, e.Value, e.Err)
}

func (e *FieldError) Unwrap() error {
	return e.Err
}

func invalidField(field string, value any, cause error) *FieldError {
	return &FieldError{Field: field, Value: value, Err: fmt.Errorf("%w: %v", ErrInvalid, cause)}
}
