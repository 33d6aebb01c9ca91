// internal/errors/errors.go
package appErrors

import (
	"errors"
	"fmt"
)

var (
	ErrInvalidInput         = errors.New("invalid input")
	ErrNoRecipients         = errors.New("no users found to send emails to")
	ErrDirectoryUnavailable = errors.New("recipient directory unavailable")
	ErrStorageUnavailable   = errors.New("delivery log storage unavailable")
	ErrBroadcastInProgress  = errors.New("another broadcast is already in progress")
	ErrJobNotFound          = errors.New("broadcast job not found")
	ErrDuplicateRecipient   = errors.New("recipient with this email already exists")
	ErrJobAlreadyStarted    = errors.New("broadcast job already started")
)

// ValidationError reports the request field that failed validation.
type ValidationError struct {
	Field string
	Rule  string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: field %q failed %q validation", ErrInvalidInput, e.Field, e.Rule)
}

func (e *ValidationError) Unwrap() error {
	return ErrInvalidInput
}

// Helper constructor
func NewValidationError(field, rule string) error {
	return &ValidationError{Field: field, Rule: rule}
}
