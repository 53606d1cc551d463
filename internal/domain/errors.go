package domain

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound         = errors.New("record not found")
	ErrInvalidInput     = errors.New("invalid input")
	ErrExpired          = errors.New("transaction expired")
	ErrAlreadyCompleted = errors.New("transaction already finalized")
	ErrConflict         = errors.New("concurrent update conflict")
	ErrRateLimited      = errors.New("rate limit exceeded")
)

// ValidationError reports a single rejected field.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s %s", e.Field, e.Message)
}

// Unwrap lets errors.Is match ErrInvalidInput.
func (e *ValidationError) Unwrap() error {
	return ErrInvalidInput
}

func invalid(field, msg string) error {
	return &ValidationError{Field: field, Message: msg}
}
