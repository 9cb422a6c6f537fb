// Package errs defines the ledger's error taxonomy. Services return these (wrapped with %w);
// the HTTP layer maps them to a status and a stable machine-readable code.
package errs

import (
	"errors"
	"fmt"
)

var (
	// ErrValidation is matched by every *ValidationError.
	ErrValidation        = errors.New("validation failed")
	ErrInsufficientFunds = errors.New("insufficient funds")
	ErrInvalidCode       = errors.New("invalid verification code")
	ErrCodeExpired       = errors.New("verification code expired")
	ErrResendTooSoon     = errors.New("verification code was sent too recently")
	ErrAlreadyVerified   = errors.New("transfer already verified")
	ErrNotFound          = errors.New("not found")
	ErrNotOwner          = errors.New("caller does not own this transfer")
	ErrAccountLocked     = errors.New("account is locked")
	ErrTransferLocked    = errors.New("transfers are locked for this account")
	ErrDeviceRequired    = errors.New("device identifier is required")
	ErrTransferClosed    = errors.New("transfer is no longer pending")
)

// ValidationError reports malformed input for a single field.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Reason)
}

// Is makes errors.Is(err, ErrValidation) true for any ValidationError.
func (e *ValidationError) Is(target error) bool {
	return target == ErrValidation
}

// Invalid returns a *ValidationError for field.
func Invalid(field, reason string) error {
	return &ValidationError{Field: field, Reason: reason}
}

// FieldOf returns the field name of a wrapped *ValidationError, or "".
func FieldOf(err error) string {
	var ve *ValidationError
	if errors.As(err, &ve) {
		return ve.Field
	}
	return ""
}
