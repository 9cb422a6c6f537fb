package errs

import (
	"errors"
	"fmt"
	"testing"
)

func TestValidationError_MatchesSentinel(t *testing.T) {
	err := fmt.Errorf("create transfer: %w", Invalid("amount", "must be greater than zero"))
	if !errors.Is(err, ErrValidation) {
		t.Fatal("wrapped ValidationError should match ErrValidation")
	}
	if errors.Is(err, ErrInvalidCode) {
		t.Error("ValidationError should not match unrelated sentinels")
	}
	if FieldOf(err) != "amount" {
		t.Errorf("FieldOf = %q, want amount", FieldOf(err))
	}
	if got := err.Error(); got != "create transfer: amount: must be greater than zero" {
		t.Errorf("Error() = %q", got)
	}
}

func TestFieldOf_NonValidation(t *testing.T) {
	if FieldOf(ErrNotFound) != "" {
		t.Error("FieldOf should be empty for sentinel errors")
	}
}
