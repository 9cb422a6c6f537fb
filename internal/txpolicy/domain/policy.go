package domain

import "time"

// Policy selects how an account verifies transfers: all three tiered challenge codes when TieredEnabled,
// otherwise a single account-wide email code. Tiered mode is all-or-nothing.
type Policy struct {
	AccountID     string
	TieredEnabled bool
	UpdatedAt     time.Time
}
