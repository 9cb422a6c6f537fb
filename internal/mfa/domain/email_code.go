package domain

import "time"

// EmailCode is the single account-wide one-time code used when tiered challenges are disabled.
// Only the SHA-256 hash of the code is stored.
type EmailCode struct {
	AccountID string
	CodeHash  string
	IssuedAt  time.Time
	ExpiresAt time.Time
}

// Expired reports whether the code is no longer valid at now.
func (c *EmailCode) Expired(now time.Time) bool {
	return !now.Before(c.ExpiresAt)
}
