package repository

import (
	"context"
	"time"

	"custodial-ledger/backend/internal/mfa/domain"
)

// Repository defines persistence for account-wide email codes.
type Repository interface {
	// Get returns the live code for accountID, or nil if none was issued.
	Get(ctx context.Context, accountID string) (*domain.EmailCode, error)
	// Put creates or replaces the account's code.
	Put(ctx context.Context, c *domain.EmailCode) error
	Delete(ctx context.Context, accountID string) error
}

// DefaultCodeTTL is how long an email code stays valid.
const DefaultCodeTTL = 5 * time.Minute

// DefaultResendCooldown is the minimum gap between two issued email codes.
const DefaultResendCooldown = time.Minute
