package repository

import (
	"context"

	"custodial-ledger/backend/internal/txpolicy/domain"
)

// Repository defines persistence for per-account transaction policies.
type Repository interface {
	// Get returns the policy for accountID, or nil if not found.
	Get(ctx context.Context, accountID string) (*domain.Policy, error)
	// Upsert creates or replaces the policy for p.AccountID.
	Upsert(ctx context.Context, p *domain.Policy) error
}
