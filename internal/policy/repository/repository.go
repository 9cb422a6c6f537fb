package repository

import (
	"context"

	"custodial-ledger/backend/internal/policy/domain"
)

// Repository defines persistence for settlement policies.
type Repository interface {
	GetByID(ctx context.Context, id string) (*domain.Policy, error)
	List(ctx context.Context) ([]*domain.Policy, error)
	// GetEnabled returns every enabled policy, oldest first.
	GetEnabled(ctx context.Context) ([]*domain.Policy, error)
	Create(ctx context.Context, p *domain.Policy) error
	Update(ctx context.Context, p *domain.Policy) error
}
