package repository

import (
	"context"

	"custodial-ledger/backend/internal/transfer/domain"
)

// Repository defines persistence for transfer records. Getters return (nil, nil) when not found.
type Repository interface {
	Create(ctx context.Context, t *domain.Transfer) error
	GetByID(ctx context.Context, id string) (*domain.Transfer, error)
	// GetByIDForUpdate reads the transfer and holds its row lock until the surrounding transaction ends.
	GetByIDForUpdate(ctx context.Context, id string) (*domain.Transfer, error)
	// Update writes the mutable fields: code, code_entered, is_verified, status, updated_at.
	Update(ctx context.Context, t *domain.Transfer) error
	ReferenceExists(ctx context.Context, reference string) (bool, error)
	// ListBySender returns the sender's transfers newest first.
	ListBySender(ctx context.Context, accountID string, limit, offset int32) ([]*domain.Transfer, error)
	// ListSettledByRecipient returns successful transfers credited to the internal recipient, most
	// recently settled first.
	ListSettledByRecipient(ctx context.Context, accountID string, limit, offset int32) ([]*domain.Transfer, error)
}
