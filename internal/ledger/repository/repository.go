package repository

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"custodial-ledger/backend/internal/ledger/domain"
)

// Repository defines persistence for ledger accounts. Getters return (nil, nil) when the row does not exist.
type Repository interface {
	Create(ctx context.Context, a *domain.Account) error
	GetByID(ctx context.Context, id string) (*domain.Account, error)
	// GetByIDForUpdate reads the account and holds its row lock until the surrounding transaction ends.
	GetByIDForUpdate(ctx context.Context, id string) (*domain.Account, error)
	GetByPrincipal(ctx context.Context, principalID string) (*domain.Account, error)
	GetByAccountNumber(ctx context.Context, number string) (*domain.Account, error)
	UpdateBalance(ctx context.Context, id string, balance decimal.Decimal, updatedAt time.Time) error
	UpdateLocks(ctx context.Context, id string, locked, transferLocked bool, updatedAt time.Time) error
}

// DepositRepository defines persistence for deposits.
type DepositRepository interface {
	Create(ctx context.Context, d *domain.Deposit) error
	// ListByAccount returns deposits newest first.
	ListByAccount(ctx context.Context, accountID string, limit, offset int32) ([]*domain.Deposit, error)
}
