package repository

import (
	"context"
	"time"

	"custodial-ledger/backend/internal/challenge/domain"
)

// Repository persists the challenge event log and its "latest unredeemed code" projection.
type Repository interface {
	// CreateRecord inserts the empty projection row for a newly provisioned account.
	CreateRecord(ctx context.Context, accountID string, now time.Time) error
	// Lock takes the account's challenge row lock for the rest of the transaction.
	// Returns (false, nil) when the account has no record.
	Lock(ctx context.Context, accountID string) (bool, error)
	Append(ctx context.Context, events ...*domain.Event) error
	// ListEvents returns the account's events created at or after since, in log order.
	ListEvents(ctx context.Context, accountID string, since time.Time) ([]*domain.Event, error)
	SaveProjection(ctx context.Context, r *domain.Record) error
}
