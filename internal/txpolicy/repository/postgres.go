package repository

import (
	"context"
	"database/sql"
	"errors"

	"custodial-ledger/backend/internal/db"
	"custodial-ledger/backend/internal/txpolicy/domain"
)

type PostgresRepository struct {
	db db.DBTX
}

// NewPostgresRepository returns a transaction policy repository that runs against q.
func NewPostgresRepository(q db.DBTX) *PostgresRepository {
	return &PostgresRepository{db: q}
}

// Get returns the policy for accountID, or nil if not found.
func (r *PostgresRepository) Get(ctx context.Context, accountID string) (*domain.Policy, error) {
	var p domain.Policy
	err := r.db.QueryRowContext(ctx, `SELECT account_id, tiered_enabled, updated_at FROM transaction_policies WHERE account_id = $1`,
		accountID).Scan(&p.AccountID, &p.TieredEnabled, &p.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &p, nil
}

// Upsert creates or replaces the policy row.
func (r *PostgresRepository) Upsert(ctx context.Context, p *domain.Policy) error {
	_, err := r.db.ExecContext(ctx, `INSERT INTO transaction_policies (account_id, tiered_enabled, updated_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (account_id) DO UPDATE SET tiered_enabled = EXCLUDED.tiered_enabled, updated_at = EXCLUDED.updated_at`,
		p.AccountID, p.TieredEnabled, p.UpdatedAt)
	return err
}
