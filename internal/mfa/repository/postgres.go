package repository

import (
	"context"
	"database/sql"
	"errors"

	"custodial-ledger/backend/internal/db"
	"custodial-ledger/backend/internal/mfa/domain"
)

type PostgresRepository struct {
	db db.DBTX
}

// NewPostgresRepository returns an email code repository that runs against q.
func NewPostgresRepository(q db.DBTX) *PostgresRepository {
	return &PostgresRepository{db: q}
}

// Get returns the email code for accountID, or nil if not found.
func (r *PostgresRepository) Get(ctx context.Context, accountID string) (*domain.EmailCode, error) {
	var c domain.EmailCode
	err := r.db.QueryRowContext(ctx, `SELECT account_id, code_hash, issued_at, expires_at FROM email_codes WHERE account_id = $1`,
		accountID).Scan(&c.AccountID, &c.CodeHash, &c.IssuedAt, &c.ExpiresAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &c, nil
}

// Put creates or replaces the email code for c.AccountID.
func (r *PostgresRepository) Put(ctx context.Context, c *domain.EmailCode) error {
	_, err := r.db.ExecContext(ctx, `INSERT INTO email_codes (account_id, code_hash, issued_at, expires_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (account_id) DO UPDATE SET code_hash = EXCLUDED.code_hash, issued_at = EXCLUDED.issued_at, expires_at = EXCLUDED.expires_at`,
		c.AccountID, c.CodeHash, c.IssuedAt, c.ExpiresAt)
	return err
}

// Delete removes the email code for accountID. Deleting a missing code is not an error.
func (r *PostgresRepository) Delete(ctx context.Context, accountID string) error {
	_, err := r.db.ExecContext(ctx, `DELETE FROM email_codes WHERE account_id = $1`, accountID)
	return err
}
