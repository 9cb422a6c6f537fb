package repository

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"custodial-ledger/backend/internal/db"
	"custodial-ledger/backend/internal/transfer/domain"
)

const transferColumns = `id, sender_account_id, recipient_name, recipient_bank, recipient_account_number,
	recipient_iban, recipient_swift, recipient_address, recipient_account_id, amount, purpose, reference, flow,
	code_hash, code_expires_at, code_issued_at, code_entered, is_verified, status, created_at, updated_at`

type PostgresRepository struct {
	db db.DBTX
}

// NewPostgresRepository returns a transfer repository that runs against q.
func NewPostgresRepository(q db.DBTX) *PostgresRepository {
	return &PostgresRepository{db: q}
}

// Create inserts the transfer. The transfer must have ID and Reference set.
func (r *PostgresRepository) Create(ctx context.Context, t *domain.Transfer) error {
	_, err := r.db.ExecContext(ctx, `INSERT INTO transfers (`+transferColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20, $21)`,
		t.ID, t.SenderAccountID, t.Recipient.Name, t.Recipient.Bank, t.Recipient.AccountNumber,
		t.Recipient.IBAN, t.Recipient.SWIFT, t.Recipient.Address, nullString(t.Recipient.AccountID),
		t.Amount, t.Purpose, t.Reference, string(t.Flow),
		t.CodeHash, nullTime(t.CodeExpiresAt), nullTime(t.CodeIssuedAt), t.CodeEntered, t.IsVerified, string(t.Status),
		t.CreatedAt, t.UpdatedAt)
	return err
}

// GetByID returns the transfer for id, or nil if not found.
func (r *PostgresRepository) GetByID(ctx context.Context, id string) (*domain.Transfer, error) {
	return r.getOne(ctx, `SELECT `+transferColumns+` FROM transfers WHERE id = $1`, id)
}

// GetByIDForUpdate returns the transfer for id with its row locked.
func (r *PostgresRepository) GetByIDForUpdate(ctx context.Context, id string) (*domain.Transfer, error) {
	return r.getOne(ctx, `SELECT `+transferColumns+` FROM transfers WHERE id = $1 FOR UPDATE`, id)
}

// Update writes the code, verification flags, status and updated_at.
func (r *PostgresRepository) Update(ctx context.Context, t *domain.Transfer) error {
	res, err := r.db.ExecContext(ctx, `UPDATE transfers SET code_hash = $2, code_expires_at = $3, code_issued_at = $4,
		code_entered = $5, is_verified = $6, status = $7, updated_at = $8 WHERE id = $1`,
		t.ID, t.CodeHash, nullTime(t.CodeExpiresAt), nullTime(t.CodeIssuedAt), t.CodeEntered, t.IsVerified,
		string(t.Status), t.UpdatedAt)
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err != nil {
		return err
	} else if n == 0 {
		return sql.ErrNoRows
	}
	return nil
}

// ReferenceExists reports whether a transfer already uses reference.
func (r *PostgresRepository) ReferenceExists(ctx context.Context, reference string) (bool, error) {
	var exists bool
	err := r.db.QueryRowContext(ctx, `SELECT EXISTS (SELECT 1 FROM transfers WHERE reference = $1)`, reference).Scan(&exists)
	return exists, err
}

// ListBySender returns transfers sent from accountID, newest first.
func (r *PostgresRepository) ListBySender(ctx context.Context, accountID string, limit, offset int32) ([]*domain.Transfer, error) {
	return r.list(ctx, `SELECT `+transferColumns+` FROM transfers
		WHERE sender_account_id = $1 ORDER BY created_at DESC, id LIMIT $2 OFFSET $3`, accountID, limit, offset)
}

// ListSettledByRecipient returns successful transfers credited to accountID, newest settlement first.
func (r *PostgresRepository) ListSettledByRecipient(ctx context.Context, accountID string, limit, offset int32) ([]*domain.Transfer, error) {
	return r.list(ctx, `SELECT `+transferColumns+` FROM transfers
		WHERE recipient_account_id = $1 AND status = 'success' ORDER BY updated_at DESC, id LIMIT $2 OFFSET $3`, accountID, limit, offset)
}

func (r *PostgresRepository) list(ctx context.Context, query string, args ...any) ([]*domain.Transfer, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*domain.Transfer
	for rows.Next() {
		t, err := scanTransfer(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

func (r *PostgresRepository) getOne(ctx context.Context, query, id string) (*domain.Transfer, error) {
	t, err := scanTransfer(r.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return t, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanTransfer(s scanner) (*domain.Transfer, error) {
	var (
		t           domain.Transfer
		recipientID sql.NullString
		flow        string
		status      string
		expiresAt   sql.NullTime
		issuedAt    sql.NullTime
	)
	err := s.Scan(&t.ID, &t.SenderAccountID, &t.Recipient.Name, &t.Recipient.Bank, &t.Recipient.AccountNumber,
		&t.Recipient.IBAN, &t.Recipient.SWIFT, &t.Recipient.Address, &recipientID, &t.Amount, &t.Purpose, &t.Reference, &flow,
		&t.CodeHash, &expiresAt, &issuedAt, &t.CodeEntered, &t.IsVerified, &status, &t.CreatedAt, &t.UpdatedAt)
	if err != nil {
		return nil, err
	}
	t.Recipient.AccountID = recipientID.String
	t.Flow = domain.Flow(flow)
	t.Status = domain.Status(status)
	if expiresAt.Valid {
		v := expiresAt.Time
		t.CodeExpiresAt = &v
	}
	if issuedAt.Valid {
		v := issuedAt.Time
		t.CodeIssuedAt = &v
	}
	return &t, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}
