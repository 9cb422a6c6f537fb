package repository

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"custodial-ledger/backend/internal/challenge/domain"
	"custodial-ledger/backend/internal/db"
)

type PostgresRepository struct {
	db db.DBTX
}

// NewPostgresRepository returns a challenge repository that runs against q.
func NewPostgresRepository(q db.DBTX) *PostgresRepository {
	return &PostgresRepository{db: q}
}

// CreateRecord inserts an empty challenge_records row for accountID.
func (r *PostgresRepository) CreateRecord(ctx context.Context, accountID string, now time.Time) error {
	_, err := r.db.ExecContext(ctx, `INSERT INTO challenge_records (account_id, updated_at) VALUES ($1, $2)`, accountID, now)
	return err
}

// Lock selects the account's challenge_records row FOR UPDATE.
func (r *PostgresRepository) Lock(ctx context.Context, accountID string) (bool, error) {
	var id string
	err := r.db.QueryRowContext(ctx, `SELECT account_id FROM challenge_records WHERE account_id = $1 FOR UPDATE`, accountID).Scan(&id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

// Append inserts events in order; seq is assigned by the database.
func (r *PostgresRepository) Append(ctx context.Context, events ...*domain.Event) error {
	for _, e := range events {
		var kind sql.NullString
		if e.Type == domain.EventIssued || e.Type == domain.EventVerified {
			kind = sql.NullString{String: e.Kind.String(), Valid: true}
		}
		hash := sql.NullString{String: e.CodeHash, Valid: e.CodeHash != ""}
		err := r.db.QueryRowContext(ctx, `INSERT INTO challenge_events (id, account_id, device_id, kind, event_type, code_hash, created_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7) RETURNING seq`,
			e.ID, e.AccountID, e.DeviceID, kind, string(e.Type), hash, e.CreatedAt).Scan(&e.Seq)
		if err != nil {
			return err
		}
	}
	return nil
}

// ListEvents returns events for accountID created at or after since, ordered by seq.
func (r *PostgresRepository) ListEvents(ctx context.Context, accountID string, since time.Time) ([]*domain.Event, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT seq, id, account_id, device_id, kind, event_type, code_hash, created_at
		FROM challenge_events WHERE account_id = $1 AND created_at >= $2 ORDER BY seq`, accountID, since)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*domain.Event
	for rows.Next() {
		var (
			e     domain.Event
			kind  sql.NullString
			etype string
			hash  sql.NullString
		)
		if err := rows.Scan(&e.Seq, &e.ID, &e.AccountID, &e.DeviceID, &kind, &etype, &hash, &e.CreatedAt); err != nil {
			return nil, err
		}
		e.Type = domain.EventType(etype)
		if kind.Valid {
			k, err := domain.ParseKind(kind.String)
			if err != nil {
				return nil, err
			}
			e.Kind = k
		}
		e.CodeHash = hash.String
		out = append(out, &e)
	}
	return out, rows.Err()
}

// SaveProjection writes the record's current code hashes to challenge_records.
func (r *PostgresRepository) SaveProjection(ctx context.Context, rec *domain.Record) error {
	col := func(k domain.Kind) sql.NullString {
		return sql.NullString{String: rec.Codes[k], Valid: rec.Codes[k] != ""}
	}
	_, err := r.db.ExecContext(ctx, `UPDATE challenge_records
		SET tax_code_hash = $2, activation_code_hash = $3, imf_code_hash = $4, updated_at = $5
		WHERE account_id = $1`,
		rec.AccountID, col(domain.KindTax), col(domain.KindActivation), col(domain.KindIMF), rec.UpdatedAt)
	return err
}
