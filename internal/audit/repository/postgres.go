package repository

import (
	"context"
	"database/sql"
	"errors"

	"custodial-ledger/backend/internal/audit/domain"
	"custodial-ledger/backend/internal/db"
)

type PostgresRepository struct {
	db db.DBTX
}

// NewPostgresRepository returns an audit log repository that uses the given db for persistence.
func NewPostgresRepository(q db.DBTX) *PostgresRepository {
	return &PostgresRepository{db: q}
}

// GetByID returns the audit log for id, or nil if not found.
// It returns an error only for database failures, not for missing rows.
func (r *PostgresRepository) GetByID(ctx context.Context, id string) (*domain.AuditLog, error) {
	a, err := scanAuditLog(r.db.QueryRowContext(ctx,
		`SELECT id, actor_id, action, resource, ip, metadata, created_at FROM audit_logs WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return a, nil
}

// List returns audit logs newest first, paginated by limit and offset.
// Returns (nil, error) only on database errors.
func (r *PostgresRepository) List(ctx context.Context, limit, offset int32) ([]*domain.AuditLog, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT id, actor_id, action, resource, ip, metadata, created_at
		FROM audit_logs ORDER BY created_at DESC, id LIMIT $1 OFFSET $2`, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*domain.AuditLog
	for rows.Next() {
		a, err := scanAuditLog(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// Create persists the audit log to the database. The audit log must have ID set.
func (r *PostgresRepository) Create(ctx context.Context, a *domain.AuditLog) error {
	meta := sql.NullString{String: a.Metadata, Valid: a.Metadata != ""}
	_, err := r.db.ExecContext(ctx, `INSERT INTO audit_logs (id, actor_id, action, resource, ip, metadata, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		a.ID, a.ActorID, a.Action, a.Resource, a.IP, meta, a.CreatedAt)
	return err
}

func scanAuditLog(s interface{ Scan(...any) error }) (*domain.AuditLog, error) {
	var (
		a    domain.AuditLog
		meta sql.NullString
	)
	if err := s.Scan(&a.ID, &a.ActorID, &a.Action, &a.Resource, &a.IP, &meta, &a.CreatedAt); err != nil {
		return nil, err
	}
	a.Metadata = meta.String
	return &a, nil
}
