package repository

import (
	"context"
	"database/sql"
	"errors"

	"custodial-ledger/backend/internal/db"
	"custodial-ledger/backend/internal/policy/domain"
)

type PostgresRepository struct {
	db db.DBTX
}

// NewPostgresRepository returns a settlement policy repository that runs against q.
func NewPostgresRepository(q db.DBTX) *PostgresRepository {
	return &PostgresRepository{db: q}
}

// GetByID returns the policy for id, or nil if not found.
func (r *PostgresRepository) GetByID(ctx context.Context, id string) (*domain.Policy, error) {
	var p domain.Policy
	err := r.db.QueryRowContext(ctx, `SELECT id, rules, enabled, created_at FROM settlement_policies WHERE id = $1`, id).
		Scan(&p.ID, &p.Rules, &p.Enabled, &p.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &p, nil
}

// List returns all policies, oldest first.
func (r *PostgresRepository) List(ctx context.Context) ([]*domain.Policy, error) {
	return r.list(ctx, `SELECT id, rules, enabled, created_at FROM settlement_policies ORDER BY created_at, id`)
}

// GetEnabled returns enabled policies, oldest first.
func (r *PostgresRepository) GetEnabled(ctx context.Context) ([]*domain.Policy, error) {
	return r.list(ctx, `SELECT id, rules, enabled, created_at FROM settlement_policies WHERE enabled ORDER BY created_at, id`)
}

// Create inserts the policy. The policy must have ID set.
func (r *PostgresRepository) Create(ctx context.Context, p *domain.Policy) error {
	_, err := r.db.ExecContext(ctx, `INSERT INTO settlement_policies (id, rules, enabled, created_at) VALUES ($1, $2, $3, $4)`,
		p.ID, p.Rules, p.Enabled, p.CreatedAt)
	return err
}

// Update replaces the rules and enabled flag.
func (r *PostgresRepository) Update(ctx context.Context, p *domain.Policy) error {
	_, err := r.db.ExecContext(ctx, `UPDATE settlement_policies SET rules = $2, enabled = $3 WHERE id = $1`, p.ID, p.Rules, p.Enabled)
	return err
}

func (r *PostgresRepository) list(ctx context.Context, query string) ([]*domain.Policy, error) {
	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*domain.Policy
	for rows.Next() {
		var p domain.Policy
		if err := rows.Scan(&p.ID, &p.Rules, &p.Enabled, &p.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, &p)
	}
	return out, rows.Err()
}
