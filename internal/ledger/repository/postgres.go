package repository

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/shopspring/decimal"

	"custodial-ledger/backend/internal/db"
	"custodial-ledger/backend/internal/ledger/domain"
)

const accountColumns = `id, principal_id, account_number, balance, destination, locked, transfer_locked, created_at, updated_at`

type PostgresRepository struct {
	db db.DBTX
}

// NewPostgresRepository returns an account repository that runs against q (a *sql.DB or *sql.Tx).
func NewPostgresRepository(q db.DBTX) *PostgresRepository {
	return &PostgresRepository{db: q}
}

// Create inserts the account. The account must have ID and AccountNumber set.
func (r *PostgresRepository) Create(ctx context.Context, a *domain.Account) error {
	_, err := r.db.ExecContext(ctx, `INSERT INTO accounts (`+accountColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		a.ID, a.PrincipalID, a.AccountNumber, a.Balance, a.Destination, a.Locked, a.TransferLocked, a.CreatedAt, a.UpdatedAt)
	return err
}

// GetByID returns the account for id, or nil if not found.
func (r *PostgresRepository) GetByID(ctx context.Context, id string) (*domain.Account, error) {
	return r.getOne(ctx, `SELECT `+accountColumns+` FROM accounts WHERE id = $1`, id)
}

// GetByIDForUpdate returns the account for id with its row locked (SELECT ... FOR UPDATE).
func (r *PostgresRepository) GetByIDForUpdate(ctx context.Context, id string) (*domain.Account, error) {
	return r.getOne(ctx, `SELECT `+accountColumns+` FROM accounts WHERE id = $1 FOR UPDATE`, id)
}

// GetByPrincipal returns the account owned by principalID, or nil if not found.
func (r *PostgresRepository) GetByPrincipal(ctx context.Context, principalID string) (*domain.Account, error) {
	return r.getOne(ctx, `SELECT `+accountColumns+` FROM accounts WHERE principal_id = $1`, principalID)
}

// GetByAccountNumber returns the account with the given 10-digit number, or nil if not found.
func (r *PostgresRepository) GetByAccountNumber(ctx context.Context, number string) (*domain.Account, error) {
	return r.getOne(ctx, `SELECT `+accountColumns+` FROM accounts WHERE account_number = $1`, number)
}

// UpdateBalance sets the balance. The accounts.balance CHECK constraint rejects negative values.
func (r *PostgresRepository) UpdateBalance(ctx context.Context, id string, balance decimal.Decimal, updatedAt time.Time) error {
	return r.exec1(ctx, `UPDATE accounts SET balance = $2, updated_at = $3 WHERE id = $1`, id, balance, updatedAt)
}

// UpdateLocks sets the locked and transfer_locked flags.
func (r *PostgresRepository) UpdateLocks(ctx context.Context, id string, locked, transferLocked bool, updatedAt time.Time) error {
	return r.exec1(ctx, `UPDATE accounts SET locked = $2, transfer_locked = $3, updated_at = $4 WHERE id = $1`,
		id, locked, transferLocked, updatedAt)
}

func (r *PostgresRepository) getOne(ctx context.Context, query string, arg string) (*domain.Account, error) {
	var a domain.Account
	err := r.db.QueryRowContext(ctx, query, arg).Scan(
		&a.ID, &a.PrincipalID, &a.AccountNumber, &a.Balance, &a.Destination,
		&a.Locked, &a.TransferLocked, &a.CreatedAt, &a.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &a, nil
}

func (r *PostgresRepository) exec1(ctx context.Context, query string, args ...any) error {
	res, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return sql.ErrNoRows
	}
	return nil
}

type PostgresDepositRepository struct {
	db db.DBTX
}

// NewPostgresDepositRepository returns a deposit repository that runs against q.
func NewPostgresDepositRepository(q db.DBTX) *PostgresDepositRepository {
	return &PostgresDepositRepository{db: q}
}

// Create inserts the deposit. The deposit must have ID set.
func (r *PostgresDepositRepository) Create(ctx context.Context, d *domain.Deposit) error {
	_, err := r.db.ExecContext(ctx, `INSERT INTO deposits (id, account_id, amount, bank_name, method, reference, note, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		d.ID, d.AccountID, d.Amount, d.BankName, d.Method, d.Reference, d.Note, d.CreatedAt)
	return err
}

// ListByAccount returns deposits for accountID newest first, paginated by limit and offset.
func (r *PostgresDepositRepository) ListByAccount(ctx context.Context, accountID string, limit, offset int32) ([]*domain.Deposit, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT id, account_id, amount, bank_name, method, reference, note, created_at
		FROM deposits WHERE account_id = $1 ORDER BY created_at DESC, id LIMIT $2 OFFSET $3`, accountID, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*domain.Deposit
	for rows.Next() {
		var d domain.Deposit
		if err := rows.Scan(&d.ID, &d.AccountID, &d.Amount, &d.BankName, &d.Method, &d.Reference, &d.Note, &d.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, &d)
	}
	return out, rows.Err()
}
