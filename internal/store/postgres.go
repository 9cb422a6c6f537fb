package store

import (
	"context"
	"database/sql"

	auditrepo "custodial-ledger/backend/internal/audit/repository"
	challengerepo "custodial-ledger/backend/internal/challenge/repository"
	"custodial-ledger/backend/internal/db"
	ledgerrepo "custodial-ledger/backend/internal/ledger/repository"
	mfarepo "custodial-ledger/backend/internal/mfa/repository"
	policyrepo "custodial-ledger/backend/internal/policy/repository"
	transferrepo "custodial-ledger/backend/internal/transfer/repository"
	txpolicyrepo "custodial-ledger/backend/internal/txpolicy/repository"
)

// Postgres is a Store backed by a Postgres pool.
type Postgres struct {
	db    *sql.DB
	repos Repos
}

// NewPostgres returns a Store over the given pool.
func NewPostgres(pool *sql.DB) *Postgres {
	return &Postgres{db: pool, repos: postgresRepos(pool)}
}

func postgresRepos(q db.DBTX) Repos {
	return Repos{
		Accounts:   ledgerrepo.NewPostgresRepository(q),
		Deposits:   ledgerrepo.NewPostgresDepositRepository(q),
		Transfers:  transferrepo.NewPostgresRepository(q),
		Challenges: challengerepo.NewPostgresRepository(q),
		TxPolicies: txpolicyrepo.NewPostgresRepository(q),
		EmailCodes: mfarepo.NewPostgresRepository(q),
		Policies:   policyrepo.NewPostgresRepository(q),
		Audit:      auditrepo.NewPostgresRepository(q),
	}
}

// Repos returns repositories bound to the pool.
func (p *Postgres) Repos() Repos {
	return p.repos
}

// WithinTx runs fn in one read-committed transaction.
func (p *Postgres) WithinTx(ctx context.Context, fn func(ctx context.Context, r Repos) error) error {
	return db.WithTx(ctx, p.db, func(tx *sql.Tx) error {
		return fn(ctx, postgresRepos(tx))
	})
}

// Ping pings the pool.
func (p *Postgres) Ping(ctx context.Context) error {
	return p.db.PingContext(ctx)
}
