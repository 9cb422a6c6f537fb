// Package store groups the repositories and runs units of work atomically.
package store

import (
	"context"

	auditrepo "custodial-ledger/backend/internal/audit/repository"
	challengerepo "custodial-ledger/backend/internal/challenge/repository"
	ledgerrepo "custodial-ledger/backend/internal/ledger/repository"
	mfarepo "custodial-ledger/backend/internal/mfa/repository"
	policyrepo "custodial-ledger/backend/internal/policy/repository"
	transferrepo "custodial-ledger/backend/internal/transfer/repository"
	txpolicyrepo "custodial-ledger/backend/internal/txpolicy/repository"
)

// Repos is the set of repositories bound to one connection or transaction.
type Repos struct {
	Accounts   ledgerrepo.Repository
	Deposits   ledgerrepo.DepositRepository
	Transfers  transferrepo.Repository
	Challenges challengerepo.Repository
	TxPolicies txpolicyrepo.Repository
	EmailCodes mfarepo.Repository
	Policies   policyrepo.Repository
	Audit      auditrepo.Repository
}

// Store hands out repositories and runs transactions.
type Store interface {
	// Repos returns repositories that run outside any transaction.
	Repos() Repos
	// WithinTx runs fn with repositories bound to a single transaction. If fn returns an error
	// every write made through those repositories is rolled back; otherwise all of them commit.
	WithinTx(ctx context.Context, fn func(ctx context.Context, r Repos) error) error
	// Ping checks that the backing storage is reachable.
	Ping(ctx context.Context) error
}
