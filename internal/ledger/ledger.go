// Package ledger holds account balances and the operations that change them.
package ledger

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"custodial-ledger/backend/internal/errs"
	"custodial-ledger/backend/internal/ledger/domain"
	"custodial-ledger/backend/internal/ledger/repository"
	"custodial-ledger/backend/internal/money"
)

// Credit adds amount to the account inside the caller's transaction. The row is read FOR UPDATE.
func Credit(ctx context.Context, accounts repository.Repository, accountID string, amount decimal.Decimal, now time.Time) (*domain.Account, error) {
	if err := money.ValidatePositive(amount); err != nil {
		return nil, err
	}
	a, err := accounts.GetByIDForUpdate(ctx, accountID)
	if err != nil {
		return nil, fmt.Errorf("load account %s: %w", accountID, err)
	}
	if a == nil {
		return nil, fmt.Errorf("account %s: %w", accountID, errs.ErrNotFound)
	}
	a.Balance = a.Balance.Add(amount)
	a.UpdatedAt = now
	if err := accounts.UpdateBalance(ctx, a.ID, a.Balance, now); err != nil {
		return nil, fmt.Errorf("credit account %s: %w", accountID, err)
	}
	return a, nil
}

// Debit subtracts amount inside the caller's transaction. The balance check and the write happen on
// a row read FOR UPDATE, so a concurrent debit waits and then sees the new balance.
// Returns errs.ErrInsufficientFunds when the balance is short; nothing is written in that case.
func Debit(ctx context.Context, accounts repository.Repository, accountID string, amount decimal.Decimal, now time.Time) (*domain.Account, error) {
	if err := money.ValidatePositive(amount); err != nil {
		return nil, err
	}
	a, err := accounts.GetByIDForUpdate(ctx, accountID)
	if err != nil {
		return nil, fmt.Errorf("load account %s: %w", accountID, err)
	}
	if a == nil {
		return nil, fmt.Errorf("account %s: %w", accountID, errs.ErrNotFound)
	}
	if a.Balance.LessThan(amount) {
		return nil, errs.ErrInsufficientFunds
	}
	a.Balance = a.Balance.Sub(amount)
	a.UpdatedAt = now
	if err := accounts.UpdateBalance(ctx, a.ID, a.Balance, now); err != nil {
		return nil, fmt.Errorf("debit account %s: %w", accountID, err)
	}
	return a, nil
}

// Move debits from and credits to inside the caller's transaction. An empty to only debits:
// the amount stays escrowed until the transfer is approved or declined.
func Move(ctx context.Context, accounts repository.Repository, from, to string, amount decimal.Decimal, now time.Time) error {
	if _, err := Debit(ctx, accounts, from, amount, now); err != nil {
		return err
	}
	if to == "" {
		return nil
	}
	_, err := Credit(ctx, accounts, to, amount, now)
	return err
}
