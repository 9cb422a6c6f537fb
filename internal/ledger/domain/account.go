package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// Account is a customer's ledger account. Balance is only changed by ledger operations and never drops below zero.
type Account struct {
	ID             string
	PrincipalID    string
	AccountNumber  string
	Balance        decimal.Decimal
	Destination    string
	Locked         bool
	TransferLocked bool
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// CanTransact reports the lock that blocks a transfer for this account, or nil.
// Locked takes precedence over TransferLocked.
func (a *Account) CanTransact() error {
	if a.Locked {
		return ErrLocked
	}
	if a.TransferLocked {
		return ErrTransferLocked
	}
	return nil
}

// Deposit is an administrative credit to an account, kept for the transaction history.
type Deposit struct {
	ID        string
	AccountID string
	Amount    decimal.Decimal
	BankName  string
	Method    string
	Reference string
	Note      string
	CreatedAt time.Time
}
