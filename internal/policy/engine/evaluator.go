package engine

import (
	"context"

	"github.com/shopspring/decimal"
)

// SettlementInput describes a verified transfer about to be settled.
type SettlementInput struct {
	TransferID      string
	SenderAccountID string
	Amount          decimal.Decimal
	// Internal is true when the recipient is another ledger account.
	Internal bool
	Flow     string
}

// SettlementResult is the outcome of a settlement policy evaluation.
type SettlementResult struct {
	RequireApproval bool
}

// Evaluator decides whether a verified transfer settles immediately or waits for an administrator.
type Evaluator interface {
	EvaluateSettlement(ctx context.Context, in SettlementInput) (SettlementResult, error)
}
