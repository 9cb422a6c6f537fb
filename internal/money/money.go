// Package money holds the ledger's fixed-point amount rules: one unit, two fraction digits.
package money

import (
	"strings"

	"github.com/shopspring/decimal"

	"custodial-ledger/backend/internal/errs"
)

// Places is the number of fraction digits every persisted amount carries.
const Places = 2

// Parse parses s as a positive amount with at most two fraction digits.
func Parse(s string) (decimal.Decimal, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return decimal.Zero, errs.Invalid("amount", "is required")
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, errs.Invalid("amount", "must be a decimal number")
	}
	return d, ValidatePositive(d)
}

// ValidatePositive rejects amounts that are not > 0 or carry more than two fraction digits.
func ValidatePositive(d decimal.Decimal) error {
	if !d.IsPositive() {
		return errs.Invalid("amount", "must be greater than zero")
	}
	if !d.Equal(d.Round(Places)) {
		return errs.Invalid("amount", "must have at most two decimal places")
	}
	return nil
}

// Format renders d with exactly two fraction digits.
func Format(d decimal.Decimal) string {
	return d.StringFixed(Places)
}
