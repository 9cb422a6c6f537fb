// Package domain defines the transfer record and its state machine.
package domain

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"custodial-ledger/backend/internal/errs"
)

// Status is a transfer's position in its lifecycle.
type Status string

const (
	StatusPending          Status = "pending"
	StatusAwaitingApproval Status = "awaiting_approval"
	StatusSuccess          Status = "success"
	StatusFailed           Status = "failed"
)

// Flow records how the transfer was verified.
type Flow string

const (
	// FlowOTP is the per-transfer one-time code flow; funds are escrowed at creation.
	FlowOTP Flow = "otp"
	// FlowChallenge is the tiered / email-code flow; the record is created at settlement.
	FlowChallenge Flow = "challenge"
)

var transitions = map[Status][]Status{
	StatusPending:          {StatusAwaitingApproval, StatusFailed},
	StatusAwaitingApproval: {StatusSuccess, StatusFailed},
}

// CanTransition reports whether s → to is an allowed edge.
func (s Status) CanTransition(to Status) bool {
	for _, t := range transitions[s] {
		if t == to {
			return true
		}
	}
	return false
}

// Terminal reports whether no further transitions are allowed.
func (s Status) Terminal() bool {
	return s == StatusSuccess || s == StatusFailed
}

// Recipient describes who receives the funds. AccountID is set only when AccountNumber resolves to a ledger account.
type Recipient struct {
	Name          string
	Bank          string
	AccountNumber string
	IBAN          string
	SWIFT         string
	Address       string
	AccountID     string
}

// Internal reports whether the recipient is a ledger account.
func (r Recipient) Internal() bool {
	return r.AccountID != ""
}

// Validate checks the required descriptor fields.
func (r Recipient) Validate() error {
	if strings.TrimSpace(r.Name) == "" {
		return errs.Invalid("recipient.name", "is required")
	}
	if strings.TrimSpace(r.Bank) == "" {
		return errs.Invalid("recipient.bank", "is required")
	}
	if strings.TrimSpace(r.AccountNumber) == "" {
		return errs.Invalid("recipient.account_number", "is required")
	}
	return nil
}

// Transfer is one attempted movement of funds. Records are never deleted.
type Transfer struct {
	ID              string
	SenderAccountID string
	Recipient       Recipient
	Amount          decimal.Decimal
	Purpose         string
	Reference       string
	Flow            Flow
	CodeHash        string
	CodeExpiresAt   *time.Time
	CodeIssuedAt    *time.Time
	CodeEntered     bool
	IsVerified      bool
	Status          Status
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// TransitionTo moves the transfer to status to, or returns an error if the edge is not allowed.
func (t *Transfer) TransitionTo(to Status, now time.Time) error {
	if !t.Status.CanTransition(to) {
		return fmt.Errorf("transfer %s: illegal transition %s -> %s", t.ID, t.Status, to)
	}
	t.Status = to
	t.UpdatedAt = now
	return nil
}

// SetCode stores a freshly issued one-time code hash with its expiry.
func (t *Transfer) SetCode(hash string, issuedAt time.Time, ttl time.Duration) {
	exp := issuedAt.Add(ttl)
	t.CodeHash = hash
	t.CodeIssuedAt = &issuedAt
	t.CodeExpiresAt = &exp
	t.UpdatedAt = issuedAt
}

// CodeExpired reports whether the one-time code is no longer valid at now. A record without a code is expired.
func (t *Transfer) CodeExpired(now time.Time) bool {
	return t.CodeExpiresAt == nil || !now.Before(*t.CodeExpiresAt)
}
