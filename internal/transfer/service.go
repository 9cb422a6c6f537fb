// Package transfer runs the transfer state machine: creation with escrow, one-time code
// verification, settlement policy and administrative approve/decline.
package transfer

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"custodial-ledger/backend/internal/audit"
	"custodial-ledger/backend/internal/errs"
	"custodial-ledger/backend/internal/ledger"
	ledgerdomain "custodial-ledger/backend/internal/ledger/domain"
	"custodial-ledger/backend/internal/lock"
	"custodial-ledger/backend/internal/mfa"
	"custodial-ledger/backend/internal/money"
	"custodial-ledger/backend/internal/notify"
	"custodial-ledger/backend/internal/policy/engine"
	"custodial-ledger/backend/internal/store"
	"custodial-ledger/backend/internal/telemetry"
	"custodial-ledger/backend/internal/transfer/domain"
)

const (
	referenceLength   = 12
	referenceAlphabet = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"
	referenceAttempts = 8

	// DefaultCodeTTL is how long a transfer OTP stays valid.
	DefaultCodeTTL = 5 * time.Minute
	// DefaultResendCooldown is the minimum gap between two OTPs for the same transfer.
	DefaultResendCooldown = time.Minute
)

// Deps are the collaborators of a Service. Audit, Telemetry, Dispatcher and Log may be nil.
type Deps struct {
	Store      store.Store
	Locker     lock.Locker
	Policy     engine.Evaluator
	Dispatcher *notify.Dispatcher
	Audit      audit.AuditLogger
	Telemetry  *telemetry.Recorder
	Log        *zap.Logger

	CodeTTL        time.Duration
	ResendCooldown time.Duration
}

// Service implements the transfer operations. Each operation takes its keyed locks in the order
// transfer → account, runs one store transaction and dispatches codes after both are released.
type Service struct {
	store      store.Store
	locker     lock.Locker
	policy     engine.Evaluator
	dispatcher *notify.Dispatcher
	audit      audit.AuditLogger
	telemetry  *telemetry.Recorder
	log        *zap.Logger
	now        func() time.Time

	codeTTL        time.Duration
	resendCooldown time.Duration
}

// NewService returns a transfer Service.
func NewService(d Deps) *Service {
	if d.Log == nil {
		d.Log = zap.NewNop()
	}
	if d.CodeTTL <= 0 {
		d.CodeTTL = DefaultCodeTTL
	}
	if d.ResendCooldown <= 0 {
		d.ResendCooldown = DefaultResendCooldown
	}
	return &Service{
		store:          d.Store,
		locker:         d.Locker,
		policy:         d.Policy,
		dispatcher:     d.Dispatcher,
		audit:          d.Audit,
		telemetry:      d.Telemetry,
		log:            d.Log,
		now:            func() time.Time { return time.Now().UTC() },
		codeTTL:        d.CodeTTL,
		resendCooldown: d.ResendCooldown,
	}
}

// SetClock replaces the time source (tests).
func (s *Service) SetClock(now func() time.Time) {
	s.now = now
}

// Now returns the service clock's current time.
func (s *Service) Now() time.Time {
	return s.now()
}

// Intent is a requested transfer.
type Intent struct {
	Recipient domain.Recipient
	Amount    decimal.Decimal
	Purpose   string
}

// Validate checks amount and recipient descriptor.
func (in Intent) Validate() error {
	if err := money.ValidatePositive(in.Amount); err != nil {
		return err
	}
	return in.Recipient.Validate()
}

// Create validates the intent, escrows the amount from the caller's account and stores a pending
// transfer with a fresh one-time code, which is dispatched after commit.
// Lock flags are checked before the intent is validated.
func (s *Service) Create(ctx context.Context, principalID string, in Intent) (*domain.Transfer, error) {
	sender, err := s.accountOf(ctx, principalID)
	if err != nil {
		return nil, err
	}
	if err := sender.CanTransact(); err != nil {
		return nil, err
	}
	if err := in.Validate(); err != nil {
		return nil, err
	}

	var (
		t    *domain.Transfer
		code string
	)
	err = s.withLocks(ctx, []string{lock.AccountKey(sender.ID)}, func(ctx context.Context, r store.Repos) error {
		acct, err := r.Accounts.GetByIDForUpdate(ctx, sender.ID)
		if err != nil {
			return err
		}
		if acct == nil {
			return errs.ErrNotFound
		}
		if err := acct.CanTransact(); err != nil {
			return err
		}
		now := s.now()
		recipient, err := ResolveRecipient(ctx, r, acct.ID, in.Recipient)
		if err != nil {
			return err
		}
		if _, err := ledger.Debit(ctx, r.Accounts, acct.ID, in.Amount, now); err != nil {
			return err
		}
		ref, err := newReference(ctx, r)
		if err != nil {
			return err
		}
		code, err = mfa.GenerateOTP()
		if err != nil {
			return fmt.Errorf("generate transfer code: %w", err)
		}
		t = &domain.Transfer{
			ID:              uuid.New().String(),
			SenderAccountID: acct.ID,
			Recipient:       recipient,
			Amount:          in.Amount,
			Purpose:         strings.TrimSpace(in.Purpose),
			Reference:       ref,
			Flow:            domain.FlowOTP,
			Status:          domain.StatusPending,
			CreatedAt:       now,
		}
		t.SetCode(mfa.HashOTP(code), now, s.codeTTL)
		return r.Transfers.Create(ctx, t)
	})
	if err != nil {
		return nil, err
	}

	s.dispatcher.Dispatch(ctx, s.otpMessage(sender, t, code))
	s.record(ctx, principalID, audit.ActionTransferCreated, telemetry.EventTransferCreated, t)
	return t, nil
}

// Resend issues a new code for a pending, unverified transfer owned by the caller.
// errs.ErrResendTooSoon if the previous code is younger than the cool-down.
func (s *Service) Resend(ctx context.Context, principalID, transferID string) (*domain.Transfer, error) {
	sender, err := s.accountOf(ctx, principalID)
	if err != nil {
		return nil, err
	}
	var (
		t    *domain.Transfer
		code string
	)
	err = s.withLocks(ctx, []string{lock.TransferKey(transferID)}, func(ctx context.Context, r store.Repos) error {
		var err error
		t, err = r.Transfers.GetByIDForUpdate(ctx, transferID)
		if err != nil {
			return err
		}
		caller, err := r.Accounts.GetByID(ctx, sender.ID)
		if err != nil {
			return err
		}
		if err := checkVerifiable(t, caller); err != nil {
			return err
		}
		now := s.now()
		if t.CodeIssuedAt != nil && now.Sub(*t.CodeIssuedAt) < s.resendCooldown {
			return errs.ErrResendTooSoon
		}
		code, err = mfa.GenerateOTP()
		if err != nil {
			return fmt.Errorf("generate transfer code: %w", err)
		}
		t.SetCode(mfa.HashOTP(code), now, s.codeTTL)
		return r.Transfers.Update(ctx, t)
	})
	if err != nil {
		return nil, err
	}
	s.dispatcher.Dispatch(ctx, s.otpMessage(sender, t, code))
	return t, nil
}

// Verify checks the caller's code for a pending transfer. On success the transfer is verified and
// awaits approval, or settles immediately when the settlement policy allows it.
// Errors, in order: ErrNotFound, ErrNotOwner, ErrAccountLocked, ErrAlreadyVerified,
// ErrTransferClosed, ErrCodeExpired, ErrInvalidCode. A failed check changes nothing.
func (s *Service) Verify(ctx context.Context, principalID, transferID, code string) (*domain.Transfer, error) {
	sender, err := s.accountOf(ctx, principalID)
	if err != nil {
		return nil, err
	}
	peek, err := s.store.Repos().Transfers.GetByID(ctx, transferID)
	if err != nil {
		return nil, err
	}
	if peek == nil {
		return nil, errs.ErrNotFound
	}
	keys := append([]string{lock.TransferKey(transferID)}, lock.AccountKeys(peek.SenderAccountID, peek.Recipient.AccountID)...)

	var t *domain.Transfer
	err = s.withLocks(ctx, keys, func(ctx context.Context, r store.Repos) error {
		var err error
		t, err = r.Transfers.GetByIDForUpdate(ctx, transferID)
		if err != nil {
			return err
		}
		caller, err := r.Accounts.GetByIDForUpdate(ctx, sender.ID)
		if err != nil {
			return err
		}
		if err := checkVerifiable(t, caller); err != nil {
			return err
		}
		now := s.now()
		if t.CodeExpired(now) {
			return errs.ErrCodeExpired
		}
		if !mfa.OTPEqual(code, t.CodeHash) {
			return errs.ErrInvalidCode
		}
		t.CodeEntered = true
		t.IsVerified = true
		if err := t.TransitionTo(domain.StatusAwaitingApproval, now); err != nil {
			return err
		}
		if err := s.maybeAutoSettle(ctx, r, caller, t, now); err != nil {
			return err
		}
		return r.Transfers.Update(ctx, t)
	})
	if err != nil {
		return nil, err
	}
	s.record(ctx, principalID, audit.ActionTransferVerified, telemetry.EventTransferVerified, t)
	if t.Status == domain.StatusSuccess {
		s.record(ctx, audit.SystemActor, audit.ActionTransferSettled, telemetry.EventTransferSettled, t)
	}
	return t, nil
}

// checkVerifiable applies the ownership and state checks shared by Verify and Resend.
func checkVerifiable(t *domain.Transfer, caller *ledgerdomain.Account) error {
	if t == nil {
		return errs.ErrNotFound
	}
	if caller == nil || t.SenderAccountID != caller.ID {
		return errs.ErrNotOwner
	}
	if caller.Locked {
		return errs.ErrAccountLocked
	}
	if t.IsVerified {
		return errs.ErrAlreadyVerified
	}
	if t.Status != domain.StatusPending {
		return errs.ErrTransferClosed
	}
	return nil
}

// Approve settles a transfer awaiting approval, crediting an internal recipient. Transfers in any
// other state are returned unchanged with applied=false.
func (s *Service) Approve(ctx context.Context, actorID, transferID string) (*domain.Transfer, bool, error) {
	peek, err := s.peek(ctx, transferID)
	if err != nil {
		return nil, false, err
	}
	keys := append([]string{lock.TransferKey(transferID)}, lock.AccountKeys(peek.Recipient.AccountID)...)

	var (
		t       *domain.Transfer
		applied bool
	)
	err = s.withLocks(ctx, keys, func(ctx context.Context, r store.Repos) error {
		var err error
		t, err = r.Transfers.GetByIDForUpdate(ctx, transferID)
		if err != nil {
			return err
		}
		if t == nil {
			return errs.ErrNotFound
		}
		if t.Status != domain.StatusAwaitingApproval {
			return nil
		}
		now := s.now()
		if t.Recipient.Internal() {
			if _, err := ledger.Credit(ctx, r.Accounts, t.Recipient.AccountID, t.Amount, now); err != nil {
				return err
			}
		}
		if err := t.TransitionTo(domain.StatusSuccess, now); err != nil {
			return err
		}
		applied = true
		return r.Transfers.Update(ctx, t)
	})
	if err != nil {
		return nil, false, err
	}
	if applied {
		s.record(ctx, actorID, audit.ActionTransferApproved, telemetry.EventTransferSettled, t)
	}
	return t, applied, nil
}

// Decline fails a pending or awaiting-approval transfer and refunds the escrowed amount to the
// sender in the same transaction. Terminal transfers are returned unchanged with applied=false.
func (s *Service) Decline(ctx context.Context, actorID, transferID string) (*domain.Transfer, bool, error) {
	peek, err := s.peek(ctx, transferID)
	if err != nil {
		return nil, false, err
	}
	keys := []string{lock.TransferKey(transferID), lock.AccountKey(peek.SenderAccountID)}

	var (
		t       *domain.Transfer
		applied bool
	)
	err = s.withLocks(ctx, keys, func(ctx context.Context, r store.Repos) error {
		var err error
		t, err = r.Transfers.GetByIDForUpdate(ctx, transferID)
		if err != nil {
			return err
		}
		if t == nil {
			return errs.ErrNotFound
		}
		if t.Status.Terminal() {
			return nil
		}
		now := s.now()
		if _, err := ledger.Credit(ctx, r.Accounts, t.SenderAccountID, t.Amount, now); err != nil {
			return fmt.Errorf("refund sender: %w", err)
		}
		if err := t.TransitionTo(domain.StatusFailed, now); err != nil {
			return err
		}
		applied = true
		return r.Transfers.Update(ctx, t)
	})
	if err != nil {
		return nil, false, err
	}
	if applied {
		s.record(ctx, actorID, audit.ActionTransferDeclined, telemetry.EventTransferDeclined, t)
	}
	return t, applied, nil
}

// Get returns a transfer visible to the caller: its sender, or anyone when admin is true.
func (s *Service) Get(ctx context.Context, principalID string, admin bool, transferID string) (*domain.Transfer, error) {
	t, err := s.peek(ctx, transferID)
	if err != nil {
		return nil, err
	}
	if admin {
		return t, nil
	}
	acct, err := s.store.Repos().Accounts.GetByPrincipal(ctx, principalID)
	if err != nil {
		return nil, err
	}
	if acct == nil || acct.ID != t.SenderAccountID {
		return nil, errs.ErrNotOwner
	}
	return t, nil
}

// SettleInTx records a verified challenge-flow transfer inside the caller's transaction. The caller
// holds the sender's and recipient's account locks and has already validated the intent.
// When the balance is short a failed record is stored and returned without a debit; the caller
// commits it and reports errs.ErrInsufficientFunds.
func (s *Service) SettleInTx(ctx context.Context, r store.Repos, sender *ledgerdomain.Account, in Intent, now time.Time) (*domain.Transfer, error) {
	if err := sender.CanTransact(); err != nil {
		return nil, err
	}
	recipient, err := ResolveRecipient(ctx, r, sender.ID, in.Recipient)
	if err != nil {
		return nil, err
	}
	ref, err := newReference(ctx, r)
	if err != nil {
		return nil, err
	}
	t := &domain.Transfer{
		ID:              uuid.New().String(),
		SenderAccountID: sender.ID,
		Recipient:       recipient,
		Amount:          in.Amount,
		Purpose:         strings.TrimSpace(in.Purpose),
		Reference:       ref,
		Flow:            domain.FlowChallenge,
		CodeEntered:     true,
		IsVerified:      true,
		Status:          domain.StatusAwaitingApproval,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	acct, err := ledger.Debit(ctx, r.Accounts, sender.ID, in.Amount, now)
	switch {
	case errors.Is(err, errs.ErrInsufficientFunds):
		t.Status = domain.StatusFailed
		t.IsVerified = false
		return t, r.Transfers.Create(ctx, t)
	case err != nil:
		return nil, err
	}
	if err := s.maybeAutoSettle(ctx, r, acct, t, now); err != nil {
		return nil, err
	}
	return t, r.Transfers.Create(ctx, t)
}

// RecordSettlement writes the audit and telemetry entries for a transfer produced by SettleInTx.
// Call it after the transaction has committed.
func (s *Service) RecordSettlement(ctx context.Context, principalID string, t *domain.Transfer) {
	switch t.Status {
	case domain.StatusFailed:
		s.record(ctx, principalID, audit.ActionTransferFailed, telemetry.EventTransferFailed, t)
	case domain.StatusSuccess:
		s.record(ctx, principalID, audit.ActionTransferCreated, telemetry.EventTransferCreated, t)
		s.record(ctx, audit.SystemActor, audit.ActionTransferSettled, telemetry.EventTransferSettled, t)
	default:
		s.record(ctx, principalID, audit.ActionTransferCreated, telemetry.EventTransferCreated, t)
	}
}

// ResolveRecipient sets AccountID when the recipient account number belongs to a ledger account
// other than the sender's.
func ResolveRecipient(ctx context.Context, r store.Repos, senderID string, rcpt domain.Recipient) (domain.Recipient, error) {
	rcpt.AccountID = ""
	acct, err := r.Accounts.GetByAccountNumber(ctx, strings.TrimSpace(rcpt.AccountNumber))
	if err != nil {
		return rcpt, err
	}
	if acct != nil && acct.ID != senderID {
		rcpt.AccountID = acct.ID
	}
	return rcpt, nil
}

// maybeAutoSettle moves a transfer awaiting approval to success when the settlement policy does not
// require approval and the sender is not transfer-locked, crediting an internal recipient.
func (s *Service) maybeAutoSettle(ctx context.Context, r store.Repos, sender *ledgerdomain.Account, t *domain.Transfer, now time.Time) error {
	if s.policy == nil || sender == nil || sender.TransferLocked || sender.Locked {
		return nil
	}
	res, err := s.policy.EvaluateSettlement(ctx, engine.SettlementInput{
		TransferID:      t.ID,
		SenderAccountID: t.SenderAccountID,
		Amount:          t.Amount,
		Internal:        t.Recipient.Internal(),
		Flow:            string(t.Flow),
	})
	if err != nil {
		s.log.Warn("transfer: settlement policy failed, awaiting approval", zap.String("transfer_id", t.ID), zap.Error(err))
		return nil
	}
	if res.RequireApproval {
		return nil
	}
	if t.Recipient.Internal() {
		if _, err := ledger.Credit(ctx, r.Accounts, t.Recipient.AccountID, t.Amount, now); err != nil {
			return err
		}
	}
	return t.TransitionTo(domain.StatusSuccess, now)
}

func (s *Service) accountOf(ctx context.Context, principalID string) (*ledgerdomain.Account, error) {
	acct, err := s.store.Repos().Accounts.GetByPrincipal(ctx, principalID)
	if err != nil {
		return nil, err
	}
	if acct == nil {
		return nil, fmt.Errorf("account for principal: %w", errs.ErrNotFound)
	}
	return acct, nil
}

func (s *Service) peek(ctx context.Context, transferID string) (*domain.Transfer, error) {
	t, err := s.store.Repos().Transfers.GetByID(ctx, transferID)
	if err != nil {
		return nil, err
	}
	if t == nil {
		return nil, errs.ErrNotFound
	}
	return t, nil
}

func (s *Service) withLocks(ctx context.Context, keys []string, fn func(ctx context.Context, r store.Repos) error) error {
	unlock, err := s.locker.Lock(ctx, keys...)
	if err != nil {
		return err
	}
	defer unlock()
	return s.store.WithinTx(ctx, fn)
}

func (s *Service) otpMessage(sender *ledgerdomain.Account, t *domain.Transfer, code string) notify.Message {
	return notify.Message{
		Key:         notify.TransferKey(t.ID),
		AccountID:   sender.ID,
		Destination: sender.Destination,
		Purpose:     notify.PurposeTransferOTP,
		Code:        code,
		ExpiresAt:   *t.CodeExpiresAt,
	}
}

func (s *Service) record(ctx context.Context, actorID, action, eventType string, t *domain.Transfer) {
	if s.audit != nil {
		meta := fmt.Sprintf(`{"amount":%q,"status":%q,"reference":%q}`, money.Format(t.Amount), t.Status, t.Reference)
		s.audit.LogEvent(ctx, actorID, action, "transfer:"+t.ID, meta)
	}
	s.telemetry.Record(ctx, telemetry.Event{
		Type:       eventType,
		AccountID:  t.SenderAccountID,
		TransferID: t.ID,
		Amount:     money.Format(t.Amount),
		Status:     string(t.Status),
		Flow:       string(t.Flow),
	})
}

func newReference(ctx context.Context, r store.Repos) (string, error) {
	max := big.NewInt(int64(len(referenceAlphabet)))
	for i := 0; i < referenceAttempts; i++ {
		b := make([]byte, referenceLength)
		for j := range b {
			n, err := rand.Int(rand.Reader, max)
			if err != nil {
				return "", err
			}
			b[j] = referenceAlphabet[n.Int64()]
		}
		ref := string(b)
		exists, err := r.Transfers.ReferenceExists(ctx, ref)
		if err != nil {
			return "", err
		}
		if !exists {
			return ref, nil
		}
	}
	return "", errors.New("transfer: could not allocate a unique reference")
}
