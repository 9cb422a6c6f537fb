package ledger

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"math/big"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"custodial-ledger/backend/internal/audit"
	"custodial-ledger/backend/internal/challenge"
	"custodial-ledger/backend/internal/errs"
	"custodial-ledger/backend/internal/ledger/domain"
	"custodial-ledger/backend/internal/lock"
	"custodial-ledger/backend/internal/money"
	"custodial-ledger/backend/internal/store"
	transferdomain "custodial-ledger/backend/internal/transfer/domain"
	txpolicydomain "custodial-ledger/backend/internal/txpolicy/domain"
)

const (
	accountNumberDigits   = 10
	accountNumberAttempts = 8
	// MaxHistoryPage caps the page size of History.
	MaxHistoryPage = 100
	// MaxHistoryOffset caps how deep History pages; later pages are empty.
	MaxHistoryOffset = 10000
)

// Service runs standalone ledger operations and account administration, each in its own transaction
// under the account lock.
type Service struct {
	store      store.Store
	locker     lock.Locker
	challenges *challenge.Store
	audit      audit.AuditLogger
	log        *zap.Logger
	now        func() time.Time
}

// NewService returns a ledger Service. auditLogger and log may be nil.
func NewService(st store.Store, locker lock.Locker, challenges *challenge.Store, auditLogger audit.AuditLogger, log *zap.Logger) *Service {
	if log == nil {
		log = zap.NewNop()
	}
	return &Service{
		store:      st,
		locker:     locker,
		challenges: challenges,
		audit:      auditLogger,
		log:        log,
		now:        func() time.Time { return time.Now().UTC() },
	}
}

// SetClock replaces the time source (tests).
func (s *Service) SetClock(now func() time.Time) {
	s.now = now
}

// ProvisionInput describes a new account.
type ProvisionInput struct {
	PrincipalID   string
	Destination   string
	TieredEnabled bool
}

// Provision creates the account with a fresh unique account number, its challenge record and
// its transaction policy in one transaction.
func (s *Service) Provision(ctx context.Context, actorID string, in ProvisionInput) (*domain.Account, error) {
	principal := strings.TrimSpace(in.PrincipalID)
	if principal == "" {
		return nil, errs.Invalid("principal_id", "is required")
	}
	now := s.now()
	acct := &domain.Account{
		ID:          uuid.New().String(),
		PrincipalID: principal,
		Balance:     decimal.Zero,
		Destination: strings.TrimSpace(in.Destination),
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	err := s.store.WithinTx(ctx, func(ctx context.Context, r store.Repos) error {
		existing, err := r.Accounts.GetByPrincipal(ctx, principal)
		if err != nil {
			return err
		}
		if existing != nil {
			return errs.Invalid("principal_id", "already has an account")
		}
		number, err := newAccountNumber(ctx, r)
		if err != nil {
			return err
		}
		acct.AccountNumber = number
		if err := r.Accounts.Create(ctx, acct); err != nil {
			return fmt.Errorf("create account: %w", err)
		}
		if err := r.Challenges.CreateRecord(ctx, acct.ID, now); err != nil {
			return fmt.Errorf("create challenge record: %w", err)
		}
		return r.TxPolicies.Upsert(ctx, &txpolicydomain.Policy{AccountID: acct.ID, TieredEnabled: in.TieredEnabled, UpdatedAt: now})
	})
	if err != nil {
		return nil, err
	}
	s.auditEvent(ctx, actorID, audit.ActionAccountProvisioned, acct.ID, fmt.Sprintf(`{"principal_id":%q}`, principal))
	return acct, nil
}

func newAccountNumber(ctx context.Context, r store.Repos) (string, error) {
	for i := 0; i < accountNumberAttempts; i++ {
		n, err := randomDigits(accountNumberDigits)
		if err != nil {
			return "", err
		}
		taken, err := r.Accounts.GetByAccountNumber(ctx, n)
		if err != nil {
			return "", err
		}
		if taken == nil {
			return n, nil
		}
	}
	return "", errors.New("ledger: could not allocate a unique account number")
}

// randomDigits returns n decimal digits with a non-zero leading digit.
func randomDigits(n int) (string, error) {
	b := make([]byte, n)
	for i := range b {
		lo, span := int64(0), int64(10)
		if i == 0 {
			lo, span = 1, 9
		}
		v, err := rand.Int(rand.Reader, big.NewInt(span))
		if err != nil {
			return "", err
		}
		b[i] = byte('0' + lo + v.Int64())
	}
	return string(b), nil
}

// Credit adds amount to the account.
func (s *Service) Credit(ctx context.Context, accountID string, amount decimal.Decimal) (*domain.Account, error) {
	var out *domain.Account
	err := s.withAccounts(ctx, []string{accountID}, func(ctx context.Context, r store.Repos, now time.Time) error {
		a, err := Credit(ctx, r.Accounts, accountID, amount, now)
		out = a
		return err
	})
	return out, err
}

// Debit subtracts amount from the account; errs.ErrInsufficientFunds if the balance is short.
func (s *Service) Debit(ctx context.Context, accountID string, amount decimal.Decimal) (*domain.Account, error) {
	var out *domain.Account
	err := s.withAccounts(ctx, []string{accountID}, func(ctx context.Context, r store.Repos, now time.Time) error {
		a, err := Debit(ctx, r.Accounts, accountID, amount, now)
		out = a
		return err
	})
	return out, err
}

// Transfer debits from and credits to atomically; an empty to escrows the amount.
func (s *Service) Transfer(ctx context.Context, from, to string, amount decimal.Decimal) error {
	return s.withAccounts(ctx, []string{from, to}, func(ctx context.Context, r store.Repos, now time.Time) error {
		return Move(ctx, r.Accounts, from, to, amount, now)
	})
}

// DepositInput describes an administrative deposit.
type DepositInput struct {
	Amount    decimal.Decimal
	BankName  string
	Method    string
	Reference string
	Note      string
}

// Deposit credits the account and records the deposit in the same transaction.
func (s *Service) Deposit(ctx context.Context, actorID, accountID string, in DepositInput) (*domain.Account, *domain.Deposit, error) {
	if err := money.ValidatePositive(in.Amount); err != nil {
		return nil, nil, err
	}
	var (
		acct *domain.Account
		dep  *domain.Deposit
	)
	err := s.withAccounts(ctx, []string{accountID}, func(ctx context.Context, r store.Repos, now time.Time) error {
		a, err := Credit(ctx, r.Accounts, accountID, in.Amount, now)
		if err != nil {
			return err
		}
		d := &domain.Deposit{
			ID:        uuid.New().String(),
			AccountID: accountID,
			Amount:    in.Amount,
			BankName:  in.BankName,
			Method:    in.Method,
			Reference: in.Reference,
			Note:      in.Note,
			CreatedAt: now,
		}
		if err := r.Deposits.Create(ctx, d); err != nil {
			return fmt.Errorf("record deposit: %w", err)
		}
		acct, dep = a, d
		return nil
	})
	if err != nil {
		return nil, nil, err
	}
	s.auditEvent(ctx, actorID, audit.ActionDeposit, accountID, fmt.Sprintf(`{"deposit_id":%q,"amount":%q}`, dep.ID, money.Format(dep.Amount)))
	return acct, dep, nil
}

// SetLocks sets the account's locked and transfer_locked flags.
func (s *Service) SetLocks(ctx context.Context, actorID, accountID string, locked, transferLocked bool) (*domain.Account, error) {
	var out *domain.Account
	err := s.withAccounts(ctx, []string{accountID}, func(ctx context.Context, r store.Repos, now time.Time) error {
		a, err := r.Accounts.GetByIDForUpdate(ctx, accountID)
		if err != nil {
			return err
		}
		if a == nil {
			return errs.ErrNotFound
		}
		if err := r.Accounts.UpdateLocks(ctx, accountID, locked, transferLocked, now); err != nil {
			return err
		}
		a.Locked, a.TransferLocked, a.UpdatedAt = locked, transferLocked, now
		out = a
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.auditEvent(ctx, actorID, audit.ActionAccountLocks, accountID, fmt.Sprintf(`{"locked":%t,"transfer_locked":%t}`, locked, transferLocked))
	return out, nil
}

// SetTieredMode switches the account between tiered challenges and single email-code mode.
func (s *Service) SetTieredMode(ctx context.Context, actorID, accountID string, tiered bool) (*txpolicydomain.Policy, error) {
	p := &txpolicydomain.Policy{AccountID: accountID, TieredEnabled: tiered}
	unlock, err := s.locker.Lock(ctx, lock.ChallengeKey(accountID))
	if err != nil {
		return nil, err
	}
	defer unlock()
	err = s.store.WithinTx(ctx, func(ctx context.Context, r store.Repos) error {
		a, err := r.Accounts.GetByID(ctx, accountID)
		if err != nil {
			return err
		}
		if a == nil {
			return errs.ErrNotFound
		}
		p.UpdatedAt = s.now()
		return r.TxPolicies.Upsert(ctx, p)
	})
	if err != nil {
		return nil, err
	}
	s.auditEvent(ctx, actorID, audit.ActionPolicyChanged, accountID, fmt.Sprintf(`{"tiered_enabled":%t}`, tiered))
	return p, nil
}

// ResetChallenges drops every outstanding challenge code and verified device for the account.
func (s *Service) ResetChallenges(ctx context.Context, actorID, accountID string) error {
	unlock, err := s.locker.Lock(ctx, lock.ChallengeKey(accountID))
	if err != nil {
		return err
	}
	defer unlock()
	err = s.store.WithinTx(ctx, func(ctx context.Context, r store.Repos) error {
		sess, err := s.challenges.Open(ctx, r.Challenges, accountID)
		if err != nil {
			return err
		}
		return sess.Reset(ctx)
	})
	if err != nil {
		return err
	}
	s.auditEvent(ctx, actorID, audit.ActionChallengesReset, accountID, "")
	return nil
}

// Get returns the account by id; errs.ErrNotFound if missing.
func (s *Service) Get(ctx context.Context, accountID string) (*domain.Account, error) {
	a, err := s.store.Repos().Accounts.GetByID(ctx, accountID)
	if err != nil {
		return nil, err
	}
	if a == nil {
		return nil, errs.ErrNotFound
	}
	return a, nil
}

// GetByPrincipal returns the principal's account; errs.ErrNotFound if none was provisioned.
func (s *Service) GetByPrincipal(ctx context.Context, principalID string) (*domain.Account, error) {
	a, err := s.store.Repos().Accounts.GetByPrincipal(ctx, principalID)
	if err != nil {
		return nil, err
	}
	if a == nil {
		return nil, errs.ErrNotFound
	}
	return a, nil
}

// Dashboard is the account overview shown to its owner.
type Dashboard struct {
	Account       *domain.Account
	TieredEnabled bool
}

// Dashboard returns the principal's account with its verification mode.
func (s *Service) Dashboard(ctx context.Context, principalID string) (*Dashboard, error) {
	a, err := s.GetByPrincipal(ctx, principalID)
	if err != nil {
		return nil, err
	}
	p, err := s.store.Repos().TxPolicies.Get(ctx, a.ID)
	if err != nil {
		return nil, err
	}
	return &Dashboard{Account: a, TieredEnabled: p != nil && p.TieredEnabled}, nil
}

// EntryKind tells deposits and transfers apart in the history.
type EntryKind string

const (
	EntryDeposit  EntryKind = "deposit"
	EntryTransfer EntryKind = "transfer"
	// EntryReceived is a settled transfer from another ledger account; it is dated when it was credited.
	EntryReceived EntryKind = "received"
)

// HistoryEntry is one line of an account's transaction history.
type HistoryEntry struct {
	Kind        EntryKind
	ID          string
	Amount      decimal.Decimal
	Status      string
	Reference   string
	Description string
	CreatedAt   time.Time
}

// History returns the principal's deposits, sent transfers and received transfers merged newest first.
func (s *Service) History(ctx context.Context, principalID string, limit, offset int32) ([]HistoryEntry, error) {
	if limit <= 0 || limit > MaxHistoryPage {
		limit = MaxHistoryPage
	}
	if offset < 0 {
		offset = 0
	}
	if offset > MaxHistoryOffset {
		return []HistoryEntry{}, nil
	}
	a, err := s.GetByPrincipal(ctx, principalID)
	if err != nil {
		return nil, err
	}
	repos := s.store.Repos()
	// Each source must supply enough rows to fill the merged page on its own.
	window := limit + offset
	deposits, err := repos.Deposits.ListByAccount(ctx, a.ID, window, 0)
	if err != nil {
		return nil, fmt.Errorf("list deposits: %w", err)
	}
	transfers, err := repos.Transfers.ListBySender(ctx, a.ID, window, 0)
	if err != nil {
		return nil, fmt.Errorf("list transfers: %w", err)
	}
	received, err := repos.Transfers.ListSettledByRecipient(ctx, a.ID, window, 0)
	if err != nil {
		return nil, fmt.Errorf("list received transfers: %w", err)
	}
	entries := make([]HistoryEntry, 0, len(deposits)+len(transfers)+len(received))
	for _, d := range deposits {
		entries = append(entries, HistoryEntry{
			Kind: EntryDeposit, ID: d.ID, Amount: d.Amount, Status: string(transferdomain.StatusSuccess),
			Reference: d.Reference, Description: strings.TrimSpace(d.BankName + " " + d.Method), CreatedAt: d.CreatedAt,
		})
	}
	for _, t := range transfers {
		entries = append(entries, HistoryEntry{
			Kind: EntryTransfer, ID: t.ID, Amount: t.Amount.Neg(), Status: string(t.Status),
			Reference: t.Reference, Description: t.Recipient.Name, CreatedAt: t.CreatedAt,
		})
	}
	for _, t := range received {
		entries = append(entries, HistoryEntry{
			Kind: EntryReceived, ID: t.ID, Amount: t.Amount, Status: string(t.Status),
			Reference: t.Reference, Description: t.Purpose, CreatedAt: t.UpdatedAt,
		})
	}
	sort.SliceStable(entries, func(i, j int) bool {
		if !entries[i].CreatedAt.Equal(entries[j].CreatedAt) {
			return entries[i].CreatedAt.After(entries[j].CreatedAt)
		}
		return entries[i].ID < entries[j].ID
	})
	if int(offset) >= len(entries) {
		return []HistoryEntry{}, nil
	}
	entries = entries[offset:]
	if int(limit) < len(entries) {
		entries = entries[:limit]
	}
	return entries, nil
}

func (s *Service) withAccounts(ctx context.Context, accountIDs []string, fn func(ctx context.Context, r store.Repos, now time.Time) error) error {
	unlock, err := s.locker.Lock(ctx, lock.AccountKeys(accountIDs...)...)
	if err != nil {
		return err
	}
	defer unlock()
	return s.store.WithinTx(ctx, func(ctx context.Context, r store.Repos) error {
		return fn(ctx, r, s.now())
	})
}

func (s *Service) auditEvent(ctx context.Context, actorID, action, accountID, metadata string) {
	if s.audit == nil {
		return
	}
	s.audit.LogEvent(ctx, actorID, action, "account:"+accountID, metadata)
}
