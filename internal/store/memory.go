package store

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	auditdomain "custodial-ledger/backend/internal/audit/domain"
	challengedomain "custodial-ledger/backend/internal/challenge/domain"
	ledgerdomain "custodial-ledger/backend/internal/ledger/domain"
	mfadomain "custodial-ledger/backend/internal/mfa/domain"
	policydomain "custodial-ledger/backend/internal/policy/domain"
	transferdomain "custodial-ledger/backend/internal/transfer/domain"
	txpolicydomain "custodial-ledger/backend/internal/txpolicy/domain"
)

// ErrConstraint is returned by the memory store where Postgres would raise a constraint violation.
var ErrConstraint = errors.New("store: constraint violation")

// errNoRows mirrors sql.ErrNoRows for updates that match nothing.
var errNoRows = errors.New("store: no rows affected")

// Memory is an in-process Store for development and tests. Transactions are serialized and
// rolled back by replaying an undo log, so writes made outside a transaction are never lost.
type Memory struct {
	txMu sync.Mutex

	mu          sync.Mutex
	accounts    map[string]*ledgerdomain.Account
	deposits    map[string]*ledgerdomain.Deposit
	transfers   map[string]*transferdomain.Transfer
	projections map[string]*challengedomain.Record
	events      map[int64]*challengedomain.Event
	seq         int64
	txPolicies  map[string]*txpolicydomain.Policy
	emailCodes  map[string]*mfadomain.EmailCode
	policies    map[string]*policydomain.Policy
	audit       map[string]*auditdomain.AuditLog
}

// NewMemory returns an empty in-memory Store.
func NewMemory() *Memory {
	return &Memory{
		accounts:    make(map[string]*ledgerdomain.Account),
		deposits:    make(map[string]*ledgerdomain.Deposit),
		transfers:   make(map[string]*transferdomain.Transfer),
		projections: make(map[string]*challengedomain.Record),
		events:      make(map[int64]*challengedomain.Event),
		txPolicies:  make(map[string]*txpolicydomain.Policy),
		emailCodes:  make(map[string]*mfadomain.EmailCode),
		policies:    make(map[string]*policydomain.Policy),
		audit:       make(map[string]*auditdomain.AuditLog),
	}
}

type memTx struct {
	undo []func()
}

// record registers an undo step. Callers hold m.mu.
func (t *memTx) record(undo func()) {
	if t != nil {
		t.undo = append(t.undo, undo)
	}
}

func (m *Memory) repos(tx *memTx) Repos {
	return Repos{
		Accounts:   &memAccounts{m: m, tx: tx},
		Deposits:   &memDeposits{m: m, tx: tx},
		Transfers:  &memTransfers{m: m, tx: tx},
		Challenges: &memChallenges{m: m, tx: tx},
		TxPolicies: &memTxPolicies{m: m, tx: tx},
		EmailCodes: &memEmailCodes{m: m, tx: tx},
		Policies:   &memPolicies{m: m, tx: tx},
		Audit:      &memAudit{m: m, tx: tx},
	}
}

// Repos returns repositories whose writes apply immediately.
func (m *Memory) Repos() Repos {
	return m.repos(nil)
}

// WithinTx runs fn with exclusive access to the transactional view and undoes its writes on error or panic.
func (m *Memory) WithinTx(ctx context.Context, fn func(ctx context.Context, r Repos) error) error {
	m.txMu.Lock()
	defer m.txMu.Unlock()
	tx := &memTx{}
	defer func() {
		if p := recover(); p != nil {
			m.rollback(tx)
			panic(p)
		}
	}()
	if err := fn(ctx, m.repos(tx)); err != nil {
		m.rollback(tx)
		return err
	}
	return nil
}

func (m *Memory) rollback(tx *memTx) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := len(tx.undo) - 1; i >= 0; i-- {
		tx.undo[i]()
	}
}

// Ping always succeeds.
func (m *Memory) Ping(context.Context) error {
	return nil
}

// restore returns an undo step that puts prev back under key (or deletes key when prev is nil).
func restore[K comparable, V any](mp map[K]*V, key K, prev *V) func() {
	return func() {
		if prev == nil {
			delete(mp, key)
			return
		}
		mp[key] = prev
	}
}

func clone[V any](v *V) *V {
	if v == nil {
		return nil
	}
	cp := *v
	return &cp
}

type memAccounts struct {
	m  *Memory
	tx *memTx
}

func (r *memAccounts) Create(_ context.Context, a *ledgerdomain.Account) error {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	if _, ok := r.m.accounts[a.ID]; ok {
		return fmt.Errorf("%w: account id %s", ErrConstraint, a.ID)
	}
	for _, x := range r.m.accounts {
		if x.PrincipalID == a.PrincipalID || x.AccountNumber == a.AccountNumber {
			return fmt.Errorf("%w: account principal or number already used", ErrConstraint)
		}
	}
	r.m.accounts[a.ID] = clone(a)
	r.tx.record(restore(r.m.accounts, a.ID, nil))
	return nil
}

func (r *memAccounts) GetByID(_ context.Context, id string) (*ledgerdomain.Account, error) {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	return clone(r.m.accounts[id]), nil
}

func (r *memAccounts) GetByIDForUpdate(ctx context.Context, id string) (*ledgerdomain.Account, error) {
	return r.GetByID(ctx, id)
}

func (r *memAccounts) GetByPrincipal(_ context.Context, principalID string) (*ledgerdomain.Account, error) {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	for _, a := range r.m.accounts {
		if a.PrincipalID == principalID {
			return clone(a), nil
		}
	}
	return nil, nil
}

func (r *memAccounts) GetByAccountNumber(_ context.Context, number string) (*ledgerdomain.Account, error) {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	for _, a := range r.m.accounts {
		if a.AccountNumber == number {
			return clone(a), nil
		}
	}
	return nil, nil
}

func (r *memAccounts) UpdateBalance(_ context.Context, id string, balance decimal.Decimal, updatedAt time.Time) error {
	if balance.IsNegative() {
		return fmt.Errorf("%w: negative balance", ErrConstraint)
	}
	return r.update(id, func(a *ledgerdomain.Account) {
		a.Balance = balance
		a.UpdatedAt = updatedAt
	})
}

func (r *memAccounts) UpdateLocks(_ context.Context, id string, locked, transferLocked bool, updatedAt time.Time) error {
	return r.update(id, func(a *ledgerdomain.Account) {
		a.Locked = locked
		a.TransferLocked = transferLocked
		a.UpdatedAt = updatedAt
	})
}

func (r *memAccounts) update(id string, mutate func(*ledgerdomain.Account)) error {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	prev, ok := r.m.accounts[id]
	if !ok {
		return errNoRows
	}
	next := clone(prev)
	mutate(next)
	r.m.accounts[id] = next
	r.tx.record(restore(r.m.accounts, id, prev))
	return nil
}

type memDeposits struct {
	m  *Memory
	tx *memTx
}

func (r *memDeposits) Create(_ context.Context, d *ledgerdomain.Deposit) error {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	if _, ok := r.m.deposits[d.ID]; ok {
		return fmt.Errorf("%w: deposit id %s", ErrConstraint, d.ID)
	}
	r.m.deposits[d.ID] = clone(d)
	r.tx.record(restore(r.m.deposits, d.ID, nil))
	return nil
}

func (r *memDeposits) ListByAccount(_ context.Context, accountID string, limit, offset int32) ([]*ledgerdomain.Deposit, error) {
	r.m.mu.Lock()
	var out []*ledgerdomain.Deposit
	for _, d := range r.m.deposits {
		if d.AccountID == accountID {
			out = append(out, clone(d))
		}
	}
	r.m.mu.Unlock()
	sort.Slice(out, func(i, j int) bool {
		return newerFirst(out[i].CreatedAt, out[j].CreatedAt, out[i].ID, out[j].ID)
	})
	return page(out, limit, offset), nil
}

type memTransfers struct {
	m  *Memory
	tx *memTx
}

func cloneTransfer(t *transferdomain.Transfer) *transferdomain.Transfer {
	if t == nil {
		return nil
	}
	cp := *t
	cp.CodeExpiresAt = clone(t.CodeExpiresAt)
	cp.CodeIssuedAt = clone(t.CodeIssuedAt)
	return &cp
}

func (r *memTransfers) Create(_ context.Context, t *transferdomain.Transfer) error {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	if _, ok := r.m.transfers[t.ID]; ok {
		return fmt.Errorf("%w: transfer id %s", ErrConstraint, t.ID)
	}
	for _, x := range r.m.transfers {
		if x.Reference == t.Reference {
			return fmt.Errorf("%w: reference %s", ErrConstraint, t.Reference)
		}
	}
	r.m.transfers[t.ID] = cloneTransfer(t)
	r.tx.record(restore(r.m.transfers, t.ID, nil))
	return nil
}

func (r *memTransfers) GetByID(_ context.Context, id string) (*transferdomain.Transfer, error) {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	return cloneTransfer(r.m.transfers[id]), nil
}

func (r *memTransfers) GetByIDForUpdate(ctx context.Context, id string) (*transferdomain.Transfer, error) {
	return r.GetByID(ctx, id)
}

func (r *memTransfers) Update(_ context.Context, t *transferdomain.Transfer) error {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	prev, ok := r.m.transfers[t.ID]
	if !ok {
		return errNoRows
	}
	next := cloneTransfer(prev)
	next.CodeHash = t.CodeHash
	next.CodeExpiresAt = clone(t.CodeExpiresAt)
	next.CodeIssuedAt = clone(t.CodeIssuedAt)
	next.CodeEntered = t.CodeEntered
	next.IsVerified = t.IsVerified
	next.Status = t.Status
	next.UpdatedAt = t.UpdatedAt
	r.m.transfers[t.ID] = next
	r.tx.record(restore(r.m.transfers, t.ID, prev))
	return nil
}

func (r *memTransfers) ReferenceExists(_ context.Context, reference string) (bool, error) {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	for _, t := range r.m.transfers {
		if t.Reference == reference {
			return true, nil
		}
	}
	return false, nil
}

func (r *memTransfers) ListBySender(_ context.Context, accountID string, limit, offset int32) ([]*transferdomain.Transfer, error) {
	r.m.mu.Lock()
	var out []*transferdomain.Transfer
	for _, t := range r.m.transfers {
		if t.SenderAccountID == accountID {
			out = append(out, cloneTransfer(t))
		}
	}
	r.m.mu.Unlock()
	sort.Slice(out, func(i, j int) bool {
		return newerFirst(out[i].CreatedAt, out[j].CreatedAt, out[i].ID, out[j].ID)
	})
	return page(out, limit, offset), nil
}

func (r *memTransfers) ListSettledByRecipient(_ context.Context, accountID string, limit, offset int32) ([]*transferdomain.Transfer, error) {
	r.m.mu.Lock()
	var out []*transferdomain.Transfer
	for _, t := range r.m.transfers {
		if t.Recipient.AccountID == accountID && t.Status == transferdomain.StatusSuccess {
			out = append(out, cloneTransfer(t))
		}
	}
	r.m.mu.Unlock()
	sort.Slice(out, func(i, j int) bool {
		return newerFirst(out[i].UpdatedAt, out[j].UpdatedAt, out[i].ID, out[j].ID)
	})
	return page(out, limit, offset), nil
}

type memChallenges struct {
	m  *Memory
	tx *memTx
}

func (r *memChallenges) CreateRecord(_ context.Context, accountID string, now time.Time) error {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	if _, ok := r.m.projections[accountID]; ok {
		return fmt.Errorf("%w: challenge record %s", ErrConstraint, accountID)
	}
	rec := challengedomain.NewRecord(accountID)
	rec.UpdatedAt = now
	r.m.projections[accountID] = rec
	r.tx.record(restore(r.m.projections, accountID, nil))
	return nil
}

func (r *memChallenges) Lock(_ context.Context, accountID string) (bool, error) {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	_, ok := r.m.projections[accountID]
	return ok, nil
}

func (r *memChallenges) Append(_ context.Context, events ...*challengedomain.Event) error {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	for _, e := range events {
		r.m.seq++
		e.Seq = r.m.seq
		r.m.events[e.Seq] = clone(e)
		r.tx.record(restore(r.m.events, e.Seq, nil))
	}
	return nil
}

func (r *memChallenges) ListEvents(_ context.Context, accountID string, since time.Time) ([]*challengedomain.Event, error) {
	r.m.mu.Lock()
	var out []*challengedomain.Event
	for _, e := range r.m.events {
		if e.AccountID == accountID && !e.CreatedAt.Before(since) {
			out = append(out, clone(e))
		}
	}
	r.m.mu.Unlock()
	sort.Slice(out, func(i, j int) bool { return out[i].Seq < out[j].Seq })
	return out, nil
}

func (r *memChallenges) SaveProjection(_ context.Context, rec *challengedomain.Record) error {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	prev, ok := r.m.projections[rec.AccountID]
	if !ok {
		return errNoRows
	}
	next := challengedomain.NewRecord(rec.AccountID)
	next.Codes = rec.Codes
	next.UpdatedAt = rec.UpdatedAt
	r.m.projections[rec.AccountID] = next
	r.tx.record(restore(r.m.projections, rec.AccountID, prev))
	return nil
}

// Projection returns the stored "latest unredeemed code" view for accountID (test helper).
func (m *Memory) Projection(accountID string) (codes [challengedomain.KindCount]string, ok bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.projections[accountID]
	if !ok {
		return codes, false
	}
	return rec.Codes, true
}

type memTxPolicies struct {
	m  *Memory
	tx *memTx
}

func (r *memTxPolicies) Get(_ context.Context, accountID string) (*txpolicydomain.Policy, error) {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	return clone(r.m.txPolicies[accountID]), nil
}

func (r *memTxPolicies) Upsert(_ context.Context, p *txpolicydomain.Policy) error {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	prev := r.m.txPolicies[p.AccountID]
	r.m.txPolicies[p.AccountID] = clone(p)
	r.tx.record(restore(r.m.txPolicies, p.AccountID, prev))
	return nil
}

type memEmailCodes struct {
	m  *Memory
	tx *memTx
}

func (r *memEmailCodes) Get(_ context.Context, accountID string) (*mfadomain.EmailCode, error) {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	return clone(r.m.emailCodes[accountID]), nil
}

func (r *memEmailCodes) Put(_ context.Context, c *mfadomain.EmailCode) error {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	prev := r.m.emailCodes[c.AccountID]
	r.m.emailCodes[c.AccountID] = clone(c)
	r.tx.record(restore(r.m.emailCodes, c.AccountID, prev))
	return nil
}

func (r *memEmailCodes) Delete(_ context.Context, accountID string) error {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	prev, ok := r.m.emailCodes[accountID]
	if !ok {
		return nil
	}
	delete(r.m.emailCodes, accountID)
	r.tx.record(restore(r.m.emailCodes, accountID, prev))
	return nil
}

type memPolicies struct {
	m  *Memory
	tx *memTx
}

func (r *memPolicies) GetByID(_ context.Context, id string) (*policydomain.Policy, error) {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	return clone(r.m.policies[id]), nil
}

func (r *memPolicies) List(_ context.Context) ([]*policydomain.Policy, error) {
	return r.list(false), nil
}

func (r *memPolicies) GetEnabled(_ context.Context) ([]*policydomain.Policy, error) {
	return r.list(true), nil
}

func (r *memPolicies) list(enabledOnly bool) []*policydomain.Policy {
	r.m.mu.Lock()
	var out []*policydomain.Policy
	for _, p := range r.m.policies {
		if !enabledOnly || p.Enabled {
			out = append(out, clone(p))
		}
	}
	r.m.mu.Unlock()
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out
}

func (r *memPolicies) Create(_ context.Context, p *policydomain.Policy) error {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	if _, ok := r.m.policies[p.ID]; ok {
		return fmt.Errorf("%w: policy id %s", ErrConstraint, p.ID)
	}
	r.m.policies[p.ID] = clone(p)
	r.tx.record(restore(r.m.policies, p.ID, nil))
	return nil
}

func (r *memPolicies) Update(_ context.Context, p *policydomain.Policy) error {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	prev, ok := r.m.policies[p.ID]
	if !ok {
		return nil
	}
	next := clone(prev)
	next.Rules = p.Rules
	next.Enabled = p.Enabled
	r.m.policies[p.ID] = next
	r.tx.record(restore(r.m.policies, p.ID, prev))
	return nil
}

type memAudit struct {
	m  *Memory
	tx *memTx
}

func (r *memAudit) GetByID(_ context.Context, id string) (*auditdomain.AuditLog, error) {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	return clone(r.m.audit[id]), nil
}

func (r *memAudit) List(_ context.Context, limit, offset int32) ([]*auditdomain.AuditLog, error) {
	r.m.mu.Lock()
	out := make([]*auditdomain.AuditLog, 0, len(r.m.audit))
	for _, a := range r.m.audit {
		out = append(out, clone(a))
	}
	r.m.mu.Unlock()
	sort.Slice(out, func(i, j int) bool {
		return newerFirst(out[i].CreatedAt, out[j].CreatedAt, out[i].ID, out[j].ID)
	})
	return page(out, limit, offset), nil
}

func (r *memAudit) Create(_ context.Context, a *auditdomain.AuditLog) error {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	if _, ok := r.m.audit[a.ID]; ok {
		return fmt.Errorf("%w: audit id %s", ErrConstraint, a.ID)
	}
	r.m.audit[a.ID] = clone(a)
	r.tx.record(restore(r.m.audit, a.ID, nil))
	return nil
}

func newerFirst(a, b time.Time, aID, bID string) bool {
	if !a.Equal(b) {
		return a.After(b)
	}
	return aID < bID
}

func page[T any](items []T, limit, offset int32) []T {
	if offset < 0 {
		offset = 0
	}
	if int(offset) >= len(items) {
		return nil
	}
	items = items[offset:]
	if limit > 0 && int(limit) < len(items) {
		items = items[:limit]
	}
	return items
}
