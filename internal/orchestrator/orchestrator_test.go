package orchestrator

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"custodial-ledger/backend/internal/challenge"
	challengedomain "custodial-ledger/backend/internal/challenge/domain"
	"custodial-ledger/backend/internal/errs"
	"custodial-ledger/backend/internal/ledger"
	"custodial-ledger/backend/internal/lock"
	"custodial-ledger/backend/internal/mfa"
	"custodial-ledger/backend/internal/notify"
	"custodial-ledger/backend/internal/store"
	"custodial-ledger/backend/internal/transfer"
	transferdomain "custodial-ledger/backend/internal/transfer/domain"
)

type outbox struct {
	mu    sync.Mutex
	codes map[string]notify.Message
}

// Notify keeps the most recently issued code per key. Deliveries run concurrently, so a
// later-issued code can arrive first; a code expiring earlier never replaces it.
func (o *outbox) Notify(ctx context.Context, msg notify.Message) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if prev, ok := o.codes[msg.Key]; ok && msg.ExpiresAt.Before(prev.ExpiresAt) {
		return nil
	}
	o.codes[msg.Key] = msg
	return nil
}

type fixture struct {
	orch     *Orchestrator
	accounts *ledger.Service
	mem      *store.Memory
	out      *outbox
	disp     *notify.Dispatcher
	clock    time.Time
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	m := store.NewMemory()
	locker := lock.NewLocal()
	challenges := challenge.NewStore(0, 0, nil)
	out := &outbox{codes: make(map[string]notify.Message)}
	f := &fixture{
		mem:   m,
		out:   out,
		disp:  notify.NewDispatcher(out, time.Second, nil),
		clock: time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC),
	}
	f.accounts = ledger.NewService(m, locker, challenges, nil, nil)
	transfers := transfer.NewService(transfer.Deps{Store: m, Locker: locker, Dispatcher: f.disp})
	transfers.SetClock(func() time.Time { return f.clock })
	f.orch = New(Deps{
		Store:      m,
		Locker:     locker,
		Challenges: challenges,
		EmailCodes: mfa.NewEmailCodes(5*time.Minute, time.Minute),
		Transfers:  transfers,
		Dispatcher: f.disp,
	})
	return f
}

func (f *fixture) provision(t *testing.T, principal, balance string, tiered bool) string {
	t.Helper()
	ctx := context.Background()
	a, err := f.accounts.Provision(ctx, "admin", ledger.ProvisionInput{PrincipalID: principal, Destination: "ops@example.com", TieredEnabled: tiered})
	if err != nil {
		t.Fatalf("Provision(%s): %v", principal, err)
	}
	if amount := decimal.RequireFromString(balance); amount.IsPositive() {
		if _, err := f.accounts.Credit(ctx, a.ID, amount); err != nil {
			t.Fatalf("Credit: %v", err)
		}
	}
	return a.ID
}

func (f *fixture) balance(t *testing.T, accountID string) decimal.Decimal {
	t.Helper()
	a, err := f.accounts.Get(context.Background(), accountID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	return a.Balance
}

func (f *fixture) code(t *testing.T, key string) string {
	t.Helper()
	f.disp.Wait()
	f.out.mu.Lock()
	defer f.out.mu.Unlock()
	c := f.out.codes[key].Code
	if c == "" {
		t.Fatalf("no code dispatched for %s", key)
	}
	return c
}

func (f *fixture) challengeCode(t *testing.T, accountID string, kind challengedomain.Kind) string {
	return f.code(t, notify.ChallengeKey(accountID, kind.String()))
}

func intent(amount string) transfer.Intent {
	return transfer.Intent{
		Recipient: transferdomain.Recipient{Name: "Carol", Bank: "Elsewhere Bank", AccountNumber: "998877"},
		Amount:    decimal.RequireFromString(amount),
		Purpose:   "invoice",
	}
}

func request(principal, device string, codes map[challengedomain.Kind]string) Request {
	return Request{PrincipalID: principal, DeviceID: device, Codes: codes, Intent: intent("40.00")}
}

func wrong(code string) string {
	if code == "000000" {
		return "000001"
	}
	return "000000"
}

func TestAdvance_TieredWalksKindsInOrder(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	acct := f.provision(t, "alice", "100.00", true)

	res, err := f.orch.Advance(ctx, request("alice", "D1", nil))
	if err != nil {
		t.Fatalf("Advance: %v", err)
	}
	if res.Status != StatusAwaiting || res.NextRequired != "tax" {
		t.Fatalf("first call = %+v, want awaiting tax", res)
	}

	codes := map[challengedomain.Kind]string{challengedomain.KindTax: f.challengeCode(t, acct, challengedomain.KindTax)}
	res, err = f.orch.Advance(ctx, request("alice", "D1", codes))
	if err != nil || res.NextRequired != "activation" {
		t.Fatalf("after tax = %+v, %v; want activation", res, err)
	}

	codes = map[challengedomain.Kind]string{challengedomain.KindActivation: f.challengeCode(t, acct, challengedomain.KindActivation)}
	res, err = f.orch.Advance(ctx, request("alice", "D1", codes))
	if err != nil || res.NextRequired != "imf" {
		t.Fatalf("after activation = %+v, %v; want imf", res, err)
	}
	if got := f.balance(t, acct); !got.Equal(decimal.RequireFromString("100")) {
		t.Errorf("balance before settlement = %s, want 100", got)
	}

	codes = map[challengedomain.Kind]string{challengedomain.KindIMF: f.challengeCode(t, acct, challengedomain.KindIMF)}
	res, err = f.orch.Advance(ctx, request("alice", "D1", codes))
	if err != nil {
		t.Fatalf("after imf: %v", err)
	}
	if res.Status != StatusSettled || res.Transfer == nil {
		t.Fatalf("after imf = %+v, want settled", res)
	}
	if res.Transfer.Flow != transferdomain.FlowChallenge || !res.Transfer.IsVerified || res.Transfer.Status != transferdomain.StatusAwaitingApproval {
		t.Errorf("transfer = %+v", res.Transfer)
	}
	if got := f.balance(t, acct); !got.Equal(decimal.RequireFromString("60")) {
		t.Errorf("balance = %s, want 60", got)
	}
	proj, _ := f.mem.Projection(acct)
	for k, c := range proj {
		if c != "" {
			t.Errorf("code %s not cleared after settlement", challengedomain.Kind(k))
		}
	}
}

func TestAdvance_WrongCodeDoesNotAdvance(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	acct := f.provision(t, "alice", "100.00", true)

	if _, err := f.orch.Advance(ctx, request("alice", "D1", nil)); err != nil {
		t.Fatalf("Advance: %v", err)
	}
	tax := f.challengeCode(t, acct, challengedomain.KindTax)
	res, err := f.orch.Advance(ctx, request("alice", "D1", map[challengedomain.Kind]string{challengedomain.KindTax: tax}))
	if err != nil || res.NextRequired != "activation" {
		t.Fatalf("after tax = %+v, %v", res, err)
	}
	activation := f.challengeCode(t, acct, challengedomain.KindActivation)
	before, _ := f.mem.Projection(acct)

	_, err = f.orch.Advance(ctx, request("alice", "D1", map[challengedomain.Kind]string{challengedomain.KindActivation: wrong(activation)}))
	if !errors.Is(err, errs.ErrInvalidCode) {
		t.Fatalf("wrong code err = %v, want ErrInvalidCode", err)
	}
	after, _ := f.mem.Projection(acct)
	if before != after {
		t.Error("codes changed after a rejected code")
	}

	res, err = f.orch.Advance(ctx, request("alice", "D1", map[challengedomain.Kind]string{challengedomain.KindActivation: activation}))
	if err != nil || res.NextRequired != "imf" {
		t.Fatalf("retry with correct code = %+v, %v; want imf", res, err)
	}
}

func TestAdvance_RejectedCodeRollsBackEarlierKinds(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	acct := f.provision(t, "alice", "100.00", true)

	if _, err := f.orch.Advance(ctx, request("alice", "D1", nil)); err != nil {
		t.Fatalf("Advance: %v", err)
	}
	tax := f.challengeCode(t, acct, challengedomain.KindTax)
	res, err := f.orch.Advance(ctx, request("alice", "D1", map[challengedomain.Kind]string{challengedomain.KindTax: tax}))
	if err != nil || res.NextRequired != "activation" {
		t.Fatalf("after tax = %+v, %v", res, err)
	}

	// D2 gets tax right and activation wrong in one call; neither is recorded.
	_, err = f.orch.Advance(ctx, request("alice", "D2", map[challengedomain.Kind]string{
		challengedomain.KindTax:        tax,
		challengedomain.KindActivation: wrong(f.challengeCode(t, acct, challengedomain.KindActivation)),
	}))
	if !errors.Is(err, errs.ErrInvalidCode) {
		t.Fatalf("err = %v, want ErrInvalidCode", err)
	}
	res, err = f.orch.Advance(ctx, request("alice", "D2", nil))
	if err != nil || res.NextRequired != "tax" {
		t.Fatalf("D2 next = %+v, %v; want tax", res, err)
	}
}

func TestAdvance_SingleCallSatisfiesKnownCodes(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	acct := f.provision(t, "alice", "100.00", true)

	codes := map[challengedomain.Kind]string{}
	for _, kind := range challengedomain.Kinds() {
		res, err := f.orch.Advance(ctx, request("alice", "D1", codes))
		if err != nil || res.NextRequired != kind.String() {
			t.Fatalf("D1 step = %+v, %v; want %s", res, err, kind)
		}
		if kind == challengedomain.KindIMF {
			break
		}
		codes = map[challengedomain.Kind]string{kind: f.challengeCode(t, acct, kind)}
	}

	all := map[challengedomain.Kind]string{}
	for _, kind := range challengedomain.Kinds() {
		all[kind] = f.challengeCode(t, acct, kind)
	}
	res, err := f.orch.Advance(ctx, request("alice", "D2", all))
	if err != nil {
		t.Fatalf("D2 Advance: %v", err)
	}
	if res.Status != StatusSettled {
		t.Fatalf("D2 = %+v, want settled", res)
	}
}

func TestAdvance_SingleCodeMode(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	acct := f.provision(t, "bob", "100.00", false)
	req := Request{PrincipalID: "bob", DeviceID: "D1", Intent: intent("25.00")}

	res, err := f.orch.Advance(ctx, req)
	if err != nil {
		t.Fatalf("Advance: %v", err)
	}
	if res.Status != StatusAwaiting || res.NextRequired != NextEmail || res.CodeExpiresAt == nil {
		t.Fatalf("first call = %+v", res)
	}
	if want := f.clock.Add(5 * time.Minute); !res.CodeExpiresAt.Equal(want) {
		t.Errorf("CodeExpiresAt = %v, want %v", res.CodeExpiresAt, want)
	}
	first := f.code(t, notify.EmailKey(acct))

	resend := req
	resend.Resend = true
	if _, err := f.orch.Advance(ctx, resend); !errors.Is(err, errs.ErrResendTooSoon) {
		t.Fatalf("immediate resend err = %v, want ErrResendTooSoon", err)
	}
	f.clock = f.clock.Add(61 * time.Second)
	if _, err := f.orch.Advance(ctx, resend); err != nil {
		t.Fatalf("resend after cool-down: %v", err)
	}
	code := f.code(t, notify.EmailKey(acct))
	if code != first {
		stale := req
		stale.EmailCode = first
		if _, err := f.orch.Advance(ctx, stale); !errors.Is(err, errs.ErrInvalidCode) {
			t.Fatalf("superseded email code err = %v, want ErrInvalidCode", err)
		}
	}

	bad := req
	bad.EmailCode = wrong(code)
	if _, err := f.orch.Advance(ctx, bad); !errors.Is(err, errs.ErrInvalidCode) {
		t.Fatalf("wrong email code err = %v, want ErrInvalidCode", err)
	}

	good := req
	good.EmailCode = code
	res, err = f.orch.Advance(ctx, good)
	if err != nil {
		t.Fatalf("redeem: %v", err)
	}
	if res.Status != StatusSettled || !res.Transfer.Amount.Equal(decimal.RequireFromString("25")) {
		t.Errorf("redeem = %+v", res)
	}
	if got := f.balance(t, acct); !got.Equal(decimal.RequireFromString("75")) {
		t.Errorf("balance = %s, want 75", got)
	}
	if _, err := f.orch.Advance(ctx, good); !errors.Is(err, errs.ErrInvalidCode) {
		t.Errorf("replayed email code err = %v, want ErrInvalidCode", err)
	}
}

func TestAdvance_EmailCodeExpires(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	acct := f.provision(t, "bob", "100.00", false)
	req := Request{PrincipalID: "bob", DeviceID: "D1", Intent: intent("25.00")}

	if _, err := f.orch.Advance(ctx, req); err != nil {
		t.Fatalf("Advance: %v", err)
	}
	req.EmailCode = f.code(t, notify.EmailKey(acct))
	f.clock = f.clock.Add(5*time.Minute + time.Second)
	if _, err := f.orch.Advance(ctx, req); !errors.Is(err, errs.ErrCodeExpired) {
		t.Fatalf("err = %v, want ErrCodeExpired", err)
	}
	if got := f.balance(t, acct); !got.Equal(decimal.RequireFromString("100")) {
		t.Errorf("balance = %s, want 100", got)
	}
}

func TestAdvance_InsufficientFundsPersistsFailedRecord(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	acct := f.provision(t, "bob", "10.00", false)
	req := Request{PrincipalID: "bob", DeviceID: "D1", Intent: intent("50.00")}

	if _, err := f.orch.Advance(ctx, req); err != nil {
		t.Fatalf("Advance: %v", err)
	}
	req.EmailCode = f.code(t, notify.EmailKey(acct))
	if _, err := f.orch.Advance(ctx, req); !errors.Is(err, errs.ErrInsufficientFunds) {
		t.Fatalf("err = %v, want ErrInsufficientFunds", err)
	}
	if got := f.balance(t, acct); !got.Equal(decimal.RequireFromString("10")) {
		t.Errorf("balance = %s, want 10", got)
	}
	list, err := f.mem.Repos().Transfers.ListBySender(ctx, acct, 10, 0)
	if err != nil {
		t.Fatalf("ListBySender: %v", err)
	}
	if len(list) != 1 || list[0].Status != transferdomain.StatusFailed {
		t.Fatalf("transfers = %+v, want one failed record", list)
	}
}

func TestAdvance_Rejections(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	acct := f.provision(t, "alice", "100.00", true)

	if _, err := f.orch.Advance(ctx, request("alice", "  ", nil)); !errors.Is(err, errs.ErrDeviceRequired) {
		t.Errorf("missing device err = %v, want ErrDeviceRequired", err)
	}
	if _, err := f.orch.Advance(ctx, request("nobody", "D1", nil)); !errors.Is(err, errs.ErrNotFound) {
		t.Errorf("unknown principal err = %v, want ErrNotFound", err)
	}
	bad := request("alice", "D1", nil)
	bad.Intent.Amount = decimal.RequireFromString("-1")
	if _, err := f.orch.Advance(ctx, bad); !errors.Is(err, errs.ErrValidation) {
		t.Errorf("negative amount err = %v, want ErrValidation", err)
	}

	if _, err := f.accounts.SetLocks(ctx, "admin", acct, false, true); err != nil {
		t.Fatalf("SetLocks: %v", err)
	}
	// Lock flags win over amount validation.
	if _, err := f.orch.Advance(ctx, bad); !errors.Is(err, errs.ErrTransferLocked) {
		t.Errorf("transfer-locked err = %v, want ErrTransferLocked", err)
	}
	if _, err := f.accounts.SetLocks(ctx, "admin", acct, true, false); err != nil {
		t.Fatalf("SetLocks: %v", err)
	}
	if _, err := f.orch.Advance(ctx, request("alice", "D1", nil)); !errors.Is(err, errs.ErrAccountLocked) {
		t.Errorf("locked err = %v, want ErrAccountLocked", err)
	}
	proj, _ := f.mem.Projection(acct)
	for _, c := range proj {
		if c != "" {
			t.Error("a code was issued for a locked account")
		}
	}
}

func TestAdvance_InternalRecipientAwaitsApprovalWithoutPolicy(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	acct := f.provision(t, "bob", "100.00", false)
	carolID := f.provision(t, "carol", "0.00", false)
	carol, err := f.accounts.Get(ctx, carolID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	req := Request{PrincipalID: "bob", DeviceID: "D1", Intent: transfer.Intent{
		Recipient: transferdomain.Recipient{Name: "Carol", Bank: "Ledger", AccountNumber: carol.AccountNumber},
		Amount:    decimal.RequireFromString("30.00"),
	}}
	if _, err := f.orch.Advance(ctx, req); err != nil {
		t.Fatalf("Advance: %v", err)
	}
	req.EmailCode = f.code(t, notify.EmailKey(acct))
	res, err := f.orch.Advance(ctx, req)
	if err != nil {
		t.Fatalf("redeem: %v", err)
	}
	if !res.Transfer.Recipient.Internal() || res.Transfer.Recipient.AccountID != carolID {
		t.Errorf("recipient = %+v, want internal carol", res.Transfer.Recipient)
	}
	// No settlement policy is configured, so the transfer waits for approval and carol is not credited.
	if res.Transfer.Status != transferdomain.StatusAwaitingApproval {
		t.Errorf("status = %s, want awaiting_approval", res.Transfer.Status)
	}
	if got := f.balance(t, carolID); !got.IsZero() {
		t.Errorf("carol balance = %s, want 0", got)
	}
}
