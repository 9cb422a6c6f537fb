package challenge

import (
	"context"
	"errors"
	"testing"
	"time"

	"custodial-ledger/backend/internal/challenge/domain"
	"custodial-ledger/backend/internal/challenge/repository"
	"custodial-ledger/backend/internal/errs"
	"custodial-ledger/backend/internal/store"
)

type clock struct{ t time.Time }

func (c *clock) now() time.Time { return c.t }

func setup(t *testing.T) (*store.Memory, repository.Repository, *Store, *clock) {
	t.Helper()
	m := store.NewMemory()
	clk := &clock{t: time.Date(2025, 5, 1, 8, 0, 0, 0, time.UTC)}
	repo := m.Repos().Challenges
	if err := repo.CreateRecord(context.Background(), "a1", clk.t); err != nil {
		t.Fatalf("CreateRecord: %v", err)
	}
	return m, repo, NewStore(0, 0, clk.now), clk
}

func TestSession_TieredFlowAndClear(t *testing.T) {
	ctx := context.Background()
	m, repo, s, _ := setup(t)

	sess, err := s.Open(ctx, repo, "a1")
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	for _, want := range domain.Kinds() {
		kind, ok := sess.NextRequired(true, "D1")
		if !ok || kind != want {
			t.Fatalf("NextRequired = %v, %v; want %v", kind, ok, want)
		}
		code, err := sess.Generate(ctx, kind)
		if err != nil {
			t.Fatalf("Generate: %v", err)
		}
		if len(code) != 6 {
			t.Fatalf("code %q is not 6 digits", code)
		}
		if err := sess.Verify(ctx, kind, code, "D1"); err != nil {
			t.Fatalf("Verify(%v): %v", kind, err)
		}
	}
	cleared, err := sess.ClearIfComplete(ctx, true, "D1")
	if err != nil || !cleared {
		t.Fatalf("ClearIfComplete = %v, %v", cleared, err)
	}
	codes, _ := m.Projection("a1")
	for k, h := range codes {
		if h != "" {
			t.Errorf("projection code %d not cleared", k)
		}
	}

	// Reopening folds the log back to an empty record for D1.
	sess, err = s.Open(ctx, repo, "a1")
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if kind, ok := sess.NextRequired(true, "D1"); !ok || kind != domain.KindTax {
		t.Errorf("after clear NextRequired = %v, %v; want tax", kind, ok)
	}
}

func TestSession_WrongCodeDoesNotAdvance(t *testing.T) {
	ctx := context.Background()
	m, repo, s, _ := setup(t)
	sess, _ := s.Open(ctx, repo, "a1")

	code, err := sess.Generate(ctx, domain.KindTax)
	if err != nil {
		t.Fatal(err)
	}
	wrong := "000000"
	if code == wrong {
		wrong = "111111"
	}
	if err := sess.Verify(ctx, domain.KindTax, wrong, "D1"); !errors.Is(err, errs.ErrInvalidCode) {
		t.Fatalf("err = %v, want ErrInvalidCode", err)
	}
	if kind, _ := sess.NextRequired(true, "D1"); kind != domain.KindTax {
		t.Errorf("NextRequired advanced to %v", kind)
	}
	if codes, _ := m.Projection("a1"); codes[domain.KindTax] == "" {
		t.Error("wrong code must not clear the stored code")
	}
	// No live code for a kind is also an invalid code.
	if err := sess.Verify(ctx, domain.KindIMF, code, "D1"); !errors.Is(err, errs.ErrInvalidCode) {
		t.Errorf("verify without live code: err = %v", err)
	}
}

func TestSession_ClearIfCompleteIsNoopWhilePending(t *testing.T) {
	ctx := context.Background()
	_, repo, s, _ := setup(t)
	sess, _ := s.Open(ctx, repo, "a1")
	code, _ := sess.Generate(ctx, domain.KindTax)
	if err := sess.Verify(ctx, domain.KindTax, code, "D1"); err != nil {
		t.Fatal(err)
	}
	cleared, err := sess.ClearIfComplete(ctx, true, "D1")
	if err != nil || cleared {
		t.Fatalf("ClearIfComplete = %v, %v; want false, nil", cleared, err)
	}
	if sess.Record().Codes[domain.KindTax] == "" {
		t.Error("codes must be kept while kinds remain")
	}
}

func TestSession_VerifiedCodeKeptForOtherDevices(t *testing.T) {
	ctx := context.Background()
	_, repo, s, _ := setup(t)
	sess, _ := s.Open(ctx, repo, "a1")
	code, _ := sess.Generate(ctx, domain.KindTax)
	if err := sess.Verify(ctx, domain.KindTax, code, "D1"); err != nil {
		t.Fatal(err)
	}
	if err := sess.Verify(ctx, domain.KindTax, code, "D2"); err != nil {
		t.Errorf("stored code should stay valid after verification: %v", err)
	}
}

func TestSession_ResetDropsDevices(t *testing.T) {
	ctx := context.Background()
	_, repo, s, _ := setup(t)
	sess, _ := s.Open(ctx, repo, "a1")
	code, _ := sess.Generate(ctx, domain.KindTax)
	_ = sess.Verify(ctx, domain.KindTax, code, "D1")
	if err := sess.Reset(ctx); err != nil {
		t.Fatal(err)
	}
	sess, _ = s.Open(ctx, repo, "a1")
	if len(sess.Record().Devices) != 0 || sess.Record().Codes[domain.KindTax] != "" {
		t.Errorf("record after reset = %+v", sess.Record())
	}
}

func TestStore_DeviceTTLForgetsIdleDevices(t *testing.T) {
	ctx := context.Background()
	_, repo, s, clk := setup(t)
	sess, _ := s.Open(ctx, repo, "a1")
	code, _ := sess.Generate(ctx, domain.KindTax)
	_ = sess.Verify(ctx, domain.KindTax, code, "D1")

	clk.t = clk.t.Add(DefaultDeviceTTL + time.Hour)
	sess, _ = s.Open(ctx, repo, "a1")
	if kind, ok := sess.NextRequired(true, "D1"); !ok || kind != domain.KindTax {
		t.Errorf("idle device should start over; NextRequired = %v, %v", kind, ok)
	}
}

func TestStore_DeviceCap(t *testing.T) {
	ctx := context.Background()
	m := store.NewMemory()
	clk := &clock{t: time.Date(2025, 5, 1, 8, 0, 0, 0, time.UTC)}
	repo := m.Repos().Challenges
	_ = repo.CreateRecord(ctx, "a1", clk.t)
	s := NewStore(2, time.Hour*24, clk.now)

	sess, _ := s.Open(ctx, repo, "a1")
	code, _ := sess.Generate(ctx, domain.KindTax)
	for _, d := range []string{"D1", "D2", "D3"} {
		clk.t = clk.t.Add(time.Minute)
		if err := sess.Verify(ctx, domain.KindTax, code, d); err != nil {
			t.Fatal(err)
		}
	}
	sess, _ = s.Open(ctx, repo, "a1")
	devices := sess.Record().Devices
	if len(devices) != 2 || devices["D1"] != nil {
		t.Errorf("devices = %v, want D2 and D3", devices)
	}
}

func TestStore_EvictedDeviceStartsOver(t *testing.T) {
	ctx := context.Background()
	m := store.NewMemory()
	clk := &clock{t: time.Date(2025, 5, 1, 8, 0, 0, 0, time.UTC)}
	repo := m.Repos().Challenges
	_ = repo.CreateRecord(ctx, "a1", clk.t)
	s := NewStore(1, 24*time.Hour, clk.now)

	sess, _ := s.Open(ctx, repo, "a1")
	tax, _ := sess.Generate(ctx, domain.KindTax)
	activation, _ := sess.Generate(ctx, domain.KindActivation)
	clk.t = clk.t.Add(time.Minute)
	if err := sess.Verify(ctx, domain.KindTax, tax, "D1"); err != nil {
		t.Fatal(err)
	}
	if err := sess.Verify(ctx, domain.KindActivation, activation, "D1"); err != nil {
		t.Fatal(err)
	}
	clk.t = clk.t.Add(time.Minute)
	if err := sess.Verify(ctx, domain.KindTax, tax, "D2"); err != nil {
		t.Fatal(err)
	}

	// D2 is newer, so the cap of one evicts D1.
	sess, _ = s.Open(ctx, repo, "a1")
	if kind, ok := sess.NextRequired(true, "D1"); !ok || kind != domain.KindTax {
		t.Fatalf("evicted device NextRequired = %v, %v; want tax", kind, ok)
	}
	clk.t = clk.t.Add(time.Minute)
	if err := sess.Verify(ctx, domain.KindTax, tax, "D1"); err != nil {
		t.Fatal(err)
	}

	sess, _ = s.Open(ctx, repo, "a1")
	if kind, ok := sess.NextRequired(true, "D1"); !ok || kind != domain.KindActivation {
		t.Errorf("after re-verifying tax NextRequired = %v, %v; want activation", kind, ok)
	}
	if kind, ok := sess.NextRequired(true, "D2"); !ok || kind != domain.KindTax {
		t.Errorf("D2 NextRequired = %v, %v; want tax after its own eviction", kind, ok)
	}

	events, _ := repo.ListEvents(ctx, "a1", time.Time{})
	evicted := map[string]int{}
	for _, e := range events {
		if e.Type == domain.EventEvicted {
			evicted[e.DeviceID]++
		}
	}
	if evicted["D1"] != 1 || evicted["D2"] != 1 {
		t.Errorf("eviction events = %v, want one each for D1 and D2", evicted)
	}
}

func TestStore_OpenUnknownAccount(t *testing.T) {
	_, repo, s, _ := setup(t)
	if _, err := s.Open(context.Background(), repo, "nope"); !errors.Is(err, errs.ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
}
