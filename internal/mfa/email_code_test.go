package mfa

import (
	"context"
	"errors"
	"testing"
	"time"

	"custodial-ledger/backend/internal/errs"
	"custodial-ledger/backend/internal/mfa/domain"
)

type memCodes struct {
	m map[string]*domain.EmailCode
}

func (r *memCodes) Get(_ context.Context, id string) (*domain.EmailCode, error) {
	c, ok := r.m[id]
	if !ok {
		return nil, nil
	}
	cp := *c
	return &cp, nil
}

func (r *memCodes) Put(_ context.Context, c *domain.EmailCode) error {
	cp := *c
	r.m[c.AccountID] = &cp
	return nil
}

func (r *memCodes) Delete(_ context.Context, id string) error {
	delete(r.m, id)
	return nil
}

func TestEmailCodes_IssueAndRedeem(t *testing.T) {
	ctx := context.Background()
	repo := &memCodes{m: map[string]*domain.EmailCode{}}
	e := NewEmailCodes(0, 0)
	now := time.Date(2025, 1, 1, 9, 0, 0, 0, time.UTC)

	code, exp, err := e.Issue(ctx, repo, "a1", now)
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	if !exp.Equal(now.Add(5 * time.Minute)) {
		t.Errorf("expiresAt = %v, want +5m", exp)
	}
	if repo.m["a1"].CodeHash == code {
		t.Error("code must be stored hashed")
	}
	if err := e.Redeem(ctx, repo, "a1", "000000x", now); !errors.Is(err, errs.ErrInvalidCode) {
		t.Errorf("wrong code: err = %v, want ErrInvalidCode", err)
	}
	if err := e.Redeem(ctx, repo, "a1", code, now.Add(time.Minute)); err != nil {
		t.Fatalf("Redeem: %v", err)
	}
	if _, ok := repo.m["a1"]; ok {
		t.Error("code should be cleared after a successful redeem")
	}
	if err := e.Redeem(ctx, repo, "a1", code, now); !errors.Is(err, errs.ErrInvalidCode) {
		t.Errorf("replay: err = %v, want ErrInvalidCode", err)
	}
}

func TestEmailCodes_ResendCooldown(t *testing.T) {
	ctx := context.Background()
	repo := &memCodes{m: map[string]*domain.EmailCode{}}
	e := NewEmailCodes(5*time.Minute, time.Minute)
	now := time.Date(2025, 1, 1, 9, 0, 0, 0, time.UTC)

	if _, _, err := e.Issue(ctx, repo, "a1", now); err != nil {
		t.Fatalf("Issue: %v", err)
	}
	if _, _, err := e.Issue(ctx, repo, "a1", now.Add(59*time.Second)); !errors.Is(err, errs.ErrResendTooSoon) {
		t.Errorf("err = %v, want ErrResendTooSoon", err)
	}
	if _, _, err := e.Issue(ctx, repo, "a1", now.Add(time.Minute)); err != nil {
		t.Errorf("Issue after cool-down: %v", err)
	}
}

func TestEmailCodes_Expired(t *testing.T) {
	ctx := context.Background()
	repo := &memCodes{m: map[string]*domain.EmailCode{}}
	e := NewEmailCodes(5*time.Minute, time.Minute)
	now := time.Date(2025, 1, 1, 9, 0, 0, 0, time.UTC)

	code, _, err := e.Issue(ctx, repo, "a1", now)
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	if err := e.Redeem(ctx, repo, "a1", code, now.Add(5*time.Minute)); !errors.Is(err, errs.ErrCodeExpired) {
		t.Errorf("err = %v, want ErrCodeExpired", err)
	}
}
