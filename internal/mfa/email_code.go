package mfa

import (
	"context"
	"fmt"
	"time"

	"custodial-ledger/backend/internal/errs"
	"custodial-ledger/backend/internal/mfa/domain"
	"custodial-ledger/backend/internal/mfa/repository"
)

// EmailCodes issues and checks the single account-wide code used when tiered mode is off.
// Methods take the repository so they can run inside the caller's transaction.
type EmailCodes struct {
	TTL      time.Duration
	Cooldown time.Duration
}

// NewEmailCodes returns EmailCodes with the given expiry and resend cool-down; zero values use the defaults.
func NewEmailCodes(ttl, cooldown time.Duration) *EmailCodes {
	if ttl <= 0 {
		ttl = repository.DefaultCodeTTL
	}
	if cooldown <= 0 {
		cooldown = repository.DefaultResendCooldown
	}
	return &EmailCodes{TTL: ttl, Cooldown: cooldown}
}

// Issue generates a new code for accountID and stores its hash, replacing any previous one.
// Returns errs.ErrResendTooSoon when the previous code was issued less than Cooldown ago.
func (e *EmailCodes) Issue(ctx context.Context, repo repository.Repository, accountID string, now time.Time) (code string, expiresAt time.Time, err error) {
	prev, err := repo.Get(ctx, accountID)
	if err != nil {
		return "", time.Time{}, err
	}
	if prev != nil && now.Sub(prev.IssuedAt) < e.Cooldown {
		return "", time.Time{}, errs.ErrResendTooSoon
	}
	code, err = GenerateOTP()
	if err != nil {
		return "", time.Time{}, fmt.Errorf("generate email code: %w", err)
	}
	c := &domain.EmailCode{
		AccountID: accountID,
		CodeHash:  HashOTP(code),
		IssuedAt:  now,
		ExpiresAt: now.Add(e.TTL),
	}
	if err := repo.Put(ctx, c); err != nil {
		return "", time.Time{}, err
	}
	return code, c.ExpiresAt, nil
}

// Redeem checks submitted against the account's code and deletes it on success.
// A missing or mismatched code is errs.ErrInvalidCode; an expired one is errs.ErrCodeExpired.
func (e *EmailCodes) Redeem(ctx context.Context, repo repository.Repository, accountID, submitted string, now time.Time) error {
	c, err := repo.Get(ctx, accountID)
	if err != nil {
		return err
	}
	if c == nil {
		return errs.ErrInvalidCode
	}
	if c.Expired(now) {
		return errs.ErrCodeExpired
	}
	if !OTPEqual(submitted, c.CodeHash) {
		return errs.ErrInvalidCode
	}
	return repo.Delete(ctx, accountID)
}
