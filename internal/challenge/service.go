// Package challenge implements the tiered challenge code store on top of the challenge event log.
package challenge

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"custodial-ledger/backend/internal/challenge/domain"
	"custodial-ledger/backend/internal/challenge/repository"
	"custodial-ledger/backend/internal/errs"
	"custodial-ledger/backend/internal/mfa"
)

const (
	// DefaultMaxDevices is how many verified devices are retained per account.
	DefaultMaxDevices = 16
	// DefaultDeviceTTL is how long an idle device's verified kinds are retained.
	DefaultDeviceTTL = 30 * 24 * time.Hour
)

// Store loads, mutates and persists an account's challenge record. Every mutation appends an
// event and refreshes the projection row; callers run it inside a transaction holding the
// account's challenge lock.
type Store struct {
	maxDevices int
	deviceTTL  time.Duration
	now        func() time.Time
}

// NewStore returns a Store; non-positive limits use the defaults. now may be nil.
func NewStore(maxDevices int, deviceTTL time.Duration, now func() time.Time) *Store {
	if maxDevices <= 0 {
		maxDevices = DefaultMaxDevices
	}
	if deviceTTL <= 0 {
		deviceTTL = DefaultDeviceTTL
	}
	if now == nil {
		now = func() time.Time { return time.Now().UTC() }
	}
	return &Store{maxDevices: maxDevices, deviceTTL: deviceTTL, now: now}
}

// Session is an account's challenge record bound to the repository of the current transaction.
type Session struct {
	store *Store
	repo  repository.Repository
	rec   *domain.Record
}

// Open locks the account's challenge row and folds its recent events into a record.
// Events older than the device TTL are not loaded, so devices idle for longer are forgotten.
// Devices beyond the cap are evicted in the log before the session is returned.
func (s *Store) Open(ctx context.Context, repo repository.Repository, accountID string) (*Session, error) {
	ok, err := repo.Lock(ctx, accountID)
	if err != nil {
		return nil, fmt.Errorf("lock challenge record: %w", err)
	}
	if !ok {
		return nil, errs.ErrNotFound
	}
	now := s.now()
	events, err := repo.ListEvents(ctx, accountID, now.Add(-s.deviceTTL))
	if err != nil {
		return nil, fmt.Errorf("load challenge events: %w", err)
	}
	rec := domain.Fold(accountID, events)
	sess := &Session{store: s, repo: repo, rec: rec}
	if err := sess.evict(ctx, rec.Prune(now, s.maxDevices, s.deviceTTL)); err != nil {
		return nil, err
	}
	return sess, nil
}

// Record returns the folded record.
func (c *Session) Record() *domain.Record {
	return c.rec
}

// NextRequired returns the next kind device must verify, or ok=false when none remains.
func (c *Session) NextRequired(tiered bool, device string) (domain.Kind, bool) {
	return c.rec.NextRequired(tiered, device)
}

// Generate issues a fresh code for kind, replacing any live code of that kind, and returns the plaintext for dispatch.
func (c *Session) Generate(ctx context.Context, kind domain.Kind) (string, error) {
	code, err := mfa.GenerateOTP()
	if err != nil {
		return "", fmt.Errorf("generate %s code: %w", kind, err)
	}
	e := c.event(domain.EventIssued, kind, "")
	e.CodeHash = mfa.HashOTP(code)
	if err := c.apply(ctx, e); err != nil {
		return "", err
	}
	return code, nil
}

// Verify checks submitted against the live code for kind and marks kind verified for device.
// The stored code is kept. Returns errs.ErrInvalidCode when no code is live or it does not match.
func (c *Session) Verify(ctx context.Context, kind domain.Kind, submitted, device string) error {
	hash := c.rec.Codes[kind]
	if hash == "" || !mfa.OTPEqual(submitted, hash) {
		return errs.ErrInvalidCode
	}
	return c.apply(ctx, c.event(domain.EventVerified, kind, device))
}

// ClearIfComplete drops all codes and forgets device once every enabled kind is verified for it.
// Reports whether the record was cleared.
func (c *Session) ClearIfComplete(ctx context.Context, tiered bool, device string) (bool, error) {
	if _, pending := c.rec.NextRequired(tiered, device); pending {
		return false, nil
	}
	if err := c.apply(ctx, c.event(domain.EventCleared, 0, device)); err != nil {
		return false, err
	}
	return true, nil
}

// Reset drops every code and device for the account (administrative).
func (c *Session) Reset(ctx context.Context) error {
	return c.apply(ctx, c.event(domain.EventReset, 0, ""))
}

func (c *Session) event(t domain.EventType, kind domain.Kind, device string) *domain.Event {
	return &domain.Event{
		ID:        uuid.New().String(),
		AccountID: c.rec.AccountID,
		DeviceID:  device,
		Kind:      kind,
		Type:      t,
		CreatedAt: c.store.now(),
	}
}

func (c *Session) evict(ctx context.Context, devices []string) error {
	if len(devices) == 0 {
		return nil
	}
	events := make([]*domain.Event, 0, len(devices))
	for _, d := range devices {
		e := c.event(domain.EventEvicted, 0, d)
		c.rec.Apply(e)
		events = append(events, e)
	}
	if err := c.repo.Append(ctx, events...); err != nil {
		return fmt.Errorf("append challenge eviction: %w", err)
	}
	if err := c.repo.SaveProjection(ctx, c.rec); err != nil {
		return fmt.Errorf("save challenge projection: %w", err)
	}
	return nil
}

func (c *Session) apply(ctx context.Context, e *domain.Event) error {
	if err := c.repo.Append(ctx, e); err != nil {
		return fmt.Errorf("append challenge event: %w", err)
	}
	c.rec.Apply(e)
	if err := c.repo.SaveProjection(ctx, c.rec); err != nil {
		return fmt.Errorf("save challenge projection: %w", err)
	}
	return nil
}
