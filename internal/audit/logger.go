// Package audit records administrative and settlement actions. Writes are best-effort.
package audit

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"custodial-ledger/backend/internal/audit/domain"
	auditrepo "custodial-ledger/backend/internal/audit/repository"
)

// SystemActor is the actor recorded for actions taken by the engine itself (e.g. auto-settlement).
const SystemActor = "_system"

// Audited actions.
const (
	ActionTransferCreated    = "transfer_created"
	ActionTransferVerified   = "transfer_verified"
	ActionTransferSettled    = "transfer_settled"
	ActionTransferFailed     = "transfer_failed"
	ActionTransferApproved   = "transfer_approved"
	ActionTransferDeclined   = "transfer_declined"
	ActionAccountProvisioned = "account_provisioned"
	ActionDeposit            = "deposit"
	ActionAccountLocks       = "account_locks_changed"
	ActionPolicyChanged      = "transaction_policy_changed"
	ActionChallengesReset    = "challenges_reset"
)

// IPExtractor returns the client IP from the request context.
type IPExtractor func(context.Context) string

// AuditLogger writes a single audit event with explicit action/resource.
// LogEvent is best-effort: failures are logged and do not affect the caller.
type AuditLogger interface {
	LogEvent(ctx context.Context, actorID, action, resource, metadata string)
}

// Logger implements AuditLogger using the audit repository and an optional IP extractor.
type Logger struct {
	repo        auditrepo.Repository
	ipExtractor IPExtractor
	log         *zap.Logger
}

// NewLogger returns an AuditLogger that persists to repo and uses ipExtractor for client IP.
// ipExtractor may be nil; then IP is recorded as "unknown". log may be nil.
func NewLogger(repo auditrepo.Repository, ipExtractor IPExtractor, log *zap.Logger) *Logger {
	if log == nil {
		log = zap.NewNop()
	}
	return &Logger{repo: repo, ipExtractor: ipExtractor, log: log}
}

// LogEvent writes one audit log entry. Best-effort: errors are logged and not returned.
func (l *Logger) LogEvent(ctx context.Context, actorID, action, resource, metadata string) {
	if l == nil || l.repo == nil {
		return
	}
	ip := "unknown"
	if l.ipExtractor != nil {
		if v := l.ipExtractor(ctx); v != "" {
			ip = v
		}
	}
	if actorID == "" {
		actorID = SystemActor
	}
	entry := &domain.AuditLog{
		ID:        uuid.New().String(),
		ActorID:   actorID,
		Action:    action,
		Resource:  resource,
		IP:        ip,
		Metadata:  metadata,
		CreatedAt: time.Now().UTC(),
	}
	if err := l.repo.Create(context.WithoutCancel(ctx), entry); err != nil {
		l.log.Warn("audit: failed to log event", zap.String("action", action), zap.String("resource", resource), zap.Error(err))
	}
}
