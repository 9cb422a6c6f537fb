// Package policy manages the Rego settlement policies evaluated by policy/engine.
package policy

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/open-policy-agent/opa/v1/ast"
	"go.uber.org/zap"

	"custodial-ledger/backend/internal/audit"
	"custodial-ledger/backend/internal/errs"
	"custodial-ledger/backend/internal/policy/domain"
	"custodial-ledger/backend/internal/policy/repository"
)

// RequiredPackage is the Rego package every settlement policy must declare.
const RequiredPackage = "data.ledger.settlement"

// Service creates, lists and toggles settlement policies.
type Service struct {
	repo  repository.Repository
	audit audit.AuditLogger
	log   *zap.Logger
	now   func() time.Time
}

// NewService returns a policy Service. auditLogger and log may be nil.
func NewService(repo repository.Repository, auditLogger audit.AuditLogger, log *zap.Logger) *Service {
	if log == nil {
		log = zap.NewNop()
	}
	return &Service{repo: repo, audit: auditLogger, log: log, now: func() time.Time { return time.Now().UTC() }}
}

// Create stores a new policy after checking that rules parse and declare RequiredPackage.
func (s *Service) Create(ctx context.Context, actorID, rules string, enabled bool) (*domain.Policy, error) {
	if err := Validate(rules); err != nil {
		return nil, err
	}
	p := &domain.Policy{
		ID:        uuid.New().String(),
		Rules:     rules,
		Enabled:   enabled,
		CreatedAt: s.now(),
	}
	if err := s.repo.Create(ctx, p); err != nil {
		return nil, fmt.Errorf("create policy: %w", err)
	}
	s.record(ctx, actorID, p, "created")
	return p, nil
}

// SetEnabled enables or disables policy id.
func (s *Service) SetEnabled(ctx context.Context, actorID, id string, enabled bool) (*domain.Policy, error) {
	p, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if p == nil {
		return nil, fmt.Errorf("policy %s: %w", id, errs.ErrNotFound)
	}
	if p.Enabled == enabled {
		return p, nil
	}
	p.Enabled = enabled
	if err := s.repo.Update(ctx, p); err != nil {
		return nil, fmt.Errorf("update policy: %w", err)
	}
	if enabled {
		s.record(ctx, actorID, p, "enabled")
	} else {
		s.record(ctx, actorID, p, "disabled")
	}
	return p, nil
}

// List returns every stored policy.
func (s *Service) List(ctx context.Context) ([]*domain.Policy, error) {
	return s.repo.List(ctx)
}

// Validate parses rules as a Rego module in the settlement package.
func Validate(rules string) error {
	if strings.TrimSpace(rules) == "" {
		return errs.Invalid("rules", "must not be empty")
	}
	mod, err := ast.ParseModule("settlement.rego", rules)
	if err != nil {
		return errs.Invalid("rules", err.Error())
	}
	if mod == nil || mod.Package == nil || mod.Package.Path.String() != RequiredPackage {
		return errs.Invalid("rules", "package must be ledger.settlement")
	}
	return nil
}

func (s *Service) record(ctx context.Context, actorID string, p *domain.Policy, change string) {
	if s.audit == nil {
		return
	}
	s.audit.LogEvent(ctx, actorID, audit.ActionPolicyChanged, "settlement_policy:"+p.ID, change)
}
