// Package handler exposes settlement policy administration over HTTP.
package handler

import (
	"context"
	"time"

	"github.com/gofiber/fiber/v2"

	"custodial-ledger/backend/internal/errs"
	"custodial-ledger/backend/internal/platform/rbac"
	"custodial-ledger/backend/internal/policy/domain"
)

// Service is the subset of policy.Service used by the handler.
type Service interface {
	Create(ctx context.Context, actorID, rules string, enabled bool) (*domain.Policy, error)
	SetEnabled(ctx context.Context, actorID, id string, enabled bool) (*domain.Policy, error)
	List(ctx context.Context) ([]*domain.Policy, error)
}

// Handler serves /v1/admin/settlement-policies.
type Handler struct {
	svc Service
}

// New returns a policy Handler.
func New(svc Service) *Handler {
	return &Handler{svc: svc}
}

type policyView struct {
	ID        string    `json:"id"`
	Rules     string    `json:"rules"`
	Enabled   bool      `json:"enabled"`
	CreatedAt time.Time `json:"created_at"`
}

func newView(p *domain.Policy) policyView {
	return policyView{ID: p.ID, Rules: p.Rules, Enabled: p.Enabled, CreatedAt: p.CreatedAt}
}

type createBody struct {
	Rules   string `json:"rules"`
	Enabled bool   `json:"enabled"`
}

type updateBody struct {
	Enabled *bool `json:"enabled"`
}

// List handles GET /v1/admin/settlement-policies.
func (h *Handler) List(c *fiber.Ctx) error {
	if _, err := rbac.RequireAdminContext(c.UserContext()); err != nil {
		return err
	}
	list, err := h.svc.List(c.UserContext())
	if err != nil {
		return err
	}
	out := make([]policyView, 0, len(list))
	for _, p := range list {
		out = append(out, newView(p))
	}
	return c.JSON(fiber.Map{"policies": out})
}

// Create handles POST /v1/admin/settlement-policies.
func (h *Handler) Create(c *fiber.Ctx) error {
	actor, err := rbac.RequireAdminContext(c.UserContext())
	if err != nil {
		return err
	}
	var body createBody
	if err := c.BodyParser(&body); err != nil {
		return errs.Invalid("body", "must be a JSON object")
	}
	p, err := h.svc.Create(c.UserContext(), actor, body.Rules, body.Enabled)
	if err != nil {
		return err
	}
	return c.Status(fiber.StatusCreated).JSON(fiber.Map{"policy": newView(p)})
}

// Update handles PUT /v1/admin/settlement-policies/:id.
func (h *Handler) Update(c *fiber.Ctx) error {
	actor, err := rbac.RequireAdminContext(c.UserContext())
	if err != nil {
		return err
	}
	var body updateBody
	if err := c.BodyParser(&body); err != nil {
		return errs.Invalid("body", "must be a JSON object")
	}
	if body.Enabled == nil {
		return errs.Invalid("enabled", "is required")
	}
	p, err := h.svc.SetEnabled(c.UserContext(), actor, c.Params("id"), *body.Enabled)
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"policy": newView(p)})
}
