// Package handler exposes account reads and administrative account operations over HTTP.
package handler

import (
	"context"
	"strconv"
	"time"

	"github.com/gofiber/fiber/v2"

	"custodial-ledger/backend/internal/errs"
	"custodial-ledger/backend/internal/ledger"
	"custodial-ledger/backend/internal/ledger/domain"
	"custodial-ledger/backend/internal/money"
	"custodial-ledger/backend/internal/platform/rbac"
	"custodial-ledger/backend/internal/server/middleware"
	txpolicydomain "custodial-ledger/backend/internal/txpolicy/domain"
)

// DefaultHistoryPage is the page size when limit is absent.
const DefaultHistoryPage = 20

// Service is the subset of ledger.Service used by the handler.
type Service interface {
	Provision(ctx context.Context, actorID string, in ledger.ProvisionInput) (*domain.Account, error)
	Deposit(ctx context.Context, actorID, accountID string, in ledger.DepositInput) (*domain.Account, *domain.Deposit, error)
	SetLocks(ctx context.Context, actorID, accountID string, locked, transferLocked bool) (*domain.Account, error)
	SetTieredMode(ctx context.Context, actorID, accountID string, tiered bool) (*txpolicydomain.Policy, error)
	ResetChallenges(ctx context.Context, actorID, accountID string) error
	Get(ctx context.Context, accountID string) (*domain.Account, error)
	Dashboard(ctx context.Context, principalID string) (*ledger.Dashboard, error)
	History(ctx context.Context, principalID string, limit, offset int32) ([]ledger.HistoryEntry, error)
}

// Handler serves /v1/account, /v1/transactions/history and /v1/admin/accounts.
type Handler struct {
	svc Service
}

// New returns an account Handler.
func New(svc Service) *Handler {
	return &Handler{svc: svc}
}

// AccountView is the JSON shape of an account.
type AccountView struct {
	ID             string    `json:"id"`
	PrincipalID    string    `json:"principal_id"`
	AccountNumber  string    `json:"account_number"`
	Balance        string    `json:"balance"`
	Locked         bool      `json:"locked"`
	TransferLocked bool      `json:"transfer_locked"`
	TieredEnabled  *bool     `json:"tiered_enabled,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
}

func newAccountView(a *domain.Account) AccountView {
	return AccountView{
		ID:             a.ID,
		PrincipalID:    a.PrincipalID,
		AccountNumber:  a.AccountNumber,
		Balance:        money.Format(a.Balance),
		Locked:         a.Locked,
		TransferLocked: a.TransferLocked,
		CreatedAt:      a.CreatedAt,
	}
}

type depositView struct {
	ID        string    `json:"id"`
	Amount    string    `json:"amount"`
	BankName  string    `json:"bank_name"`
	Method    string    `json:"method"`
	Reference string    `json:"reference,omitempty"`
	Note      string    `json:"note,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

type historyView struct {
	Kind        string    `json:"kind"`
	ID          string    `json:"id"`
	Amount      string    `json:"amount"`
	Status      string    `json:"status"`
	Reference   string    `json:"reference,omitempty"`
	Description string    `json:"description,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

type provisionBody struct {
	PrincipalID   string `json:"principal_id"`
	Destination   string `json:"destination"`
	TieredEnabled bool   `json:"tiered_enabled"`
}

type depositBody struct {
	Amount    string `json:"amount"`
	BankName  string `json:"bank_name"`
	Method    string `json:"method"`
	Reference string `json:"reference"`
	Note      string `json:"note"`
}

type lockBody struct {
	Locked         bool `json:"locked"`
	TransferLocked bool `json:"transfer_locked"`
}

type policyBody struct {
	TieredEnabled *bool `json:"tiered_enabled"`
}

// Account handles GET /v1/account.
func (h *Handler) Account(c *fiber.Ctx) error {
	p, ok := middleware.Principal(c)
	if !ok {
		return fiber.NewError(fiber.StatusUnauthorized, "authentication required")
	}
	d, err := h.svc.Dashboard(c.UserContext(), p.ID)
	if err != nil {
		return err
	}
	v := newAccountView(d.Account)
	v.TieredEnabled = &d.TieredEnabled
	return c.JSON(fiber.Map{"account": v})
}

// History handles GET /v1/transactions/history?limit=&offset=.
func (h *Handler) History(c *fiber.Ctx) error {
	p, ok := middleware.Principal(c)
	if !ok {
		return fiber.NewError(fiber.StatusUnauthorized, "authentication required")
	}
	limit, err := queryInt32(c, "limit", DefaultHistoryPage)
	if err != nil {
		return err
	}
	offset, err := queryInt32(c, "offset", 0)
	if err != nil {
		return err
	}
	entries, err := h.svc.History(c.UserContext(), p.ID, limit, offset)
	if err != nil {
		return err
	}
	out := make([]historyView, 0, len(entries))
	for _, e := range entries {
		out = append(out, historyView{
			Kind:        string(e.Kind),
			ID:          e.ID,
			Amount:      money.Format(e.Amount),
			Status:      e.Status,
			Reference:   e.Reference,
			Description: e.Description,
			CreatedAt:   e.CreatedAt,
		})
	}
	return c.JSON(fiber.Map{"entries": out, "limit": limit, "offset": offset})
}

// Provision handles POST /v1/admin/accounts.
func (h *Handler) Provision(c *fiber.Ctx) error {
	actor, err := rbac.RequireAdminContext(c.UserContext())
	if err != nil {
		return err
	}
	var body provisionBody
	if err := c.BodyParser(&body); err != nil {
		return errs.Invalid("body", "must be a JSON object")
	}
	a, err := h.svc.Provision(c.UserContext(), actor, ledger.ProvisionInput{
		PrincipalID:   body.PrincipalID,
		Destination:   body.Destination,
		TieredEnabled: body.TieredEnabled,
	})
	if err != nil {
		return err
	}
	v := newAccountView(a)
	v.TieredEnabled = &body.TieredEnabled
	return c.Status(fiber.StatusCreated).JSON(fiber.Map{"account": v})
}

// GetAccount handles GET /v1/admin/accounts/:id.
func (h *Handler) GetAccount(c *fiber.Ctx) error {
	if _, err := rbac.RequireAdminContext(c.UserContext()); err != nil {
		return err
	}
	a, err := h.svc.Get(c.UserContext(), c.Params("id"))
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"account": newAccountView(a)})
}

// Deposit handles POST /v1/admin/accounts/:id/deposits.
func (h *Handler) Deposit(c *fiber.Ctx) error {
	actor, err := rbac.RequireAdminContext(c.UserContext())
	if err != nil {
		return err
	}
	var body depositBody
	if err := c.BodyParser(&body); err != nil {
		return errs.Invalid("body", "must be a JSON object")
	}
	amount, err := money.Parse(body.Amount)
	if err != nil {
		return err
	}
	a, d, err := h.svc.Deposit(c.UserContext(), actor, c.Params("id"), ledger.DepositInput{
		Amount:    amount,
		BankName:  body.BankName,
		Method:    body.Method,
		Reference: body.Reference,
		Note:      body.Note,
	})
	if err != nil {
		return err
	}
	return c.Status(fiber.StatusCreated).JSON(fiber.Map{
		"account": newAccountView(a),
		"deposit": depositView{
			ID:        d.ID,
			Amount:    money.Format(d.Amount),
			BankName:  d.BankName,
			Method:    d.Method,
			Reference: d.Reference,
			Note:      d.Note,
			CreatedAt: d.CreatedAt,
		},
	})
}

// Lock handles POST /v1/admin/accounts/:id/lock.
func (h *Handler) Lock(c *fiber.Ctx) error {
	actor, err := rbac.RequireAdminContext(c.UserContext())
	if err != nil {
		return err
	}
	var body lockBody
	if err := c.BodyParser(&body); err != nil {
		return errs.Invalid("body", "must be a JSON object")
	}
	a, err := h.svc.SetLocks(c.UserContext(), actor, c.Params("id"), body.Locked, body.TransferLocked)
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"account": newAccountView(a)})
}

// Policy handles PUT /v1/admin/accounts/:id/policy.
func (h *Handler) Policy(c *fiber.Ctx) error {
	actor, err := rbac.RequireAdminContext(c.UserContext())
	if err != nil {
		return err
	}
	var body policyBody
	if err := c.BodyParser(&body); err != nil {
		return errs.Invalid("body", "must be a JSON object")
	}
	if body.TieredEnabled == nil {
		return errs.Invalid("tiered_enabled", "is required")
	}
	p, err := h.svc.SetTieredMode(c.UserContext(), actor, c.Params("id"), *body.TieredEnabled)
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"account_id": p.AccountID, "tiered_enabled": p.TieredEnabled, "updated_at": p.UpdatedAt})
}

// ResetChallenges handles POST /v1/admin/accounts/:id/challenges/reset.
func (h *Handler) ResetChallenges(c *fiber.Ctx) error {
	actor, err := rbac.RequireAdminContext(c.UserContext())
	if err != nil {
		return err
	}
	if err := h.svc.ResetChallenges(c.UserContext(), actor, c.Params("id")); err != nil {
		return err
	}
	return c.SendStatus(fiber.StatusNoContent)
}

func queryInt32(c *fiber.Ctx, key string, fallback int32) (int32, error) {
	raw := c.Query(key)
	if raw == "" {
		return fallback, nil
	}
	n, err := strconv.ParseInt(raw, 10, 32)
	if err != nil || n < 0 {
		return 0, errs.Invalid(key, "must be a non-negative integer")
	}
	return int32(n), nil
}

