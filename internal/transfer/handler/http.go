// Package handler exposes transfer operations over HTTP.
package handler

import (
	"context"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/shopspring/decimal"

	"custodial-ledger/backend/internal/errs"
	"custodial-ledger/backend/internal/money"
	"custodial-ledger/backend/internal/platform/rbac"
	"custodial-ledger/backend/internal/server/middleware"
	"custodial-ledger/backend/internal/transfer"
	"custodial-ledger/backend/internal/transfer/domain"
)

// Service is the subset of transfer.Service used by the handler.
type Service interface {
	Create(ctx context.Context, principalID string, in transfer.Intent) (*domain.Transfer, error)
	Resend(ctx context.Context, principalID, transferID string) (*domain.Transfer, error)
	Verify(ctx context.Context, principalID, transferID, code string) (*domain.Transfer, error)
	Approve(ctx context.Context, actorID, transferID string) (*domain.Transfer, bool, error)
	Decline(ctx context.Context, actorID, transferID string) (*domain.Transfer, bool, error)
	Get(ctx context.Context, principalID string, admin bool, transferID string) (*domain.Transfer, error)
}

// Handler serves /v1/transfers and /v1/admin/transfers.
type Handler struct {
	svc Service
}

// New returns a transfer Handler.
func New(svc Service) *Handler {
	return &Handler{svc: svc}
}

// RecipientBody is the recipient descriptor in request bodies.
type RecipientBody struct {
	Name          string `json:"name"`
	Bank          string `json:"bank"`
	AccountNumber string `json:"account_number"`
	IBAN          string `json:"iban,omitempty"`
	SWIFT         string `json:"swift,omitempty"`
	Address       string `json:"address,omitempty"`
}

// IntentBody is a transfer request body.
type IntentBody struct {
	Recipient RecipientBody `json:"recipient"`
	Amount    string        `json:"amount"`
	Purpose   string        `json:"purpose"`
}

// Intent converts the body to a transfer.Intent. An unparsable amount becomes zero so that the
// service reports it after its lock checks.
func (b IntentBody) Intent() transfer.Intent {
	amount, err := decimal.NewFromString(strings.TrimSpace(b.Amount))
	if err != nil {
		amount = decimal.Zero
	}
	return transfer.Intent{
		Recipient: domain.Recipient{
			Name:          b.Recipient.Name,
			Bank:          b.Recipient.Bank,
			AccountNumber: b.Recipient.AccountNumber,
			IBAN:          b.Recipient.IBAN,
			SWIFT:         b.Recipient.SWIFT,
			Address:       b.Recipient.Address,
		},
		Amount:  amount,
		Purpose: b.Purpose,
	}
}

// View is the JSON shape of a transfer. The code hash is never exposed.
type View struct {
	ID              string        `json:"id"`
	SenderAccountID string        `json:"sender_account_id"`
	Recipient       RecipientView `json:"recipient"`
	Amount          string        `json:"amount"`
	Purpose         string        `json:"purpose,omitempty"`
	Reference       string        `json:"reference"`
	Flow            string        `json:"flow"`
	Status          string        `json:"status"`
	CodeEntered     bool          `json:"code_entered"`
	IsVerified      bool          `json:"is_verified"`
	CodeExpiresAt   *time.Time    `json:"code_expires_at,omitempty"`
	CreatedAt       time.Time     `json:"created_at"`
	UpdatedAt       time.Time     `json:"updated_at"`
}

// RecipientView is the recipient part of View.
type RecipientView struct {
	RecipientBody
	Internal bool `json:"internal"`
}

// NewView renders t.
func NewView(t *domain.Transfer) View {
	v := View{
		ID:              t.ID,
		SenderAccountID: t.SenderAccountID,
		Recipient: RecipientView{
			RecipientBody: RecipientBody{
				Name:          t.Recipient.Name,
				Bank:          t.Recipient.Bank,
				AccountNumber: t.Recipient.AccountNumber,
				IBAN:          t.Recipient.IBAN,
				SWIFT:         t.Recipient.SWIFT,
				Address:       t.Recipient.Address,
			},
			Internal: t.Recipient.Internal(),
		},
		Amount:      money.Format(t.Amount),
		Purpose:     t.Purpose,
		Reference:   t.Reference,
		Flow:        string(t.Flow),
		Status:      string(t.Status),
		CodeEntered: t.CodeEntered,
		IsVerified:  t.IsVerified,
		CreatedAt:   t.CreatedAt,
		UpdatedAt:   t.UpdatedAt,
	}
	if t.Status == domain.StatusPending {
		v.CodeExpiresAt = t.CodeExpiresAt
	}
	return v
}

type verifyBody struct {
	Code string `json:"code"`
}

type decisionResponse struct {
	Transfer View `json:"transfer"`
	Applied  bool `json:"applied"`
}

// Create handles POST /v1/transfers.
func (h *Handler) Create(c *fiber.Ctx) error {
	p, err := principal(c)
	if err != nil {
		return err
	}
	var body IntentBody
	if err := c.BodyParser(&body); err != nil {
		return errs.Invalid("body", "must be a JSON object")
	}
	t, err := h.svc.Create(c.UserContext(), p, body.Intent())
	if err != nil {
		return err
	}
	return c.Status(fiber.StatusCreated).JSON(fiber.Map{"transfer": NewView(t)})
}

// Verify handles POST /v1/transfers/:id/verify.
func (h *Handler) Verify(c *fiber.Ctx) error {
	p, err := principal(c)
	if err != nil {
		return err
	}
	var body verifyBody
	if err := c.BodyParser(&body); err != nil {
		return errs.Invalid("body", "must be a JSON object")
	}
	t, err := h.svc.Verify(c.UserContext(), p, c.Params("id"), body.Code)
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"transfer": NewView(t)})
}

// Resend handles POST /v1/transfers/:id/resend.
func (h *Handler) Resend(c *fiber.Ctx) error {
	p, err := principal(c)
	if err != nil {
		return err
	}
	t, err := h.svc.Resend(c.UserContext(), p, c.Params("id"))
	if err != nil {
		return err
	}
	return c.Status(fiber.StatusAccepted).JSON(fiber.Map{"code_expires_at": t.CodeExpiresAt})
}

// Get handles GET /v1/transfers/:id. Admins may read any transfer.
func (h *Handler) Get(c *fiber.Ctx) error {
	p, ok := middleware.Principal(c)
	if !ok {
		return fiber.NewError(fiber.StatusUnauthorized, "authentication required")
	}
	t, err := h.svc.Get(c.UserContext(), p.ID, p.IsAdmin(), c.Params("id"))
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"transfer": NewView(t)})
}

// Approve handles POST /v1/admin/transfers/:id/approve.
func (h *Handler) Approve(c *fiber.Ctx) error {
	actor, err := rbac.RequireAdminContext(c.UserContext())
	if err != nil {
		return err
	}
	t, applied, err := h.svc.Approve(c.UserContext(), actor, c.Params("id"))
	if err != nil {
		return err
	}
	return c.JSON(decisionResponse{Transfer: NewView(t), Applied: applied})
}

// Decline handles POST /v1/admin/transfers/:id/decline.
func (h *Handler) Decline(c *fiber.Ctx) error {
	actor, err := rbac.RequireAdminContext(c.UserContext())
	if err != nil {
		return err
	}
	t, applied, err := h.svc.Decline(c.UserContext(), actor, c.Params("id"))
	if err != nil {
		return err
	}
	return c.JSON(decisionResponse{Transfer: NewView(t), Applied: applied})
}

func principal(c *fiber.Ctx) (string, error) {
	p, ok := middleware.Principal(c)
	if !ok {
		return "", fiber.NewError(fiber.StatusUnauthorized, "authentication required")
	}
	return p.ID, nil
}
