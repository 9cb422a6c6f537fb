// Package handler exposes the challenge flow over HTTP.
package handler

import (
	"context"
	"time"

	"github.com/gofiber/fiber/v2"

	challengedomain "custodial-ledger/backend/internal/challenge/domain"
	"custodial-ledger/backend/internal/errs"
	"custodial-ledger/backend/internal/orchestrator"
	"custodial-ledger/backend/internal/server/middleware"
	transferhandler "custodial-ledger/backend/internal/transfer/handler"
)

// DeviceHeader carries the caller's device identifier.
const DeviceHeader = "X-Device-ID"

// Advancer runs one step of the challenge flow.
type Advancer interface {
	Advance(ctx context.Context, req orchestrator.Request) (*orchestrator.Result, error)
}

// Handler serves POST /v1/transfers/challenge.
type Handler struct {
	orch Advancer
}

// New returns a challenge Handler.
func New(orch Advancer) *Handler {
	return &Handler{orch: orch}
}

type challengeBody struct {
	transferhandler.IntentBody
	Codes     map[string]string `json:"codes"`
	EmailCode string            `json:"email_code"`
	Resend    bool              `json:"resend"`
}

type challengeResponse struct {
	Status        string                `json:"status"`
	NextRequired  string                `json:"next_required,omitempty"`
	CodeExpiresAt *time.Time            `json:"code_expires_at,omitempty"`
	Transfer      *transferhandler.View `json:"transfer,omitempty"`
}

// Challenge handles POST /v1/transfers/challenge.
func (h *Handler) Challenge(c *fiber.Ctx) error {
	p, ok := middleware.Principal(c)
	if !ok {
		return fiber.NewError(fiber.StatusUnauthorized, "authentication required")
	}
	device := c.Get(DeviceHeader)
	if device == "" {
		return errs.ErrDeviceRequired
	}
	var body challengeBody
	if err := c.BodyParser(&body); err != nil {
		return errs.Invalid("body", "must be a JSON object")
	}
	codes := make(map[challengedomain.Kind]string, len(body.Codes))
	for name, code := range body.Codes {
		kind, err := challengedomain.ParseKind(name)
		if err != nil {
			return errs.Invalid("codes", "unknown challenge kind "+name)
		}
		if code != "" {
			codes[kind] = code
		}
	}
	res, err := h.orch.Advance(c.UserContext(), orchestrator.Request{
		PrincipalID: p.ID,
		DeviceID:    device,
		Codes:       codes,
		EmailCode:   body.EmailCode,
		Resend:      body.Resend,
		Intent:      body.Intent(),
	})
	if err != nil {
		return err
	}
	out := challengeResponse{
		Status:        string(res.Status),
		NextRequired:  res.NextRequired,
		CodeExpiresAt: res.CodeExpiresAt,
	}
	if res.Transfer != nil {
		v := transferhandler.NewView(res.Transfer)
		out.Transfer = &v
	}
	return c.JSON(out)
}
