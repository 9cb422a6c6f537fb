// Package handler serves dispatched codes back to developers. Registered only when
// OTP_RETURN_TO_CLIENT is enabled, which config refuses in production.
package handler

import (
	"net/url"

	"github.com/gofiber/fiber/v2"

	"custodial-ledger/backend/internal/devotp"
)

// Handler serves GET /dev/codes/:key.
type Handler struct {
	store devotp.Store
}

// New returns a dev code Handler.
func New(store devotp.Store) *Handler {
	return &Handler{store: store}
}

// GetCode returns the latest unexpired code dispatched under key (e.g. transfer:<id>).
func (h *Handler) GetCode(c *fiber.Ctx) error {
	key, err := url.PathUnescape(c.Params("key"))
	if err != nil || key == "" {
		return fiber.NewError(fiber.StatusBadRequest, "key is required")
	}
	code, ok := h.store.Get(c.UserContext(), key)
	if !ok {
		return fiber.NewError(fiber.StatusNotFound, "no live code for key")
	}
	return c.JSON(fiber.Map{"key": key, "code": code})
}
