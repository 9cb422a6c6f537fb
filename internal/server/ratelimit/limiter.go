package ratelimit

import (
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/limiter"

	"custodial-ledger/backend/internal/server/middleware"
)

// Verification limits code submissions per principal (per IP when anonymous) to limit per window.
// storage may be nil for the in-process store.
func Verification(limit int, window time.Duration, storage fiber.Storage) fiber.Handler {
	return limiter.New(limiter.Config{
		Max:        limit,
		Expiration: window,
		Storage:    storage,
		KeyGenerator: func(c *fiber.Ctx) string {
			if p, ok := middleware.Principal(c); ok {
				return "verify:" + p.ID
			}
			return "verify-ip:" + c.IP()
		},
		LimitReached: func(c *fiber.Ctx) error {
			return fiber.NewError(fiber.StatusTooManyRequests, "too many verification attempts")
		},
	})
}
