// Package rbac enforces the admin role on administrative routes.
package rbac

import (
	"context"

	"github.com/gofiber/fiber/v2"

	"custodial-ledger/backend/internal/server/middleware"
)

// RequireAdminContext ensures ctx carries an authenticated principal with the admin role.
// Returns the principal id on success; a 401 or 403 *fiber.Error on failure.
func RequireAdminContext(ctx context.Context) (string, error) {
	p, ok := middleware.PrincipalFromContext(ctx)
	if !ok {
		return "", fiber.NewError(fiber.StatusUnauthorized, "authentication required")
	}
	if !p.IsAdmin() {
		return "", fiber.NewError(fiber.StatusForbidden, "admin role required")
	}
	return p.ID, nil
}

// RequireAdmin is route middleware around RequireAdminContext.
func RequireAdmin() fiber.Handler {
	return func(c *fiber.Ctx) error {
		if _, err := RequireAdminContext(c.UserContext()); err != nil {
			return err
		}
		return c.Next()
	}
}
