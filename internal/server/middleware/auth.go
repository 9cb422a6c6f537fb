package middleware

import (
	"strings"

	"github.com/gofiber/fiber/v2"

	"custodial-ledger/backend/internal/security"
)

const bearerPrefix = "bearer "

// TokenValidator validates an access token and returns its principal.
type TokenValidator interface {
	ValidateAccess(token string) (security.Principal, error)
}

// Auth validates the Bearer access token and stores the principal in the request context.
// Requests without a valid token get 401.
func Auth(tokens TokenValidator) fiber.Handler {
	return func(c *fiber.Ctx) error {
		token := extractBearer(c.Get(fiber.HeaderAuthorization))
		if token == "" {
			return fiber.NewError(fiber.StatusUnauthorized, "missing or invalid authorization")
		}
		p, err := tokens.ValidateAccess(token)
		if err != nil {
			return fiber.NewError(fiber.StatusUnauthorized, "missing or invalid authorization")
		}
		c.SetUserContext(WithPrincipal(c.UserContext(), p))
		return c.Next()
	}
}

// extractBearer returns the token from an Authorization header value, or "" if missing or malformed.
func extractBearer(v string) string {
	v = strings.TrimSpace(v)
	if len(v) < len(bearerPrefix) {
		return ""
	}
	if !strings.EqualFold(v[:len(bearerPrefix)], bearerPrefix) {
		return ""
	}
	return strings.TrimSpace(v[len(bearerPrefix):])
}
