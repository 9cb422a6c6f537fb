// Package middleware holds the Fiber middleware shared by every HTTP route: authentication,
// request logging, tracing and admin audit.
package middleware

import (
	"context"

	"github.com/gofiber/fiber/v2"

	"custodial-ledger/backend/internal/security"
)

type contextKey struct{ name string }

var (
	principalKey = contextKey{"principal"}
	clientIPKey  = contextKey{"client_ip"}
)

// WithPrincipal returns a context carrying the authenticated principal.
func WithPrincipal(ctx context.Context, p security.Principal) context.Context {
	return context.WithValue(ctx, principalKey, p)
}

// PrincipalFromContext returns the principal and true if set; otherwise the zero value and false.
func PrincipalFromContext(ctx context.Context) (security.Principal, bool) {
	p, ok := ctx.Value(principalKey).(security.Principal)
	return p, ok && p.ID != ""
}

// Principal returns the principal authenticated for the request.
func Principal(c *fiber.Ctx) (security.Principal, bool) {
	return PrincipalFromContext(c.UserContext())
}

// WithClientIP returns a context carrying the caller's IP.
func WithClientIP(ctx context.Context, ip string) context.Context {
	return context.WithValue(ctx, clientIPKey, ip)
}

// ClientIP returns the caller IP stored by RequestContext, or "". It matches audit.IPExtractor.
func ClientIP(ctx context.Context) string {
	v, _ := ctx.Value(clientIPKey).(string)
	return v
}

// RequestContext copies the client IP into the request's user context so services can read it.
// Fiber resolves the IP from X-Forwarded-For when the app is configured with a proxy header.
func RequestContext() fiber.Handler {
	return func(c *fiber.Ctx) error {
		c.SetUserContext(WithClientIP(c.UserContext(), c.IP()))
		return c.Next()
	}
}
