package middleware

import (
	"strconv"

	"github.com/gofiber/fiber/v2"

	"custodial-ledger/backend/internal/audit"
)

// Audit records one audit entry per request after the handler ran, with action and resource derived
// from the matched route. Only authenticated requests are recorded. Best-effort.
func Audit(logger audit.AuditLogger) fiber.Handler {
	return func(c *fiber.Ctx) error {
		status, err := settle(c, c.Next())
		p, ok := Principal(c)
		if logger == nil || !ok {
			return err
		}
		ar := audit.ParseRoute(c.Method(), c.Route().Path)
		resource := ar.Resource
		if id := c.Params("id"); id != "" {
			resource += ":" + id
		}
		logger.LogEvent(c.UserContext(), p.ID, "http_"+ar.Action, resource, "status="+strconv.Itoa(status))
		return err
	}
}
