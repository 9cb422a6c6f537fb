package middleware

import (
	"time"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"custodial-ledger/backend/internal/logging"
)

// RequestLogger logs one line per request with method, route, status and latency.
// Request bodies are never logged; they may carry verification codes.
func RequestLogger(log *zap.Logger) fiber.Handler {
	if log == nil {
		log = zap.NewNop()
	}
	return func(c *fiber.Ctx) error {
		start := time.Now()
		status, err := settle(c, c.Next())
		fields := []zap.Field{
			zap.String("method", c.Method()),
			zap.String("route", c.Route().Path),
			zap.Int("status", status),
			zap.Duration("latency", time.Since(start)),
			zap.String("ip", c.IP()),
		}
		if p, ok := Principal(c); ok {
			fields = append(fields, zap.String("principal", p.ID))
		}
		l := logging.WithTrace(c.UserContext(), log)
		switch {
		case status >= fiber.StatusInternalServerError:
			l.Error("http request", fields...)
		case status >= fiber.StatusBadRequest:
			l.Warn("http request", fields...)
		default:
			l.Info("http request", fields...)
		}
		return err
	}
}
