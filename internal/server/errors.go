package server

import (
	"errors"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"custodial-ledger/backend/internal/errs"
	"custodial-ledger/backend/internal/logging"
)

// ErrorResponse is the body of every non-2xx response.
type ErrorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Field   string `json:"field,omitempty"`
}

type mapping struct {
	target error
	status int
	code   string
}

var mappings = []mapping{
	{errs.ErrInsufficientFunds, fiber.StatusBadRequest, "insufficient-funds"},
	{errs.ErrInvalidCode, fiber.StatusBadRequest, "invalid-code"},
	{errs.ErrCodeExpired, fiber.StatusBadRequest, "code-expired"},
	{errs.ErrResendTooSoon, fiber.StatusTooManyRequests, "resend-too-soon"},
	{errs.ErrAlreadyVerified, fiber.StatusBadRequest, "already-verified"},
	{errs.ErrNotFound, fiber.StatusNotFound, "not-found"},
	{errs.ErrNotOwner, fiber.StatusForbidden, "not-owner"},
	{errs.ErrAccountLocked, fiber.StatusForbidden, "account-locked"},
	{errs.ErrTransferLocked, fiber.StatusForbidden, "transfer-locked"},
	{errs.ErrDeviceRequired, fiber.StatusBadRequest, "device-header-missing"},
	{errs.ErrTransferClosed, fiber.StatusConflict, "transfer-closed"},
}

// Classify maps err to a response body with a stable machine code and an HTTP status.
// Unknown errors are 500 internal-error.
func Classify(err error) (ErrorResponse, int) {
	var ve *errs.ValidationError
	if errors.As(err, &ve) {
		code := "validation-error"
		if ve.Field == "amount" {
			code = "invalid-amount"
		}
		return ErrorResponse{Code: code, Message: ve.Error(), Field: ve.Field}, fiber.StatusBadRequest
	}
	for _, m := range mappings {
		if errors.Is(err, m.target) {
			return ErrorResponse{Code: m.code, Message: m.target.Error()}, m.status
		}
	}
	var fe *fiber.Error
	if errors.As(err, &fe) {
		return ErrorResponse{Code: fiberCode(fe.Code), Message: fe.Message}, fe.Code
	}
	return ErrorResponse{Code: "internal-error", Message: "internal server error"}, fiber.StatusInternalServerError
}

func fiberCode(status int) string {
	switch status {
	case fiber.StatusBadRequest:
		return "bad-request"
	case fiber.StatusUnauthorized:
		return "unauthorized"
	case fiber.StatusForbidden:
		return "forbidden"
	case fiber.StatusNotFound:
		return "not-found"
	case fiber.StatusMethodNotAllowed:
		return "method-not-allowed"
	case fiber.StatusRequestEntityTooLarge:
		return "payload-too-large"
	case fiber.StatusTooManyRequests:
		return "rate-limited"
	case fiber.StatusServiceUnavailable:
		return "unavailable"
	}
	if status >= fiber.StatusInternalServerError {
		return "internal-error"
	}
	return "error"
}

// ErrorHandler renders errors as ErrorResponse. Details of unknown errors only go to the log.
func ErrorHandler(log *zap.Logger) fiber.ErrorHandler {
	if log == nil {
		log = zap.NewNop()
	}
	return func(c *fiber.Ctx, err error) error {
		resp, status := Classify(err)
		if status >= fiber.StatusInternalServerError {
			logging.WithTrace(c.UserContext(), log).Error("http: request failed",
				zap.String("method", c.Method()),
				zap.String("path", c.Path()),
				zap.Error(err),
			)
		}
		return c.Status(status).JSON(resp)
	}
}
