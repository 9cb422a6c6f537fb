// Package server assembles the Fiber application: middleware, the error mapping and every route.
package server

import (
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"custodial-ledger/backend/internal/audit"
	audithandler "custodial-ledger/backend/internal/audit/handler"
	auditrepo "custodial-ledger/backend/internal/audit/repository"
	"custodial-ledger/backend/internal/devotp"
	devotphandler "custodial-ledger/backend/internal/devotp/handler"
	ledgerhandler "custodial-ledger/backend/internal/ledger/handler"
	orchestratorhandler "custodial-ledger/backend/internal/orchestrator/handler"
	"custodial-ledger/backend/internal/platform/rbac"
	policyhandler "custodial-ledger/backend/internal/policy/handler"
	"custodial-ledger/backend/internal/server/middleware"
	"custodial-ledger/backend/internal/server/ratelimit"
	transferhandler "custodial-ledger/backend/internal/transfer/handler"
)

// Deps holds the services behind the HTTP routes. Optional fields may be nil.
type Deps struct {
	Tokens       middleware.TokenValidator
	Accounts     ledgerhandler.Service
	Transfers    transferhandler.Service
	Orchestrator orchestratorhandler.Advancer
	Policies     policyhandler.Service
	// AuditRepo backs GET /v1/admin/audit-logs; nil leaves the route unregistered.
	AuditRepo auditrepo.Repository
	// Audit records one entry per admin request; nil disables it.
	Audit audit.AuditLogger
	// DevCodes enables GET /dev/codes/:key; set only when OTP_RETURN_TO_CLIENT is on.
	DevCodes devotp.Store
	// Ready backs GET /healthz; nil leaves the route unregistered.
	Ready fiber.Handler

	// LimiterStorage shares verification rate-limit counters; nil keeps them in process.
	LimiterStorage  fiber.Storage
	RateLimitMax    int
	RateLimitWindow time.Duration

	TracerProvider trace.TracerProvider
	Log            *zap.Logger
}

// New builds the Fiber app with all routes registered.
func New(d Deps) *fiber.App {
	if d.Log == nil {
		d.Log = zap.NewNop()
	}
	if d.RateLimitMax <= 0 {
		d.RateLimitMax = 10
	}
	if d.RateLimitWindow <= 0 {
		d.RateLimitWindow = time.Minute
	}
	app := fiber.New(fiber.Config{
		AppName:               "custodial-ledger",
		ErrorHandler:          ErrorHandler(d.Log),
		DisableStartupMessage: true,
		ReadTimeout:           15 * time.Second,
		WriteTimeout:          15 * time.Second,
		BodyLimit:             64 * 1024,
	})
	app.Use(recover.New())
	app.Use(middleware.Tracing(d.TracerProvider))
	app.Use(middleware.RequestContext())
	app.Use(middleware.RequestLogger(d.Log))

	if d.Ready != nil {
		app.Get("/healthz", d.Ready)
	}
	if d.DevCodes != nil {
		app.Get("/dev/codes/:key", devotphandler.New(d.DevCodes).GetCode)
	}

	v1 := app.Group("/v1", middleware.Auth(d.Tokens))
	verifyLimit := ratelimit.Verification(d.RateLimitMax, d.RateLimitWindow, d.LimiterStorage)

	if d.Accounts != nil {
		accounts := ledgerhandler.New(d.Accounts)
		v1.Get("/account", accounts.Account)
		v1.Get("/transactions/history", accounts.History)
	}
	if d.Transfers != nil {
		transfers := transferhandler.New(d.Transfers)
		v1.Post("/transfers", transfers.Create)
		if d.Orchestrator != nil {
			v1.Post("/transfers/challenge", verifyLimit, orchestratorhandler.New(d.Orchestrator).Challenge)
		}
		v1.Get("/transfers/:id", transfers.Get)
		v1.Post("/transfers/:id/verify", verifyLimit, transfers.Verify)
		v1.Post("/transfers/:id/resend", transfers.Resend)
	}

	admin := v1.Group("/admin", rbac.RequireAdmin(), middleware.Audit(d.Audit))
	if d.Transfers != nil {
		transfers := transferhandler.New(d.Transfers)
		admin.Post("/transfers/:id/approve", transfers.Approve)
		admin.Post("/transfers/:id/decline", transfers.Decline)
	}
	if d.Accounts != nil {
		accounts := ledgerhandler.New(d.Accounts)
		admin.Post("/accounts", accounts.Provision)
		admin.Get("/accounts/:id", accounts.GetAccount)
		admin.Post("/accounts/:id/deposits", accounts.Deposit)
		admin.Post("/accounts/:id/lock", accounts.Lock)
		admin.Put("/accounts/:id/policy", accounts.Policy)
		admin.Post("/accounts/:id/challenges/reset", accounts.ResetChallenges)
	}
	if d.Policies != nil {
		policies := policyhandler.New(d.Policies)
		admin.Get("/settlement-policies", policies.List)
		admin.Post("/settlement-policies", policies.Create)
		admin.Put("/settlement-policies/:id", policies.Update)
	}
	if d.AuditRepo != nil {
		admin.Get("/audit-logs", audithandler.New(d.AuditRepo).List)
	}
	return app
}
