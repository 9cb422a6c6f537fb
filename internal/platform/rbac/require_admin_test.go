package rbac

import (
	"context"
	"errors"
	"net/http/httptest"
	"testing"

	"github.com/gofiber/fiber/v2"

	"custodial-ledger/backend/internal/security"
	"custodial-ledger/backend/internal/server/middleware"
)

func TestRequireAdminContext(t *testing.T) {
	tests := []struct {
		name   string
		ctx    context.Context
		wantID string
		want   int
	}{
		{"admin", middleware.WithPrincipal(context.Background(), security.Principal{ID: "ops", Role: security.RoleAdmin}), "ops", 0},
		{"customer", middleware.WithPrincipal(context.Background(), security.Principal{ID: "alice", Role: security.RoleCustomer}), "", fiber.StatusForbidden},
		{"anonymous", context.Background(), "", fiber.StatusUnauthorized},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			id, err := RequireAdminContext(tt.ctx)
			if tt.want == 0 {
				if err != nil || id != tt.wantID {
					t.Fatalf("RequireAdminContext = %q, %v", id, err)
				}
				return
			}
			var fe *fiber.Error
			if !errors.As(err, &fe) || fe.Code != tt.want {
				t.Fatalf("err = %v, want status %d", err, tt.want)
			}
		})
	}
}

func TestRequireAdmin_Middleware(t *testing.T) {
	app := fiber.New()
	role := security.RoleCustomer
	app.Use(func(c *fiber.Ctx) error {
		c.SetUserContext(middleware.WithPrincipal(c.UserContext(), security.Principal{ID: "u1", Role: role}))
		return c.Next()
	})
	app.Get("/admin", RequireAdmin(), func(c *fiber.Ctx) error { return c.SendString("ok") })

	resp, err := app.Test(httptest.NewRequest("GET", "/admin", nil))
	if err != nil {
		t.Fatalf("app.Test: %v", err)
	}
	if resp.StatusCode != fiber.StatusForbidden {
		t.Errorf("customer status = %d, want 403", resp.StatusCode)
	}

	role = security.RoleAdmin
	resp, err = app.Test(httptest.NewRequest("GET", "/admin", nil))
	if err != nil {
		t.Fatalf("app.Test: %v", err)
	}
	if resp.StatusCode != fiber.StatusOK {
		t.Errorf("admin status = %d, want 200", resp.StatusCode)
	}
}
