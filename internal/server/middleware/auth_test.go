package middleware

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"custodial-ledger/backend/internal/security"
)

func TestExtractBearer(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"Bearer abc", "abc"},
		{"bearer  abc ", "abc"},
		{"BEARER abc", "abc"},
		{"Basic abc", ""},
		{"Bearer", ""},
		{"", ""},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, extractBearer(tt.in), "extractBearer(%q)", tt.in)
	}
}

func TestAuth(t *testing.T) {
	tokens, err := security.NewTestTokenProvider()
	require.NoError(t, err)
	token, _, err := tokens.IssueAccess("alice", security.RoleAdmin)
	require.NoError(t, err)

	app := fiber.New()
	app.Use(Auth(tokens))
	app.Get("/", func(c *fiber.Ctx) error {
		p, ok := Principal(c)
		if !ok {
			return fiber.ErrInternalServerError
		}
		return c.SendString(p.ID + "/" + p.Role)
	})

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	resp, err := app.Test(req, -1)
	require.NoError(t, err)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	req = httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set(fiber.HeaderAuthorization, "Bearer "+token+"x")
	resp, err = app.Test(req, -1)
	require.NoError(t, err)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	req = httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set(fiber.HeaderAuthorization, "Bearer "+token)
	resp, err = app.Test(req, -1)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

type auditEntry struct {
	actor, action, resource, metadata string
}

type auditSink struct {
	mu      sync.Mutex
	entries []auditEntry
}

func (s *auditSink) LogEvent(ctx context.Context, actorID, action, resource, metadata string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = append(s.entries, auditEntry{actorID, action, resource, metadata})
}

func TestAuditRecordsFinalStatus(t *testing.T) {
	sink := &auditSink{}
	app := fiber.New()
	app.Use(func(c *fiber.Ctx) error {
		c.SetUserContext(WithPrincipal(c.UserContext(), security.Principal{ID: "ops-1", Role: security.RoleAdmin}))
		return c.Next()
	})
	app.Use(Audit(sink))
	app.Post("/v1/admin/accounts/:id/lock", func(c *fiber.Ctx) error {
		return fiber.NewError(fiber.StatusNotFound, "missing")
	})

	req := httptest.NewRequest(http.MethodPost, "/v1/admin/accounts/acc-1/lock", nil)
	resp, err := app.Test(req, -1)
	require.NoError(t, err)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	require.Len(t, sink.entries, 1)
	e := sink.entries[0]
	assert.Equal(t, "ops-1", e.actor)
	assert.Equal(t, "status=404", e.metadata)
	assert.Contains(t, e.resource, ":acc-1")
}

func TestClientIPFromContext(t *testing.T) {
	assert.Equal(t, "", ClientIP(context.Background()))
	assert.Equal(t, "10.0.0.1", ClientIP(WithClientIP(context.Background(), "10.0.0.1")))
}
