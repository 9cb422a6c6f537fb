package server

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"custodial-ledger/backend/internal/challenge"
	"custodial-ledger/backend/internal/devotp"
	"custodial-ledger/backend/internal/ledger"
	"custodial-ledger/backend/internal/lock"
	"custodial-ledger/backend/internal/mfa"
	"custodial-ledger/backend/internal/notify"
	"custodial-ledger/backend/internal/orchestrator"
	"custodial-ledger/backend/internal/security"
	"custodial-ledger/backend/internal/store"
	"custodial-ledger/backend/internal/transfer"
)

type testEnv struct {
	app   *fiber.App
	disp  *notify.Dispatcher
	admin string
	alice string
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	tokens, err := security.NewTestTokenProvider()
	require.NoError(t, err)

	m := store.NewMemory()
	locker := lock.NewLocal()
	challenges := challenge.NewStore(0, 0, nil)
	codes := devotp.NewMemoryStore()
	disp := notify.NewDispatcher(notify.NewDevNotifier(codes), time.Second, nil)
	transfers := transfer.NewService(transfer.Deps{Store: m, Locker: locker, Dispatcher: disp})

	app := New(Deps{
		Tokens:    tokens,
		Accounts:  ledger.NewService(m, locker, challenges, nil, nil),
		Transfers: transfers,
		Orchestrator: orchestrator.New(orchestrator.Deps{
			Store:      m,
			Locker:     locker,
			Challenges: challenges,
			EmailCodes: mfa.NewEmailCodes(5*time.Minute, time.Minute),
			Transfers:  transfers,
			Dispatcher: disp,
		}),
		DevCodes:     codes,
		Ready:        func(c *fiber.Ctx) error { return c.SendString("ok") },
		RateLimitMax: 3,
	})

	admin, _, err := tokens.IssueAccess("ops-1", security.RoleAdmin)
	require.NoError(t, err)
	alice, _, err := tokens.IssueAccess("alice", "")
	require.NoError(t, err)
	return &testEnv{app: app, disp: disp, admin: admin, alice: alice}
}

func (e *testEnv) do(t *testing.T, method, path, token string, body any) (int, map[string]any) {
	t.Helper()
	var r io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		require.NoError(t, err)
		r = bytes.NewReader(b)
	}
	req := httptest.NewRequest(method, path, r)
	req.Header.Set(fiber.HeaderContentType, fiber.MIMEApplicationJSON)
	if token != "" {
		req.Header.Set(fiber.HeaderAuthorization, "Bearer "+token)
	}
	resp, err := e.app.Test(req, -1)
	require.NoError(t, err)
	defer resp.Body.Close()
	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	out := map[string]any{}
	if len(raw) > 0 {
		_ = json.Unmarshal(raw, &out)
	}
	return resp.StatusCode, out
}

func (e *testEnv) provisionAlice(t *testing.T, balance string) string {
	t.Helper()
	status, body := e.do(t, http.MethodPost, "/v1/admin/accounts", e.admin, map[string]any{
		"principal_id": "alice",
		"destination":  "alice@example.com",
	})
	require.Equal(t, http.StatusCreated, status, body)
	id := body["account"].(map[string]any)["id"].(string)

	status, body = e.do(t, http.MethodPost, "/v1/admin/accounts/"+id+"/deposits", e.admin, map[string]any{
		"amount":    balance,
		"bank_name": "First Bank",
		"method":    "wire",
	})
	require.Equal(t, http.StatusCreated, status, body)
	return id
}

func externalIntent(amount string) map[string]any {
	return map[string]any{
		"recipient": map[string]any{"name": "Carol", "bank": "Elsewhere Bank", "account_number": "998877"},
		"amount":    amount,
		"purpose":   "invoice",
	}
}

func TestHealthzIsPublic(t *testing.T) {
	e := newTestEnv(t)
	status, _ := e.do(t, http.MethodGet, "/healthz", "", nil)
	assert.Equal(t, http.StatusOK, status)
}

func TestAuthRequired(t *testing.T) {
	e := newTestEnv(t)

	status, body := e.do(t, http.MethodGet, "/v1/account", "", nil)
	assert.Equal(t, http.StatusUnauthorized, status)
	assert.Equal(t, "unauthorized", body["code"])

	status, _ = e.do(t, http.MethodGet, "/v1/account", "not-a-jwt", nil)
	assert.Equal(t, http.StatusUnauthorized, status)
}

func TestAdminRoutesRejectCustomers(t *testing.T) {
	e := newTestEnv(t)
	status, body := e.do(t, http.MethodPost, "/v1/admin/accounts", e.alice, map[string]any{"principal_id": "bob"})
	assert.Equal(t, http.StatusForbidden, status)
	assert.Equal(t, "forbidden", body["code"])
}

func TestAccountWithoutProvisioningIsNotFound(t *testing.T) {
	e := newTestEnv(t)
	status, body := e.do(t, http.MethodGet, "/v1/account", e.alice, nil)
	assert.Equal(t, http.StatusNotFound, status)
	assert.Equal(t, "not-found", body["code"])
}

func TestTransferLifecycle(t *testing.T) {
	e := newTestEnv(t)
	e.provisionAlice(t, "100.00")

	status, body := e.do(t, http.MethodGet, "/v1/account", e.alice, nil)
	require.Equal(t, http.StatusOK, status, body)
	assert.Equal(t, "100.00", body["account"].(map[string]any)["balance"])

	status, body = e.do(t, http.MethodPost, "/v1/transfers", e.alice, externalIntent("40.00"))
	require.Equal(t, http.StatusCreated, status, body)
	tr := body["transfer"].(map[string]any)
	id := tr["id"].(string)
	assert.Equal(t, "pending", tr["status"])
	assert.NotEmpty(t, tr["code_expires_at"])

	e.disp.Wait()
	status, body = e.do(t, http.MethodGet, "/dev/codes/"+notify.TransferKey(id), "", nil)
	require.Equal(t, http.StatusOK, status, body)
	code := body["code"].(string)

	wrong := "000000"
	if code == wrong {
		wrong = "111111"
	}
	status, body = e.do(t, http.MethodPost, "/v1/transfers/"+id+"/verify", e.alice, map[string]any{"code": wrong})
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Equal(t, "invalid-code", body["code"])

	status, body = e.do(t, http.MethodPost, "/v1/transfers/"+id+"/verify", e.alice, map[string]any{"code": code})
	require.Equal(t, http.StatusOK, status, body)
	assert.Equal(t, "awaiting_approval", body["transfer"].(map[string]any)["status"])

	status, body = e.do(t, http.MethodPost, "/v1/admin/transfers/"+id+"/approve", e.admin, nil)
	require.Equal(t, http.StatusOK, status, body)
	assert.Equal(t, true, body["applied"])
	assert.Equal(t, "success", body["transfer"].(map[string]any)["status"])

	status, body = e.do(t, http.MethodPost, "/v1/admin/transfers/"+id+"/approve", e.admin, nil)
	require.Equal(t, http.StatusOK, status, body)
	assert.Equal(t, false, body["applied"])

	status, body = e.do(t, http.MethodGet, "/v1/account", e.alice, nil)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, "60.00", body["account"].(map[string]any)["balance"])
}

func TestTransferRejectsBadAmount(t *testing.T) {
	e := newTestEnv(t)
	e.provisionAlice(t, "10.00")

	status, body := e.do(t, http.MethodPost, "/v1/transfers", e.alice, externalIntent("ten"))
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Equal(t, "invalid-amount", body["code"])
	assert.Equal(t, "amount", body["field"])

	status, body = e.do(t, http.MethodPost, "/v1/transfers", e.alice, externalIntent("25.00"))
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Equal(t, "insufficient-funds", body["code"])
}

func TestChallengeRequiresDeviceHeader(t *testing.T) {
	e := newTestEnv(t)
	e.provisionAlice(t, "10.00")

	status, body := e.do(t, http.MethodPost, "/v1/transfers/challenge", e.alice, externalIntent("5.00"))
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Equal(t, "device-header-missing", body["code"])
}

func TestVerificationIsRateLimited(t *testing.T) {
	e := newTestEnv(t)
	e.provisionAlice(t, "10.00")

	var status int
	for i := 0; i < 4; i++ {
		status, _ = e.do(t, http.MethodPost, "/v1/transfers/missing/verify", e.alice, map[string]any{"code": "123456"})
	}
	assert.Equal(t, http.StatusTooManyRequests, status)
}

func TestDevCodesUnknownKey(t *testing.T) {
	e := newTestEnv(t)
	status, _ := e.do(t, http.MethodGet, "/dev/codes/transfer:nope", "", nil)
	assert.Equal(t, http.StatusNotFound, status)
}
