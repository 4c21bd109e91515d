package app_test

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/stockroom/stockroom/internal/app"
	"github.com/stockroom/stockroom/internal/auth"
	"github.com/stockroom/stockroom/internal/inventory"
	"github.com/stockroom/stockroom/internal/observability"
	"github.com/stockroom/stockroom/internal/rbac"
	"github.com/stockroom/stockroom/internal/users"
	"github.com/stockroom/stockroom/jobs"
	stocktest "github.com/stockroom/stockroom/testing"
)

func TestMain(m *testing.M) {
	stocktest.Main(m)
}

func TestRouterStartsInTestMode(t *testing.T) {
	require.True(t, app.InTestMode())
}

type envelope struct {
	Content    json.RawMessage `json:"content"`
	Message    string          `json:"message"`
	StatusCode int             `json:"status_code"`
}

func newRouter(t *testing.T) http.Handler {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	cfg := &app.Config{AppEnv: "test", AppRequestTimeout: 5 * time.Second, RateLimitPerMin: 1000}

	userRepo := users.NewMemoryRepository()
	userService := users.NewService(userRepo).WithHashCost(bcrypt.MinCost)
	_, err := userService.Bootstrap(context.Background(), "Owner", "hunter22")
	require.NoError(t, err)

	authService := auth.NewService(userRepo, auth.NewTokenIssuer("router-test-secret", time.Hour), auth.NewMemoryRevoker())
	metrics := observability.NewMetrics()
	rbacMW := rbac.Middleware{Logger: logger}
	invService := inventory.NewService(inventory.NewMemoryRepository(), nil, nil, metrics)

	return app.NewRouter(app.RouterParams{
		Logger:           logger,
		Config:           cfg,
		AuthService:      authService,
		AuthHandler:      auth.NewHandler(logger, authService),
		UsersHandler:     users.NewHandler(logger, userService, rbacMW),
		InventoryHandler: inventory.NewHandler(logger, invService, rbacMW),
		JobHandler:       jobs.NewHandler(nil, nil, logger),
		RBACMiddleware:   rbacMW,
		Metrics:          metrics,
	})
}

func send(t *testing.T, h http.Handler, method, path, token string, body any) (*httptest.ResponseRecorder, envelope) {
	t.Helper()
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, path, reader)
	req.RemoteAddr = "192.0.2.10:4000"
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	var env envelope
	if strings.HasPrefix(rr.Header().Get("Content-Type"), "application/json") {
		require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &env))
	}
	return rr, env
}

func login(t *testing.T, h http.Handler, username, password string) string {
	t.Helper()
	rr, env := send(t, h, http.MethodPost, "/auth/login", "", map[string]string{"username": username, "password": password})
	require.Equal(t, http.StatusOK, rr.Code, env.Message)
	var token auth.Token
	require.NoError(t, json.Unmarshal(env.Content, &token))
	require.NotEmpty(t, token.AccessToken)
	return token.AccessToken
}

func TestRouterServesAuthenticatedAPI(t *testing.T) {
	h := newRouter(t)

	rr, _ := send(t, h, http.MethodGet, "/healthz", "", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	require.Equal(t, "nosniff", rr.Header().Get("X-Content-Type-Options"))

	rr, _ = send(t, h, http.MethodGet, "/stocks", "", nil)
	require.Equal(t, http.StatusUnauthorized, rr.Code)

	owner := login(t, h, "owner", "hunter22")

	rr, env := send(t, h, http.MethodGet, "/users/me", owner, nil)
	require.Equal(t, http.StatusOK, rr.Code)
	var me users.User
	require.NoError(t, json.Unmarshal(env.Content, &me))
	require.Equal(t, rbac.RoleOwner, me.Type)

	rr, env = send(t, h, http.MethodPost, "/users", owner, map[string]string{"username": "Clerk", "password": "s3cretpass", "type": "user"})
	require.Equal(t, http.StatusCreated, rr.Code, env.Message)
	clerk := login(t, h, "clerk", "s3cretpass")

	rr, _ = send(t, h, http.MethodPost, "/configurations", clerk, map[string]any{"brand": "Asus", "model": "ZenBook", "model_number": "UX3405"})
	require.Equal(t, http.StatusForbidden, rr.Code)

	rr, env = send(t, h, http.MethodPost, "/configurations", owner, map[string]any{"brand": "Asus", "model": "ZenBook", "model_number": "UX3405", "price": 1100})
	require.Equal(t, http.StatusCreated, rr.Code, env.Message)
	var cfg inventory.Configuration
	require.NoError(t, json.Unmarshal(env.Content, &cfg))
	require.Equal(t, "owner", cfg.CreatedBy)

	rr, _ = send(t, h, http.MethodGet, "/configurations", clerk, nil)
	require.Equal(t, http.StatusOK, rr.Code)

	rr, _ = send(t, h, http.MethodGet, "/jobs/health", clerk, nil)
	require.Equal(t, http.StatusForbidden, rr.Code)
	rr, _ = send(t, h, http.MethodGet, "/jobs/health", owner, nil)
	require.Equal(t, http.StatusOK, rr.Code)

	rr, _ = send(t, h, http.MethodPost, "/auth/logout", clerk, nil)
	require.Equal(t, http.StatusOK, rr.Code)
	rr, _ = send(t, h, http.MethodGet, "/configurations", clerk, nil)
	require.Equal(t, http.StatusUnauthorized, rr.Code)

	rr, _ = send(t, h, http.MethodGet, "/nowhere", owner, nil)
	require.Equal(t, http.StatusNotFound, rr.Code)

	rr, _ = send(t, h, http.MethodGet, "/metrics", "", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	require.Contains(t, rr.Body.String(), `stockroom_http_requests_total{code="201"`)
}
