package app

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/infrapanel/infrapanel/internal/observability"
	"github.com/infrapanel/infrapanel/internal/rbac"
	_ "github.com/infrapanel/infrapanel/testing"
)

type adminSet map[uuid.UUID]bool

func (a adminSet) IsAdmin(ctx context.Context, userID uuid.UUID) (bool, error) {
	return a[userID], nil
}

func TestLoadConfig(t *testing.T) {
	t.Setenv("AUTH_TOKEN_SECRET", "0123456789abcdef0123456789abcdef")
	t.Setenv("GRANT_CACHE_TTL", "90s")
	cfg, err := LoadConfig()
	require.NoError(t, err)
	assert.Equal(t, ":8080", cfg.AppAddr)
	assert.Equal(t, 90*time.Second, cfg.GrantCacheTTL)
	assert.Equal(t, "@hourly", cfg.StaleCleanupCron)
	assert.False(t, cfg.IsProduction())

	t.Setenv("AUTH_TOKEN_SECRET", "short")
	_, err = LoadConfig()
	assert.Error(t, err)
}

func TestInTestMode(t *testing.T) {
	t.Setenv("INFRAPANEL_TEST_MODE", "1")
	RefreshTestMode()
	assert.True(t, InTestMode())
	t.Setenv("INFRAPANEL_TEST_MODE", "0")
	RefreshTestMode()
	assert.False(t, InTestMode())
}

func newRouterForTest(t *testing.T, admins adminSet, health map[string]Pinger) (http.Handler, *rbac.Tokens) {
	t.Helper()
	tokens, err := rbac.NewTokens("0123456789abcdef0123456789abcdef", "")
	require.NoError(t, err)
	router := NewRouter(RouterParams{
		Logger:         slog.Default(),
		Config:         &Config{AppRequestTimeout: time.Second, RateLimitPerMinute: 1000},
		RBACMiddleware: rbac.Middleware{Tokens: tokens, Admins: admins, Logger: slog.Default()},
		RBACHandler:    rbac.NewHandler(slog.Default(), nil),
		Metrics:        observability.NewMetrics(),
		Health:         health,
	})
	return router, tokens
}

func TestRouterGatesAdminRoutes(t *testing.T) {
	admin, plain := uuid.New(), uuid.New()
	router, tokens := newRouterForTest(t, adminSet{admin: true}, nil)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/roles", nil))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	raw, err := tokens.Issue(plain, time.Minute)
	require.NoError(t, err)
	req := httptest.NewRequest(http.MethodGet, "/api/roles", nil)
	req.Header.Set("Authorization", "Bearer "+raw)
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Equal(t, "nosniff", rec.Header().Get("X-Content-Type-Options"))
}

func TestHealthz(t *testing.T) {
	router, _ := newRouterForTest(t, nil, map[string]Pinger{
		"postgres": PingFunc(func(ctx context.Context) error { return nil }),
		"redis":    PingFunc(func(ctx context.Context) error { return errors.New("refused") }),
	})

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

	var body struct {
		Status string            `json:"status"`
		Checks map[string]string `json:"checks"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "degraded", body.Status)
	assert.Equal(t, "ok", body.Checks["postgres"])
	assert.Equal(t, "down", body.Checks["redis"])
}

func TestMetricsEndpoint(t *testing.T) {
	router, _ := newRouterForTest(t, nil, nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "infrapanel_authz_decisions_total")
}

func TestMetricsRouterExposesJobCounters(t *testing.T) {
	metrics := observability.NewMetrics()
	metrics.ObserveJob("permissions:cleanup_stale", nil)
	router := NewMetricsRouter(metrics, map[string]Pinger{
		"redis": PingFunc(func(context.Context) error { return nil }),
	})

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `infrapanel_jobs_total{status="ok",type="permissions:cleanup_stale"} 1`)

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
}
