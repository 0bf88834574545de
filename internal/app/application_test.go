package app

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/omniplex-ai/omniplex/internal/app/storage/memory"
	"github.com/omniplex-ai/omniplex/internal/cache"
	"github.com/omniplex-ai/omniplex/internal/config"
	"github.com/omniplex-ai/omniplex/internal/logging"
)

const testSecret = "test-secret"

func newTestApp(t *testing.T, mutate func(cfg *config.Config)) *Application {
	t.Helper()
	cfg := config.Default()
	cfg.Auth.JWTSecret = testSecret
	if mutate != nil {
		mutate(cfg)
	}

	c, err := cache.NewMemory(64)
	require.NoError(t, err)
	a, err := New(context.Background(), cfg, Options{
		Store:   memory.New(),
		Cache:   c,
		Logger:  logging.NewDiscard(),
		Version: "test",
	})
	require.NoError(t, err)
	t.Cleanup(func() { a.Close() })
	return a
}

func do(a *Application, req *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	a.Handler().ServeHTTP(rec, req)
	return rec
}

func token(t *testing.T, sub string) string {
	t.Helper()
	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		Subject:   sub,
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
	})
	s, err := tok.SignedString([]byte(testSecret))
	require.NoError(t, err)
	return s
}

func TestHealthAndInfo(t *testing.T) {
	a := newTestApp(t, nil)

	rec := do(a, httptest.NewRequest(http.MethodGet, "/health", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	var health map[string]interface{}
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&health))
	assert.Equal(t, "omniplex", health["service"])
	assert.Equal(t, "degraded", health["status"], "no LLM key is configured")
	assert.NotEmpty(t, rec.Header().Get("X-Trace-ID"))

	rec = do(a, httptest.NewRequest(http.MethodGet, "/info", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "rate_limiter_keys")
}

func TestMetricsEndpoint(t *testing.T) {
	a := newTestApp(t, nil)
	do(a, httptest.NewRequest(http.MethodGet, "/health", nil))

	rec := do(a, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "omniplex_http_requests_total")
}

func TestSearchNotConfigured(t *testing.T) {
	a := newTestApp(t, nil)

	rec := do(a, httptest.NewRequest(http.MethodGet, "/api/search?q=go", nil))
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestThreadsRequireAuth(t *testing.T) {
	a := newTestApp(t, nil)

	rec := do(a, httptest.NewRequest(http.MethodGet, "/api/threads", nil))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	req := httptest.NewRequest(http.MethodGet, "/api/threads", nil)
	req.Header.Set("Authorization", "Bearer "+token(t, "user-1"))
	rec = do(a, req)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `[]`, rec.Body.String())
}

func TestCORSPreflight(t *testing.T) {
	a := newTestApp(t, nil)

	req := httptest.NewRequest(http.MethodOptions, "/api/threads", nil)
	req.Header.Set("Origin", "http://localhost:3000")
	rec := do(a, req)
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "http://localhost:3000", rec.Header().Get("Access-Control-Allow-Origin"))

	req = httptest.NewRequest(http.MethodOptions, "/api/threads", nil)
	req.Header.Set("Origin", "https://evil.example")
	rec = do(a, req)
	assert.Empty(t, rec.Header().Get("Access-Control-Allow-Origin"))
}

func TestDisabledServiceNotRouted(t *testing.T) {
	a := newTestApp(t, func(cfg *config.Config) {
		cfg.Services["search"].Enabled = false
	})

	rec := do(a, httptest.NewRequest(http.MethodGet, "/api/search?q=go", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestRateLimit(t *testing.T) {
	a := newTestApp(t, func(cfg *config.Config) {
		cfg.Server.RateLimit = 1
		cfg.Server.RateBurst = 1
	})

	assert.Equal(t, http.StatusOK, do(a, httptest.NewRequest(http.MethodGet, "/info", nil)).Code)
	assert.Equal(t, http.StatusTooManyRequests, do(a, httptest.NewRequest(http.MethodGet, "/info", nil)).Code)
}

func TestMaintainPrunesCache(t *testing.T) {
	a := newTestApp(t, nil)
	ctx := context.Background()

	require.NoError(t, a.cache.Set(ctx, "gone", []byte("x"), time.Nanosecond))
	require.NoError(t, a.cache.Set(ctx, "kept", []byte("y"), time.Hour))
	time.Sleep(time.Millisecond)

	a.Maintain(ctx)

	_, ok, err := a.cache.Get(ctx, "kept")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, 1, a.cache.(*cache.Memory).Len())
}

func TestNew_InvalidSchedule(t *testing.T) {
	cfg := config.Default()
	cfg.Server.MaintenanceSchedule = "not a schedule"
	_, err := New(context.Background(), cfg, Options{Store: memory.New(), Logger: logging.NewDiscard()})
	assert.Error(t, err)
}

func TestOpenBackends_Unknown(t *testing.T) {
	_, err := OpenStore(context.Background(), config.StoreConfig{Backend: "mongo"})
	assert.Error(t, err)
	_, err = OpenCache(context.Background(), config.CacheConfig{Backend: "memcached"})
	assert.Error(t, err)
}

func TestAuthKey(t *testing.T) {
	key, err := authKey(config.AuthConfig{})
	require.NoError(t, err)
	assert.Nil(t, key)

	key, err = authKey(config.AuthConfig{JWTSecret: "s"})
	require.NoError(t, err)
	assert.Equal(t, []byte("s"), key)

	_, err = authKey(config.AuthConfig{JWTPublicKey: "not pem"})
	assert.Error(t, err)
}

func TestRateLimit_PerUserOnSharedIP(t *testing.T) {
	a := newTestApp(t, func(cfg *config.Config) {
		cfg.Server.RateLimit = 1
		cfg.Server.RateBurst = 1
	})

	list := func(user string) int {
		req := httptest.NewRequest(http.MethodGet, "/api/threads", nil)
		req.RemoteAddr = "10.1.1.1:4000"
		if user != "" {
			req.Header.Set("Authorization", "Bearer "+token(t, user))
		}
		return do(a, req).Code
	}

	assert.Equal(t, http.StatusOK, list("alice"))
	assert.Equal(t, http.StatusOK, list("bob"))
	assert.Equal(t, http.StatusTooManyRequests, list("alice"))
	assert.Equal(t, http.StatusUnauthorized, list(""), "anonymous callers use the IP bucket")
	assert.Equal(t, http.StatusTooManyRequests, list(""))
}
