package middleware

import (
	"crypto/rand"
	"crypto/rsa"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/omniplex-ai/omniplex/internal/logging"
)

var testSecret = []byte("test-secret-with-enough-entropy")

func generateTestKeys(t *testing.T) (*rsa.PrivateKey, *rsa.PublicKey) {
	privateKey, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("Failed to generate RSA key: %v", err)
	}
	return privateKey, &privateKey.PublicKey
}

func testClaims(userID string, expired bool) *Claims {
	claims := &Claims{
		UserID: userID,
		Email:  "test@example.com",
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(1 * time.Hour)),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
		},
	}
	if expired {
		claims.ExpiresAt = jwt.NewNumericDate(time.Now().Add(-1 * time.Hour))
	}
	return claims
}

func generateRSAToken(t *testing.T, privateKey *rsa.PrivateKey, claims *Claims) string {
	tokenString, err := jwt.NewWithClaims(jwt.SigningMethodRS256, claims).SignedString(privateKey)
	if err != nil {
		t.Fatalf("Failed to sign token: %v", err)
	}
	return tokenString
}

func generateHMACToken(t *testing.T, secret []byte, claims *Claims) string {
	tokenString, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(secret)
	if err != nil {
		t.Fatalf("Failed to sign token: %v", err)
	}
	return tokenString
}

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
}

func TestNewAuthMiddleware(t *testing.T) {
	logger := logging.NewDiscard()
	middleware := NewAuthMiddleware(testSecret, logger, []string{"/health", "/metrics"})

	if middleware == nil {
		t.Fatal("NewAuthMiddleware() returned nil")
	}
	if len(middleware.skipPaths) != 2 {
		t.Errorf("skipPaths length = %d, want 2", len(middleware.skipPaths))
	}
	if !middleware.skipPaths["/health"] {
		t.Error("skipPaths does not contain /health")
	}
}

func TestAuthMiddleware_Handler_SkipPaths(t *testing.T) {
	handler := NewAuthMiddleware(testSecret, logging.NewDiscard(), []string{"/health"}).Handler(okHandler())

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest("GET", "/health", nil))

	if rec.Code != http.StatusOK {
		t.Errorf("Status code = %d, want %d", rec.Code, http.StatusOK)
	}
}

func TestAuthMiddleware_Handler_MissingAuthHeader(t *testing.T) {
	handler := NewAuthMiddleware(testSecret, logging.NewDiscard(), nil).Handler(okHandler())

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest("GET", "/api/threads", nil))

	if rec.Code != http.StatusUnauthorized {
		t.Errorf("Status code = %d, want %d", rec.Code, http.StatusUnauthorized)
	}
}

func TestAuthMiddleware_Handler_InvalidAuthHeaderFormat(t *testing.T) {
	handler := NewAuthMiddleware(testSecret, logging.NewDiscard(), nil).Handler(okHandler())

	tests := []struct {
		name   string
		header string
	}{
		{"no bearer prefix", "token123"},
		{"wrong prefix", "Basic token123"},
		{"empty token", "Bearer "},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest("GET", "/api/threads", nil)
			req.Header.Set("Authorization", tt.header)
			rec := httptest.NewRecorder()

			handler.ServeHTTP(rec, req)

			if rec.Code != http.StatusUnauthorized {
				t.Errorf("Status code = %d, want %d", rec.Code, http.StatusUnauthorized)
			}
		})
	}
}

func TestAuthMiddleware_Handler_ValidRSAToken(t *testing.T) {
	privateKey, publicKey := generateTestKeys(t)
	middleware := NewAuthMiddleware(publicKey, logging.NewDiscard(), nil)

	var capturedUserID string
	var capturedClaims *Claims
	handler := middleware.Handler(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		capturedUserID = GetUserID(r.Context())
		capturedClaims = GetClaims(r.Context())
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest("GET", "/api/threads", nil)
	req.Header.Set("Authorization", "Bearer "+generateRSAToken(t, privateKey, testClaims("user-123", false)))
	rec := httptest.NewRecorder()

	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Errorf("Status code = %d, want %d", rec.Code, http.StatusOK)
	}
	if capturedUserID != "user-123" {
		t.Errorf("User ID = %v, want user-123", capturedUserID)
	}
	if capturedClaims == nil || capturedClaims.Email != "test@example.com" {
		t.Errorf("claims not stored in context: %+v", capturedClaims)
	}
}

func TestAuthMiddleware_Handler_HMACSubjectFallback(t *testing.T) {
	middleware := NewAuthMiddleware(testSecret, logging.NewDiscard(), nil)

	var capturedUserID string
	handler := middleware.Handler(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		capturedUserID = GetUserID(r.Context())
	}))

	claims := testClaims("", false)
	claims.RegisteredClaims.Subject = "supabase-user"
	claims.UserMetadata = UserMetadata{FullName: "Ada Lovelace", AvatarURL: "https://example.com/a.png"}

	req := httptest.NewRequest("GET", "/api/threads", nil)
	req.Header.Set("Authorization", "Bearer "+generateHMACToken(t, testSecret, claims))
	handler.ServeHTTP(httptest.NewRecorder(), req)

	if capturedUserID != "supabase-user" {
		t.Errorf("User ID = %q, want supabase-user", capturedUserID)
	}
	if claims.DisplayName() != "Ada Lovelace" || claims.AvatarURL() != "https://example.com/a.png" {
		t.Errorf("metadata fallback failed: %q %q", claims.DisplayName(), claims.AvatarURL())
	}
}

func TestAuthMiddleware_Handler_ExpiredToken(t *testing.T) {
	handler := NewAuthMiddleware(testSecret, logging.NewDiscard(), nil).Handler(okHandler())

	req := httptest.NewRequest("GET", "/api/threads", nil)
	req.Header.Set("Authorization", "Bearer "+generateHMACToken(t, testSecret, testClaims("user-123", true)))
	rec := httptest.NewRecorder()

	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Errorf("Status code = %d, want %d", rec.Code, http.StatusUnauthorized)
	}
}

func TestAuthMiddleware_Handler_AlgorithmMismatch(t *testing.T) {
	privateKey, _ := generateTestKeys(t)
	handler := NewAuthMiddleware(testSecret, logging.NewDiscard(), nil).Handler(okHandler())

	req := httptest.NewRequest("GET", "/api/threads", nil)
	req.Header.Set("Authorization", "Bearer "+generateRSAToken(t, privateKey, testClaims("user-123", false)))
	rec := httptest.NewRecorder()

	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Errorf("Status code = %d, want %d", rec.Code, http.StatusUnauthorized)
	}
}

func TestAuthMiddleware_Handler_WrongSecret(t *testing.T) {
	handler := NewAuthMiddleware(testSecret, logging.NewDiscard(), nil).Handler(okHandler())

	req := httptest.NewRequest("GET", "/api/threads", nil)
	req.Header.Set("Authorization", "Bearer "+generateHMACToken(t, []byte("other-secret"), testClaims("user-123", false)))
	rec := httptest.NewRecorder()

	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Errorf("Status code = %d, want %d", rec.Code, http.StatusUnauthorized)
	}
}

func TestAuthMiddleware_Optional(t *testing.T) {
	middleware := NewAuthMiddleware(testSecret, logging.NewDiscard(), nil)

	var capturedUserID string
	handler := middleware.Optional(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		capturedUserID = GetUserID(r.Context())
		w.WriteHeader(http.StatusOK)
	}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest("GET", "/api/threads/abc", nil))
	if rec.Code != http.StatusOK || capturedUserID != "" {
		t.Errorf("anonymous request: status %d user %q", rec.Code, capturedUserID)
	}

	req := httptest.NewRequest("GET", "/api/threads/abc", nil)
	req.Header.Set("Authorization", "Bearer "+generateHMACToken(t, testSecret, testClaims("user-9", false)))
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if capturedUserID != "user-9" {
		t.Errorf("User ID = %q, want user-9", capturedUserID)
	}

	req = httptest.NewRequest("GET", "/api/threads/abc", nil)
	req.Header.Set("Authorization", "Bearer garbage")
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("invalid token status = %d, want 401", rec.Code)
	}
}

func TestAuthMiddleware_Handler_PreservesTraceID(t *testing.T) {
	middleware := NewAuthMiddleware(testSecret, logging.NewDiscard(), nil)

	var traceID string
	handler := middleware.Handler(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		traceID = logging.GetTraceID(r.Context())
	}))

	req := httptest.NewRequest("GET", "/api/threads", nil)
	req = req.WithContext(logging.WithTraceID(req.Context(), "trace-abc"))
	req.Header.Set("Authorization", "Bearer "+generateHMACToken(t, testSecret, testClaims("user-1", false)))
	handler.ServeHTTP(httptest.NewRecorder(), req)

	if traceID != "trace-abc" {
		t.Errorf("trace ID = %q, want trace-abc", traceID)
	}
}

func TestRequireUserID(t *testing.T) {
	handler := RequireUserID(okHandler())

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest("GET", "/", nil))
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("Status code = %d, want %d", rec.Code, http.StatusUnauthorized)
	}

	req := httptest.NewRequest("GET", "/", nil)
	req = req.WithContext(logging.WithUserID(req.Context(), "user-1"))
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Errorf("Status code = %d, want %d", rec.Code, http.StatusOK)
	}
}

func TestAuthMiddleware_Identify(t *testing.T) {
	m := NewAuthMiddleware(testSecret, logging.NewDiscard(), nil)

	var seen string
	handler := m.Identify(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = GetUserID(r.Context())
		w.WriteHeader(http.StatusOK)
	}))

	cases := []struct {
		name   string
		header string
		want   string
	}{
		{"valid token", "Bearer " + generateHMACToken(t, testSecret, testClaims("user-1", false)), "user-1"},
		{"expired token", "Bearer " + generateHMACToken(t, testSecret, testClaims("user-2", true)), ""},
		{"malformed header", "Token abc", ""},
		{"no header", "", ""},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			seen = "unset"
			req := httptest.NewRequest(http.MethodGet, "/api/search", nil)
			if tc.header != "" {
				req.Header.Set("Authorization", tc.header)
			}
			rec := httptest.NewRecorder()
			handler.ServeHTTP(rec, req)
			if rec.Code != http.StatusOK {
				t.Fatalf("status = %d, want 200", rec.Code)
			}
			if seen != tc.want {
				t.Errorf("user = %q, want %q", seen, tc.want)
			}
		})
	}
}

func TestAuthMiddleware_HandlerReusesIdentifiedClaims(t *testing.T) {
	m := NewAuthMiddleware(testSecret, logging.NewDiscard(), nil)
	token := generateHMACToken(t, testSecret, testClaims("user-1", false))

	var seen string
	handler := m.Identify(m.Handler(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = GetUserID(r.Context())
	})))

	req := httptest.NewRequest(http.MethodGet, "/api/threads", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK || seen != "user-1" {
		t.Fatalf("status = %d user = %q", rec.Code, seen)
	}
}
