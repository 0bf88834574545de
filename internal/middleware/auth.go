// Package middleware provides HTTP middleware for the Omniplex server
package middleware

import (
	"context"
	"crypto/rsa"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"

	"github.com/omniplex-ai/omniplex/internal/errors"
	internalhttputil "github.com/omniplex-ai/omniplex/internal/httputil"
	"github.com/omniplex-ai/omniplex/internal/logging"
)

type contextKey string

const claimsKey contextKey = "claims"

// Claims represents the JWT claims issued by the auth provider. Tokens from
// Supabase carry the user in "sub" and the profile under user_metadata.
type Claims struct {
	UserID       string       `json:"user_id,omitempty"`
	Email        string       `json:"email,omitempty"`
	Name         string       `json:"name,omitempty"`
	Picture      string       `json:"picture,omitempty"`
	Role         string       `json:"role,omitempty"`
	UserMetadata UserMetadata `json:"user_metadata,omitempty"`
	jwt.RegisteredClaims
}

// UserMetadata is the nested profile object some providers emit.
type UserMetadata struct {
	FullName  string `json:"full_name,omitempty"`
	Name      string `json:"name,omitempty"`
	AvatarURL string `json:"avatar_url,omitempty"`
	Picture   string `json:"picture,omitempty"`
}

// Subject returns the user ID, preferring user_id over sub.
func (c *Claims) Subject() string {
	if c.UserID != "" {
		return c.UserID
	}
	return c.RegisteredClaims.Subject
}

// DisplayName returns the best available display name.
func (c *Claims) DisplayName() string {
	for _, v := range []string{c.Name, c.UserMetadata.FullName, c.UserMetadata.Name} {
		if v != "" {
			return v
		}
	}
	return ""
}

// AvatarURL returns the best available profile picture URL.
func (c *Claims) AvatarURL() string {
	for _, v := range []string{c.Picture, c.UserMetadata.AvatarURL, c.UserMetadata.Picture} {
		if v != "" {
			return v
		}
	}
	return ""
}

// AuthMiddleware provides JWT authentication
type AuthMiddleware struct {
	key       interface{}
	logger    *logging.Logger
	skipPaths map[string]bool
}

// NewAuthMiddleware creates a new authentication middleware. key is either an
// HMAC secret ([]byte) or an RSA public key (*rsa.PublicKey).
func NewAuthMiddleware(key interface{}, logger *logging.Logger, skipPaths []string) *AuthMiddleware {
	skip := make(map[string]bool)
	for _, path := range skipPaths {
		skip[path] = true
	}

	return &AuthMiddleware{
		key:       key,
		logger:    logger,
		skipPaths: skip,
	}
}

// Handler requires a valid bearer token.
func (m *AuthMiddleware) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if m.skipPaths[r.URL.Path] || GetClaims(r.Context()) != nil {
			next.ServeHTTP(w, r)
			return
		}

		tokenString, err := bearerToken(r)
		if err != nil {
			m.respondError(w, r, err)
			return
		}

		claims, err := m.validateToken(tokenString)
		if err != nil {
			m.logger.WithContext(r.Context()).WithError(err).Warn("Token validation failed")
			m.respondError(w, r, err)
			return
		}

		next.ServeHTTP(w, r.WithContext(m.withClaims(r.Context(), claims)))
	})
}

// Optional authenticates the request when a token is present and lets
// anonymous requests through. An invalid token is still rejected.
func (m *AuthMiddleware) Optional(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") == "" {
			next.ServeHTTP(w, r)
			return
		}
		m.Handler(next).ServeHTTP(w, r)
	})
}

// Identify attaches the caller's claims when the request carries a valid
// token and never rejects. It runs ahead of the rate limiter so signed-in
// callers get their own bucket; Handler and Optional still enforce per route.
func (m *AuthMiddleware) Identify(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		tokenString, err := bearerToken(r)
		if err != nil {
			next.ServeHTTP(w, r)
			return
		}
		claims, err := m.validateToken(tokenString)
		if err != nil {
			next.ServeHTTP(w, r)
			return
		}
		next.ServeHTTP(w, r.WithContext(m.withClaims(r.Context(), claims)))
	})
}

func (m *AuthMiddleware) withClaims(ctx context.Context, claims *Claims) context.Context {
	ctx = context.WithValue(ctx, logging.UserIDKey, claims.Subject())
	if claims.Role != "" {
		ctx = context.WithValue(ctx, logging.RoleKey, claims.Role)
	}
	ctx = context.WithValue(ctx, claimsKey, claims)

	m.logger.WithContext(ctx).WithField("user_id", claims.Subject()).Debug("Authentication successful")
	return ctx
}

func bearerToken(r *http.Request) (string, error) {
	authHeader := r.Header.Get("Authorization")
	if authHeader == "" {
		return "", errors.Unauthorized("Missing Authorization header")
	}

	parts := strings.SplitN(authHeader, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") || strings.TrimSpace(parts[1]) == "" {
		return "", errors.Unauthorized("Invalid Authorization header format")
	}
	return strings.TrimSpace(parts[1]), nil
}

// validateToken validates a JWT token and returns claims
func (m *AuthMiddleware) validateToken(tokenString string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		switch m.key.(type) {
		case *rsa.PublicKey:
			if _, ok := token.Method.(*jwt.SigningMethodRSA); ok {
				return m.key, nil
			}
		case []byte:
			if _, ok := token.Method.(*jwt.SigningMethodHMAC); ok {
				return m.key, nil
			}
		}
		return nil, errors.InvalidToken(nil).WithDetails("method", token.Header["alg"])
	})

	if err != nil {
		return nil, errors.InvalidToken(err)
	}

	if !token.Valid {
		return nil, errors.InvalidToken(nil)
	}

	claims, ok := token.Claims.(*Claims)
	if !ok {
		return nil, errors.InvalidToken(nil).WithDetails("reason", "invalid claims type")
	}
	if claims.Subject() == "" {
		return nil, errors.InvalidToken(nil).WithDetails("reason", "missing subject")
	}

	return claims, nil
}

// respondError sends an error response
func (m *AuthMiddleware) respondError(w http.ResponseWriter, r *http.Request, err error) {
	serviceErr := errors.GetServiceError(err)
	if serviceErr == nil {
		serviceErr = errors.Internal("Authentication failed", err)
	}

	internalhttputil.WriteErrorResponse(w, r, serviceErr.HTTPStatus, string(serviceErr.Code), serviceErr.Message, serviceErr.Details)

	m.logger.WithContext(r.Context()).WithError(err).WithFields(map[string]interface{}{
		"path":   r.URL.Path,
		"method": r.Method,
		"status": serviceErr.HTTPStatus,
	}).Warn("Authentication failed")
}

// GetUserID extracts user ID from context
func GetUserID(ctx context.Context) string {
	return logging.GetUserID(ctx)
}

// GetUserRole extracts user role from context
func GetUserRole(ctx context.Context) string {
	return logging.GetRole(ctx)
}

// GetClaims returns the verified token claims, or nil for anonymous requests.
func GetClaims(ctx context.Context) *Claims {
	claims, _ := ctx.Value(claimsKey).(*Claims)
	return claims
}

// RequireUserID middleware ensures user ID is present in context
func RequireUserID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if GetUserID(r.Context()) == "" {
			internalhttputil.Unauthorized(w, "")
			return
		}
		next.ServeHTTP(w, r)
	})
}
