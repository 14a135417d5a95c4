package middleware

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/upb/medbot/utils"
	"go.uber.org/zap"
)

// AuthCookieName carries the bearer token for browser form posts
const AuthCookieName = "auth_token"

var errMissingToken = errors.New("missing bearer token")

// TokenValidator turns a raw bearer token into the caller's claims
type TokenValidator interface {
	ValidateToken(ctx context.Context, token string) (*Claims, error)
}

// AuthMiddleware guards the query endpoints with bearer tokens
type AuthMiddleware struct {
	validator TokenValidator
	logger    *zap.Logger
}

// NewAuthMiddleware creates a new AuthMiddleware
func NewAuthMiddleware(validator TokenValidator, logger *zap.Logger) *AuthMiddleware {
	return &AuthMiddleware{validator: validator, logger: logger}
}

// RequireAuth rejects requests without a valid token with 401 and stores the
// caller's claims in the request context otherwise
func (m *AuthMiddleware) RequireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		claims, err := m.authenticate(r)
		if err != nil {
			m.logger.Warn("request not authenticated",
				zap.String("request_id", GetRequestIDFromContext(r.Context())),
				zap.String("path", r.URL.Path),
				zap.String("remote_addr", r.RemoteAddr),
				zap.Error(err))

			w.Header().Set("WWW-Authenticate", `Bearer realm="medbot"`)
			msg := "Invalid or expired token"
			if errors.Is(err, errMissingToken) {
				msg = "Missing or invalid authorization"
			}
			_ = utils.WriteUnauthorized(w, msg)
			return
		}

		next.ServeHTTP(w, r.WithContext(WithClaims(r.Context(), claims)))
	})
}

func (m *AuthMiddleware) authenticate(r *http.Request) (*Claims, error) {
	token := extractToken(r)
	if token == "" {
		return nil, errMissingToken
	}
	return m.validator.ValidateToken(r.Context(), token)
}

// extractToken reads "Authorization: Bearer <token>", then the auth cookie
func extractToken(r *http.Request) string {
	scheme, token, ok := strings.Cut(r.Header.Get("Authorization"), " ")
	if ok && strings.EqualFold(scheme, "bearer") {
		if token = strings.TrimSpace(token); token != "" {
			return token
		}
	}
	if cookie, err := r.Cookie(AuthCookieName); err == nil {
		return cookie.Value
	}
	return ""
}
