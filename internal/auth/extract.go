package auth

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
)

// ErrMissingToken is returned when a request carries no bearer token.
var ErrMissingToken = errors.New("no authentication token provided")

// TokenQueryParam is the query parameter browsers use for WebSocket
// upgrades, which cannot carry an Authorization header.
const TokenQueryParam = "token"

// ExtractBearer extracts the token from an "Authorization: Bearer <token>"
// header value.
func ExtractBearer(authHeader string) (string, error) {
	if authHeader == "" {
		return "", ErrMissingToken
	}

	scheme, token, ok := strings.Cut(authHeader, " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return "", fmt.Errorf("invalid authorization header format")
	}
	token = strings.TrimSpace(token)
	if token == "" {
		return "", ErrMissingToken
	}
	return token, nil
}

// ExtractFromRequest tries the Authorization header first, then the token
// query parameter.
func ExtractFromRequest(r *http.Request) (string, error) {
	if h := r.Header.Get("Authorization"); h != "" {
		if token, err := ExtractBearer(h); err == nil {
			return token, nil
		}
	}
	if token := strings.TrimSpace(r.URL.Query().Get(TokenQueryParam)); token != "" {
		return token, nil
	}
	return "", ErrMissingToken
}

type contextKey struct{}

// WithClaims returns a context carrying the authenticated user.
func WithClaims(ctx context.Context, c *Claims) context.Context {
	return context.WithValue(ctx, contextKey{}, c)
}

// ClaimsFromContext returns the user stored by Middleware, if any.
func ClaimsFromContext(ctx context.Context) (*Claims, bool) {
	c, ok := ctx.Value(contextKey{}).(*Claims)
	return c, ok
}

// Middleware rejects requests without a token (401) or with an invalid one
// (403) and stores the claims on the request context otherwise.
func (j *JWTManager) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token, err := ExtractFromRequest(r)
		if err != nil {
			writeError(w, http.StatusUnauthorized, "Access token required")
			return
		}

		claims, err := j.ValidateToken(token)
		if err != nil {
			writeError(w, http.StatusForbidden, "Invalid or expired token")
			return
		}

		next.ServeHTTP(w, r.WithContext(WithClaims(r.Context(), claims)))
	})
}

func writeError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	fmt.Fprintf(w, "{\"error\":%q}\n", msg)
}
