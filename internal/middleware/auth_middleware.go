// Package middleware holds the HTTP middleware shared by the API routes.
package middleware

import (
	"net/http"
	"strings"

	"model_registry/internal/auth"
	"model_registry/internal/utils"

	"github.com/google/uuid"
)

// CookieName is the session cookie set on login.
const CookieName = "registry_token"

// Authenticator verifies session tokens.
type Authenticator interface {
	Authenticate(token string) (uuid.UUID, error)
}

// TokenFromRequest returns the bearer token, falling back to the
// session cookie.
func TokenFromRequest(r *http.Request) string {
	if header := r.Header.Get("Authorization"); header != "" {
		if token, ok := strings.CutPrefix(header, "Bearer "); ok {
			return strings.TrimSpace(token)
		}
	}
	if c, err := r.Cookie(CookieName); err == nil {
		return c.Value
	}
	return ""
}

// RequireAuth rejects requests without a valid token and stores the
// caller's user ID in the request context.
func RequireAuth(a Authenticator) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token := TokenFromRequest(r)
			if token == "" {
				utils.RespondWithErrorKind(w, http.StatusUnauthorized, "unauthorized", "Missing authentication token")
				return
			}

			userID, err := a.Authenticate(token)
			if err != nil {
				utils.RespondWithErrorKind(w, http.StatusUnauthorized, "unauthorized", "Invalid or expired token")
				return
			}

			next.ServeHTTP(w, r.WithContext(auth.WithUserID(r.Context(), userID)))
		})
	}
}
