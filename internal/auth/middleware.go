package auth

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/sakif/fleetchat/internal/apperror"
)

// CookieName is the HttpOnly cookie carrying the session JWT.
const CookieName = "token"

// contextKey is package-private so no other package can read or shadow the value.
type contextKey string

const accountIDKey contextKey = "accountID"

// RequireAuth rejects requests without a valid session cookie with 401 and
// stores the account ID in the request context otherwise.
//
// The same middleware guards /ws routes: browsers send cookies on the
// WebSocket upgrade request, so the check happens before the upgrade.
func RequireAuth(tokens *TokenService) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			accountID, err := extractAccountID(r, tokens)
			if err != nil {
				code := apperror.CodeOf(err)
				if code == "" {
					code = apperror.CodeNotAuthenticated
				}
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusUnauthorized)
				json.NewEncoder(w).Encode(map[string]string{
					"error":   "unauthorized",
					"code":    code,
					"message": "valid authentication required",
				})
				return
			}
			next.ServeHTTP(w, r.WithContext(WithAccountID(r.Context(), accountID)))
		})
	}
}

// OptionalAuth attaches the account ID when a valid cookie is present and
// lets the request through either way.
func OptionalAuth(tokens *TokenService) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if accountID, err := extractAccountID(r, tokens); err == nil {
				r = r.WithContext(WithAccountID(r.Context(), accountID))
			}
			next.ServeHTTP(w, r)
		})
	}
}

// WithAccountID returns a copy of ctx carrying accountID.
func WithAccountID(ctx context.Context, accountID string) context.Context {
	return context.WithValue(ctx, accountIDKey, accountID)
}

// AccountIDFromContext returns the authenticated account ID set by RequireAuth or OptionalAuth.
func AccountIDFromContext(ctx context.Context) (string, bool) {
	id, ok := ctx.Value(accountIDKey).(string)
	return id, ok && id != ""
}

func extractAccountID(r *http.Request, tokens *TokenService) (string, error) {
	cookie, err := r.Cookie(CookieName)
	if err != nil {
		return "", apperror.NotAuthenticated()
	}
	return tokens.Validate(cookie.Value)
}
