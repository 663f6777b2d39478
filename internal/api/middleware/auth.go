package middleware

import (
	"context"
	"net/http"
	"slices"
	"strings"

	"github.com/JovieInc/jovie/internal/auth"
)

type contextKey string

const (
	userIDKey      contextKey = "auth.user_id"
	authMethodKey  contextKey = "auth.method"
	tokenScopesKey contextKey = "auth.token_scopes"
)

// principal is a validated caller: a dashboard session or an API token.
type principal struct {
	userID string
	method string
	scopes []string
}

// authenticate resolves the request credential to a principal. The token
// prefix decides which validation path runs; everything else is treated as a
// session ID.
func authenticate(r *http.Request, svc *auth.Service) (principal, bool) {
	token := extractToken(r)
	if token == "" {
		return principal{}, false
	}

	if strings.HasPrefix(token, auth.TokenPrefix) {
		tok, err := svc.ValidateToken(r.Context(), token)
		if err != nil {
			return principal{}, false
		}
		return principal{userID: tok.UserID, method: "api_token", scopes: tok.Scopes}, true
	}

	userID, err := svc.ValidateSession(r.Context(), token)
	if err != nil {
		return principal{}, false
	}
	return principal{userID: userID, method: "session"}, true
}

func (p principal) context(parent context.Context) context.Context {
	ctx := context.WithValue(parent, userIDKey, p.userID)
	ctx = context.WithValue(ctx, authMethodKey, p.method)
	if p.method == "api_token" {
		ctx = context.WithValue(ctx, tokenScopesKey, p.scopes)
	}
	return ctx
}

// Auth gates a handler behind a valid session or API token. Requests
// carrying neither get a JSON 401.
func Auth(authService *auth.Service) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			p, ok := authenticate(r, authService)
			if !ok {
				http.Error(w, `{"error":"unauthorized"}`, http.StatusUnauthorized)
				return
			}
			next.ServeHTTP(w, r.WithContext(p.context(r.Context())))
		})
	}
}

// OptionalAuth populates the caller context when a valid credential is
// present but lets anonymous requests through untouched. Used on the public
// redirect route so a creator previewing their own link is recognizable.
func OptionalAuth(authService *auth.Service) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if p, ok := authenticate(r, authService); ok {
				r = r.WithContext(p.context(r.Context()))
			}
			next.ServeHTTP(w, r)
		})
	}
}

// UserIDFromContext returns the authenticated user ID, or "" for an
// anonymous request.
func UserIDFromContext(ctx context.Context) string {
	if v, ok := ctx.Value(userIDKey).(string); ok {
		return v
	}
	return ""
}

// AuthMethodFromContext reports how the caller authenticated, "session" or
// "api_token".
func AuthMethodFromContext(ctx context.Context) string {
	if v, ok := ctx.Value(authMethodKey).(string); ok {
		return v
	}
	return ""
}

// TokenScopesFromContext returns the scope list for API token auth.
func TokenScopesFromContext(ctx context.Context) []string {
	if v, ok := ctx.Value(tokenScopesKey).([]string); ok {
		return v
	}
	return nil
}

// HasScope reports whether the caller may perform operations gated on the
// given scope. Sessions carry every scope, and a token issued with no
// scopes is unrestricted.
func HasScope(ctx context.Context, scope string) bool {
	switch AuthMethodFromContext(ctx) {
	case "session":
		return true
	case "api_token":
		scopes := TokenScopesFromContext(ctx)
		return len(scopes) == 0 || slices.Contains(scopes, scope)
	}
	return false
}

// RequireScope rejects API-token callers whose token lacks the scope. It
// must run after Auth so the caller context is populated.
func RequireScope(scope string) func(http.HandlerFunc) http.HandlerFunc {
	return func(next http.HandlerFunc) http.HandlerFunc {
		return func(w http.ResponseWriter, r *http.Request) {
			if !HasScope(r.Context(), scope) {
				http.Error(w, `{"error":"forbidden: missing scope `+scope+`"}`, http.StatusForbidden)
				return
			}
			next.ServeHTTP(w, r)
		}
	}
}

// extractToken pulls the caller credential from the session cookie, the
// Authorization header, or an apikey query parameter, in that order.
func extractToken(r *http.Request) string {
	if c, err := r.Cookie("session"); err == nil {
		return c.Value
	}
	if h := r.Header.Get("Authorization"); strings.HasPrefix(h, "Bearer ") {
		return strings.TrimPrefix(h, "Bearer ")
	}
	return r.URL.Query().Get("apikey")
}
