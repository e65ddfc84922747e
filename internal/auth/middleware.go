package auth

import (
	"errors"
	"log/slog"
	"net/http"
	"slices"
	"strings"

	"github.com/stellara-labs/stellara/internal/util"
	"github.com/stellara-labs/stellara/pkg/stellara/domain"
)

const ApiKeyHeader = "X-API-Key"

// Credential extracts the bearer token or X-API-Key value from a request.
func Credential(r *http.Request) string {
	if h := r.Header.Get("Authorization"); h != "" {
		scheme, token, ok := strings.Cut(h, " ")
		if ok && strings.EqualFold(scheme, "Bearer") {
			return strings.TrimSpace(token)
		}
		return ""
	}
	return strings.TrimSpace(r.Header.Get(ApiKeyHeader))
}

// Authenticate resolves the request principal. It returns (nil, nil) when no credential was sent.
func (s *Service) Authenticate(r *http.Request) (*Principal, error) {
	token := Credential(r)
	if token == "" {
		if r.Header.Get("Authorization") != "" {
			return nil, ErrInvalidToken
		}
		return nil, nil
	}
	return s.AuthenticateToken(r.Context(), token)
}

// Middleware attaches the principal to the request context when credentials are present.
// Invalid credentials are rejected with 401; anonymous requests pass through.
func (s *Service) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		p, err := s.Authenticate(r)
		if err != nil {
			if !errors.Is(err, ErrInvalidToken) && !errors.Is(err, ErrUserDisabled) {
				slog.ErrorContext(r.Context(), "Authentication failed", "error", err)
			}
			w.Header().Set("WWW-Authenticate", `Bearer realm="stellara"`)
			util.WriteError(w, http.StatusUnauthorized, "Invalid or expired credentials")
			return
		}
		if p != nil {
			r = r.WithContext(WithPrincipal(r.Context(), p))
		}
		next.ServeHTTP(w, r)
	})
}

// RequireAuth rejects anonymous requests and API tokens whose scopes do not cover the method.
func RequireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		p, ok := FromContext(r.Context())
		if !ok {
			w.Header().Set("WWW-Authenticate", `Bearer realm="stellara"`)
			util.WriteError(w, http.StatusUnauthorized, "Authentication required")
			return
		}
		if !p.Allows(r.Method) {
			util.WriteError(w, http.StatusForbidden, "Token scope does not allow "+r.Method+" requests")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// RequireRole rejects requests whose principal has none of the roles.
// Admin-only routes also need the admin scope on API tokens.
func RequireRole(roles ...domain.Role) func(http.Handler) http.Handler {
	adminOnly := !slices.ContainsFunc(roles, func(role domain.Role) bool { return role != domain.RoleAdmin })
	return func(next http.Handler) http.Handler {
		return RequireAuth(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			p, _ := FromContext(r.Context())
			if !p.HasRole(roles...) {
				util.WriteError(w, http.StatusForbidden, "Insufficient role")
				return
			}
			if adminOnly && !p.HasScope(ScopeAdmin) {
				util.WriteError(w, http.StatusForbidden, "Token lacks the admin scope")
				return
			}
			next.ServeHTTP(w, r)
		}))
	}
}
