package auth

import (
	"context"
	"net/http"
	"slices"

	"github.com/stellara-labs/stellara/internal/logging"
	"github.com/stellara-labs/stellara/pkg/stellara/domain"
)

const (
	MethodJWT      = "jwt"
	MethodApiToken = "api_token"
)

// API token scopes. read allows safe methods, write any method, admin the admin-only routes.
const (
	ScopeRead  = "read"
	ScopeWrite = "write"
	ScopeAdmin = "admin"
)

// DefaultTokenScopes are granted when a token is created without scopes.
var DefaultTokenScopes = []string{ScopeRead, ScopeWrite}

// ValidScope reports whether scope is one a token can carry.
func ValidScope(scope string) bool {
	return scope == ScopeRead || scope == ScopeWrite || scope == ScopeAdmin
}

// Principal is the authenticated caller of a request.
type Principal struct {
	UserID   int64       `json:"userId"`
	Username string      `json:"username"`
	Role     domain.Role `json:"role"`
	Method   string      `json:"method"`
	Scopes   []string    `json:"scopes,omitempty"`
}

func (p *Principal) HasRole(roles ...domain.Role) bool {
	return p != nil && slices.Contains(roles, p.Role)
}

func (p *Principal) IsAdmin() bool {
	return p.HasRole(domain.RoleAdmin)
}

// HasScope is always true for sessions. write implies read.
func (p *Principal) HasScope(scope string) bool {
	if p == nil {
		return false
	}
	if p.Method != MethodApiToken {
		return true
	}
	if slices.Contains(p.Scopes, scope) {
		return true
	}
	return scope == ScopeRead && slices.Contains(p.Scopes, ScopeWrite)
}

// Allows reports whether the credential may issue a request with method.
func (p *Principal) Allows(method string) bool {
	switch method {
	case http.MethodGet, http.MethodHead, http.MethodOptions:
		return p.HasScope(ScopeRead)
	}
	return p.HasScope(ScopeWrite)
}

type principalKey struct{}

// WithPrincipal stores the principal and tags the context for logging.
func WithPrincipal(ctx context.Context, p *Principal) context.Context {
	ctx = context.WithValue(ctx, principalKey{}, p)
	return logging.WithUserID(ctx, p.UserID)
}

func FromContext(ctx context.Context) (*Principal, bool) {
	p, ok := ctx.Value(principalKey{}).(*Principal)
	return p, ok && p != nil
}
