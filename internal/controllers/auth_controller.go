package controllers

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/stellara-labs/stellara/internal/auth"
	"github.com/stellara-labs/stellara/internal/util"
	"github.com/stellara-labs/stellara/pkg/stellara/domain"
	"github.com/stellara-labs/stellara/pkg/stellara/models"
)

// AuthService is the part of auth.Service the authentication endpoints use.
type AuthService interface {
	IssueNonce(ctx context.Context, publicKey string) (*auth.NonceChallenge, error)
	WalletLogin(ctx context.Context, publicKey, nonce, signature string, client auth.ClientInfo) (*auth.Session, error)
	PasswordLogin(ctx context.Context, username, password string, client auth.ClientInfo) (*auth.Session, error)
	Refresh(ctx context.Context, raw string, client auth.ClientInfo) (*auth.Session, error)
	Logout(ctx context.Context, raw string, client auth.ClientInfo) error
	User(ctx context.Context, id int64) (*domain.User, error)
	Wallets(ctx context.Context, userID int64) ([]domain.WalletBinding, error)
	BindWallet(ctx context.Context, userID int64, publicKey, nonce, signature, label string) (*domain.WalletBinding, error)
	UnbindWallet(ctx context.Context, userID int64, publicKey string) error
	CreateApiToken(ctx context.Context, userID int64, name string, scopes []string, ttl time.Duration) (*auth.CreatedApiToken, error)
	ListApiTokens(ctx context.Context, userID int64) ([]auth.ApiTokenView, error)
	RevokeApiToken(ctx context.Context, userID, id int64) error
}

type AuthController struct {
	Auth AuthService
}

func NewAuthController(service AuthService) *AuthController {
	return &AuthController{Auth: service}
}

func (c *AuthController) handleNonce(w http.ResponseWriter, r *http.Request) {
	req, err := util.DecodeJSONBody[models.NonceRequest](r)
	if err != nil {
		writeServiceError(w, r, err, "issue nonce")
		return
	}
	challenge, err := c.Auth.IssueNonce(r.Context(), req.PublicKey)
	if err != nil {
		writeServiceError(w, r, err, "issue nonce")
		return
	}
	util.WriteJSONResponse(w, http.StatusOK, challenge)
}

func (c *AuthController) handleWalletLogin(w http.ResponseWriter, r *http.Request) {
	req, err := util.DecodeJSONBody[models.WalletLoginRequest](r)
	if err != nil {
		writeServiceError(w, r, err, "log in")
		return
	}
	session, err := c.Auth.WalletLogin(r.Context(), req.PublicKey, req.Nonce, req.Signature, clientInfo(r))
	if err != nil {
		writeServiceError(w, r, err, "log in")
		return
	}
	util.WriteJSONResponse(w, http.StatusOK, session)
}

func (c *AuthController) handlePasswordLogin(w http.ResponseWriter, r *http.Request) {
	req, err := util.DecodeJSONBody[models.PasswordLoginRequest](r)
	if err != nil {
		writeServiceError(w, r, err, "log in")
		return
	}
	session, err := c.Auth.PasswordLogin(r.Context(), req.Username, req.Password, clientInfo(r))
	if err != nil {
		writeServiceError(w, r, err, "log in")
		return
	}
	util.WriteJSONResponse(w, http.StatusOK, session)
}

func (c *AuthController) handleRefresh(w http.ResponseWriter, r *http.Request) {
	req, err := util.DecodeJSONBody[models.RefreshRequest](r)
	if err != nil {
		writeServiceError(w, r, err, "refresh session")
		return
	}
	session, err := c.Auth.Refresh(r.Context(), req.RefreshToken, clientInfo(r))
	if err != nil {
		writeServiceError(w, r, err, "refresh session")
		return
	}
	util.WriteJSONResponse(w, http.StatusOK, session)
}

func (c *AuthController) handleLogout(w http.ResponseWriter, r *http.Request) {
	req, err := util.DecodeJSONBody[models.RefreshRequest](r)
	if err != nil {
		writeServiceError(w, r, err, "log out")
		return
	}
	if err := c.Auth.Logout(r.Context(), req.RefreshToken, clientInfo(r)); err != nil {
		writeServiceError(w, r, err, "log out")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (c *AuthController) handleMe(w http.ResponseWriter, r *http.Request) {
	p := principal(r)
	user, err := c.Auth.User(r.Context(), p.UserID)
	if err != nil {
		writeServiceError(w, r, err, "load user")
		return
	}
	wallets, err := c.Auth.Wallets(r.Context(), p.UserID)
	if err != nil {
		writeServiceError(w, r, err, "load wallets")
		return
	}
	util.WriteJSONResponse(w, http.StatusOK, models.MeResponse{User: user, Wallets: wallets})
}

func (c *AuthController) handleListWallets(w http.ResponseWriter, r *http.Request) {
	wallets, err := c.Auth.Wallets(r.Context(), principal(r).UserID)
	if err != nil {
		writeServiceError(w, r, err, "load wallets")
		return
	}
	util.WriteJSONResponse(w, http.StatusOK, wallets)
}

func (c *AuthController) handleBindWallet(w http.ResponseWriter, r *http.Request) {
	req, err := util.DecodeJSONBody[models.BindWalletRequest](r)
	if err != nil {
		writeServiceError(w, r, err, "bind wallet")
		return
	}
	binding, err := c.Auth.BindWallet(r.Context(), principal(r).UserID, req.PublicKey, req.Nonce, req.Signature, req.Label)
	if err != nil {
		writeServiceError(w, r, err, "bind wallet")
		return
	}
	util.WriteJSONResponse(w, http.StatusCreated, binding)
}

func (c *AuthController) handleUnbindWallet(w http.ResponseWriter, r *http.Request) {
	if err := c.Auth.UnbindWallet(r.Context(), principal(r).UserID, r.PathValue("publicKey")); err != nil {
		writeServiceError(w, r, err, "unbind wallet")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (c *AuthController) handleListApiTokens(w http.ResponseWriter, r *http.Request) {
	tokens, err := c.Auth.ListApiTokens(r.Context(), principal(r).UserID)
	if err != nil {
		writeServiceError(w, r, err, "list api tokens")
		return
	}
	util.WriteJSONResponse(w, http.StatusOK, tokens)
}

func (c *AuthController) handleCreateApiToken(w http.ResponseWriter, r *http.Request) {
	req, err := util.DecodeJSONBody[models.CreateApiTokenRequest](r)
	if err != nil {
		writeServiceError(w, r, err, "create api token")
		return
	}
	var ttl time.Duration
	if req.ExpiresIn != "" {
		ttl, err = time.ParseDuration(req.ExpiresIn)
		if err != nil || ttl <= 0 {
			util.WriteError(w, http.StatusBadRequest, fmt.Sprintf("expiresIn %q is not a positive duration", req.ExpiresIn))
			return
		}
	}
	caller := principal(r)
	if caller.Method == auth.MethodApiToken {
		// a token can only mint tokens it could act as itself
		scopes := req.Scopes
		if len(scopes) == 0 {
			scopes = auth.DefaultTokenScopes
		}
		for _, scope := range scopes {
			if !caller.HasScope(scope) {
				util.WriteError(w, http.StatusForbidden, fmt.Sprintf("Token cannot grant the %q scope", scope))
				return
			}
		}
	}
	token, err := c.Auth.CreateApiToken(r.Context(), caller.UserID, req.Name, req.Scopes, ttl)
	if err != nil {
		writeServiceError(w, r, err, "create api token")
		return
	}
	util.WriteJSONResponse(w, http.StatusCreated, token)
}

func (c *AuthController) handleRevokeApiToken(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	if err := c.Auth.RevokeApiToken(r.Context(), principal(r).UserID, id); err != nil {
		writeServiceError(w, r, err, "revoke api token")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
