package controllers

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/stellara-labs/stellara/internal/auth"
	"github.com/stellara-labs/stellara/internal/engine"
	"github.com/stellara-labs/stellara/internal/gdpr"
	"github.com/stellara-labs/stellara/internal/marketdata"
	"github.com/stellara-labs/stellara/internal/queue"
	"github.com/stellara-labs/stellara/internal/stellar"
	"github.com/stellara-labs/stellara/internal/util"
	"github.com/stellara-labs/stellara/internal/voice"
	"github.com/stellara-labs/stellara/pkg/stellara/domain"
)

// authed wraps a handler that needs a signed in user.
func authed(h http.HandlerFunc) http.Handler {
	return auth.RequireAuth(h)
}

// adminOnly wraps a handler restricted to the admin role.
func adminOnly(h http.HandlerFunc) http.Handler {
	return auth.RequireRole(domain.RoleAdmin)(h)
}

// principal is only called behind authed or adminOnly.
func principal(r *http.Request) *auth.Principal {
	p, _ := auth.FromContext(r.Context())
	return p
}

func clientInfo(r *http.Request) auth.ClientInfo {
	return auth.ClientInfo{IP: util.ClientIP(r), UserAgent: r.UserAgent()}
}

func pathID(w http.ResponseWriter, r *http.Request, name string) (int64, bool) {
	id, err := strconv.ParseInt(r.PathValue(name), 10, 64)
	if err != nil || id <= 0 {
		util.WriteError(w, http.StatusBadRequest, name+" must be a positive integer")
		return 0, false
	}
	return id, true
}

// queryInt reads an optional integer query parameter.
func queryInt(r *http.Request, name string, def int64) (int64, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return def, nil
	}
	v, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || v < 0 {
		return 0, errors.New(name + " must be a non-negative integer")
	}
	return v, nil
}

func isAny(err error, targets ...error) bool {
	for _, t := range targets {
		if errors.Is(err, t) {
			return true
		}
	}
	return false
}

// writeServiceError maps service errors to a status. Unknown errors are logged and
// answered with a generic 500 naming the failed action.
func writeServiceError(w http.ResponseWriter, r *http.Request, err error, action string) {
	switch {
	case isAny(err, util.ErrValidation, auth.ErrInvalidPublicKey, auth.ErrInvalidRole, auth.ErrInvalidScope,
		stellar.ErrInvalidAccount, stellar.ErrInvalidWebhook, voice.ErrInvalidAudioURL,
		marketdata.ErrInvalidAsset, marketdata.ErrTooManyAssets, gdpr.ErrInvalidPurpose,
		engine.ErrInvalidState, engine.ErrInvalidDelay, engine.ErrUnknownWorkflowType):
		util.WriteError(w, http.StatusBadRequest, err.Error())
	case isAny(err, auth.ErrInvalidCredentials, auth.ErrInvalidSignature, auth.ErrNonceNotFound,
		auth.ErrNonceExpired, auth.ErrNonceUsed, auth.ErrInvalidToken, auth.ErrTokenReused):
		util.WriteError(w, http.StatusUnauthorized, err.Error())
	case isAny(err, auth.ErrUserDisabled, voice.ErrConsentRequired, stellar.ErrForbidden):
		util.WriteError(w, http.StatusForbidden, err.Error())
	case isAny(err, auth.ErrNotFound, stellar.ErrNotFound, voice.ErrNotFound,
		marketdata.ErrUnknownAsset, gdpr.ErrUserNotFound):
		util.WriteError(w, http.StatusNotFound, err.Error())
	case isAny(err, auth.ErrWalletBound, auth.ErrUsernameTaken, auth.ErrLastWallet, engine.ErrWorkflowBusy):
		util.WriteError(w, http.StatusConflict, err.Error())
	case errors.Is(err, marketdata.ErrProvider):
		slog.WarnContext(r.Context(), "Upstream failure", "action", action, "error", err)
		util.WriteError(w, http.StatusBadGateway, "Price provider unavailable")
	case errors.Is(err, queue.ErrUnavailable):
		util.WriteError(w, http.StatusServiceUnavailable, "Job queue unavailable")
	case errors.Is(err, context.DeadlineExceeded):
		util.WriteError(w, http.StatusGatewayTimeout, "Timed out while trying to "+action)
	default:
		slog.ErrorContext(r.Context(), "Failed to "+action, "error", err)
		util.WriteError(w, http.StatusInternalServerError, "Failed to "+action)
	}
}
