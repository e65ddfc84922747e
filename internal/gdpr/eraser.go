package gdpr

import (
	"context"
	"fmt"
	"log/slog"
)

// Eraser runs the erasure steps of the GdprErasure workflow. Each step is idempotent.
type Eraser struct {
	stores Stores
}

func NewEraser(stores Stores) *Eraser {
	return &Eraser{stores: stores}
}

// RevokeAccess disables the account and ends its sessions.
func (e *Eraser) RevokeAccess(ctx context.Context, userID int64) error {
	disabled := false
	if err := e.stores.Users.UpdateAccess(ctx, userID, nil, &disabled); err != nil {
		return fmt.Errorf("disable user: %w", err)
	}
	n, err := e.stores.RefreshTokens.RevokeAllForUser(ctx, userID)
	if err != nil {
		return fmt.Errorf("revoke refresh tokens: %w", err)
	}
	slog.InfoContext(ctx, "Erasure: access revoked", "user_id", userID, "refresh_tokens", n)
	return nil
}

// DeletePersonalData removes records owned only by the user.
func (e *Eraser) DeletePersonalData(ctx context.Context, userID int64) error {
	wallets, err := e.stores.Wallets.DeleteByUserID(ctx, userID)
	if err != nil {
		return fmt.Errorf("delete wallets: %w", err)
	}
	tokens, err := e.stores.ApiTokens.DeleteByUserID(ctx, userID)
	if err != nil {
		return fmt.Errorf("delete api tokens: %w", err)
	}
	jobs, err := e.stores.VoiceJobs.DeleteByUserID(ctx, userID)
	if err != nil {
		return fmt.Errorf("delete voice jobs: %w", err)
	}
	subs, err := e.stores.Subscriptions.DeactivateUserSubscriptions(ctx, userID)
	if err != nil {
		return fmt.Errorf("deactivate subscriptions: %w", err)
	}
	slog.InfoContext(ctx, "Erasure: personal data deleted", "user_id", userID,
		"wallets", wallets, "api_tokens", tokens, "voice_jobs", jobs, "subscriptions", subs)
	return nil
}

// AnonymizeRecords strips identifiers from records kept for legal reasons and the user row itself.
func (e *Eraser) AnonymizeRecords(ctx context.Context, userID int64) error {
	logs, err := e.stores.AuditLogs.AnonymizeUser(ctx, userID)
	if err != nil {
		return fmt.Errorf("anonymize audit logs: %w", err)
	}
	consents, err := e.stores.Consents.AnonymizeUser(ctx, userID)
	if err != nil {
		return fmt.Errorf("anonymize consents: %w", err)
	}
	if err := e.stores.Users.Anonymize(ctx, userID); err != nil {
		return fmt.Errorf("anonymize user: %w", err)
	}
	slog.InfoContext(ctx, "Erasure: records anonymized", "user_id", userID, "audit_logs", logs, "consents", consents)
	return nil
}
