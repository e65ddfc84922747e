package repository

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/stellara-labs/stellara/internal/database"
	"github.com/stellara-labs/stellara/pkg/stellara/core"
	"github.com/stellara-labs/stellara/pkg/stellara/domain"
)

type RefreshTokenRepository struct {
	store
}

func NewRefreshTokenRepository(db *sql.DB, dialect database.Dialect, clock core.Clock) *RefreshTokenRepository {
	return &RefreshTokenRepository{store: newStore(db, dialect, clock)}
}

func (r *RefreshTokenRepository) Save(ctx context.Context, t *domain.RefreshToken) (int64, error) {
	t.Created = r.now()
	query := `
		INSERT INTO refresh_tokens (user_id, token_hash, family, expires_at, ip, user_agent, created)
		VALUES (` + r.placeholders(1, 7) + `)`
	id, err := r.insert(ctx, query, t.UserID, t.TokenHash, t.Family, r.ts(t.ExpiresAt), t.IP, t.UserAgent, r.ts(t.Created))
	if err != nil {
		return 0, err
	}
	t.ID = id
	return id, nil
}

// FindByHash returns (nil, nil) for an unknown token.
func (r *RefreshTokenRepository) FindByHash(ctx context.Context, hash string) (*domain.RefreshToken, error) {
	query := `
		SELECT id, user_id, token_hash, family, expires_at, revoked_at, replaced_by, ip, user_agent, created
		FROM refresh_tokens WHERE token_hash = ` + r.placeholder(1)
	var t domain.RefreshToken
	err := r.db.QueryRowContext(ctx, query, hash).Scan(&t.ID, &t.UserID, &t.TokenHash, &t.Family, &t.ExpiresAt,
		&t.RevokedAt, &t.ReplacedBy, &t.IP, &t.UserAgent, &t.Created)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &t, nil
}

// Revoke revokes an active token, linking it to its successor when replacedBy is non zero.
// It reports false when the token was already revoked, which callers treat as reuse.
func (r *RefreshTokenRepository) Revoke(ctx context.Context, id int64, replacedBy int64) (bool, error) {
	query := `
		UPDATE refresh_tokens SET revoked_at = ` + r.placeholder(1) + `, replaced_by = ` + r.placeholder(2) + `
		WHERE id = ` + r.placeholder(3) + ` AND revoked_at IS NULL`
	n, err := r.exec(ctx, query, r.ts(r.now()), nullInt64(replacedBy), id)
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

func (r *RefreshTokenRepository) RevokeFamily(ctx context.Context, family string) (int64, error) {
	query := `UPDATE refresh_tokens SET revoked_at = ` + r.placeholder(1) + ` WHERE family = ` + r.placeholder(2) + ` AND revoked_at IS NULL`
	return r.exec(ctx, query, r.ts(r.now()), family)
}

func (r *RefreshTokenRepository) RevokeAllForUser(ctx context.Context, userID int64) (int64, error) {
	query := `UPDATE refresh_tokens SET revoked_at = ` + r.placeholder(1) + ` WHERE user_id = ` + r.placeholder(2) + ` AND revoked_at IS NULL`
	return r.exec(ctx, query, r.ts(r.now()), userID)
}

// DeleteExpired removes tokens that expired before cutoff.
func (r *RefreshTokenRepository) DeleteExpired(ctx context.Context, cutoff time.Time) (int64, error) {
	return r.exec(ctx, `DELETE FROM refresh_tokens WHERE `+r.before("expires_at", 1), r.ts(cutoff))
}
