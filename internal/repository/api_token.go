package repository

import (
	"context"
	"database/sql"
	"errors"

	"github.com/stellara-labs/stellara/internal/database"
	"github.com/stellara-labs/stellara/pkg/stellara/core"
	"github.com/stellara-labs/stellara/pkg/stellara/domain"
)

type ApiTokenRepository struct {
	store
}

func NewApiTokenRepository(db *sql.DB, dialect database.Dialect, clock core.Clock) *ApiTokenRepository {
	return &ApiTokenRepository{store: newStore(db, dialect, clock)}
}

const apiTokenColumns = `id, user_id, name, prefix, token_hash, scopes, last_used_at, expires_at, revoked_at, created`

func scanApiToken(row rowScanner) (*domain.ApiToken, error) {
	var t domain.ApiToken
	err := row.Scan(&t.ID, &t.UserID, &t.Name, &t.Prefix, &t.TokenHash, &t.Scopes,
		&t.LastUsedAt, &t.ExpiresAt, &t.RevokedAt, &t.Created)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func (r *ApiTokenRepository) Save(ctx context.Context, t *domain.ApiToken) (int64, error) {
	t.Created = r.now()
	query := `
		INSERT INTO api_tokens (user_id, name, prefix, token_hash, scopes, expires_at, created)
		VALUES (` + r.placeholders(1, 7) + `)`
	id, err := r.insert(ctx, query, t.UserID, t.Name, t.Prefix, t.TokenHash, t.Scopes, r.tsNull(t.ExpiresAt), r.ts(t.Created))
	if err != nil {
		return 0, err
	}
	t.ID = id
	return id, nil
}

// FindByHash returns (nil, nil) for an unknown token.
func (r *ApiTokenRepository) FindByHash(ctx context.Context, hash string) (*domain.ApiToken, error) {
	query := `SELECT ` + apiTokenColumns + ` FROM api_tokens WHERE token_hash = ` + r.placeholder(1)
	t, err := scanApiToken(r.db.QueryRowContext(ctx, query, hash))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return t, err
}

func (r *ApiTokenRepository) FindByUserID(ctx context.Context, userID int64) ([]domain.ApiToken, error) {
	query := `SELECT ` + apiTokenColumns + ` FROM api_tokens WHERE user_id = ` + r.placeholder(1) + ` ORDER BY id DESC`
	rows, err := r.db.QueryContext(ctx, query, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	tokens := make([]domain.ApiToken, 0)
	for rows.Next() {
		t, err := scanApiToken(rows)
		if err != nil {
			return nil, err
		}
		tokens = append(tokens, *t)
	}
	return tokens, rows.Err()
}

func (r *ApiTokenRepository) TouchLastUsed(ctx context.Context, id int64) error {
	_, err := r.db.ExecContext(ctx, `UPDATE api_tokens SET last_used_at = `+r.placeholder(1)+` WHERE id = `+r.placeholder(2), r.ts(r.now()), id)
	return err
}

// Revoke revokes a token owned by userID and reports whether an active token was found.
func (r *ApiTokenRepository) Revoke(ctx context.Context, userID, id int64) (bool, error) {
	query := `UPDATE api_tokens SET revoked_at = ` + r.placeholder(1) + `
		WHERE id = ` + r.placeholder(2) + ` AND user_id = ` + r.placeholder(3) + ` AND revoked_at IS NULL`
	n, err := r.exec(ctx, query, r.ts(r.now()), id, userID)
	return n == 1, err
}

func (r *ApiTokenRepository) DeleteByUserID(ctx context.Context, userID int64) (int64, error) {
	return r.exec(ctx, `DELETE FROM api_tokens WHERE user_id = `+r.placeholder(1), userID)
}
