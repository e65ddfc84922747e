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

type LoginNonceRepository struct {
	store
}

func NewLoginNonceRepository(db *sql.DB, dialect database.Dialect, clock core.Clock) *LoginNonceRepository {
	return &LoginNonceRepository{store: newStore(db, dialect, clock)}
}

func (r *LoginNonceRepository) Save(ctx context.Context, n *domain.LoginNonce) (int64, error) {
	n.Created = r.now()
	query := `INSERT INTO login_nonces (public_key, nonce, message, expires_at, created) VALUES (` + r.placeholders(1, 5) + `)`
	id, err := r.insert(ctx, query, n.PublicKey, n.Nonce, n.Message, r.ts(n.ExpiresAt), r.ts(n.Created))
	if err != nil {
		return 0, err
	}
	n.ID = id
	return id, nil
}

// FindByNonce returns (nil, nil) for an unknown nonce.
func (r *LoginNonceRepository) FindByNonce(ctx context.Context, nonce string) (*domain.LoginNonce, error) {
	query := `
		SELECT id, public_key, nonce, message, expires_at, used_at, created
		FROM login_nonces WHERE nonce = ` + r.placeholder(1)
	var n domain.LoginNonce
	err := r.db.QueryRowContext(ctx, query, nonce).Scan(&n.ID, &n.PublicKey, &n.Nonce, &n.Message, &n.ExpiresAt, &n.UsedAt, &n.Created)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &n, nil
}

// Consume marks the nonce used. Only the first caller for an unexpired nonce gets true.
func (r *LoginNonceRepository) Consume(ctx context.Context, id int64) (bool, error) {
	now := r.ts(r.now())
	query := `
		UPDATE login_nonces SET used_at = ` + r.placeholder(1) + `
		WHERE id = ` + r.placeholder(2) + ` AND used_at IS NULL AND ` + r.after("expires_at", 3)
	n, err := r.exec(ctx, query, now, id, now)
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

// DeleteExpired removes nonces that expired before cutoff.
func (r *LoginNonceRepository) DeleteExpired(ctx context.Context, cutoff time.Time) (int64, error) {
	return r.exec(ctx, `DELETE FROM login_nonces WHERE `+r.before("expires_at", 1), r.ts(cutoff))
}
