package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/stellara-labs/stellara/internal/database"
	"github.com/stellara-labs/stellara/pkg/stellara/core"
	"github.com/stellara-labs/stellara/pkg/stellara/domain"
)

type WalletBindingRepository struct {
	store
}

func NewWalletBindingRepository(db *sql.DB, dialect database.Dialect, clock core.Clock) *WalletBindingRepository {
	return &WalletBindingRepository{store: newStore(db, dialect, clock)}
}

const walletBindingColumns = `id, user_id, public_key, label, is_primary, created`

func scanWalletBinding(row rowScanner) (*domain.WalletBinding, error) {
	var b domain.WalletBinding
	if err := row.Scan(&b.ID, &b.UserID, &b.PublicKey, &b.Label, &b.Primary, &b.Created); err != nil {
		return nil, err
	}
	return &b, nil
}

// Save binds a public key to a user. A key already bound to anyone yields ErrDuplicate.
func (r *WalletBindingRepository) Save(ctx context.Context, b *domain.WalletBinding) (int64, error) {
	b.Created = r.now()
	query := `INSERT INTO wallet_bindings (user_id, public_key, label, is_primary, created) VALUES (` + r.placeholders(1, 5) + `)`
	id, err := r.insert(ctx, query, b.UserID, b.PublicKey, b.Label, b.Primary, r.ts(b.Created))
	if err != nil {
		if isUniqueViolation(err) {
			return 0, fmt.Errorf("%w: wallet %s", ErrDuplicate, b.PublicKey)
		}
		return 0, err
	}
	b.ID = id
	return id, nil
}

// FindByPublicKey returns (nil, nil) when the key is not bound.
func (r *WalletBindingRepository) FindByPublicKey(ctx context.Context, publicKey string) (*domain.WalletBinding, error) {
	query := `SELECT ` + walletBindingColumns + ` FROM wallet_bindings WHERE public_key = ` + r.placeholder(1)
	b, err := scanWalletBinding(r.db.QueryRowContext(ctx, query, publicKey))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return b, err
}

func (r *WalletBindingRepository) FindByUserID(ctx context.Context, userID int64) ([]domain.WalletBinding, error) {
	query := `SELECT ` + walletBindingColumns + ` FROM wallet_bindings WHERE user_id = ` + r.placeholder(1) + ` ORDER BY id ASC`
	rows, err := r.db.QueryContext(ctx, query, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	bindings := make([]domain.WalletBinding, 0)
	for rows.Next() {
		b, err := scanWalletBinding(rows)
		if err != nil {
			return nil, err
		}
		bindings = append(bindings, *b)
	}
	return bindings, rows.Err()
}

// Delete removes the binding of publicKey owned by userID and reports whether it existed.
func (r *WalletBindingRepository) Delete(ctx context.Context, userID int64, publicKey string) (bool, error) {
	query := `DELETE FROM wallet_bindings WHERE user_id = ` + r.placeholder(1) + ` AND public_key = ` + r.placeholder(2)
	n, err := r.exec(ctx, query, userID, publicKey)
	return n == 1, err
}

func (r *WalletBindingRepository) DeleteByUserID(ctx context.Context, userID int64) (int64, error) {
	return r.exec(ctx, `DELETE FROM wallet_bindings WHERE user_id = `+r.placeholder(1), userID)
}
