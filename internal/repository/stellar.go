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

// StellarRepository stores subscriptions, per account cursors and observed events.
type StellarRepository struct {
	store
}

func NewStellarRepository(db *sql.DB, dialect database.Dialect, clock core.Clock) *StellarRepository {
	return &StellarRepository{store: newStore(db, dialect, clock)}
}

const subscriptionColumns = `id, user_id, account, webhook_url, secret, event_types, active, created`

func scanSubscription(row rowScanner) (*domain.StellarSubscription, error) {
	var s domain.StellarSubscription
	if err := row.Scan(&s.ID, &s.UserID, &s.Account, &s.WebhookURL, &s.Secret, &s.EventTypes, &s.Active, &s.Created); err != nil {
		return nil, err
	}
	return &s, nil
}

func (r *StellarRepository) querySubscriptions(ctx context.Context, query string, args ...any) ([]domain.StellarSubscription, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	subs := make([]domain.StellarSubscription, 0)
	for rows.Next() {
		s, err := scanSubscription(rows)
		if err != nil {
			return nil, err
		}
		subs = append(subs, *s)
	}
	return subs, rows.Err()
}

func (r *StellarRepository) SaveSubscription(ctx context.Context, s *domain.StellarSubscription) (int64, error) {
	s.Created = r.now()
	query := `INSERT INTO stellar_subscriptions (` + subscriptionColumns[4:] + `) VALUES (` + r.placeholders(1, 7) + `)`
	id, err := r.insert(ctx, query, s.UserID, s.Account, s.WebhookURL, s.Secret, s.EventTypes, s.Active, r.ts(s.Created))
	if err != nil {
		return 0, err
	}
	s.ID = id
	return id, nil
}

// FindSubscription returns (nil, nil) if not found.
func (r *StellarRepository) FindSubscription(ctx context.Context, id int64) (*domain.StellarSubscription, error) {
	query := `SELECT ` + subscriptionColumns + ` FROM stellar_subscriptions WHERE id = ` + r.placeholder(1)
	s, err := scanSubscription(r.db.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return s, err
}

func (r *StellarRepository) SubscriptionsByUser(ctx context.Context, userID int64) ([]domain.StellarSubscription, error) {
	query := `SELECT ` + subscriptionColumns + ` FROM stellar_subscriptions WHERE user_id = ` + r.placeholder(1) + ` ORDER BY id DESC`
	return r.querySubscriptions(ctx, query, userID)
}

func (r *StellarRepository) ActiveSubscriptionsForAccount(ctx context.Context, account string) ([]domain.StellarSubscription, error) {
	query := `SELECT ` + subscriptionColumns + ` FROM stellar_subscriptions
		WHERE account = ` + r.placeholder(1) + ` AND active = ` + r.placeholder(2) + ` ORDER BY id ASC`
	return r.querySubscriptions(ctx, query, account, true)
}

// ActiveAccounts lists every account with at least one active subscription.
func (r *StellarRepository) ActiveAccounts(ctx context.Context) ([]string, error) {
	query := `SELECT DISTINCT account FROM stellar_subscriptions WHERE active = ` + r.placeholder(1) + ` ORDER BY account`
	rows, err := r.db.QueryContext(ctx, query, true)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	accounts := make([]string, 0)
	for rows.Next() {
		var a string
		if err := rows.Scan(&a); err != nil {
			return nil, err
		}
		accounts = append(accounts, a)
	}
	return accounts, rows.Err()
}

// UserWatchesAccount reports whether the user has any subscription for the account.
func (r *StellarRepository) UserWatchesAccount(ctx context.Context, userID int64, account string) (bool, error) {
	query := `SELECT COUNT(*) FROM stellar_subscriptions WHERE user_id = ` + r.placeholder(1) + ` AND account = ` + r.placeholder(2)
	var n int
	if err := r.db.QueryRowContext(ctx, query, userID, account).Scan(&n); err != nil {
		return false, err
	}
	return n > 0, nil
}

func (r *StellarRepository) SetSubscriptionActive(ctx context.Context, id int64, active bool) error {
	_, err := r.db.ExecContext(ctx, `UPDATE stellar_subscriptions SET active = `+r.placeholder(1)+` WHERE id = `+r.placeholder(2), active, id)
	return err
}

func (r *StellarRepository) DeactivateUserSubscriptions(ctx context.Context, userID int64) (int64, error) {
	return r.exec(ctx, `UPDATE stellar_subscriptions SET active = `+r.placeholder(1)+` WHERE user_id = `+r.placeholder(2), false, userID)
}

// DeleteSubscription removes a subscription owned by userID and reports whether it existed.
func (r *StellarRepository) DeleteSubscription(ctx context.Context, userID, id int64) (bool, error) {
	n, err := r.exec(ctx, `DELETE FROM stellar_subscriptions WHERE id = `+r.placeholder(1)+` AND user_id = `+r.placeholder(2), id, userID)
	return n == 1, err
}

// Cursor returns (nil, nil) when the account has never been polled.
func (r *StellarRepository) Cursor(ctx context.Context, account string) (*domain.StellarCursor, error) {
	query := `SELECT account, paging_cursor, updated FROM stellar_cursors WHERE account = ` + r.placeholder(1)
	var c domain.StellarCursor
	err := r.db.QueryRowContext(ctx, query, account).Scan(&c.Account, &c.Cursor, &c.Updated)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &c, nil
}

func (r *StellarRepository) Cursors(ctx context.Context) ([]domain.StellarCursor, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT account, paging_cursor, updated FROM stellar_cursors ORDER BY account`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	cursors := make([]domain.StellarCursor, 0)
	for rows.Next() {
		var c domain.StellarCursor
		if err := rows.Scan(&c.Account, &c.Cursor, &c.Updated); err != nil {
			return nil, err
		}
		cursors = append(cursors, c)
	}
	return cursors, rows.Err()
}

// SaveCursor upserts the paging cursor of an account.
func (r *StellarRepository) SaveCursor(ctx context.Context, account, cursor string) error {
	query := `INSERT INTO stellar_cursors (account, paging_cursor, updated) VALUES (` + r.placeholders(1, 3) + `)`
	if r.dialect == database.MySQL {
		query += ` ON DUPLICATE KEY UPDATE paging_cursor = VALUES(paging_cursor), updated = VALUES(updated)`
	} else {
		query += ` ON CONFLICT (account) DO UPDATE SET paging_cursor = EXCLUDED.paging_cursor, updated = EXCLUDED.updated`
	}
	_, err := r.db.ExecContext(ctx, query, account, cursor, r.ts(r.now()))
	return err
}

// SaveEvent stores an observed operation. It returns false without error when the
// operation was already recorded for the account.
func (r *StellarRepository) SaveEvent(ctx context.Context, e *domain.StellarEvent) (bool, error) {
	e.Created = r.now()
	query := `INSERT INTO stellar_events (account, operation_id, paging_token, type, tx_hash, ledger_closed_at, payload, created)
		VALUES (` + r.placeholders(1, 8) + `)`
	id, err := r.insert(ctx, query, e.Account, e.OperationID, e.PagingToken, e.Type, e.TxHash,
		r.ts(e.LedgerClosedAt), e.Payload, r.ts(e.Created))
	if err != nil {
		if isUniqueViolation(err) {
			return false, r.existingEventID(ctx, e)
		}
		return false, fmt.Errorf("save stellar event %s: %w", e.OperationID, err)
	}
	e.ID = id
	return true, nil
}

// existingEventID fills e.ID from the row that already holds the same account and operation.
func (r *StellarRepository) existingEventID(ctx context.Context, e *domain.StellarEvent) error {
	query := `SELECT id FROM stellar_events WHERE account = ` + r.placeholder(1) + ` AND operation_id = ` + r.placeholder(2)
	if err := r.db.QueryRowContext(ctx, query, e.Account, e.OperationID).Scan(&e.ID); err != nil {
		return fmt.Errorf("load stored stellar event %s: %w", e.OperationID, err)
	}
	return nil
}

// FindEvent returns (nil, nil) if not found.
func (r *StellarRepository) FindEvent(ctx context.Context, id int64) (*domain.StellarEvent, error) {
	query := `SELECT id, account, operation_id, paging_token, type, tx_hash, ledger_closed_at, payload, created
		FROM stellar_events WHERE id = ` + r.placeholder(1)
	events, err := r.queryEvents(ctx, query, id)
	if err != nil || len(events) == 0 {
		return nil, err
	}
	return &events[0], nil
}

// Events lists events of an account, newest first.
func (r *StellarRepository) Events(ctx context.Context, account string, limit, offset int64) ([]domain.StellarEvent, error) {
	query := `SELECT id, account, operation_id, paging_token, type, tx_hash, ledger_closed_at, payload, created
		FROM stellar_events WHERE account = ` + r.placeholder(1) + ` ORDER BY id DESC` + r.limitOffset(limit, offset)
	return r.queryEvents(ctx, query, account)
}

func (r *StellarRepository) queryEvents(ctx context.Context, query string, args ...any) ([]domain.StellarEvent, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	events := make([]domain.StellarEvent, 0)
	for rows.Next() {
		var e domain.StellarEvent
		if err := rows.Scan(&e.ID, &e.Account, &e.OperationID, &e.PagingToken, &e.Type, &e.TxHash,
			&e.LedgerClosedAt, &e.Payload, &e.Created); err != nil {
			return nil, err
		}
		events = append(events, e)
	}
	return events, rows.Err()
}
