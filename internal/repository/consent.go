package repository

import (
	"context"
	"database/sql"

	"github.com/stellara-labs/stellara/internal/database"
	"github.com/stellara-labs/stellara/pkg/stellara/core"
	"github.com/stellara-labs/stellara/pkg/stellara/domain"
)

// ConsentRepository only appends; history is never rewritten.
type ConsentRepository struct {
	store
}

func NewConsentRepository(db *sql.DB, dialect database.Dialect, clock core.Clock) *ConsentRepository {
	return &ConsentRepository{store: newStore(db, dialect, clock)}
}

const consentColumns = `id, user_id, purpose, granted, version, ip, user_agent, created`

func (r *ConsentRepository) Save(ctx context.Context, c *domain.Consent) (int64, error) {
	c.Created = r.now()
	query := `INSERT INTO consents (` + consentColumns[4:] + `) VALUES (` + r.placeholders(1, 7) + `)`
	id, err := r.insert(ctx, query, c.UserID, string(c.Purpose), c.Granted, c.Version, c.IP, c.UserAgent, r.ts(c.Created))
	if err != nil {
		return 0, err
	}
	c.ID = id
	return id, nil
}

func (r *ConsentRepository) query(ctx context.Context, query string, args ...any) ([]domain.Consent, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	consents := make([]domain.Consent, 0)
	for rows.Next() {
		var c domain.Consent
		var purpose string
		if err := rows.Scan(&c.ID, &c.UserID, &purpose, &c.Granted, &c.Version, &c.IP, &c.UserAgent, &c.Created); err != nil {
			return nil, err
		}
		c.Purpose = domain.ConsentPurpose(purpose)
		consents = append(consents, c)
	}
	return consents, rows.Err()
}

// History returns every consent record of the user, newest first.
func (r *ConsentRepository) History(ctx context.Context, userID int64) ([]domain.Consent, error) {
	query := `SELECT ` + consentColumns + ` FROM consents WHERE user_id = ` + r.placeholder(1) + ` ORDER BY id DESC`
	return r.query(ctx, query, userID)
}

// Current returns the latest record per purpose.
func (r *ConsentRepository) Current(ctx context.Context, userID int64) ([]domain.Consent, error) {
	query := `
		SELECT ` + consentColumns + `
		FROM consents
		WHERE id IN (
		    SELECT MAX(id) FROM consents WHERE user_id = ` + r.placeholder(1) + ` GROUP BY purpose
		)
		ORDER BY purpose`
	return r.query(ctx, query, userID)
}

// Latest returns the newest record for a purpose or (nil, nil).
func (r *ConsentRepository) Latest(ctx context.Context, userID int64, purpose domain.ConsentPurpose) (*domain.Consent, error) {
	query := `SELECT ` + consentColumns + ` FROM consents
		WHERE user_id = ` + r.placeholder(1) + ` AND purpose = ` + r.placeholder(2) + `
		ORDER BY id DESC LIMIT 1`
	consents, err := r.query(ctx, query, userID, string(purpose))
	if err != nil || len(consents) == 0 {
		return nil, err
	}
	return &consents[0], nil
}

// AnonymizeUser clears network identifiers but keeps the consent trail.
func (r *ConsentRepository) AnonymizeUser(ctx context.Context, userID int64) (int64, error) {
	return r.exec(ctx, `UPDATE consents SET ip = '', user_agent = '' WHERE user_id = `+r.placeholder(1), userID)
}
