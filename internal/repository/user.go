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

// UserRepository provides persistence methods for the users table.
type UserRepository struct {
	store
}

func NewUserRepository(db *sql.DB, dialect database.Dialect, clock core.Clock) *UserRepository {
	return &UserRepository{store: newStore(db, dialect, clock)}
}

const userColumns = `id, username, password_hash, role, display_name, email, enabled, deleted, failed_logins, created, updated`

func scanUser(row rowScanner) (*domain.User, error) {
	var u domain.User
	var role string
	err := row.Scan(&u.ID, &u.Username, &u.PasswordHash, &role, &u.DisplayName, &u.Email,
		&u.Enabled, &u.Deleted, &u.FailedLogins, &u.Created, &u.Updated)
	if err != nil {
		return nil, err
	}
	u.Role = domain.Role(role)
	return &u, nil
}

func (r *UserRepository) findOne(ctx context.Context, where string, arg any) (*domain.User, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE ` + where + ` = ` + r.placeholder(1)
	u, err := scanUser(r.db.QueryRowContext(ctx, query, arg))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return u, err
}

// Save inserts a new user and returns its generated id.
func (r *UserRepository) Save(ctx context.Context, u *domain.User) (int64, error) {
	now := r.now()
	u.Created, u.Updated = now, now
	if u.Role == "" {
		u.Role = domain.RoleUser
	}
	query := `INSERT INTO users (` + userColumns[4:] + `) VALUES (` + r.placeholders(1, 10) + `)`
	id, err := r.insert(ctx, query, u.Username, u.PasswordHash, string(u.Role), u.DisplayName, u.Email,
		u.Enabled, u.Deleted, u.FailedLogins, r.ts(u.Created), r.ts(u.Updated))
	if err != nil {
		if isUniqueViolation(err) {
			return 0, fmt.Errorf("%w: username %s", ErrDuplicate, u.Username)
		}
		return 0, err
	}
	u.ID = id
	return id, nil
}

// FindByID returns (nil, nil) if not found.
func (r *UserRepository) FindByID(ctx context.Context, id int64) (*domain.User, error) {
	return r.findOne(ctx, "id", id)
}

// FindByUsername fetches a user by exact username. Returns (nil, nil) if not found.
func (r *UserRepository) FindByUsername(ctx context.Context, username string) (*domain.User, error) {
	return r.findOne(ctx, "username", username)
}

// FindAll returns users that are not deleted ordered by id ascending.
func (r *UserRepository) FindAll(ctx context.Context) ([]domain.User, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE deleted = ` + r.placeholder(1) + ` ORDER BY id ASC`
	rows, err := r.db.QueryContext(ctx, query, false)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	users := make([]domain.User, 0)
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, err
		}
		users = append(users, *u)
	}
	return users, rows.Err()
}

// UpdateAccess changes role and/or enabled; nil leaves the column untouched.
func (r *UserRepository) UpdateAccess(ctx context.Context, id int64, role *domain.Role, enabled *bool) error {
	query := `
		UPDATE users
		SET role = COALESCE(` + r.placeholder(1) + `, role),
		    enabled = COALESCE(` + r.placeholder(2) + `, enabled),
		    updated = ` + r.placeholder(3) + `
		WHERE id = ` + r.placeholder(4)
	var roleArg, enabledArg any
	if role != nil {
		roleArg = string(*role)
	}
	if enabled != nil {
		enabledArg = *enabled
	}
	_, err := r.db.ExecContext(ctx, query, roleArg, enabledArg, r.ts(r.now()), id)
	return err
}

func (r *UserRepository) UpdateProfile(ctx context.Context, id int64, displayName, email string) error {
	query := `
		UPDATE users
		SET display_name = ` + r.placeholder(1) + `, email = ` + r.placeholder(2) + `, updated = ` + r.placeholder(3) + `
		WHERE id = ` + r.placeholder(4)
	_, err := r.db.ExecContext(ctx, query, nullString(displayName), nullString(email), r.ts(r.now()), id)
	return err
}

func (r *UserRepository) UpdatePassword(ctx context.Context, id int64, hash string) error {
	query := `UPDATE users SET password_hash = ` + r.placeholder(1) + `, updated = ` + r.placeholder(2) + ` WHERE id = ` + r.placeholder(3)
	_, err := r.db.ExecContext(ctx, query, hash, r.ts(r.now()), id)
	return err
}

// IncrementFailedLogins bumps the counter and disables the account once max is reached.
// enabled is assigned first because MySQL evaluates SET clauses left to right.
func (r *UserRepository) IncrementFailedLogins(ctx context.Context, id int64, max int) error {
	query := `
		UPDATE users
		SET enabled = CASE WHEN failed_logins + 1 >= ` + r.placeholder(1) + ` THEN ` + r.placeholder(2) + ` ELSE enabled END,
		    failed_logins = failed_logins + 1
		WHERE id = ` + r.placeholder(3)
	_, err := r.db.ExecContext(ctx, query, max, false, id)
	return err
}

func (r *UserRepository) ResetFailedLogins(ctx context.Context, id int64) error {
	query := `UPDATE users SET failed_logins = 0 WHERE id = ` + r.placeholder(1)
	_, err := r.db.ExecContext(ctx, query, id)
	return err
}

// SoftDelete marks the user deleted and disabled. Rows are kept for audit references.
func (r *UserRepository) SoftDelete(ctx context.Context, id int64) error {
	query := `UPDATE users SET deleted = ` + r.placeholder(1) + `, enabled = ` + r.placeholder(2) + `, updated = ` + r.placeholder(3) + ` WHERE id = ` + r.placeholder(4)
	_, err := r.db.ExecContext(ctx, query, true, false, r.ts(r.now()), id)
	return err
}

// Anonymize strips personal data from the user record and disables it.
func (r *UserRepository) Anonymize(ctx context.Context, id int64) error {
	query := `
		UPDATE users
		SET username = ` + r.placeholder(1) + `, password_hash = NULL, display_name = NULL, email = NULL,
		    enabled = ` + r.placeholder(2) + `, deleted = ` + r.placeholder(3) + `, updated = ` + r.placeholder(4) + `
		WHERE id = ` + r.placeholder(5)
	_, err := r.db.ExecContext(ctx, query, fmt.Sprintf("erased-%d", id), false, true, r.ts(r.now()), id)
	return err
}
