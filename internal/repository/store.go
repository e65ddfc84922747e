package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/stellara-labs/stellara/internal/database"
	"github.com/stellara-labs/stellara/pkg/stellara/core"
)

const sqliteTimeFormat = "2006-01-02 15:04:05.000"

// store carries the connection and the dialect specifics every repository needs.
type store struct {
	db      *sql.DB
	dialect database.Dialect
	clock   core.Clock
}

func newStore(db *sql.DB, dialect database.Dialect, clock core.Clock) store {
	if clock == nil {
		clock = core.NewRealClock()
	}
	return store{db: db, dialect: dialect, clock: clock}
}

// placeholder returns the correct bind variable for the given index based on DB type.
// Postgres uses $1, $2... while MySQL and SQLite use ?
func (s store) placeholder(i int) string {
	if s.dialect == database.Postgres {
		return fmt.Sprintf("$%d", i)
	}
	return "?"
}

// placeholders returns n comma separated bind variables starting at index from.
func (s store) placeholders(from, n int) string {
	pps := make([]string, 0, n)
	for i := 0; i < n; i++ {
		pps = append(pps, s.placeholder(from+i))
	}
	return strings.Join(pps, ", ")
}

func (s store) supportsReturning() bool {
	return s.dialect == database.Postgres
}

// now is the clock time truncated to what every dialect stores losslessly, so
// values read back compare equal in optimistic lock predicates.
func (s store) now() time.Time {
	return s.clock.Now().UTC().Truncate(time.Millisecond)
}

// ts converts a time into the bind value for the dialect.
func (s store) ts(t time.Time) any {
	t = t.UTC().Truncate(time.Millisecond)
	if s.dialect == database.SQLite {
		return t.Format(sqliteTimeFormat)
	}
	return t
}

func (s store) tsNull(t sql.NullTime) any {
	if !t.Valid {
		return nil
	}
	return s.ts(t.Time)
}

// before returns a predicate that the column is strictly before the bind variable at index i.
// SQLite compares through julianday() so stored text timestamps order correctly.
func (s store) before(column string, i int) string {
	if s.dialect == database.SQLite {
		return fmt.Sprintf("julianday(%s) < julianday(%s)", column, s.placeholder(i))
	}
	return fmt.Sprintf("%s < %s", column, s.placeholder(i))
}

func (s store) after(column string, i int) string {
	if s.dialect == database.SQLite {
		return fmt.Sprintf("julianday(%s) > julianday(%s)", column, s.placeholder(i))
	}
	return fmt.Sprintf("%s > %s", column, s.placeholder(i))
}

// insert runs an INSERT and returns the generated id.
func (s store) insert(ctx context.Context, query string, args ...any) (int64, error) {
	if s.supportsReturning() {
		var id int64
		err := s.db.QueryRowContext(ctx, query+" RETURNING id", args...).Scan(&id)
		return id, err
	}
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

// exec runs a statement and returns the number of affected rows.
func (s store) exec(ctx context.Context, query string, args ...any) (int64, error) {
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func (s store) limitOffset(limit, offset int64) string {
	if limit > 0 {
		return fmt.Sprintf(" LIMIT %d OFFSET %d", limit, offset)
	}
	return ""
}

// isUniqueViolation reports whether err is a unique constraint failure on any supported dialect.
func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "unique constraint") ||
		strings.Contains(msg, "duplicate key") ||
		strings.Contains(msg, "duplicate entry") ||
		strings.Contains(msg, "unique_violation")
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func nullInt64(v int64) sql.NullInt64 {
	return sql.NullInt64{Int64: v, Valid: v != 0}
}

// ErrDuplicate is returned when an insert hits a unique constraint.
var ErrDuplicate = errors.New("duplicate record")
