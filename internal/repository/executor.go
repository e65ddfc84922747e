package repository

import (
	"context"
	"database/sql"
	"time"

	"github.com/stellara-labs/stellara/internal/database"
	"github.com/stellara-labs/stellara/pkg/stellara/core"
	"github.com/stellara-labs/stellara/pkg/stellara/domain"
)

// ExecutorRepository provides persistence for executors table.
type ExecutorRepository struct {
	store
}

func NewExecutorRepository(db *sql.DB, dialect database.Dialect, clock core.Clock) *ExecutorRepository {
	return &ExecutorRepository{store: newStore(db, dialect, clock)}
}

// Save inserts a new executor row and returns its ID.
func (r *ExecutorRepository) Save(ctx context.Context, e *domain.Executor) (int64, error) {
	if e.Started.IsZero() {
		e.Started = r.now()
	}
	if e.LastActive.IsZero() {
		e.LastActive = e.Started
	}
	query := `INSERT INTO executors (name, started, last_active) VALUES (` + r.placeholders(1, 3) + `)`
	id, err := r.insert(ctx, query, e.Name, r.ts(e.Started), r.ts(e.LastActive))
	if err != nil {
		return 0, err
	}
	e.ID = id
	return id, nil
}

// UpdateLastActive sets last_active for the executor id to the provided timestamp.
func (r *ExecutorRepository) UpdateLastActive(ctx context.Context, id int64, ts time.Time) error {
	query := `UPDATE executors SET last_active = ` + r.placeholder(1) + ` WHERE id = ` + r.placeholder(2)
	_, err := r.db.ExecContext(ctx, query, r.ts(ts), id)
	return err
}

func (r *ExecutorRepository) GetExecutorsByLastActive(ctx context.Context, limit int) ([]*domain.Executor, error) {
	query := `
		SELECT id, name, started, last_active
		FROM executors
		ORDER BY last_active DESC
		LIMIT ` + r.placeholder(1)
	rows, err := r.db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	executors := make([]*domain.Executor, 0)
	for rows.Next() {
		var e domain.Executor
		if err := rows.Scan(&e.ID, &e.Name, &e.Started, &e.LastActive); err != nil {
			return nil, err
		}
		executors = append(executors, &e)
	}
	return executors, rows.Err()
}
