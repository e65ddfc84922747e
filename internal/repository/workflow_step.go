package repository

import (
	"context"
	"database/sql"
	"log/slog"

	"github.com/stellara-labs/stellara/internal/database"
	"github.com/stellara-labs/stellara/pkg/stellara/core"
	"github.com/stellara-labs/stellara/pkg/stellara/domain"
)

// WorkflowStepRepository persists the execution history of workflows.
type WorkflowStepRepository struct {
	store
}

func NewWorkflowStepRepository(db *sql.DB, dialect database.Dialect, clock core.Clock) *WorkflowStepRepository {
	return &WorkflowStepRepository{store: newStore(db, dialect, clock)}
}

const workflowStepColumns = `id, workflow_id, executor_id, execution_count, retry_count, type, name, text, date_time`

// Save inserts a new workflow step and returns its ID.
func (r *WorkflowStepRepository) Save(ctx context.Context, s *domain.WorkflowStep) (int64, error) {
	if s.DateTime.IsZero() {
		s.DateTime = r.now()
	}
	query := `
		INSERT INTO workflow_steps (
			workflow_id, executor_id, execution_count, retry_count, type, name, text, date_time
		) VALUES (` + r.placeholders(1, 8) + `)`
	id, err := r.insert(ctx, query, s.WorkflowID, s.ExecutorID, s.ExecutionCount, s.RetryCount,
		s.Type, s.Name, s.Text, r.ts(s.DateTime))
	if err != nil {
		slog.ErrorContext(ctx, "Failed to save workflow step", "workflow_id", s.WorkflowID, "type", s.Type, "error", err)
		return 0, err
	}
	s.ID = id
	return id, nil
}

// FindAllByWorkflowID returns the steps of a workflow, newest first.
func (r *WorkflowStepRepository) FindAllByWorkflowID(ctx context.Context, workflowID int64) ([]domain.WorkflowStep, error) {
	query := `
		SELECT ` + workflowStepColumns + `
		FROM workflow_steps
		WHERE workflow_id = ` + r.placeholder(1) + `
		ORDER BY id DESC`
	rows, err := r.db.QueryContext(ctx, query, workflowID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	steps := make([]domain.WorkflowStep, 0)
	for rows.Next() {
		var s domain.WorkflowStep
		if err := rows.Scan(&s.ID, &s.WorkflowID, &s.ExecutorID, &s.ExecutionCount, &s.RetryCount,
			&s.Type, &s.Name, &s.Text, &s.DateTime); err != nil {
			return nil, err
		}
		steps = append(steps, s)
	}
	return steps, rows.Err()
}

