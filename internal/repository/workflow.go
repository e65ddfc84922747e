package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/stellara-labs/stellara/internal/database"
	"github.com/stellara-labs/stellara/pkg/stellara/core"
	"github.com/stellara-labs/stellara/pkg/stellara/domain"
	"github.com/stellara-labs/stellara/pkg/stellara/models"
)

type WorkflowRepository struct {
	store
}

// WorkflowOverviewRow holds grouped counts by executor_group and workflow_type
type WorkflowOverviewRow struct {
	ExecutorGroup   string `json:"executorGroup"`
	WorkflowType    string `json:"workflowType"`
	NewCount        int    `json:"new"`
	ScheduledCount  int    `json:"scheduled"`
	ExecutingCount  int    `json:"executing"`
	InProgressCount int    `json:"inProgress"`
	FinishedCount   int    `json:"finished"`
	FailedCount     int    `json:"failed"`
}

// DefinitionStateRow holds counts by state for a workflow type
type DefinitionStateRow struct {
	State           string `json:"state"`
	NewCount        int    `json:"new"`
	ScheduledCount  int    `json:"scheduled"`
	ExecutingCount  int    `json:"executing"`
	InProgressCount int    `json:"inProgress"`
	FinishedCount   int    `json:"finished"`
	FailedCount     int    `json:"failed"`
}

const workflowColumns = ` id, status, execution_count, retry_count, created, modified,
		       next_activation, started, executor_id, executor_group,
		       workflow_type, external_id, business_key, state, state_vars `

func NewWorkflowRepository(db *sql.DB, dialect database.Dialect, clock core.Clock) *WorkflowRepository {
	return &WorkflowRepository{store: newStore(db, dialect, clock)}
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanWorkflow(row rowScanner) (*domain.Workflow, error) {
	var wf domain.Workflow
	err := row.Scan(
		&wf.ID,
		&wf.Status,
		&wf.ExecutionCount,
		&wf.RetryCount,
		&wf.Created,
		&wf.Modified,
		&wf.NextActivation,
		&wf.Started,
		&wf.ExecutorID,
		&wf.ExecutorGroup,
		&wf.WorkflowType,
		&wf.ExternalID,
		&wf.BusinessKey,
		&wf.State,
		&wf.StateVars,
	)
	if err != nil {
		return nil, err
	}
	return &wf, nil
}

func (r *WorkflowRepository) queryWorkflows(ctx context.Context, query string, args ...any) ([]domain.Workflow, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	workflows := make([]domain.Workflow, 0)
	for rows.Next() {
		wf, err := scanWorkflow(rows)
		if err != nil {
			return nil, err
		}
		workflows = append(workflows, *wf)
	}
	return workflows, rows.Err()
}

// FindByID returns (nil, nil) when the workflow does not exist.
func (r *WorkflowRepository) FindByID(ctx context.Context, id int64) (*domain.Workflow, error) {
	query := `SELECT ` + workflowColumns + ` FROM workflow WHERE id = ` + r.placeholder(1)
	wf, err := scanWorkflow(r.db.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return wf, err
}

// FindByExternalID returns (nil, nil) when no workflow carries the external id.
func (r *WorkflowRepository) FindByExternalID(ctx context.Context, externalID string) (*domain.Workflow, error) {
	query := `SELECT ` + workflowColumns + ` FROM workflow WHERE external_id = ` + r.placeholder(1)
	wf, err := scanWorkflow(r.db.QueryRowContext(ctx, query, externalID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return wf, err
}

// Save inserts the workflow, filling Created and Modified when unset.
func (r *WorkflowRepository) Save(ctx context.Context, wf *domain.Workflow) (int64, error) {
	now := r.now()
	if wf.Created.IsZero() {
		wf.Created = now
	}
	if wf.Modified.IsZero() {
		wf.Modified = now
	}
	wf.Created = wf.Created.UTC().Truncate(time.Millisecond)
	wf.Modified = wf.Modified.UTC().Truncate(time.Millisecond)
	vals := []any{wf.Status, wf.ExecutionCount, wf.RetryCount, r.ts(wf.Created), r.ts(wf.Modified),
		r.tsNull(wf.NextActivation), r.tsNull(wf.Started), wf.ExecutorID, wf.ExecutorGroup,
		wf.WorkflowType, wf.ExternalID, wf.BusinessKey, wf.State, wf.StateVars}
	query := `INSERT INTO workflow (
		status, execution_count, retry_count, created, modified,
		next_activation, started, executor_id, executor_group,
		workflow_type, external_id, business_key, state, state_vars
	) VALUES (` + r.placeholders(1, len(vals)) + `)`
	id, err := r.insert(ctx, query, vals...)
	if err != nil {
		if isUniqueViolation(err) {
			return 0, fmt.Errorf("%w: external id %s", ErrDuplicate, wf.ExternalID)
		}
		return 0, err
	}
	wf.ID = id
	return id, nil
}

func (r *WorkflowRepository) FindPendingWorkflows(ctx context.Context, size int, executorGroup string) ([]domain.Workflow, error) {
	query := `
		SELECT ` + workflowColumns + `
		FROM workflow
		WHERE ` + r.before("next_activation", 1) + `
		  AND status IN ('NEW', 'IN_PROGRESS')
		  AND executor_id IS NULL
		  AND executor_group = ` + r.placeholder(2) + `
		ORDER BY next_activation ASC
		LIMIT ` + r.placeholder(3)
	return r.queryWorkflows(ctx, query, r.ts(r.now()), executorGroup, size)
}

// MarkWorkflowAsScheduledForExecution claims the workflow for executorID. It only
// succeeds when modified still matches what the caller read.
func (r *WorkflowRepository) MarkWorkflowAsScheduledForExecution(ctx context.Context, id int64, executorID int64, modified time.Time) (bool, error) {
	query := `
		UPDATE workflow
		SET status = 'SCHEDULED', modified = ` + r.placeholder(1) + `, executor_id = ` + r.placeholder(2) + `
		WHERE id = ` + r.placeholder(3) + ` AND modified = ` + r.placeholder(4) + `
		  AND status IN ('NEW', 'IN_PROGRESS') AND executor_id IS NULL`
	n, err := r.exec(ctx, query, r.ts(r.now()), executorID, id, r.ts(modified))
	if err != nil {
		slog.ErrorContext(ctx, "Failed to mark workflow as scheduled", "error", err, "id", id, "executorId", executorID, "modified", modified)
		return false, err
	}
	return n == 1, nil
}

// StartExecution sets EXECUTING and counts the execution.
func (r *WorkflowRepository) StartExecution(ctx context.Context, id int64) error {
	query := `
		UPDATE workflow
		SET status = 'EXECUTING', execution_count = execution_count + 1, modified = ` + r.placeholder(1) + `
		WHERE id = ` + r.placeholder(2)
	_, err := r.db.ExecContext(ctx, query, r.ts(r.now()), id)
	return err
}

// UpdateState moves the workflow to state and resets the retry counter.
func (r *WorkflowRepository) UpdateState(ctx context.Context, id int64, state string) error {
	query := `
		UPDATE workflow
		SET state = ` + r.placeholder(1) + `, modified = ` + r.placeholder(2) + `, retry_count = 0
		WHERE id = ` + r.placeholder(3)
	_, err := r.db.ExecContext(ctx, query, state, r.ts(r.now()), id)
	return err
}

func (r *WorkflowRepository) UpdateWorkflowStatus(ctx context.Context, id int64, status string) error {
	query := `
		UPDATE workflow
		SET status = ` + r.placeholder(1) + `, modified = ` + r.placeholder(2) + `
		WHERE id = ` + r.placeholder(3)
	_, err := r.db.ExecContext(ctx, query, status, r.ts(r.now()), id)
	return err
}

func (r *WorkflowRepository) UpdateWorkflowStartingTime(ctx context.Context, id int64) error {
	query := `UPDATE workflow SET started = ` + r.placeholder(1) + ` WHERE id = ` + r.placeholder(2)
	_, err := r.db.ExecContext(ctx, query, r.ts(r.now()), id)
	return err
}

func (r *WorkflowRepository) SaveWorkflowVariables(ctx context.Context, id int64, vars string) error {
	query := `UPDATE workflow SET state_vars = ` + r.placeholder(1) + ` WHERE id = ` + r.placeholder(2)
	_, err := r.db.ExecContext(ctx, query, vars, id)
	return err
}

// SaveWorkflowVariablesAndTouch updates state_vars and touches modified timestamp.
func (r *WorkflowRepository) SaveWorkflowVariablesAndTouch(ctx context.Context, id int64, vars string) error {
	query := `
		UPDATE workflow
		SET state_vars = ` + r.placeholder(1) + `, modified = ` + r.placeholder(2) + `
		WHERE id = ` + r.placeholder(3)
	_, err := r.db.ExecContext(ctx, query, vars, r.ts(r.now()), id)
	return err
}

// UpdateNextActivation parks the workflow as IN_PROGRESS until next.
func (r *WorkflowRepository) UpdateNextActivation(ctx context.Context, id int64, next time.Time) error {
	query := `
		UPDATE workflow
		SET status = 'IN_PROGRESS', next_activation = ` + r.placeholder(1) + `, modified = ` + r.placeholder(2) + `
		WHERE id = ` + r.placeholder(3)
	_, err := r.db.ExecContext(ctx, query, r.ts(next), r.ts(r.now()), id)
	return err
}

func (r *WorkflowRepository) ClearExecutorID(ctx context.Context, id int64) error {
	query := `UPDATE workflow SET executor_id = NULL, modified = ` + r.placeholder(1) + ` WHERE id = ` + r.placeholder(2)
	_, err := r.db.ExecContext(ctx, query, r.ts(r.now()), id)
	return err
}

func (r *WorkflowRepository) IncrementRetryCounterAndSetNextActivation(ctx context.Context, id int64, activation time.Time) error {
	query := `
		UPDATE workflow
		SET status = 'IN_PROGRESS', executor_id = NULL, retry_count = retry_count + 1,
		    next_activation = ` + r.placeholder(1) + `, modified = ` + r.placeholder(2) + `
		WHERE id = ` + r.placeholder(3)
	_, err := r.db.ExecContext(ctx, query, r.ts(activation), r.ts(r.now()), id)
	return err
}

// FindStuckWorkflows returns active workflows untouched for longer than repairAfter
// whose executor has not sent a heartbeat within the same window.
func (r *WorkflowRepository) FindStuckWorkflows(ctx context.Context, repairAfter time.Duration, executorGroup string, limit int) ([]domain.Workflow, error) {
	cutoff := r.ts(r.now().Add(-repairAfter))
	query := `
		SELECT ` + workflowColumns + `
		FROM workflow
		WHERE ` + r.before("modified", 1) + `
		  AND status IN ('SCHEDULED', 'EXECUTING', 'IN_PROGRESS', 'LOCK')
		  AND executor_group = ` + r.placeholder(2) + `
		  AND executor_id NOT IN (
		      SELECT id
		      FROM executors
		      WHERE ` + r.after("last_active", 3) + `
		  )
		ORDER BY next_activation ASC
		LIMIT ` + r.placeholder(4)
	return r.queryWorkflows(ctx, query, cutoff, executorGroup, cutoff, limit)
}

// LockWorkflowByModified takes the workflow into LOCK for repair when modified still matches.
func (r *WorkflowRepository) LockWorkflowByModified(ctx context.Context, id int64, modified time.Time) (bool, error) {
	query := `
		UPDATE workflow
		SET status = 'LOCK', executor_id = NULL, retry_count = retry_count + 1, modified = ` + r.placeholder(1) + `
		WHERE id = ` + r.placeholder(2) + ` AND modified = ` + r.placeholder(3)
	n, err := r.exec(ctx, query, r.ts(r.now()), id, r.ts(modified))
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

// ChangeState is the manual state change. It reschedules the workflow to run
// immediately in state and fails when modified no longer matches.
func (r *WorkflowRepository) ChangeState(ctx context.Context, id int64, state string, modified time.Time) (bool, error) {
	now := r.ts(r.now())
	query := `
		UPDATE workflow
		SET state = ` + r.placeholder(1) + `, status = 'IN_PROGRESS', retry_count = 0, executor_id = NULL,
		    next_activation = ` + r.placeholder(2) + `, modified = ` + r.placeholder(3) + `
		WHERE id = ` + r.placeholder(4) + ` AND modified = ` + r.placeholder(5) + `
		  AND status NOT IN ('SCHEDULED', 'EXECUTING')`
	n, err := r.exec(ctx, query, state, now, now, id, r.ts(modified))
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

func (r *WorkflowRepository) SearchWorkflows(ctx context.Context, req models.SearchWorkflowRequest) ([]domain.Workflow, error) {
	whereClause, args := r.buildWhereClause(req)
	query := `
		SELECT ` + workflowColumns + `
		FROM workflow
		` + whereClause + `
		ORDER BY id DESC` + r.limitOffset(req.Limit, req.Offset)
	return r.queryWorkflows(ctx, query, args...)
}

// GetWorkflowOverview returns aggregated counts grouped by executor_group and workflow_type
func (r *WorkflowRepository) GetWorkflowOverview(ctx context.Context) ([]WorkflowOverviewRow, error) {
	query := `
SELECT
    executor_group,
    workflow_type,
    SUM(CASE WHEN status = 'NEW' THEN 1 ELSE 0 END) AS new_count,
    SUM(CASE WHEN status = 'SCHEDULED' THEN 1 ELSE 0 END) AS scheduled_count,
    SUM(CASE WHEN status = 'EXECUTING' THEN 1 ELSE 0 END) AS executing_count,
    SUM(CASE WHEN status = 'IN_PROGRESS' THEN 1 ELSE 0 END) AS in_progress_count,
    SUM(CASE WHEN status = 'FINISHED' THEN 1 ELSE 0 END) AS finished_count,
    SUM(CASE WHEN status = 'FAILED' THEN 1 ELSE 0 END) AS failed_count
FROM workflow
GROUP BY executor_group, workflow_type
ORDER BY executor_group, workflow_type`
	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	res := make([]WorkflowOverviewRow, 0)
	for rows.Next() {
		var row WorkflowOverviewRow
		if err := rows.Scan(&row.ExecutorGroup, &row.WorkflowType, &row.NewCount, &row.ScheduledCount,
			&row.ExecutingCount, &row.InProgressCount, &row.FinishedCount, &row.FailedCount); err != nil {
			return nil, err
		}
		res = append(res, row)
	}
	return res, rows.Err()
}

// GetDefinitionStateOverview returns counts by state for a given workflow type
func (r *WorkflowRepository) GetDefinitionStateOverview(ctx context.Context, workflowType string) ([]DefinitionStateRow, error) {
	query := `
SELECT
    state,
    SUM(CASE WHEN status = 'NEW' THEN 1 ELSE 0 END) AS new_count,
    SUM(CASE WHEN status = 'SCHEDULED' THEN 1 ELSE 0 END) AS scheduled_count,
    SUM(CASE WHEN status = 'EXECUTING' THEN 1 ELSE 0 END) AS executing_count,
    SUM(CASE WHEN status = 'IN_PROGRESS' THEN 1 ELSE 0 END) AS in_progress_count,
    SUM(CASE WHEN status = 'FINISHED' THEN 1 ELSE 0 END) AS finished_count,
    SUM(CASE WHEN status = 'FAILED' THEN 1 ELSE 0 END) AS failed_count
FROM workflow
WHERE workflow_type = ` + r.placeholder(1) + `
GROUP BY state
ORDER BY state`
	rows, err := r.db.QueryContext(ctx, query, workflowType)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	res := make([]DefinitionStateRow, 0)
	for rows.Next() {
		var row DefinitionStateRow
		if err := rows.Scan(&row.State, &row.NewCount, &row.ScheduledCount, &row.ExecutingCount,
			&row.InProgressCount, &row.FinishedCount, &row.FailedCount); err != nil {
			return nil, err
		}
		res = append(res, row)
	}
	return res, rows.Err()
}

func (r *WorkflowRepository) buildWhereClause(req models.SearchWorkflowRequest) (string, []any) {
	var andClauses []string
	var args []any

	// id, external_id and business_key identify a workflow, any of them may match
	var orClauses []string
	if req.ID != 0 {
		args = append(args, req.ID)
		orClauses = append(orClauses, "id = "+r.placeholder(len(args)))
	}
	if req.ExternalID != "" {
		args = append(args, req.ExternalID)
		orClauses = append(orClauses, "external_id = "+r.placeholder(len(args)))
	}
	if req.BusinessKey != "" {
		args = append(args, req.BusinessKey)
		orClauses = append(orClauses, "business_key = "+r.placeholder(len(args)))
	}

	if req.ExecutorGroup != "" {
		args = append(args, req.ExecutorGroup)
		andClauses = append(andClauses, "executor_group = "+r.placeholder(len(args)))
	}
	if req.WorkflowType != "" {
		args = append(args, req.WorkflowType)
		andClauses = append(andClauses, "workflow_type = "+r.placeholder(len(args)))
	}
	if req.State != "" {
		args = append(args, req.State)
		andClauses = append(andClauses, "state = "+r.placeholder(len(args)))
	}
	if req.Status != "" {
		args = append(args, req.Status)
		andClauses = append(andClauses, "status = "+r.placeholder(len(args)))
	}

	if len(orClauses) > 0 {
		andClauses = append(andClauses, "("+strings.Join(orClauses, " OR ")+")")
	}
	if len(andClauses) == 0 {
		return "", args
	}
	return " WHERE " + strings.Join(andClauses, " AND "), args
}
