package engine

import (
	"context"
	"time"

	"github.com/stellara-labs/stellara/internal/repository"
	"github.com/stellara-labs/stellara/pkg/stellara/domain"
	"github.com/stellara-labs/stellara/pkg/stellara/models"
)

// WorkflowRepo defines the interface for workflow persistence, matching repository.WorkflowRepository.
type WorkflowRepo interface {
	Save(ctx context.Context, wf *domain.Workflow) (int64, error)
	FindByID(ctx context.Context, id int64) (*domain.Workflow, error)
	FindByExternalID(ctx context.Context, externalID string) (*domain.Workflow, error)
	FindPendingWorkflows(ctx context.Context, size int, executorGroup string) ([]domain.Workflow, error)
	MarkWorkflowAsScheduledForExecution(ctx context.Context, id int64, executorID int64, modified time.Time) (bool, error)
	StartExecution(ctx context.Context, id int64) error
	UpdateWorkflowStatus(ctx context.Context, id int64, status string) error
	UpdateWorkflowStartingTime(ctx context.Context, id int64) error
	UpdateState(ctx context.Context, id int64, state string) error
	SaveWorkflowVariables(ctx context.Context, id int64, vars string) error
	SaveWorkflowVariablesAndTouch(ctx context.Context, id int64, vars string) error
	UpdateNextActivation(ctx context.Context, id int64, next time.Time) error
	ClearExecutorID(ctx context.Context, id int64) error
	IncrementRetryCounterAndSetNextActivation(ctx context.Context, id int64, activation time.Time) error
	FindStuckWorkflows(ctx context.Context, repairAfter time.Duration, executorGroup string, limit int) ([]domain.Workflow, error)
	LockWorkflowByModified(ctx context.Context, id int64, modified time.Time) (bool, error)
	ChangeState(ctx context.Context, id int64, state string, modified time.Time) (bool, error)
	SearchWorkflows(ctx context.Context, req models.SearchWorkflowRequest) ([]domain.Workflow, error)
	GetWorkflowOverview(ctx context.Context) ([]repository.WorkflowOverviewRow, error)
	GetDefinitionStateOverview(ctx context.Context, workflowType string) ([]repository.DefinitionStateRow, error)
}

// WorkflowStepRepo defines the interface for the per-workflow step history.
type WorkflowStepRepo interface {
	Save(ctx context.Context, s *domain.WorkflowStep) (int64, error)
	FindAllByWorkflowID(ctx context.Context, workflowID int64) ([]domain.WorkflowStep, error)
}

// ExecutorRepo defines the interface for executor persistence.
type ExecutorRepo interface {
	Save(ctx context.Context, e *domain.Executor) (int64, error)
	UpdateLastActive(ctx context.Context, id int64, ts time.Time) error
	GetExecutorsByLastActive(ctx context.Context, limit int) ([]*domain.Executor, error)
}

// DefinitionRepo defines the interface for workflow definition persistence.
type DefinitionRepo interface {
	FindAll(ctx context.Context) ([]domain.WorkflowDefinition, error)
	FindByName(ctx context.Context, name string) (*domain.WorkflowDefinition, error)
	Save(ctx context.Context, def *domain.WorkflowDefinition) error
}
