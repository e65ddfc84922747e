package engine

import (
	"context"
	"sync"
	"time"

	"github.com/stellara-labs/stellara/internal/repository"
	"github.com/stellara-labs/stellara/pkg/stellara/domain"
	"github.com/stellara-labs/stellara/pkg/stellara/models"
)

// MockWorkflowRepo implements WorkflowRepo for testing
type MockWorkflowRepo struct {
	SaveFunc                                      func(wf *domain.Workflow) (int64, error)
	FindByIDFunc                                  func(id int64) (*domain.Workflow, error)
	FindByExternalIDFunc                          func(externalID string) (*domain.Workflow, error)
	FindPendingWorkflowsFunc                      func(size int, executorGroup string) ([]domain.Workflow, error)
	MarkWorkflowAsScheduledForExecutionFunc       func(id int64, executorID int64, modified time.Time) (bool, error)
	StartExecutionFunc                            func(id int64) error
	UpdateWorkflowStatusFunc                      func(id int64, status string) error
	UpdateStateFunc                               func(id int64, state string) error
	SaveWorkflowVariablesFunc                     func(id int64, vars string) error
	SaveWorkflowVariablesAndTouchFunc             func(id int64, vars string) error
	UpdateNextActivationFunc                      func(id int64, next time.Time) error
	ClearExecutorIDFunc                           func(id int64) error
	IncrementRetryCounterAndSetNextActivationFunc func(id int64, activation time.Time) error
	FindStuckWorkflowsFunc                        func(repairAfter time.Duration, executorGroup string, limit int) ([]domain.Workflow, error)
	LockWorkflowByModifiedFunc                    func(id int64, modified time.Time) (bool, error)
	ChangeStateFunc                               func(id int64, state string, modified time.Time) (bool, error)
}

func (m *MockWorkflowRepo) Save(_ context.Context, wf *domain.Workflow) (int64, error) {
	if m.SaveFunc != nil {
		return m.SaveFunc(wf)
	}
	wf.ID = 1
	return 1, nil
}
func (m *MockWorkflowRepo) FindByID(_ context.Context, id int64) (*domain.Workflow, error) {
	if m.FindByIDFunc != nil {
		return m.FindByIDFunc(id)
	}
	return nil, nil
}
func (m *MockWorkflowRepo) FindByExternalID(_ context.Context, externalID string) (*domain.Workflow, error) {
	if m.FindByExternalIDFunc != nil {
		return m.FindByExternalIDFunc(externalID)
	}
	return nil, nil
}
func (m *MockWorkflowRepo) FindPendingWorkflows(_ context.Context, size int, executorGroup string) ([]domain.Workflow, error) {
	if m.FindPendingWorkflowsFunc != nil {
		return m.FindPendingWorkflowsFunc(size, executorGroup)
	}
	return nil, nil
}
func (m *MockWorkflowRepo) MarkWorkflowAsScheduledForExecution(_ context.Context, id int64, executorID int64, modified time.Time) (bool, error) {
	if m.MarkWorkflowAsScheduledForExecutionFunc != nil {
		return m.MarkWorkflowAsScheduledForExecutionFunc(id, executorID, modified)
	}
	return true, nil
}
func (m *MockWorkflowRepo) StartExecution(_ context.Context, id int64) error {
	if m.StartExecutionFunc != nil {
		return m.StartExecutionFunc(id)
	}
	return nil
}
func (m *MockWorkflowRepo) UpdateWorkflowStatus(_ context.Context, id int64, status string) error {
	if m.UpdateWorkflowStatusFunc != nil {
		return m.UpdateWorkflowStatusFunc(id, status)
	}
	return nil
}
func (m *MockWorkflowRepo) UpdateWorkflowStartingTime(context.Context, int64) error { return nil }
func (m *MockWorkflowRepo) UpdateState(_ context.Context, id int64, state string) error {
	if m.UpdateStateFunc != nil {
		return m.UpdateStateFunc(id, state)
	}
	return nil
}
func (m *MockWorkflowRepo) SaveWorkflowVariables(_ context.Context, id int64, vars string) error {
	if m.SaveWorkflowVariablesFunc != nil {
		return m.SaveWorkflowVariablesFunc(id, vars)
	}
	return nil
}
func (m *MockWorkflowRepo) SaveWorkflowVariablesAndTouch(_ context.Context, id int64, vars string) error {
	if m.SaveWorkflowVariablesAndTouchFunc != nil {
		return m.SaveWorkflowVariablesAndTouchFunc(id, vars)
	}
	return nil
}
func (m *MockWorkflowRepo) UpdateNextActivation(_ context.Context, id int64, next time.Time) error {
	if m.UpdateNextActivationFunc != nil {
		return m.UpdateNextActivationFunc(id, next)
	}
	return nil
}
func (m *MockWorkflowRepo) ClearExecutorID(_ context.Context, id int64) error {
	if m.ClearExecutorIDFunc != nil {
		return m.ClearExecutorIDFunc(id)
	}
	return nil
}
func (m *MockWorkflowRepo) IncrementRetryCounterAndSetNextActivation(_ context.Context, id int64, activation time.Time) error {
	if m.IncrementRetryCounterAndSetNextActivationFunc != nil {
		return m.IncrementRetryCounterAndSetNextActivationFunc(id, activation)
	}
	return nil
}
func (m *MockWorkflowRepo) FindStuckWorkflows(_ context.Context, repairAfter time.Duration, executorGroup string, limit int) ([]domain.Workflow, error) {
	if m.FindStuckWorkflowsFunc != nil {
		return m.FindStuckWorkflowsFunc(repairAfter, executorGroup, limit)
	}
	return nil, nil
}
func (m *MockWorkflowRepo) LockWorkflowByModified(_ context.Context, id int64, modified time.Time) (bool, error) {
	if m.LockWorkflowByModifiedFunc != nil {
		return m.LockWorkflowByModifiedFunc(id, modified)
	}
	return true, nil
}
func (m *MockWorkflowRepo) ChangeState(_ context.Context, id int64, state string, modified time.Time) (bool, error) {
	if m.ChangeStateFunc != nil {
		return m.ChangeStateFunc(id, state, modified)
	}
	return true, nil
}
func (m *MockWorkflowRepo) SearchWorkflows(context.Context, models.SearchWorkflowRequest) ([]domain.Workflow, error) {
	return nil, nil
}
func (m *MockWorkflowRepo) GetWorkflowOverview(context.Context) ([]repository.WorkflowOverviewRow, error) {
	return nil, nil
}
func (m *MockWorkflowRepo) GetDefinitionStateOverview(context.Context, string) ([]repository.DefinitionStateRow, error) {
	return nil, nil
}

// MockStepRepo records every saved step.
type MockStepRepo struct {
	mu    sync.Mutex
	Steps []domain.WorkflowStep
}

func (m *MockStepRepo) Save(_ context.Context, s *domain.WorkflowStep) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Steps = append(m.Steps, *s)
	return int64(len(m.Steps)), nil
}
func (m *MockStepRepo) FindAllByWorkflowID(_ context.Context, workflowID int64) ([]domain.WorkflowStep, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.WorkflowStep
	for _, s := range m.Steps {
		if s.WorkflowID == workflowID {
			out = append(out, s)
		}
	}
	return out, nil
}

// Types returns the recorded step types in order.
func (m *MockStepRepo) Types() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, 0, len(m.Steps))
	for _, s := range m.Steps {
		out = append(out, s.Type)
	}
	return out
}

type MockExecutorRepo struct {
	SaveFunc                     func(e *domain.Executor) (int64, error)
	GetExecutorsByLastActiveFunc func(limit int) ([]*domain.Executor, error)
}

func (m *MockExecutorRepo) Save(_ context.Context, e *domain.Executor) (int64, error) {
	if m.SaveFunc != nil {
		return m.SaveFunc(e)
	}
	return 1, nil
}
func (m *MockExecutorRepo) UpdateLastActive(context.Context, int64, time.Time) error { return nil }
func (m *MockExecutorRepo) GetExecutorsByLastActive(_ context.Context, limit int) ([]*domain.Executor, error) {
	if m.GetExecutorsByLastActiveFunc != nil {
		return m.GetExecutorsByLastActiveFunc(limit)
	}
	return nil, nil
}

type MockDefinitionRepo struct {
	FindAllFunc    func() ([]domain.WorkflowDefinition, error)
	FindByNameFunc func(name string) (*domain.WorkflowDefinition, error)
	SaveFunc       func(def *domain.WorkflowDefinition) error
}

func (m *MockDefinitionRepo) FindAll(context.Context) ([]domain.WorkflowDefinition, error) {
	if m.FindAllFunc != nil {
		return m.FindAllFunc()
	}
	return nil, nil
}
func (m *MockDefinitionRepo) FindByName(_ context.Context, name string) (*domain.WorkflowDefinition, error) {
	if m.FindByNameFunc != nil {
		return m.FindByNameFunc(name)
	}
	return nil, nil
}
func (m *MockDefinitionRepo) Save(_ context.Context, def *domain.WorkflowDefinition) error {
	if m.SaveFunc != nil {
		return m.SaveFunc(def)
	}
	return nil
}
