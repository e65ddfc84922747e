package engine

import (
	"context"
	"errors"
	"reflect"
	"slices"
	"testing"
	"time"

	"github.com/stellara-labs/stellara/pkg/stellara/core"
	"github.com/stellara-labs/stellara/pkg/stellara/domain"
	"github.com/stellara-labs/stellara/pkg/stellara/models"
)

var testStart = time.Date(2025, 3, 14, 9, 26, 53, 0, time.UTC)

// MockWorkflow walks Start -> Step1 -> End, Step1 misbehaves on demand.
type MockWorkflow struct {
	core.BaseWorkflow
	ShouldPanic     bool
	ShouldError     bool
	PermanentError  bool
	InvalidNext     bool
	Delay           time.Duration
	ValueReturnType bool
}

func newMockWorkflow(wf domain.Workflow) *MockWorkflow {
	m := &MockWorkflow{}
	m.Setup(&wf)
	return m
}

func (m *MockWorkflow) Description() string { return "Mock Workflow" }

func (m *MockWorkflow) StateTransitions() map[string][]string {
	return map[string][]string{
		"Start": {"Step1"},
		"Step1": {"End"},
	}
}

func (m *MockWorkflow) InitialState() string { return "Start" }

func (m *MockWorkflow) GetAllStates() []models.WorkflowState {
	return []models.WorkflowState{
		{Name: "Start", StateType: models.StateStart},
		{Name: "Step1", StateType: models.StateNormal},
		{Name: "End", StateType: models.StateEnd},
	}
}

func (m *MockWorkflow) GetRetryConfig() models.RetryConfig {
	return models.RetryConfig{
		MaxRetryCount:    3,
		RetryIntervalMin: 1 * time.Second,
		RetryIntervalMax: 5 * time.Second,
	}
}

func (m *MockWorkflow) Start(ctx context.Context) (*models.NextState, error) {
	return &models.NextState{Name: "Step1"}, nil
}

func (m *MockWorkflow) Step1(ctx context.Context) (*models.NextState, error) {
	m.StateVariables["visited"] = "yes"
	switch {
	case m.ShouldPanic:
		panic("boom")
	case m.PermanentError:
		return nil, core.Permanent(errors.New("no such endpoint"))
	case m.ShouldError:
		return nil, errors.New("something went wrong")
	case m.InvalidNext:
		return &models.NextState{Name: "Start"}, nil
	}
	return &models.NextState{Name: "End", Delay: m.Delay, ActionLog: "step one done"}, nil
}

func runMock(t *testing.T, wf *MockWorkflow, repo *MockWorkflowRepo) *MockStepRepo {
	t.Helper()
	steps := &MockStepRepo{}
	defer func() {
		if r := recover(); r != nil {
			t.Fatalf("RunWorkflow should have recovered internally but panicked with: %v", r)
		}
	}()
	RunWorkflow(context.Background(), wf, repo, steps, 7, "worker1", core.NewFakeClock(testStart))
	return steps
}

func TestRunWorkflow_Success(t *testing.T) {
	var states, statuses []string
	cleared := false
	repo := &MockWorkflowRepo{
		UpdateStateFunc: func(id int64, state string) error {
			states = append(states, state)
			return nil
		},
		UpdateWorkflowStatusFunc: func(id int64, status string) error {
			statuses = append(statuses, status)
			return nil
		},
		ClearExecutorIDFunc: func(id int64) error {
			cleared = true
			return nil
		},
	}
	wf := newMockWorkflow(domain.Workflow{ID: 1, State: "Start"})

	steps := runMock(t, wf, repo)

	if !slices.Equal(states, []string{"Step1", "End"}) {
		t.Errorf("unexpected state updates: %v", states)
	}
	if !slices.Equal(statuses, []string{domain.WorkflowStatusFinished}) {
		t.Errorf("unexpected status updates: %v", statuses)
	}
	if !cleared {
		t.Error("expected executor id to be cleared")
	}
	want := []string{domain.StepExecuting, domain.StepStarting, domain.StepTransition, domain.StepTransition, domain.StepLog, domain.StepEnd}
	if got := steps.Types(); !slices.Equal(got, want) {
		t.Errorf("steps = %v, want %v", got, want)
	}
	if wf.GetWorkflowData().ExecutionCount != 1 {
		t.Errorf("execution count = %d, want 1", wf.GetWorkflowData().ExecutionCount)
	}
}

func TestRunWorkflow_SavesChangedStateVars(t *testing.T) {
	var saved string
	repo := &MockWorkflowRepo{
		SaveWorkflowVariablesFunc: func(id int64, vars string) error {
			saved = vars
			return nil
		},
	}
	wf := newMockWorkflow(domain.Workflow{ID: 1, State: "Step1"})

	runMock(t, wf, repo)

	if saved != `{"visited":"yes"}` {
		t.Errorf("saved vars = %q", saved)
	}
}

func TestRunWorkflow_PanicRecovery(t *testing.T) {
	retried := false
	repo := &MockWorkflowRepo{
		IncrementRetryCounterAndSetNextActivationFunc: func(id int64, activation time.Time) error {
			retried = true
			return nil
		},
	}
	wf := newMockWorkflow(domain.Workflow{ID: 1, State: "Step1"})
	wf.ShouldPanic = true

	steps := runMock(t, wf, repo)

	if !retried {
		t.Error("expected a panic to be retried")
	}
	if !slices.Contains(steps.Types(), domain.StepError) {
		t.Errorf("expected an ERROR step, got %v", steps.Types())
	}
}

func TestRunWorkflow_RetryLogic(t *testing.T) {
	var activation time.Time
	repo := &MockWorkflowRepo{
		IncrementRetryCounterAndSetNextActivationFunc: func(id int64, next time.Time) error {
			activation = next
			return nil
		},
	}
	wf := newMockWorkflow(domain.Workflow{ID: 1, State: "Step1"})
	wf.ShouldError = true

	steps := runMock(t, wf, repo)

	if !activation.Equal(testStart.Add(time.Second)) {
		t.Errorf("retry activation = %s, want %s", activation, testStart.Add(time.Second))
	}
	if got := steps.Types(); got[len(got)-1] != domain.StepRetry {
		t.Errorf("last step = %s, want RETRY", got[len(got)-1])
	}
}

func TestRunWorkflow_MaxRetryFails(t *testing.T) {
	var status string
	repo := &MockWorkflowRepo{
		UpdateWorkflowStatusFunc: func(id int64, s string) error {
			status = s
			return nil
		},
		IncrementRetryCounterAndSetNextActivationFunc: func(id int64, activation time.Time) error {
			t.Error("a workflow over its retry budget must not be retried")
			return nil
		},
	}
	wf := newMockWorkflow(domain.Workflow{ID: 1, State: "Step1", RetryCount: 3})
	wf.ShouldError = true

	steps := runMock(t, wf, repo)

	if status != domain.WorkflowStatusFailed {
		t.Errorf("status = %q, want FAILED", status)
	}
	if !slices.Contains(steps.Types(), domain.StepFailed) {
		t.Errorf("expected a FAILED step, got %v", steps.Types())
	}
}

func TestRunWorkflow_PermanentErrorFailsImmediately(t *testing.T) {
	var status string
	repo := &MockWorkflowRepo{
		UpdateWorkflowStatusFunc: func(id int64, s string) error {
			status = s
			return nil
		},
	}
	wf := newMockWorkflow(domain.Workflow{ID: 1, State: "Step1"})
	wf.PermanentError = true

	runMock(t, wf, repo)

	if status != domain.WorkflowStatusFailed {
		t.Errorf("status = %q, want FAILED", status)
	}
}

func TestRunWorkflow_InvalidTransitionIsRetried(t *testing.T) {
	retried := false
	repo := &MockWorkflowRepo{
		UpdateStateFunc: func(id int64, state string) error {
			t.Errorf("state must not change on an invalid transition, got %s", state)
			return nil
		},
		IncrementRetryCounterAndSetNextActivationFunc: func(id int64, activation time.Time) error {
			retried = true
			return nil
		},
	}
	wf := newMockWorkflow(domain.Workflow{ID: 1, State: "Step1"})
	wf.InvalidNext = true

	runMock(t, wf, repo)

	if !retried {
		t.Error("expected invalid transition to go through retry handling")
	}
}

func TestRunWorkflow_DelaySchedulesActivation(t *testing.T) {
	var next time.Time
	finished := false
	repo := &MockWorkflowRepo{
		UpdateNextActivationFunc: func(id int64, n time.Time) error {
			next = n
			return nil
		},
		UpdateWorkflowStatusFunc: func(id int64, status string) error {
			finished = status == domain.WorkflowStatusFinished
			return nil
		},
	}
	wf := newMockWorkflow(domain.Workflow{ID: 1, State: "Step1"})
	wf.Delay = 10 * time.Minute

	steps := runMock(t, wf, repo)

	if !next.Equal(testStart.Add(10 * time.Minute)) {
		t.Errorf("next activation = %s", next)
	}
	if finished {
		t.Error("a delayed workflow must not finish in the same run")
	}
	if !slices.Contains(steps.Types(), domain.StepScheduleActivation) {
		t.Errorf("expected a SCHEDULE_ACTIVATION step, got %v", steps.Types())
	}
}

func TestCallState_AcceptsValueNextState(t *testing.T) {
	ns, err := callState(context.Background(), reflectValue(valueWorkflow{}), "Go")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ns.Name != "Done" {
		t.Errorf("next = %s, want Done", ns.Name)
	}
	if _, err := callState(context.Background(), reflectValue(valueWorkflow{}), "Missing"); err == nil {
		t.Error("expected an error for a missing state method")
	}
}

type valueWorkflow struct{}

func (valueWorkflow) Go(ctx context.Context) (models.NextState, error) {
	return models.NextState{Name: "Done"}, nil
}

func reflectValue(v any) reflect.Value { return reflect.ValueOf(v) }
