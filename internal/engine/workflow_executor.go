package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"reflect"
	"slices"
	"time"

	"github.com/stellara-labs/stellara/internal/telemetry"
	"github.com/stellara-labs/stellara/pkg/stellara/core"
	"github.com/stellara-labs/stellara/pkg/stellara/domain"
	"github.com/stellara-labs/stellara/pkg/stellara/models"
)

var (
	errorType     = reflect.TypeOf((*error)(nil)).Elem()
	nextStateType = reflect.TypeOf(models.NextState{})
	contextType   = reflect.TypeOf((*context.Context)(nil)).Elem()
)

// execution carries everything one run of a workflow needs.
type execution struct {
	w          core.Workflow
	r          WorkflowRepo
	sr         WorkflowStepRepo
	executorID int64
	workerID   string
	clock      core.Clock
}

// RunWorkflow executes the workflow from its persisted state until it reaches a
// terminal state, schedules a later activation, or fails.
func RunWorkflow(ctx context.Context, w core.Workflow, r WorkflowRepo, sr WorkflowStepRepo, executorID int64, workerID string, clock core.Clock) {
	if clock == nil {
		clock = core.NewRealClock()
	}
	e := &execution{w: w, r: r, sr: sr, executorID: executorID, workerID: workerID, clock: clock}
	started := clock.Now()
	outcome := e.run(ctx)
	telemetry.RecordWorkflowExecution(w.GetWorkflowData().WorkflowType, outcome, clock.Now().Sub(started))
}

func (e *execution) data() *domain.Workflow {
	return e.w.GetWorkflowData()
}

func (e *execution) step(ctx context.Context, typ, name, text string) {
	wf := e.data()
	_, err := e.sr.Save(ctx, &domain.WorkflowStep{
		WorkflowID:     wf.ID,
		ExecutorID:     e.executorID,
		ExecutionCount: wf.ExecutionCount,
		RetryCount:     wf.RetryCount,
		Type:           typ,
		Name:           name,
		Text:           text,
		DateTime:       e.clock.Now(),
	})
	if err != nil {
		slog.ErrorContext(ctx, "Failed to save workflow step", "workflow_id", wf.ID, "type", typ, "error", err)
	}
}

func (e *execution) run(ctx context.Context) (outcome string) {
	wf := e.data()
	slog.InfoContext(ctx, "Running workflow", "workflow_id", wf.ID, "worker_id", e.workerID)

	currentState := wf.State
	defer func() {
		if rec := recover(); rec != nil {
			slog.ErrorContext(ctx, "Workflow state panicked", "workflow_id", wf.ID, "state", currentState, "panic", rec, "worker_id", e.workerID)
			outcome = e.processStateExecutionError(ctx, currentState, fmt.Errorf("panic in state %s: %v", currentState, rec))
		}
	}()

	if err := e.r.StartExecution(ctx, wf.ID); err != nil {
		slog.ErrorContext(ctx, "Error updating workflow status", "error", err, "worker_id", e.workerID)
		return "error"
	}
	wf.ExecutionCount++
	e.step(ctx, domain.StepExecuting, domain.StepExecuting, "Executing on worker "+e.workerID)

	if currentState == e.w.InitialState() {
		if err := e.r.UpdateWorkflowStartingTime(ctx, wf.ID); err != nil {
			slog.ErrorContext(ctx, "Error updating workflow starting time", "error", err, "worker_id", e.workerID)
			return "error"
		}
		e.step(ctx, domain.StepStarting, currentState, "Starting Workflow")
	}

	val := reflect.ValueOf(e.w)
	transitions := e.w.StateTransitions()

	for {
		if isTerminalState(e.w, currentState) {
			return e.processWorkflowCompleted(ctx, currentState)
		}

		ns, callErr := callState(ctx, val, currentState)
		if callErr != nil {
			return e.processStateExecutionError(ctx, currentState, callErr)
		}

		nextState := ns.Name
		if !slices.Contains(transitions[currentState], nextState) {
			e.step(ctx, domain.StepError, "Invalid Transition", fmt.Sprintf("transition from %s to %s is not allowed", currentState, nextState))
			return e.processStateExecutionError(ctx, currentState, fmt.Errorf("invalid state transition from %s to %s", currentState, nextState))
		}

		slog.InfoContext(ctx, "Transitioning state", "workflow_id", wf.ID, "from", currentState, "to", nextState, "worker_id", e.workerID)
		e.step(ctx, domain.StepTransition, currentState, "From "+currentState+" to "+nextState)
		previous := currentState
		currentState = nextState

		// this also resets the retry count
		if err := e.r.UpdateState(ctx, wf.ID, currentState); err != nil {
			slog.ErrorContext(ctx, "Error updating workflow state", "error", err, "worker_id", e.workerID)
			return "error"
		}
		wf.State = currentState
		wf.RetryCount = 0

		if !e.compareAndSaveWorkflowStateVars(ctx) {
			return "error"
		}

		if ns.ActionLog != "" {
			e.step(ctx, domain.StepLog, previous, ns.ActionLog)
		}

		next := ns.NextExecution
		if next.IsZero() && ns.Delay > 0 {
			next = e.clock.Now().Add(ns.Delay)
		}
		if !next.IsZero() {
			slog.InfoContext(ctx, "Setting next activation", "workflow_id", wf.ID, "next_activation", next, "worker_id", e.workerID)
			if err := e.r.UpdateNextActivation(ctx, wf.ID, next); err != nil {
				slog.ErrorContext(ctx, "Error updating next activation", "error", err, "worker_id", e.workerID)
				return "error"
			}
			e.step(ctx, domain.StepScheduleActivation, currentState, next.UTC().Format(time.RFC3339))
			break
		}
	}

	e.step(ctx, domain.StepFinished, currentState, "Execution finished, waiting for activation")
	// clear out the executor id for another to pick up the workflow
	if err := e.r.ClearExecutorID(ctx, wf.ID); err != nil {
		slog.ErrorContext(ctx, "Error clearing executor id", "error", err, "worker_id", e.workerID)
		return "error"
	}
	slog.InfoContext(ctx, "Workflow execution finished", "workflow_id", wf.ID, "worker_id", e.workerID)
	return "scheduled"
}

// callState invokes the exported method named after the state.
func callState(ctx context.Context, val reflect.Value, state string) (*models.NextState, error) {
	method := val.MethodByName(state)
	if !method.IsValid() {
		return nil, fmt.Errorf("method %s not found", state)
	}
	results := method.Call([]reflect.Value{reflect.ValueOf(ctx)})
	if len(results) != 2 {
		return nil, fmt.Errorf("method %s should return (*NextState, error)", state)
	}
	if !results[1].IsNil() {
		return nil, results[1].Interface().(error)
	}
	switch ns := results[0].Interface().(type) {
	case *models.NextState:
		if ns == nil {
			return nil, fmt.Errorf("method %s returned a nil NextState", state)
		}
		return ns, nil
	case models.NextState:
		return &ns, nil
	default:
		return nil, fmt.Errorf("method %s did not return a NextState as first value", state)
	}
}

func isTerminalState(w core.Workflow, name string) bool {
	state, ok := models.LookupState(w.GetAllStates(), name)
	return ok && state.Terminal()
}

func (e *execution) processWorkflowCompleted(ctx context.Context, currentState string) string {
	wf := e.data()
	slog.InfoContext(ctx, "Workflow completed", "workflow_id", wf.ID, "state", currentState, "worker_id", e.workerID)
	if err := e.r.UpdateWorkflowStatus(ctx, wf.ID, domain.WorkflowStatusFinished); err != nil {
		slog.ErrorContext(ctx, "Error updating workflow status", "error", err, "worker_id", e.workerID)
		return "error"
	}
	e.step(ctx, domain.StepEnd, currentState, "workflow complete")
	if err := e.r.ClearExecutorID(ctx, wf.ID); err != nil {
		slog.ErrorContext(ctx, "Error clearing executor id", "error", err, "worker_id", e.workerID)
	}
	return "finished"
}

func (e *execution) processStateExecutionError(ctx context.Context, currentState string, callErr error) string {
	wf := e.data()
	slog.ErrorContext(ctx, "Error executing state method", "workflow_id", wf.ID, "state", currentState, "error", callErr, "worker_id", e.workerID)
	e.step(ctx, domain.StepError, currentState, callErr.Error())

	cfg := e.w.GetRetryConfig()
	if cfg.Exhausted(wf.RetryCount) || errors.Is(callErr, core.ErrPermanent) {
		slog.ErrorContext(ctx, "Workflow failed", "workflow_id", wf.ID, "retries", wf.RetryCount, "worker_id", e.workerID)
		if err := e.r.UpdateWorkflowStatus(ctx, wf.ID, domain.WorkflowStatusFailed); err != nil {
			slog.ErrorContext(ctx, "Error updating workflow status", "error", err, "worker_id", e.workerID)
		}
		e.step(ctx, domain.StepFailed, currentState, fmt.Sprintf("Giving up on workflow id:%d after %d retries", wf.ID, wf.RetryCount))
		if err := e.r.ClearExecutorID(ctx, wf.ID); err != nil {
			slog.ErrorContext(ctx, "Error clearing executor id", "error", err, "worker_id", e.workerID)
		}
		return "failed"
	}

	if !e.compareAndSaveWorkflowStateVars(ctx) {
		return "error"
	}

	nextActivation := e.clock.Now().Add(cfg.Backoff(wf.RetryCount))
	if err := e.r.IncrementRetryCounterAndSetNextActivation(ctx, wf.ID, nextActivation); err != nil {
		slog.ErrorContext(ctx, "Error incrementing retry count", "error", err, "worker_id", e.workerID)
		return "error"
	}
	e.step(ctx, domain.StepRetry, currentState, "Retry at "+nextActivation.UTC().Format(time.RFC3339))
	return "retry"
}

// compareAndSaveWorkflowStateVars persists the state variables when a state changed them.
func (e *execution) compareAndSaveWorkflowStateVars(ctx context.Context) bool {
	wf := e.data()
	vars := e.w.GetStateVariables()
	if vars == nil {
		return true
	}
	b, err := json.Marshal(vars)
	if err != nil {
		slog.ErrorContext(ctx, "Error serializing workflow variables", "error", err, "worker_id", e.workerID)
		return false
	}
	if string(b) == wf.StateVars.String {
		return true
	}
	slog.DebugContext(ctx, "Updating workflow variables", "workflow_id", wf.ID, "worker_id", e.workerID)
	if err := e.r.SaveWorkflowVariables(ctx, wf.ID, string(b)); err != nil {
		slog.ErrorContext(ctx, "Error saving workflow variables", "error", err, "worker_id", e.workerID)
		return false
	}
	wf.StateVars.String = string(b)
	wf.StateVars.Valid = true
	return true
}
