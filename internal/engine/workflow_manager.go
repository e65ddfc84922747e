package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"os"
	"reflect"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/stellara-labs/stellara/internal/config"
	"github.com/stellara-labs/stellara/internal/repository"
	"github.com/stellara-labs/stellara/pkg/stellara/core"
	"github.com/stellara-labs/stellara/pkg/stellara/domain"
	"github.com/stellara-labs/stellara/pkg/stellara/models"
)

var (
	ErrUnknownWorkflowType = errors.New("unknown workflow type")
	ErrInvalidState        = errors.New("state is not defined for this workflow type")
	ErrWorkflowBusy        = errors.New("unable to acquire lock; workflow busy")
	ErrInvalidDelay        = errors.New("invalid delay")
)

type WorkflowManager struct {
	registry       map[string]func() core.Workflow
	WorkflowRepo   WorkflowRepo
	StepRepo       WorkflowStepRepo
	executorRepo   ExecutorRepo
	DefinitionRepo DefinitionRepo
	cfg            config.Engine
	executorName   string
	executorID     int64
	queue          chan core.Workflow
	wakeup         chan struct{}
	clock          core.Clock
}

func NewWorkflowManager(workflowRepo WorkflowRepo, stepRepo WorkflowStepRepo, executorRepo ExecutorRepo,
	definitionRepo DefinitionRepo, registry map[string]func() core.Workflow, cfg config.Engine, executorName string, clock core.Clock) *WorkflowManager {
	if clock == nil {
		clock = core.NewRealClock()
	}
	queueSize := cfg.BatchSize
	if queueSize <= 0 {
		queueSize = 10
	}
	return &WorkflowManager{
		registry:       registry,
		WorkflowRepo:   workflowRepo,
		StepRepo:       stepRepo,
		executorRepo:   executorRepo,
		DefinitionRepo: definitionRepo,
		cfg:            cfg,
		executorName:   executorName,
		queue:          make(chan core.Workflow, queueSize),
		wakeup:         make(chan struct{}, 1),
		clock:          clock,
	}
}

// ExecutorID is the id this instance registered under, zero before StartEngine.
func (wm *WorkflowManager) ExecutorID() int64 {
	return wm.executorID
}

// WorkflowTypes lists the registered workflow type names.
func (wm *WorkflowManager) WorkflowTypes() []string {
	return slices.Sorted(maps.Keys(wm.registry))
}

// ListWorkflowDefinitions exposes repository list for API layers.
func (wm *WorkflowManager) ListWorkflowDefinitions(ctx context.Context) ([]domain.WorkflowDefinition, error) {
	return wm.DefinitionRepo.FindAll(ctx)
}

// GetWorkflowDefinitionByName returns nil when the definition is unknown.
func (wm *WorkflowManager) GetWorkflowDefinitionByName(ctx context.Context, name string) (*domain.WorkflowDefinition, error) {
	return wm.DefinitionRepo.FindByName(ctx, name)
}

// ListExecutors returns recent executors ordered by last_active desc.
func (wm *WorkflowManager) ListExecutors(ctx context.Context, limit int) ([]*domain.Executor, error) {
	return wm.executorRepo.GetExecutorsByLastActive(ctx, limit)
}

func (wm *WorkflowManager) SearchWorkflows(ctx context.Context, req models.SearchWorkflowRequest) ([]domain.Workflow, error) {
	return wm.WorkflowRepo.SearchWorkflows(ctx, req)
}

func (wm *WorkflowManager) Overview(ctx context.Context) ([]repository.WorkflowOverviewRow, error) {
	return wm.WorkflowRepo.GetWorkflowOverview(ctx)
}

func (wm *WorkflowManager) DefinitionOverview(ctx context.Context, workflowType string) ([]repository.DefinitionStateRow, error) {
	return wm.WorkflowRepo.GetDefinitionStateOverview(ctx, workflowType)
}

// Steps returns the execution history of a workflow, newest first.
func (wm *WorkflowManager) Steps(ctx context.Context, workflowID int64) ([]domain.WorkflowStep, error) {
	return wm.StepRepo.FindAllByWorkflowID(ctx, workflowID)
}

// FindWorkflow resolves a numeric id first and falls back to the external id.
func (wm *WorkflowManager) FindWorkflow(ctx context.Context, idOrExternalID string) (*domain.Workflow, error) {
	if id, err := strconv.ParseInt(idOrExternalID, 10, 64); err == nil {
		wf, err := wm.WorkflowRepo.FindByID(ctx, id)
		if err != nil || wf != nil {
			return wf, err
		}
	}
	return wm.WorkflowRepo.FindByExternalID(ctx, idOrExternalID)
}

// StartEngine registers this executor and the workflow definitions, starts the
// workers and the repair service, then polls until ctx is cancelled.
func (wm *WorkflowManager) StartEngine(ctx context.Context) error {
	if err := wm.RegisterWorkflowDefinitions(ctx); err != nil {
		return err
	}
	if err := wm.registerExecutorInstance(ctx); err != nil {
		return err
	}

	go wm.startWorkflowRepairService(ctx)

	workers := max(wm.cfg.ExecutorSize, 1)
	slog.InfoContext(ctx, "Starting workflow engine", "workers", workers, "queue_size", cap(wm.queue), "executor_group", wm.cfg.ExecutorGroup)
	for i := 0; i < workers; i++ {
		workerCtx := context.WithValue(ctx, core.CtxKeyWorkerId, i)
		go Worker(workerCtx, i, wm.executorID, wm.WorkflowRepo, wm.StepRepo, wm.queue, wm.clock)
	}

	pollInterval := wm.cfg.CheckDBInterval
	if pollInterval <= 0 {
		pollInterval = 3 * time.Second
	}
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()
	slog.InfoContext(ctx, "Workflow engine started", "poll_interval", pollInterval.String())

	wm.pollAndRunWorkflows(ctx)
	for {
		select {
		case <-ctx.Done():
			slog.InfoContext(ctx, "Workflow engine stopping due to context cancel")
			return nil
		case <-ticker.C:
			wm.pollAndRunWorkflows(ctx)
		case <-wm.wakeup:
			wm.pollAndRunWorkflows(ctx)
		}
	}
}

// responsible for finding workflows that crashed half way and waking them up again
func (wm *WorkflowManager) startWorkflowRepairService(ctx context.Context) {
	interval := wm.cfg.StuckWorkflowsInterval
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			slog.InfoContext(ctx, "Workflow repair service stopping due to context cancel")
			return
		case <-ticker.C:
			wm.repairStuckWorkflows(ctx)
		}
	}
}

// repairStuckWorkflows reschedules workflows whose executor stopped sending heartbeats.
func (wm *WorkflowManager) repairStuckWorkflows(ctx context.Context) int {
	stuck, err := wm.WorkflowRepo.FindStuckWorkflows(ctx, wm.cfg.StuckWorkflowsRepairAfter, wm.cfg.ExecutorGroup, 100)
	if err != nil {
		slog.ErrorContext(ctx, "Error finding stuck workflows", "error", err)
		return 0
	}
	repaired := 0
	for _, wf := range stuck {
		slog.WarnContext(ctx, "Repairing stuck workflow", "workflow_id", wf.ID, "business_key", wf.BusinessKey, "state", wf.State, "status", wf.Status)
		locked, err := wm.WorkflowRepo.LockWorkflowByModified(ctx, wf.ID, wf.Modified)
		if err != nil || !locked {
			continue
		}
		wm.saveStep(ctx, &wf, domain.StepRepaired, domain.StepRepaired,
			fmt.Sprintf("Repaired and scheduled, previous executor was: %d", wf.ExecutorID.Int64))
		if err := wm.WorkflowRepo.UpdateNextActivation(ctx, wf.ID, wm.clock.Now()); err != nil {
			slog.ErrorContext(ctx, "Failed to repair update workflow next activation", "workflow_id", wf.ID, "error", err)
			continue
		}
		repaired++
	}
	if repaired > 0 {
		wm.Wakeup()
	}
	return repaired
}

// RegisterWorkflowDefinitions validates every registered workflow and stores its
// definition and flowchart.
func (wm *WorkflowManager) RegisterWorkflowDefinitions(ctx context.Context) error {
	for _, name := range wm.WorkflowTypes() {
		instance, err := wm.CreateWorkflowInstance(name)
		if err != nil {
			return err
		}
		if err := validateWorkflow(name, instance); err != nil {
			return err
		}

		def, err := wm.DefinitionRepo.FindByName(ctx, name)
		if err != nil {
			slog.WarnContext(ctx, "Workflow definition lookup error, will attempt create", "name", name, "error", err)
			def = nil
		}
		now := wm.clock.Now()
		if def == nil {
			def = &domain.WorkflowDefinition{Name: name, Created: now}
			slog.InfoContext(ctx, "Saving workflow definition", "name", name)
		} else {
			slog.InfoContext(ctx, "Updating workflow definition", "name", name)
		}
		def.Description = instance.Description()
		def.Updated = now
		def.FlowChart = buildFlowChart(instance)
		if err := wm.DefinitionRepo.Save(ctx, def); err != nil {
			return fmt.Errorf("save workflow definition %s: %w", name, err)
		}
	}
	return nil
}

// validateWorkflow checks that every executable state is backed by a method
// func(context.Context) (*models.NextState, error) and that the initial state exists.
func validateWorkflow(name string, instance core.Workflow) error {
	typ := reflect.TypeOf(instance)
	known := map[string]bool{}
	for _, state := range instance.GetAllStates() {
		known[state.Name] = true
		if !state.Executable() {
			continue
		}
		m, ok := typ.MethodByName(state.Name)
		if !ok {
			return fmt.Errorf("workflow %s: method %s not found", name, state.Name)
		}
		// the receiver is the first parameter
		if m.Type.NumIn() != 2 || m.Type.In(1) != contextType {
			return fmt.Errorf("workflow %s: method %s must take context.Context as its only parameter", name, state.Name)
		}
		if m.Type.NumOut() != 2 || m.Type.Out(1) != errorType {
			return fmt.Errorf("workflow %s: method %s must return (*models.NextState, error)", name, state.Name)
		}
		if out := m.Type.Out(0); out != nextStateType && out != reflect.PointerTo(nextStateType) {
			return fmt.Errorf("workflow %s: method %s must return (*models.NextState, error)", name, state.Name)
		}
	}
	if !known[instance.InitialState()] {
		return fmt.Errorf("workflow %s: initial state %s is not declared", name, instance.InitialState())
	}
	for from, tos := range instance.StateTransitions() {
		for _, to := range tos {
			if !known[from] || !known[to] {
				return fmt.Errorf("workflow %s: transition %s -> %s uses an undeclared state", name, from, to)
			}
		}
	}
	return nil
}

// buildFlowChart renders the state machine as a mermaid flowchart.
func buildFlowChart(wf core.Workflow) string {
	var sb strings.Builder

	errorClass := "fill:#FF6B6B,stroke:#C53030,stroke-width:2px,color:#fff,stroke-dasharray: 4 2,rx:10,ry:10;"
	doneClass := "fill:#4ECDC4,stroke:#1F9C8C,stroke-width:2px,color:#fff,stroke-dasharray: 4 2,rx:10,ry:10;"
	startClass := "fill:#5568FE,stroke:#3346FF,stroke-width:2px,color:#fff,stroke-dasharray: 4 2,rx:10,ry:10;"
	manualClass := "fill:#FFD93D,stroke:#E6C200,stroke-width:2px,color:#333,stroke-dasharray: 4 2,rx:10,ry:10;"
	normalClass := "fill:#F0F4F8,stroke:#B0C4DE,stroke-width:1px,color:#333,rx:10,ry:10;"

	transitions := wf.StateTransitions()
	sb.WriteString("flowchart TD\n")
	for _, from := range slices.Sorted(maps.Keys(transitions)) {
		for _, to := range transitions[from] {
			fmt.Fprintf(&sb, "    %s --> %s\n", from, to)
		}
	}

	fmt.Fprintf(&sb, "    classDef errorClass %s\n", errorClass)
	fmt.Fprintf(&sb, "    classDef doneClass %s\n", doneClass)
	fmt.Fprintf(&sb, "    classDef startClass %s\n", startClass)
	fmt.Fprintf(&sb, "    classDef manualClass %s\n", manualClass)
	fmt.Fprintf(&sb, "    classDef normalClass %s\n", normalClass)

	for _, st := range wf.GetAllStates() {
		switch st.StateType {
		case models.StateStart:
			fmt.Fprintf(&sb, "    class %s startClass;\n", st.Name)
		case models.StateEnd:
			fmt.Fprintf(&sb, "    class %s doneClass;\n", st.Name)
		case models.StateManual:
			fmt.Fprintf(&sb, "    class %s manualClass;\n", st.Name)
		case models.StateError:
			fmt.Fprintf(&sb, "    class %s errorClass;\n", st.Name)
		default:
			fmt.Fprintf(&sb, "    class %s normalClass;\n", st.Name)
		}
	}
	return sb.String()
}

func (wm *WorkflowManager) registerExecutorInstance(ctx context.Context) error {
	name := wm.executorName
	if name == "" {
		hostname, err := os.Hostname()
		if err != nil {
			name = "workflow-engine"
		} else {
			name = hostname
		}
	}
	now := wm.clock.Now()
	id, err := wm.executorRepo.Save(ctx, &domain.Executor{Name: name, Started: now, LastActive: now})
	if err != nil {
		return fmt.Errorf("register executor: %w", err)
	}
	wm.executorID = id
	slog.InfoContext(ctx, "Registered executor", "executor_id", id, "name", name)

	interval := wm.cfg.HeartbeatInterval
	if interval <= 0 {
		interval = 30 * time.Second
	}
	go func() {
		hb := time.NewTicker(interval)
		defer hb.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-hb.C:
				if err := wm.executorRepo.UpdateLastActive(ctx, id, wm.clock.Now()); err != nil {
					slog.ErrorContext(ctx, "Failed to update executor last_active", "executor_id", id, "error", err)
				} else {
					slog.DebugContext(ctx, "Updated executor last_active", "executor_id", id)
				}
			}
		}
	}()
	return nil
}

// pollAndRunWorkflows claims due workflows and hands them to the workers.
func (wm *WorkflowManager) pollAndRunWorkflows(ctx context.Context) {
	free := cap(wm.queue) - len(wm.queue)
	if free <= 0 {
		slog.WarnContext(ctx, "workflow queue full, skipping poll, possibly stuck or long running workflows")
		return
	}

	workflows, err := wm.WorkflowRepo.FindPendingWorkflows(ctx, free, wm.cfg.ExecutorGroup)
	if err != nil {
		slog.ErrorContext(ctx, "Error fetching workflows", "error", err)
		return
	}

	for _, wf := range workflows {
		locked, err := wm.WorkflowRepo.MarkWorkflowAsScheduledForExecution(ctx, wf.ID, wm.executorID, wf.Modified)
		if err != nil || !locked {
			slog.InfoContext(ctx, "Unable to gain lock on workflow, possibly picked up by other executor", "workflow_id", wf.ID, "external_id", wf.ExternalID)
			wm.saveStep(ctx, &wf, domain.StepLockFailed, domain.StepLockFailed, "Failed to acquire a lock on the workflow")
			continue
		}
		wm.saveStep(ctx, &wf, domain.StepScheduled, domain.StepScheduled, "Scheduled for Execution")

		instance, err := wm.CreateWorkflowInstance(wf.WorkflowType)
		if err != nil {
			slog.ErrorContext(ctx, "Cannot run workflow of unregistered type", "workflow_id", wf.ID, "workflow_type", wf.WorkflowType)
			wm.saveStep(ctx, &wf, domain.StepFailed, wf.State, err.Error())
			_ = wm.WorkflowRepo.UpdateWorkflowStatus(ctx, wf.ID, domain.WorkflowStatusFailed)
			_ = wm.WorkflowRepo.ClearExecutorID(ctx, wf.ID)
			continue
		}
		wf.Status = domain.WorkflowStatusScheduled
		wf.ExecutorID.Int64, wf.ExecutorID.Valid = wm.executorID, true
		instance.Setup(&wf)

		select {
		case wm.queue <- instance:
			slog.DebugContext(ctx, "Added workflow to execution channel", "workflow_id", wf.ID, "external_id", wf.ExternalID)
		case <-ctx.Done():
			return
		}
	}
}

func (wm *WorkflowManager) saveStep(ctx context.Context, wf *domain.Workflow, typ, name, text string) {
	_, err := wm.StepRepo.Save(ctx, &domain.WorkflowStep{
		WorkflowID:     wf.ID,
		ExecutorID:     wm.executorID,
		ExecutionCount: wf.ExecutionCount,
		RetryCount:     wf.RetryCount,
		Type:           typ,
		Name:           name,
		Text:           text,
		DateTime:       wm.clock.Now(),
	})
	if err != nil {
		slog.ErrorContext(ctx, "Failed to save workflow step", "workflow_id", wf.ID, "type", typ, "error", err)
	}
}

// CreateWorkflowInstance returns a fresh instance of a registered workflow type.
func (wm *WorkflowManager) CreateWorkflowInstance(name string) (core.Workflow, error) {
	factory, ok := wm.registry[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownWorkflowType, name)
	}
	return factory(), nil
}

// CreateWorkflow stores a new workflow in its initial state. The external id makes
// the call idempotent: when it already exists the stored workflow is returned
// with created=false.
func (wm *WorkflowManager) CreateWorkflow(ctx context.Context, req models.CreateWorkflowRequest, createdBy string) (*domain.Workflow, bool, error) {
	instance, err := wm.CreateWorkflowInstance(req.WorkflowType)
	if err != nil {
		return nil, false, err
	}

	existing, err := wm.WorkflowRepo.FindByExternalID(ctx, req.ExternalID)
	if err != nil {
		return nil, false, err
	}
	if existing != nil {
		slog.InfoContext(ctx, "Workflow already exists", "external_id", req.ExternalID, "workflow_id", existing.ID)
		return existing, false, nil
	}

	now := wm.clock.Now()
	next := now
	switch {
	case req.NextActivation != nil:
		next = *req.NextActivation
	case req.Delay != "":
		d, err := time.ParseDuration(req.Delay)
		if err != nil || d < 0 {
			return nil, false, fmt.Errorf("%w: %q", ErrInvalidDelay, req.Delay)
		}
		next = now.Add(d)
	}

	vars := maps.Clone(req.StateVars)
	if createdBy != "" {
		if vars == nil {
			vars = map[string]string{}
		}
		vars["createdBy"] = createdBy
	}

	group := req.ExecutorGroup
	if group == "" {
		group = wm.cfg.ExecutorGroup
	}
	wf := &domain.Workflow{
		Status:        domain.WorkflowStatusNew,
		Created:       now,
		Modified:      now,
		ExecutorGroup: group,
		WorkflowType:  req.WorkflowType,
		ExternalID:    req.ExternalID,
		BusinessKey:   req.BusinessKey,
		State:         instance.InitialState(),
	}
	wf.NextActivation.Time, wf.NextActivation.Valid = next, true
	if vars != nil {
		b, err := json.Marshal(vars)
		if err != nil {
			return nil, false, err
		}
		wf.StateVars.String, wf.StateVars.Valid = string(b), true
	}

	slog.InfoContext(ctx, "Creating workflow", "external_id", req.ExternalID, "business_key", req.BusinessKey, "workflow_type", req.WorkflowType)
	if _, err := wm.WorkflowRepo.Save(ctx, wf); err != nil {
		if errors.Is(err, repository.ErrDuplicate) {
			existing, findErr := wm.WorkflowRepo.FindByExternalID(ctx, req.ExternalID)
			if findErr == nil && existing != nil {
				return existing, false, nil
			}
		}
		return nil, false, fmt.Errorf("save workflow: %w", err)
	}
	if !next.After(now) {
		wm.Wakeup()
	}
	return wf, true, nil
}

// ChangeState manually moves a workflow to state and schedules it at next (now when nil).
// The change is guarded by the modified timestamp the caller read.
func (wm *WorkflowManager) ChangeState(ctx context.Context, wf *domain.Workflow, state string, next *time.Time, changedBy string) error {
	instance, err := wm.CreateWorkflowInstance(wf.WorkflowType)
	if err != nil {
		return err
	}
	if _, ok := models.LookupState(instance.GetAllStates(), state); !ok {
		return fmt.Errorf("%w: %s", ErrInvalidState, state)
	}

	ok, err := wm.WorkflowRepo.ChangeState(ctx, wf.ID, state, wf.Modified)
	if err != nil {
		return err
	}
	if !ok {
		return ErrWorkflowBusy
	}
	text := "Manually changed state from " + wf.State + " to " + state
	if changedBy != "" {
		text += " by " + changedBy
	}
	wm.saveStep(ctx, wf, domain.StepLog, wf.State, text)

	if next != nil {
		if err := wm.WorkflowRepo.UpdateNextActivation(ctx, wf.ID, *next); err != nil {
			return err
		}
	}
	wm.Wakeup()
	return nil
}

// UpdateStateVar upserts a single state variable; only the modified date changes.
func (wm *WorkflowManager) UpdateStateVar(ctx context.Context, wf *domain.Workflow, key, value string) error {
	vars := map[string]string{}
	if wf.StateVars.Valid && wf.StateVars.String != "" {
		if err := json.Unmarshal([]byte(wf.StateVars.String), &vars); err != nil {
			slog.WarnContext(ctx, "Discarding unreadable state vars", "workflow_id", wf.ID, "error", err)
			vars = map[string]string{}
		}
	}
	vars[key] = value
	b, err := json.Marshal(vars)
	if err != nil {
		return err
	}
	if err := wm.WorkflowRepo.SaveWorkflowVariablesAndTouch(ctx, wf.ID, string(b)); err != nil {
		return err
	}
	wm.saveStep(ctx, wf, domain.StepLog, wf.State, "Updated state var: "+key)
	return nil
}

// WaitForState polls the workflow every check interval until it reaches one of
// states, or returns it on the first read when states is empty.
func (wm *WorkflowManager) WaitForState(ctx context.Context, id int64, states []string, check time.Duration) (*domain.Workflow, error) {
	for {
		wf, err := wm.WorkflowRepo.FindByID(ctx, id)
		if err != nil {
			return nil, err
		}
		if wf != nil && (len(states) == 0 || slices.Contains(states, wf.State)) {
			return wf, nil
		}
		select {
		case <-ctx.Done():
			return wf, ctx.Err()
		case <-wm.clock.After(check):
		}
	}
}

func (wm *WorkflowManager) Wakeup() {
	slog.Debug("Wakeup Manager called")
	select {
	case wm.wakeup <- struct{}{}:
	default:
	}
}
