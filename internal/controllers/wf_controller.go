package controllers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"slices"
	"time"

	"github.com/stellara-labs/stellara/internal/repository"
	"github.com/stellara-labs/stellara/internal/util"
	"github.com/stellara-labs/stellara/pkg/stellara/domain"
	"github.com/stellara-labs/stellara/pkg/stellara/models"
)

// WorkflowService is implemented by engine.WorkflowManager.
type WorkflowService interface {
	CreateWorkflow(ctx context.Context, req models.CreateWorkflowRequest, createdBy string) (*domain.Workflow, bool, error)
	FindWorkflow(ctx context.Context, idOrExternalID string) (*domain.Workflow, error)
	SearchWorkflows(ctx context.Context, req models.SearchWorkflowRequest) ([]domain.Workflow, error)
	Steps(ctx context.Context, workflowID int64) ([]domain.WorkflowStep, error)
	ChangeState(ctx context.Context, wf *domain.Workflow, state string, next *time.Time, changedBy string) error
	UpdateStateVar(ctx context.Context, wf *domain.Workflow, key, value string) error
	WaitForState(ctx context.Context, id int64, states []string, check time.Duration) (*domain.Workflow, error)
	ListWorkflowDefinitions(ctx context.Context) ([]domain.WorkflowDefinition, error)
	GetWorkflowDefinitionByName(ctx context.Context, name string) (*domain.WorkflowDefinition, error)
	Overview(ctx context.Context) ([]repository.WorkflowOverviewRow, error)
	DefinitionOverview(ctx context.Context, workflowType string) ([]repository.DefinitionStateRow, error)
}

// WorkflowsController holds dependencies for workflow HTTP endpoints.
type WorkflowsController struct {
	Workflows WorkflowService
}

func NewWorkflowsController(workflows WorkflowService) *WorkflowsController {
	return &WorkflowsController{Workflows: workflows}
}

// findWorkflow writes the error response itself and returns nil when the workflow cannot be used.
func (c *WorkflowsController) findWorkflow(w http.ResponseWriter, r *http.Request) *domain.Workflow {
	wf, err := c.Workflows.FindWorkflow(r.Context(), r.PathValue("id"))
	if err != nil {
		writeServiceError(w, r, err, "find workflow")
		return nil
	}
	if wf == nil {
		util.WriteError(w, http.StatusNotFound, "workflow not found")
		return nil
	}
	return wf
}

func (c *WorkflowsController) handleGetWorkflow(w http.ResponseWriter, r *http.Request) {
	wf := c.findWorkflow(w, r)
	if wf == nil {
		return
	}
	util.WriteJSONResponse(w, http.StatusOK, mapWorkflowToApiWorkflow(r.Context(), wf))
}

func (c *WorkflowsController) handleCreateWorkflow(w http.ResponseWriter, r *http.Request) {
	req, err := util.DecodeJSONBody[models.CreateWorkflowRequest](r)
	if err != nil {
		writeServiceError(w, r, err, "create workflow")
		return
	}
	wf, created, err := c.Workflows.CreateWorkflow(r.Context(), req, principal(r).Username)
	if err != nil {
		writeServiceError(w, r, err, "create workflow")
		return
	}
	status := http.StatusCreated
	if !created {
		status = http.StatusOK
	}
	util.WriteJSONResponse(w, status, models.CreateWorkflowResponse{ID: wf.ID})
}

func (c *WorkflowsController) handleCreateAndWaitWorkflow(w http.ResponseWriter, r *http.Request) {
	req, err := util.DecodeJSONBody[models.CreateAndWaitRequest](r)
	if err != nil {
		writeServiceError(w, r, err, "create workflow")
		return
	}
	wf, _, err := c.Workflows.CreateWorkflow(r.Context(), req.CreateWorkflowRequest, principal(r).Username)
	if err != nil {
		writeServiceError(w, r, err, "create workflow")
		return
	}
	c.wait(w, r, wf.ID, req.WaitForStates, req.WaitSeconds, req.CheckSeconds)
}

// wait polls until the workflow reaches one of states, then writes it.
// The minimum wait and check interval is one second.
func (c *WorkflowsController) wait(w http.ResponseWriter, r *http.Request, id int64, states []string, waitSeconds, checkSeconds int) {
	waitSeconds = max(waitSeconds, 1)
	checkSeconds = max(checkSeconds, 1)

	ctx, cancel := context.WithTimeout(r.Context(), time.Duration(waitSeconds)*time.Second)
	defer cancel()
	wf, err := c.Workflows.WaitForState(ctx, id, states, time.Duration(checkSeconds)*time.Second)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			util.WriteError(w, http.StatusGatewayTimeout, "timeout waiting for workflow result")
			return
		}
		writeServiceError(w, r, err, "wait for workflow")
		return
	}
	if wf == nil {
		util.WriteError(w, http.StatusNotFound, "workflow not found")
		return
	}
	util.WriteJSONResponse(w, http.StatusOK, mapWorkflowToApiWorkflow(r.Context(), wf))
}

func mapWorkflowToApiWorkflow(ctx context.Context, wf *domain.Workflow) models.WorkflowApiResponse {
	var stateVars map[string]string
	if wf.StateVars.Valid && wf.StateVars.String != "" {
		if err := json.Unmarshal([]byte(wf.StateVars.String), &stateVars); err != nil {
			slog.WarnContext(ctx, "Failed to parse state vars", "workflow_id", wf.ID, "error", err)
		}
	}
	resp := models.WorkflowApiResponse{
		ID:             wf.ID,
		Status:         wf.Status,
		ExecutionCount: wf.ExecutionCount,
		RetryCount:     wf.RetryCount,
		Created:        wf.Created,
		Modified:       wf.Modified,
		ExecutorGroup:  wf.ExecutorGroup,
		WorkflowType:   wf.WorkflowType,
		ExternalID:     wf.ExternalID,
		BusinessKey:    wf.BusinessKey,
		State:          wf.State,
		StateVars:      stateVars,
	}
	if wf.NextActivation.Valid {
		t := wf.NextActivation.Time
		resp.NextActivation = &t
	}
	if wf.Started.Valid {
		t := wf.Started.Time
		resp.Started = &t
	}
	if wf.ExecutorID.Valid {
		resp.ExecutorID = wf.ExecutorID.Int64
	}
	return resp
}

func (c *WorkflowsController) handleSearchWorkflows(w http.ResponseWriter, r *http.Request) {
	req, err := util.DecodeJSONBody[models.SearchWorkflowRequest](r)
	if err != nil {
		writeServiceError(w, r, err, "search workflows")
		return
	}
	results, err := c.Workflows.SearchWorkflows(r.Context(), req)
	if err != nil {
		writeServiceError(w, r, err, "search workflows")
		return
	}
	resp := models.SearchWorkflowResponse{
		Results:   len(results),
		Offset:    req.Offset,
		Workflows: make([]models.WorkflowApiResponse, 0, len(results)),
	}
	for i := range results {
		resp.Workflows = append(resp.Workflows, mapWorkflowToApiWorkflow(r.Context(), &results[i]))
	}
	util.WriteJSONResponse(w, http.StatusOK, resp)
}

func (c *WorkflowsController) handleGetSteps(w http.ResponseWriter, r *http.Request) {
	wf := c.findWorkflow(w, r)
	if wf == nil {
		return
	}
	steps, err := c.Workflows.Steps(r.Context(), wf.ID)
	if err != nil {
		writeServiceError(w, r, err, "load workflow steps")
		return
	}
	if steps == nil {
		steps = []domain.WorkflowStep{}
	}
	util.WriteJSONResponse(w, http.StatusOK, steps)
}

// handleUpdateWorkflowState updates the workflow's state and optionally next activation, with optimistic lock semantics
func (c *WorkflowsController) handleUpdateWorkflowState(w http.ResponseWriter, r *http.Request) {
	wf := c.findWorkflow(w, r)
	if wf == nil {
		return
	}
	req, err := util.DecodeJSONBody[models.UpdateWorkflowStateRequest](r)
	if err != nil {
		writeServiceError(w, r, err, "update workflow state")
		return
	}
	if err := c.Workflows.ChangeState(r.Context(), wf, req.State, req.NextActivation, principal(r).Username); err != nil {
		writeServiceError(w, r, err, "update workflow state")
		return
	}
	util.WriteJSONResponse(w, http.StatusOK, models.UpdateWorkflowStateResponse{OK: true})
}

func (c *WorkflowsController) handleUpdateWorkflowStateAndWait(w http.ResponseWriter, r *http.Request) {
	wf := c.findWorkflow(w, r)
	if wf == nil {
		return
	}
	req, err := util.DecodeJSONBody[models.UpdateWorkflowStateAndWaitRequest](r)
	if err != nil {
		writeServiceError(w, r, err, "update workflow state")
		return
	}
	if len(req.FromStates) > 0 && !slices.Contains(req.FromStates, wf.State) {
		util.WriteError(w, http.StatusConflict, fmt.Sprintf("current state %s is not in the expected from states %v", wf.State, req.FromStates))
		return
	}
	if req.UpdateStateVarRequest != nil {
		if err := c.Workflows.UpdateStateVar(r.Context(), wf, req.UpdateStateVarRequest.Key, req.UpdateStateVarRequest.Value); err != nil {
			writeServiceError(w, r, err, "update state var")
			return
		}
		// the state var update moved the modified timestamp
		if wf = c.findWorkflow(w, r); wf == nil {
			return
		}
	}
	state := req.UpdateWorkflowStateRequest
	if err := c.Workflows.ChangeState(r.Context(), wf, state.State, state.NextActivation, principal(r).Username); err != nil {
		writeServiceError(w, r, err, "update workflow state")
		return
	}
	c.wait(w, r, wf.ID, req.WaitForStates, req.WaitSeconds, req.CheckSeconds)
}

// handleUpdateStateVar upserts a single state var key/value; only modified date should change; a step is recorded.
func (c *WorkflowsController) handleUpdateStateVar(w http.ResponseWriter, r *http.Request) {
	wf := c.findWorkflow(w, r)
	if wf == nil {
		return
	}
	req, err := util.DecodeJSONBody[models.UpdateStateVarRequest](r)
	if err != nil {
		writeServiceError(w, r, err, "update state var")
		return
	}
	if err := c.Workflows.UpdateStateVar(r.Context(), wf, req.Key, req.Value); err != nil {
		writeServiceError(w, r, err, "update state var")
		return
	}
	util.WriteJSONResponse(w, http.StatusOK, models.UpdateStateVarResponse{OK: true})
}

func (c *WorkflowsController) handleListWorkflowDefinitions(w http.ResponseWriter, r *http.Request) {
	defs, err := c.Workflows.ListWorkflowDefinitions(r.Context())
	if err != nil {
		writeServiceError(w, r, err, "load definitions")
		return
	}
	if defs == nil {
		defs = []domain.WorkflowDefinition{}
	}
	util.WriteJSONResponse(w, http.StatusOK, defs)
}

func (c *WorkflowsController) handleGetWorkflowDefinitionByName(w http.ResponseWriter, r *http.Request) {
	def, err := c.Workflows.GetWorkflowDefinitionByName(r.Context(), r.PathValue("name"))
	if err != nil {
		writeServiceError(w, r, err, "load definition")
		return
	}
	if def == nil {
		util.WriteError(w, http.StatusNotFound, "definition not found")
		return
	}
	util.WriteJSONResponse(w, http.StatusOK, def)
}

func (c *WorkflowsController) handleDefinitionOverview(w http.ResponseWriter, r *http.Request) {
	rows, err := c.Workflows.DefinitionOverview(r.Context(), r.PathValue("name"))
	if err != nil {
		writeServiceError(w, r, err, "load definition overview")
		return
	}
	if rows == nil {
		rows = []repository.DefinitionStateRow{}
	}
	util.WriteJSONResponse(w, http.StatusOK, rows)
}

func (c *WorkflowsController) handleOverview(w http.ResponseWriter, r *http.Request) {
	rows, err := c.Workflows.Overview(r.Context())
	if err != nil {
		writeServiceError(w, r, err, "load overview")
		return
	}
	if rows == nil {
		rows = []repository.WorkflowOverviewRow{}
	}
	util.WriteJSONResponse(w, http.StatusOK, rows)
}
