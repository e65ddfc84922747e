package core

import (
	"github.com/stellara-labs/stellara/pkg/stellara/domain"
	"github.com/stellara-labs/stellara/pkg/stellara/models"
)

// Workflow is the interface that all workflows must implement.
//
// Every state of type Start or Normal must be backed by an exported method
// with the signature func(context.Context) (*models.NextState, error).
type Workflow interface {
	StateTransitions() map[string][]string // map of state name -> list of next state names
	InitialState() string
	Description() string
	Setup(wf *domain.Workflow)
	GetWorkflowData() *domain.Workflow
	GetStateVariables() map[string]string
	GetAllStates() []models.WorkflowState
	GetRetryConfig() models.RetryConfig
}
