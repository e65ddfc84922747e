package core

import (
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/stellara-labs/stellara/pkg/stellara/domain"
)

// BaseWorkflow holds common workflow state and provides shared setup logic.
type BaseWorkflow struct {
	StateVariables map[string]string
	WorkflowState  *domain.Workflow
}

// Setup initializes the base workflow with the given workflow instance and parses state variables from JSON, if present.
func (b *BaseWorkflow) Setup(wf *domain.Workflow) {
	b.WorkflowState = wf
	b.StateVariables = make(map[string]string)
	if wf.StateVars.Valid && wf.StateVars.String != "" && wf.StateVars.String != "null" {
		if err := json.Unmarshal([]byte(wf.StateVars.String), &b.StateVariables); err != nil {
			slog.Error("Error parsing state vars", "workflow_id", wf.ID, "error", err)
		}
	}
}

func (b *BaseWorkflow) GetWorkflowData() *domain.Workflow {
	return b.WorkflowState
}

func (b *BaseWorkflow) GetStateVariables() map[string]string {
	return b.StateVariables
}

// Var returns a state variable or the empty string.
func (b *BaseWorkflow) Var(key string) string {
	return b.StateVariables[key]
}

// SaveStruct stores data as JSON under key.
func (b *BaseWorkflow) SaveStruct(key string, data any) error {
	bytes, err := json.Marshal(data)
	if err != nil {
		return err
	}
	b.StateVariables[key] = string(bytes)
	return nil
}

// LoadStruct decodes the JSON stored under key into out.
func (b *BaseWorkflow) LoadStruct(key string, out any) error {
	data, ok := b.StateVariables[key]
	if !ok {
		return fmt.Errorf("key %s not found in state vars", key)
	}
	return json.Unmarshal([]byte(data), out)
}
