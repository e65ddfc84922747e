package models

import "time"

type UpdateStateVarRequest struct {
	Key   string `json:"key" validate:"required,max=255"`
	Value string `json:"value"`
}

type UpdateStateVarResponse struct {
	OK bool `json:"ok"`
}

type UpdateWorkflowStateRequest struct {
	State          string     `json:"state" validate:"required,max=100"`
	NextActivation *time.Time `json:"nextActivation,omitempty"`
}

type UpdateWorkflowStateResponse struct {
	OK bool `json:"ok"`
}

// UpdateWorkflowStateAndWaitRequest changes the state, optionally sets a state var,
// then waits like CreateAndWaitRequest.
type UpdateWorkflowStateAndWaitRequest struct {
	UpdateWorkflowStateRequest UpdateWorkflowStateRequest `json:"updateWorkflowStateRequest" validate:"required"`
	UpdateStateVarRequest      *UpdateStateVarRequest     `json:"updateStateVarRequest,omitempty"`
	FromStates                 []string                   `json:"fromStates"`
	WaitSeconds                int                        `json:"waitSeconds" validate:"gte=0,lte=300"`
	CheckSeconds               int                        `json:"checkSeconds" validate:"gte=0,lte=60"`
	WaitForStates              []string                   `json:"waitForStates"`
}
