package models

import (
	"time"
)

// CreateWorkflowRequest is the payload for creating a workflow.
type CreateWorkflowRequest struct {
	ExternalID    string            `json:"externalId" validate:"required,max=255"`
	ExecutorGroup string            `json:"executorGroup" validate:"omitempty,max=100"`
	WorkflowType  string            `json:"workflowType" validate:"required,max=100"`
	BusinessKey   string            `json:"businessKey" validate:"required,max=255"`
	StateVars     map[string]string `json:"stateVars"`
	// Optional scheduling inputs
	NextActivation *time.Time `json:"nextActivation,omitempty"`
	Delay          string     `json:"delay,omitempty"`
}

type CreateWorkflowResponse struct {
	ID int64 `json:"id"`
}

// CreateAndWaitRequest creates a workflow then waits up to WaitSeconds for it to reach one of WaitForStates.
type CreateAndWaitRequest struct {
	CreateWorkflowRequest CreateWorkflowRequest `json:"createWorkflowRequest" validate:"required"`
	WaitSeconds           int                   `json:"waitSeconds" validate:"gte=0,lte=300"`
	CheckSeconds          int                   `json:"checkSeconds" validate:"gte=0,lte=60"`
	WaitForStates         []string              `json:"waitForStates"`
}

// WorkflowApiResponse represents the API response for a workflow.
type WorkflowApiResponse struct {
	ID             int64             `json:"id"`
	Status         string            `json:"status"`
	ExecutionCount int               `json:"executionCount"`
	RetryCount     int               `json:"retryCount"`
	Created        time.Time         `json:"created"`
	Modified       time.Time         `json:"modified"`
	NextActivation *time.Time        `json:"nextActivation,omitempty"`
	Started        *time.Time        `json:"started,omitempty"`
	ExecutorID     int64             `json:"executorId,omitempty"`
	ExecutorGroup  string            `json:"executorGroup"`
	WorkflowType   string            `json:"workflowType"`
	ExternalID     string            `json:"externalId"`
	BusinessKey    string            `json:"businessKey"`
	State          string            `json:"state"`
	StateVars      map[string]string `json:"stateVars,omitempty"`
}
