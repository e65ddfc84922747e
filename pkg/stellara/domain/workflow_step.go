package domain

import "time"

// Step types recorded by the engine.
const (
	StepScheduled          = "SCHEDULED"
	StepLockFailed         = "LOCK_FAILED"
	StepExecuting          = "EXECUTING"
	StepStarting           = "STARTING"
	StepTransition         = "TRANSITION"
	StepLog                = "LOG"
	StepScheduleActivation = "SCHEDULE_ACTIVATION"
	StepError              = "ERROR"
	StepRetry              = "RETRY"
	StepFailed             = "FAILED"
	StepEnd                = "END"
	StepFinished           = "FINISHED"
	StepRepaired           = "REPAIRED"
)

// WorkflowStep is one entry of a workflow's execution history.
type WorkflowStep struct {
	ID             int64     `json:"id"`
	WorkflowID     int64     `json:"workflowId"`
	ExecutorID     int64     `json:"executorId"`
	ExecutionCount int       `json:"executionCount"`
	RetryCount     int       `json:"retryCount"`
	Type           string    `json:"type"`
	Name           string    `json:"name"`
	Text           string    `json:"text"`
	DateTime       time.Time `json:"dateTime"`
}
