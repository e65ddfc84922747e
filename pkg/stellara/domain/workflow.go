package domain

import (
	"database/sql"
	"time"
)

const (
	WorkflowStatusNew        = "NEW"
	WorkflowStatusScheduled  = "SCHEDULED"
	WorkflowStatusExecuting  = "EXECUTING"
	WorkflowStatusInProgress = "IN_PROGRESS"
	WorkflowStatusLock       = "LOCK"
	WorkflowStatusFinished   = "FINISHED"
	WorkflowStatusFailed     = "FAILED"
)

type Workflow struct {
	ID             int64
	Status         string
	ExecutionCount int
	RetryCount     int
	Created        time.Time
	Modified       time.Time
	NextActivation sql.NullTime
	Started        sql.NullTime
	ExecutorID     sql.NullInt64
	ExecutorGroup  string
	WorkflowType   string
	ExternalID     string
	BusinessKey    string
	State          string
	StateVars      sql.NullString
}
