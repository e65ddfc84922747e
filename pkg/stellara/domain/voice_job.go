package domain

import (
	"database/sql"
	"time"
)

const (
	VoiceJobQueued     = "queued"
	VoiceJobProcessing = "processing"
	VoiceJobCompleted  = "completed"
	VoiceJobFailed     = "failed"
)

type VoiceJob struct {
	ID         int64
	UserID     int64
	JobKey     string
	AudioURL   string
	Language   string
	Status     string
	Transcript sql.NullString
	Error      sql.NullString
	Attempts   int
	Created    time.Time
	Updated    time.Time
	Completed  sql.NullTime
}
