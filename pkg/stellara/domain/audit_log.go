package domain

import (
	"database/sql"
	"time"
)

type AuditLog struct {
	ID            int64
	UserID        sql.NullInt64
	Action        string
	Resource      string
	ResourceID    string
	Method        string
	Path          string
	Status        int
	IP            string
	UserAgent     string
	CorrelationID string
	Metadata      sql.NullString
	Created       time.Time
}
