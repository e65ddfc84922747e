package domain

import (
	"database/sql"
	"time"
)

// RefreshToken is stored by hash; tokens issued by rotation share a Family.
type RefreshToken struct {
	ID         int64
	UserID     int64
	TokenHash  string
	Family     string
	ExpiresAt  time.Time
	RevokedAt  sql.NullTime
	ReplacedBy sql.NullInt64
	IP         string
	UserAgent  string
	Created    time.Time
}
