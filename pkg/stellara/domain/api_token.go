package domain

import (
	"database/sql"
	"time"
)

type ApiToken struct {
	ID         int64
	UserID     int64
	Name       string
	Prefix     string
	TokenHash  string
	Scopes     string
	LastUsedAt sql.NullTime
	ExpiresAt  sql.NullTime
	RevokedAt  sql.NullTime
	Created    time.Time
}
