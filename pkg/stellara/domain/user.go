package domain

import (
	"database/sql"
	"time"
)

type Role string

const (
	RoleUser  Role = "user"
	RoleAdmin Role = "admin"
)

func (r Role) Valid() bool {
	return r == RoleUser || r == RoleAdmin
}

type User struct {
	ID           int64          `json:"id"`
	Username     string         `json:"username"`
	PasswordHash sql.NullString `json:"-"`
	Role         Role           `json:"role"`
	DisplayName  sql.NullString `json:"-"`
	Email        sql.NullString `json:"-"`
	Enabled      bool           `json:"enabled"`
	Deleted      bool           `json:"deleted"`
	FailedLogins int            `json:"failedLogins"`
	Created      time.Time      `json:"created"`
	Updated      time.Time      `json:"updated"`
}
