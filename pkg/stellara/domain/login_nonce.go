package domain

import (
	"database/sql"
	"time"
)

// LoginNonce is a single-use challenge a wallet signs to prove key ownership.
type LoginNonce struct {
	ID        int64
	PublicKey string
	Nonce     string
	Message   string
	ExpiresAt time.Time
	UsedAt    sql.NullTime
	Created   time.Time
}
