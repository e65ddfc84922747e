package domain

import (
	"strings"
	"time"
)

// StellarSubscription asks for account events to be delivered to a webhook.
type StellarSubscription struct {
	ID         int64
	UserID     int64
	Account    string
	WebhookURL string
	Secret     string
	EventTypes string // comma separated operation types, empty means all
	Active     bool
	Created    time.Time
}

// Matches reports whether the subscription wants events of the given operation type.
func (s *StellarSubscription) Matches(eventType string) bool {
	if strings.TrimSpace(s.EventTypes) == "" {
		return true
	}
	for _, t := range strings.Split(s.EventTypes, ",") {
		if strings.TrimSpace(t) == eventType {
			return true
		}
	}
	return false
}

type StellarCursor struct {
	Account string    `json:"account"`
	Cursor  string    `json:"cursor"`
	Updated time.Time `json:"updated"`
}

// StellarEvent is a Horizon operation observed on a watched account.
type StellarEvent struct {
	ID             int64     `json:"id"`
	Account        string    `json:"account"`
	OperationID    string    `json:"operationId"`
	PagingToken    string    `json:"pagingToken"`
	Type           string    `json:"type"`
	TxHash         string    `json:"txHash"`
	LedgerClosedAt time.Time `json:"ledgerClosedAt"`
	Payload        string    `json:"payload"`
	Created        time.Time `json:"created"`
}
