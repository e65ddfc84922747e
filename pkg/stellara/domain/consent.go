package domain

import "time"

type ConsentPurpose string

const (
	PurposeTerms           ConsentPurpose = "terms"
	PurposeMarketing       ConsentPurpose = "marketing"
	PurposeAnalytics       ConsentPurpose = "analytics"
	PurposeVoiceProcessing ConsentPurpose = "voice_processing"
)

var ConsentPurposes = []ConsentPurpose{PurposeTerms, PurposeMarketing, PurposeAnalytics, PurposeVoiceProcessing}

func (p ConsentPurpose) Valid() bool {
	for _, v := range ConsentPurposes {
		if v == p {
			return true
		}
	}
	return false
}

// Consent records are append-only; the newest record per purpose is the current one.
type Consent struct {
	ID        int64          `json:"id"`
	UserID    int64          `json:"userId"`
	Purpose   ConsentPurpose `json:"purpose"`
	Granted   bool           `json:"granted"`
	Version   string         `json:"version"`
	IP        string         `json:"ip,omitempty"`
	UserAgent string         `json:"userAgent,omitempty"`
	Created   time.Time      `json:"created"`
}
