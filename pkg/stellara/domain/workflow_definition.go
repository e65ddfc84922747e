package domain

import "time"

type WorkflowDefinition struct {
	Name        string    `json:"name"`
	Description string    `json:"description"`
	Created     time.Time `json:"created"`
	Updated     time.Time `json:"updated"`
	FlowChart   string    `json:"flowChart"`
}
