package models

import "time"

type NextState struct {
	Name          string        // Name of the state
	ActionLog     string        // Additional information recorded as a LOG step
	NextExecution time.Time     // specific time set by the code
	Delay         time.Duration // relative delay before the next state runs
}
