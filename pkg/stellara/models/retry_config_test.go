package models

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestRetryConfig_Backoff(t *testing.T) {
	webhook := RetryConfig{MaxRetryCount: 4, RetryIntervalMin: 10 * time.Second, RetryIntervalMax: 50 * time.Second}

	tests := []struct {
		name  string
		cfg   RetryConfig
		retry int
		want  time.Duration
	}{
		{"first attempt", webhook, 0, 10 * time.Second},
		{"negative count", webhook, -1, 10 * time.Second},
		{"midway", webhook, 2, 30 * time.Second},
		{"last retry", webhook, 4, 50 * time.Second},
		{"past the limit", webhook, 9, 50 * time.Second},
		{"max below min", RetryConfig{MaxRetryCount: 3, RetryIntervalMin: time.Minute, RetryIntervalMax: time.Second}, 2, time.Minute},
		{"no retries", RetryConfig{RetryIntervalMin: time.Second, RetryIntervalMax: time.Hour}, 1, time.Hour},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.cfg.Backoff(tt.retry))
		})
	}
}

func TestRetryConfig_Exhausted(t *testing.T) {
	cfg := RetryConfig{MaxRetryCount: 2}
	assert.False(t, cfg.Exhausted(0))
	assert.False(t, cfg.Exhausted(1))
	assert.True(t, cfg.Exhausted(2))
	assert.True(t, RetryConfig{}.Exhausted(0))
}

func TestWorkflowState(t *testing.T) {
	states := []WorkflowState{
		{Name: "Load", StateType: StateStart},
		{Name: "Send", StateType: StateNormal},
		{Name: "Review", StateType: StateManual},
		{Name: "Delivered", StateType: StateEnd},
	}

	send, ok := LookupState(states, "Send")
	assert.True(t, ok)
	assert.True(t, send.Executable())
	assert.False(t, send.Terminal())

	review, _ := LookupState(states, "Review")
	assert.False(t, review.Executable())
	assert.True(t, review.Terminal())

	_, ok = LookupState(states, "Gone")
	assert.False(t, ok)
}
