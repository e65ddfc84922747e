package models

import "time"

// RetryConfig bounds how often a failing state is retried and how long the engine waits between attempts.
// The wait grows linearly from RetryIntervalMin on the first retry to RetryIntervalMax once
// MaxRetryCount attempts have been made.
type RetryConfig struct {
	MaxRetryCount    int
	RetryIntervalMin time.Duration
	RetryIntervalMax time.Duration
}

// Exhausted reports whether a workflow that already retried retryCount times must fail.
func (rc RetryConfig) Exhausted(retryCount int) bool {
	return retryCount >= rc.MaxRetryCount
}

// Backoff is the delay before retry number retryCount+1.
func (rc RetryConfig) Backoff(retryCount int) time.Duration {
	lo, hi := rc.RetryIntervalMin, rc.RetryIntervalMax
	if lo < 0 {
		lo = 0
	}
	if hi < lo {
		hi = lo
	}
	switch {
	case retryCount <= 0:
		return lo
	case retryCount >= rc.MaxRetryCount:
		return hi
	}
	step := (hi - lo) / time.Duration(rc.MaxRetryCount)
	return lo + step*time.Duration(retryCount)
}
