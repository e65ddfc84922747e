package core

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestRealClock_NowIsStoragePrecision(t *testing.T) {
	now := NewRealClock().Now()
	assert.Equal(t, time.UTC, now.Location())
	assert.Zero(t, now.Nanosecond()%int(time.Millisecond))
}

func TestFakeClock_FiresTimersOnAdd(t *testing.T) {
	start := time.Date(2025, 3, 14, 9, 26, 53, 0, time.UTC)
	c := NewFakeClock(start)
	soon, later := c.After(time.Second), c.After(time.Minute)

	c.Add(2 * time.Second)
	select {
	case fired := <-soon:
		assert.Equal(t, start.Add(2*time.Second), fired)
	default:
		t.Fatal("timer due after one second did not fire")
	}
	select {
	case <-later:
		t.Fatal("timer due after one minute fired early")
	default:
	}
	assert.Equal(t, start.Add(2*time.Second), c.Now())
}
