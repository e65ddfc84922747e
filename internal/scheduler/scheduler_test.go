package scheduler

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAddRejectsBadSpec(t *testing.T) {
	s := New()
	err := s.Add(context.Background(), "broken", "not a cron spec", func(context.Context) error { return nil })
	assert.Error(t, err)
	assert.Equal(t, 0, s.Len())
}

func TestJobsRun(t *testing.T) {
	s := New()
	ran := make(chan struct{}, 4)
	require.NoError(t, s.Add(context.Background(), "tick", "@every 1s", func(context.Context) error {
		ran <- struct{}{}
		return errors.New("failures are logged, not fatal")
	}))
	assert.Equal(t, 1, s.Len())

	s.Start()
	defer s.Stop(context.Background())

	select {
	case <-ran:
	case <-time.After(3 * time.Second):
		t.Fatal("job did not run")
	}
}

func TestRunSkipsCancelledContext(t *testing.T) {
	s := New()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	called := false
	s.run(ctx, "noop", func(context.Context) error {
		called = true
		return nil
	})
	assert.False(t, called)
}
