package throttle

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/stellara-labs/stellara/pkg/stellara/core"
)

type bucket struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// MemoryLimiter keeps one token bucket per policy and key in process memory.
type MemoryLimiter struct {
	mu      sync.Mutex
	buckets map[string]*bucket
	clock   core.Clock
}

func NewMemoryLimiter(clock core.Clock) *MemoryLimiter {
	if clock == nil {
		clock = core.NewRealClock()
	}
	return &MemoryLimiter{buckets: make(map[string]*bucket), clock: clock}
}

func (m *MemoryLimiter) Allow(_ context.Context, p Policy, key string) (Decision, error) {
	now := m.clock.Now()
	m.mu.Lock()
	b, ok := m.buckets[p.Name+":"+key]
	if !ok {
		b = &bucket{limiter: rate.NewLimiter(rate.Limit(p.Rate), p.Burst)}
		m.buckets[p.Name+":"+key] = b
	}
	b.lastSeen = now
	m.mu.Unlock()

	r := b.limiter.ReserveN(now, 1)
	if !r.OK() {
		return Decision{RetryAfter: p.Window()}, nil
	}
	if delay := r.DelayFrom(now); delay > 0 {
		r.CancelAt(now)
		return Decision{RetryAfter: delay}, nil
	}
	return Decision{Allowed: true}, nil
}

// Cleanup drops buckets unused for longer than idle.
func (m *MemoryLimiter) Cleanup(idle time.Duration) int {
	cutoff := m.clock.Now().Add(-idle)
	m.mu.Lock()
	defer m.mu.Unlock()
	removed := 0
	for k, b := range m.buckets {
		if b.lastSeen.Before(cutoff) {
			delete(m.buckets, k)
			removed++
		}
	}
	return removed
}

func (m *MemoryLimiter) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.buckets)
}

// Run cleans up idle buckets every interval until ctx is done.
func (m *MemoryLimiter) Run(ctx context.Context, interval, idle time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := m.Cleanup(idle); n > 0 {
				slog.DebugContext(ctx, "Removed idle rate limiters", "count", n)
			}
		}
	}
}
