// Package throttle limits request rates per user or client address.
package throttle

import (
	"context"
	"log/slog"
	"math"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/stellara-labs/stellara/internal/auth"
	"github.com/stellara-labs/stellara/internal/config"
	"github.com/stellara-labs/stellara/internal/telemetry"
	"github.com/stellara-labs/stellara/internal/util"
	"github.com/stellara-labs/stellara/pkg/stellara/core"
)

const (
	PolicyDefault = "default"
	PolicyAuth    = "auth"
)

// Policy allows Rate requests per second on average with bursts up to Burst.
type Policy struct {
	Name  string
	Rate  float64
	Burst int
}

// Window is the fixed window length that averages to Rate with Burst requests per window.
func (p Policy) Window() time.Duration {
	if p.Rate <= 0 {
		return time.Second
	}
	return time.Duration(float64(p.Burst) / p.Rate * float64(time.Second))
}

type Decision struct {
	Allowed    bool
	RetryAfter time.Duration
}

type Limiter interface {
	Allow(ctx context.Context, p Policy, key string) (Decision, error)
}

// Policies derives the default and auth policies from THROTTLE_*.
func Policies(cfg config.Throttle) (Policy, Policy) {
	general := Policy{Name: PolicyDefault, Rate: cfg.RPS, Burst: cfg.Burst}
	if general.Burst <= 0 {
		general.Burst = int(math.Max(1, math.Ceil(cfg.RPS)))
	}
	authPolicy := Policy{Name: PolicyAuth, Rate: float64(cfg.AuthPerMinute) / 60, Burst: cfg.AuthPerMinute}
	if authPolicy.Burst <= 0 {
		authPolicy = Policy{Name: PolicyAuth, Rate: 1.0 / 6, Burst: 10}
	}
	return general, authPolicy
}

// NewLimiter picks the backend named by THROTTLE_BACKEND. Redis falls back to memory when no client is available.
func NewLimiter(cfg config.Throttle, rdb *redis.Client, prefix string, clock core.Clock) Limiter {
	if cfg.Backend == "redis" {
		if rdb != nil {
			return NewRedisLimiter(rdb, prefix, clock)
		}
		slog.Warn("THROTTLE_BACKEND=redis without redis, using in-memory limiter")
	}
	return NewMemoryLimiter(clock)
}

// Guard is the global throttling middleware. Requests under /api/auth/ use the auth policy and are keyed by address.
type Guard struct {
	limiter Limiter
	general Policy
	auth    Policy
}

func NewGuard(limiter Limiter, general, authPolicy Policy) *Guard {
	return &Guard{limiter: limiter, general: general, auth: authPolicy}
}

func exempt(path string) bool {
	return path == "/health" || path == "/metrics"
}

// Middleware must run after authentication so the principal is known.
func (g *Guard) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if exempt(r.URL.Path) {
			next.ServeHTTP(w, r)
			return
		}
		policy := g.general
		key := "ip:" + util.ClientIP(r)
		if strings.HasPrefix(r.URL.Path, "/api/auth/") {
			policy = g.auth
		} else if p, ok := auth.FromContext(r.Context()); ok {
			key = "user:" + strconv.FormatInt(p.UserID, 10)
		}

		d, err := g.limiter.Allow(r.Context(), policy, key)
		if err != nil {
			slog.WarnContext(r.Context(), "Throttle check failed, allowing request", "policy", policy.Name, "error", err)
			next.ServeHTTP(w, r)
			return
		}
		if !d.Allowed {
			telemetry.RecordThrottled(policy.Name)
			slog.WarnContext(r.Context(), "Request throttled", "policy", policy.Name, "key", key, "path", r.URL.Path)
			w.Header().Set("Retry-After", strconv.Itoa(retryAfterSeconds(d.RetryAfter)))
			util.WriteError(w, http.StatusTooManyRequests, "Too many requests, slow down")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func retryAfterSeconds(d time.Duration) int {
	s := int(math.Ceil(d.Seconds()))
	if s < 1 {
		return 1
	}
	return s
}
