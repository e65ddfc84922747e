package throttle

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/stellara-labs/stellara/pkg/stellara/core"
)

// RedisLimiter counts requests in fixed windows shared by every instance.
type RedisLimiter struct {
	rdb    *redis.Client
	prefix string
	clock  core.Clock
}

func NewRedisLimiter(rdb *redis.Client, prefix string, clock core.Clock) *RedisLimiter {
	if clock == nil {
		clock = core.NewRealClock()
	}
	return &RedisLimiter{rdb: rdb, prefix: prefix, clock: clock}
}

func (l *RedisLimiter) Allow(ctx context.Context, p Policy, key string) (Decision, error) {
	window := p.Window()
	now := l.clock.Now()
	slot := now.UnixNano() / int64(window)
	redisKey := fmt.Sprintf("%sthrottle:%s:%s:%d", l.prefix, p.Name, key, slot)

	var incr *redis.IntCmd
	_, err := l.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		incr = pipe.Incr(ctx, redisKey)
		pipe.Expire(ctx, redisKey, window+time.Second)
		return nil
	})
	if err != nil {
		return Decision{}, fmt.Errorf("throttle counter: %w", err)
	}
	if incr.Val() > int64(p.Burst) {
		windowEnd := time.Unix(0, (slot+1)*int64(window))
		return Decision{RetryAfter: windowEnd.Sub(now)}, nil
	}
	return Decision{Allowed: true}, nil
}
