package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/time/rate"
)

// ErrRateLimited is returned by tool handlers when a caller exceeds its budget.
var ErrRateLimited = errors.New("rate limit exceeded")

// RateLimiter decides whether one more call under key is allowed right now.
type RateLimiter interface {
	Allow(ctx context.Context, key string) (bool, error)
}

// NewRateLimiter returns a Redis-backed limiter when rdb is set (correct across
// instances), otherwise a process-local one. limit <= 0 disables limiting.
func NewRateLimiter(rdb *redis.Client, name string, limit int, window time.Duration) RateLimiter {
	if limit <= 0 || window <= 0 {
		return noLimit{}
	}
	if rdb != nil {
		return &RedisLimiter{rdb: rdb, prefix: "sage:rl:" + name + ":", limit: limit, window: window}
	}
	return NewLocalLimiter(limit, window)
}

type noLimit struct{}

func (noLimit) Allow(context.Context, string) (bool, error) { return true, nil }

// RedisLimiter is a fixed-window counter: INCR + EXPIRE per key and window.
type RedisLimiter struct {
	rdb    *redis.Client
	prefix string
	limit  int
	window time.Duration
}

func (l *RedisLimiter) Allow(ctx context.Context, key string) (bool, error) {
	bucket := time.Now().UnixNano() / int64(l.window)
	k := fmt.Sprintf("%s%s:%d", l.prefix, key, bucket)

	pipe := l.rdb.TxPipeline()
	incr := pipe.Incr(ctx, k)
	pipe.Expire(ctx, k, l.window)
	if _, err := pipe.Exec(ctx); err != nil {
		return false, fmt.Errorf("rate limit: %w", err)
	}
	if incr.Val() > int64(l.limit) {
		IncrRateLimited()
		return false, nil
	}
	return true, nil
}

// LocalLimiter keeps one token bucket per key. Burst equals limit, refilled
// evenly across window.
type LocalLimiter struct {
	mu       sync.Mutex
	limiters map[string]*rate.Limiter
	every    rate.Limit
	burst    int
}

func NewLocalLimiter(limit int, window time.Duration) *LocalLimiter {
	return &LocalLimiter{
		limiters: make(map[string]*rate.Limiter),
		every:    rate.Every(window / time.Duration(limit)),
		burst:    limit,
	}
}

func (l *LocalLimiter) Allow(_ context.Context, key string) (bool, error) {
	l.mu.Lock()
	lim, ok := l.limiters[key]
	if !ok {
		lim = rate.NewLimiter(l.every, l.burst)
		l.limiters[key] = lim
	}
	l.mu.Unlock()

	if !lim.Allow() {
		IncrRateLimited()
		return false, nil
	}
	return true, nil
}

// Guard returns ErrRateLimited when rl rejects key. Limiter backend errors
// fail open so a Redis outage doesn't take the pipeline down.
func Guard(ctx context.Context, rl RateLimiter, key string) error {
	if rl == nil {
		return nil
	}
	ok, err := rl.Allow(ctx, key)
	if err != nil {
		slog.Warn("rate limiter unavailable, allowing call", slog.String("key", key), slog.Any("error", err))
		return nil
	}
	if !ok {
		return fmt.Errorf("%w for %s", ErrRateLimited, key)
	}
	return nil
}
