package redis

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

const rateLimitPrefix = "dispatch:ratelimit:"

// RateLimiter allows or denies submissions using a sliding-window count in
// Redis. The gateway keys it by caller subject so one noisy client cannot
// starve the dispatch pipeline.
type RateLimiter interface {
	Allow(ctx context.Context, key string) (bool, error)
	Limit() int
}

type slidingWindowLimiter struct {
	client *redis.Client
	limit  int
	window time.Duration
}

// NewRateLimiter returns a limiter that admits at most limit events per
// window for each key. The window slides: a ZSET holds one nanosecond
// timestamp per event, entries older than the window are evicted on every
// check, and the remaining cardinality decides the verdict.
func NewRateLimiter(client *redis.Client, limit int, window time.Duration) RateLimiter {
	return &slidingWindowLimiter{client: client, limit: limit, window: window}
}

func (l *slidingWindowLimiter) Limit() int { return l.limit }

func (l *slidingWindowLimiter) Allow(ctx context.Context, key string) (bool, error) {
	nowNanos := time.Now().UnixNano()
	oldest := strconv.FormatInt(nowNanos-l.window.Nanoseconds(), 10)
	member := strconv.FormatInt(nowNanos, 10)
	zkey := rateLimitPrefix + key

	pipe := l.client.TxPipeline()
	pipe.ZRemRangeByScore(ctx, zkey, "0", oldest)
	pipe.ZAdd(ctx, zkey, redis.Z{Score: float64(nowNanos), Member: member})
	card := pipe.ZCard(ctx, zkey)
	pipe.Expire(ctx, zkey, 2*l.window) // idle keys decay after two windows
	if _, err := pipe.Exec(ctx); err != nil {
		return false, fmt.Errorf("rate limit check for %q: %w", key, err)
	}

	return card.Val() <= int64(l.limit), nil
}
