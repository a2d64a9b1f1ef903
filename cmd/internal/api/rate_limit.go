package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// LoginLimiter counts failed logins per key inside a fixed window.
type LoginLimiter interface {
	// Blocked reports whether key is over its limit and for how long.
	Blocked(ctx context.Context, key string) (bool, time.Duration, error)
	// Fail records one failed attempt for key.
	Fail(ctx context.Context, key string) error
}

// RedisLimiter is a fixed-window LoginLimiter on INCR + EXPIRE NX.
type RedisLimiter struct {
	rdb    redis.Cmdable
	prefix string
	max    int
	window time.Duration
}

// NewRedisLimiter allows max failures per window.
func NewRedisLimiter(rdb redis.Cmdable, max int, window time.Duration) *RedisLimiter {
	return &RedisLimiter{rdb: rdb, prefix: "warden:login_fail:", max: max, window: window}
}

func (l *RedisLimiter) Blocked(ctx context.Context, key string) (bool, time.Duration, error) {
	if l.max <= 0 {
		return false, 0, nil
	}
	k := l.prefix + key
	n, err := l.rdb.Get(ctx, k).Int()
	switch {
	case errors.Is(err, redis.Nil):
		return false, 0, nil
	case err != nil:
		return false, 0, fmt.Errorf("api: limiter get: %w", err)
	case n < l.max:
		return false, 0, nil
	}
	ttl, err := l.rdb.TTL(ctx, k).Result()
	if err != nil || ttl <= 0 {
		ttl = l.window
	}
	return true, ttl, nil
}

// Fail counts one failure. INCR and EXPIRE NX run in one MULTI, so a key
// can never be left without a TTL; NX keeps the window fixed from the first
// failure. EXPIRE NX needs Redis 7.0 or later.
func (l *RedisLimiter) Fail(ctx context.Context, key string) error {
	if l.max <= 0 {
		return nil
	}
	k := l.prefix + key
	_, err := l.rdb.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.Incr(ctx, k)
		p.ExpireNX(ctx, k, l.window)
		return nil
	})
	if err != nil {
		return fmt.Errorf("api: limiter fail: %w", err)
	}
	return nil
}

func writeRateLimited(w http.ResponseWriter, retryAfter time.Duration) {
	if retryAfter > 0 {
		w.Header().Set("Retry-After", strconv.FormatInt(int64(retryAfter.Seconds()), 10))
	}
	writeError(w, http.StatusTooManyRequests, "rate_limited", "too many attempts")
}
