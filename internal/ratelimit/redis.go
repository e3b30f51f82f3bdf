package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// acquireScript holds the window as a ZSET of admission timestamps (ms).
// It evicts entries older than one second, then either admits and records
// the caller or returns the wait until the oldest entry leaves the window.
// The whole check-and-insert runs atomically inside Redis.
var acquireScript = redis.NewScript(`
	local key = KEYS[1]
	local now_ms = tonumber(ARGV[1])
	local limit = tonumber(ARGV[2])

	redis.call("ZREMRANGEBYSCORE", key, "-inf", now_ms - 1000)
	local count = redis.call("ZCARD", key)
	if count < limit then
		redis.call("ZADD", key, now_ms, ARGV[3])
		redis.call("PEXPIRE", key, 2000)
		return {1, 0}
	end
	local oldest = redis.call("ZRANGE", key, 0, 0, "WITHSCORES")
	redis.call("PEXPIRE", key, 2000)
	return {0, tonumber(oldest[2]) + 1000 - now_ms}
`)

// RedisLimiter is the shared sliding-window limiter. Keys live under
// ratelimit:campaign:<id> and expire after two seconds of inactivity.
type RedisLimiter struct {
	client *redis.Client
}

// NewRedisLimiter creates a Redis-backed limiter.
func NewRedisLimiter(client *redis.Client) *RedisLimiter {
	return &RedisLimiter{client: client}
}

// TryAcquire implements Limiter.
func (l *RedisLimiter) TryAcquire(ctx context.Context, campaignID int64, limitPerSecond int, now time.Time) (Result, error) {
	key := fmt.Sprintf("ratelimit:campaign:%d", campaignID)
	member := fmt.Sprintf("%d-%s", now.UnixMilli(), uuid.New().String())

	vals, err := acquireScript.Run(ctx, l.client,
		[]string{key}, now.UnixMilli(), limitPerSecond, member).Int64Slice()
	if err != nil {
		return Result{}, fmt.Errorf("rate limit acquire: %w", err)
	}
	if len(vals) != 2 {
		return Result{}, fmt.Errorf("rate limit acquire: unexpected reply %v", vals)
	}
	if vals[0] == 1 {
		return Result{Admitted: true}, nil
	}
	retry := time.Duration(vals[1]) * time.Millisecond
	if retry <= 0 {
		retry = time.Millisecond
	}
	return Result{RetryAfter: retry}, nil
}
