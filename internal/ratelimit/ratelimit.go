// Package ratelimit bounds per-campaign dispatch throughput with a sliding
// one-second window. Two backends exist: Redis for multi-worker deployments
// and an in-process fallback for single-node or test runs.
package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Result is the outcome of one admission attempt. When not admitted,
// RetryAfter is the wait until the window frees a slot.
type Result struct {
	Admitted   bool
	RetryAfter time.Duration
}

// Limiter admits at most limitPerSecond events per campaign per rolling
// second. Implementations must make the check-and-insert atomic per key.
type Limiter interface {
	TryAcquire(ctx context.Context, campaignID int64, limitPerSecond int, now time.Time) (Result, error)
}

// New selects a limiter backend by name ("redis" or "memory").
func New(backend string, client *redis.Client) (Limiter, error) {
	switch backend {
	case "redis":
		if client == nil {
			return nil, fmt.Errorf("redis limiter requires a client")
		}
		return NewRedisLimiter(client), nil
	case "memory":
		return NewMemoryLimiter(), nil
	}
	return nil, fmt.Errorf("unknown ratelimiter backend %q", backend)
}
