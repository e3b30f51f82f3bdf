package ratelimit

import (
	"context"
	"sync"
	"time"
)

// MemoryLimiter is the in-process sliding-window limiter. Matches the Redis
// backend's semantics for single-node deployments and tests.
type MemoryLimiter struct {
	mu      sync.Mutex
	windows map[int64][]time.Time
}

// NewMemoryLimiter creates an in-process limiter.
func NewMemoryLimiter() *MemoryLimiter {
	return &MemoryLimiter{windows: map[int64][]time.Time{}}
}

// TryAcquire implements Limiter.
func (l *MemoryLimiter) TryAcquire(_ context.Context, campaignID int64, limitPerSecond int, now time.Time) (Result, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	cutoff := now.Add(-time.Second)
	window := l.windows[campaignID][:0]
	for _, ts := range l.windows[campaignID] {
		if ts.After(cutoff) {
			window = append(window, ts)
		}
	}

	if len(window) < limitPerSecond {
		window = append(window, now)
		l.windows[campaignID] = window
		l.sweep(now)
		return Result{Admitted: true}, nil
	}

	l.windows[campaignID] = window
	retry := window[0].Add(time.Second).Sub(now)
	if retry <= 0 {
		retry = time.Millisecond
	}
	return Result{RetryAfter: retry}, nil
}

// sweep drops keys idle for more than two seconds, mirroring the Redis TTL.
func (l *MemoryLimiter) sweep(now time.Time) {
	cutoff := now.Add(-2 * time.Second)
	for id, window := range l.windows {
		if len(window) == 0 || !window[len(window)-1].After(cutoff) {
			delete(l.windows, id)
		}
	}
}
