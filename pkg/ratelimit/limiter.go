package ratelimit

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// HostLimiter paces requests per host so that two requests to the same
// host are at least a throttle interval apart
type HostLimiter struct {
	mu       sync.Mutex
	limiters map[string]*rate.Limiter
}

// NewHostLimiter creates an empty per-host limiter
func NewHostLimiter() *HostLimiter {
	return &HostLimiter{limiters: make(map[string]*rate.Limiter)}
}

// Wait blocks until a request to host may proceed. A non-positive interval
// never waits. When callers ask for different intervals on the same host the
// slowest one sticks.
func (h *HostLimiter) Wait(ctx context.Context, host string, interval time.Duration) error {
	if interval <= 0 {
		return ctx.Err()
	}
	return h.limiter(host, interval).Wait(ctx)
}

func (h *HostLimiter) limiter(host string, interval time.Duration) *rate.Limiter {
	h.mu.Lock()
	defer h.mu.Unlock()

	limit := rate.Every(interval)
	l, ok := h.limiters[host]
	if !ok {
		l = rate.NewLimiter(limit, 1)
		h.limiters[host] = l
		return l
	}
	if limit < l.Limit() {
		l.SetLimit(limit)
	}
	return l
}
