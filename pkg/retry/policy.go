package retry

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"sync"
	"time"

	errs "mediafetch/pkg/errors"
	"mediafetch/pkg/logger"
)

// ErrAttemptsExhausted is returned by Policy.Run once a link has used up its attempts
var ErrAttemptsExhausted = errors.New("attempts exhausted")

// AttemptTracker counts failed attempts per link. Counts only grow.
type AttemptTracker struct {
	mu     sync.Mutex
	counts map[string]int
}

// NewAttemptTracker creates an empty tracker
func NewAttemptTracker() *AttemptTracker {
	return &AttemptTracker{counts: make(map[string]int)}
}

// Get returns the number of retries recorded for key
func (t *AttemptTracker) Get(key string) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.counts[key]
}

// Inc records one more retry for key and returns the new count
func (t *AttemptTracker) Inc(key string) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.counts[key]++
	return t.counts[key]
}

// Action performs one attempt against target
type Action func(ctx context.Context, target *url.URL) error

// MutateFunc rewrites the target URL between attempts
type MutateFunc func(target *url.URL) *url.URL

// Policy retries a link-keyed action on recoverable failure.
//
// Attempts are counted against the link's original URL, so rewriting the
// target between attempts does not reset the count.
type Policy struct {
	Tracker     *AttemptTracker
	MaxAttempts int
	Unlimited   bool
	Backoff     BackoffStrategy
	Mutate      MutateFunc
	Logger      logger.Logger
}

// DefaultRetryDelay is the constant wait between attempts of one link
const DefaultRetryDelay = 2 * time.Second

// NewPolicy creates a policy with a fresh tracker and a constant backoff
func NewPolicy(maxAttempts int, unlimited bool, delay time.Duration, mutate MutateFunc, log logger.Logger) *Policy {
	return &Policy{
		Tracker:     NewAttemptTracker(),
		MaxAttempts: maxAttempts,
		Unlimited:   unlimited,
		Backoff:     &ConstantBackoff{Delay: delay},
		Mutate:      mutate,
		Logger:      logger.OrDefault(log),
	}
}

// Run calls action until it succeeds, fails with a non-recoverable error,
// runs out of attempts, or ctx is done
func (p *Policy) Run(ctx context.Context, link *url.URL, action Action) error {
	key := link.String()
	target := cloneURL(link)
	log := logger.OrDefault(p.Logger).WithField("url", key)

	for {
		err := action(ctx, target)
		if err == nil {
			return nil
		}
		if ctx.Err() != nil {
			return err
		}
		if !errs.IsRecoverable(err) {
			return err
		}

		count := p.Tracker.Get(key)
		if !p.Unlimited && count >= p.MaxAttempts-1 {
			log.DebugWithFields("giving up", map[string]interface{}{"attempts": count + 1})
			return fmt.Errorf("%w after %d attempts: %w", ErrAttemptsExhausted, count+1, err)
		}

		count = p.Tracker.Inc(key)
		if p.Mutate != nil {
			target = p.Mutate(target)
		}

		var delay time.Duration
		if p.Backoff != nil {
			delay = p.Backoff.NextDelay(count)
		}
		log.WithError(err).DebugWithFields("retrying", map[string]interface{}{
			"attempt": count,
			"target":  target.String(),
		})

		if err := Wait(ctx, delay); err != nil {
			return fmt.Errorf("retry cancelled: %w", err)
		}
	}
}

func cloneURL(u *url.URL) *url.URL {
	c := *u
	if u.User != nil {
		user := *u.User
		c.User = &user
	}
	return &c
}
