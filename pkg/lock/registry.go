// Package lock provides a process-wide registry of destination filenames
// that are currently being written.
//
// Acquire polls with a jittered sleep instead of queueing waiters, so
// waiting tasks are not served in FIFO order and a busy name may starve a
// waiter under heavy contention. Mutual exclusion is still guaranteed.
package lock

import (
	"context"
	"math/rand"
	"sync"
	"time"
)

const (
	// DefaultPollMean and DefaultPollStdDev describe the normal distribution
	// each wait is sampled from
	DefaultPollMean   = time.Second
	DefaultPollStdDev = 1500 * time.Millisecond
	// DefaultPollFloor is the shortest wait between two polls
	DefaultPollFloor = 50 * time.Millisecond
)

// Registry tracks held filenames. The zero value is not usable; call New.
type Registry struct {
	mu   sync.Mutex
	held map[string]struct{}

	mean   time.Duration
	stddev time.Duration
	floor  time.Duration

	rngMu sync.Mutex
	rng   *rand.Rand
}

// Option configures a Registry
type Option func(*Registry)

// WithPollInterval overrides the jittered polling distribution
func WithPollInterval(mean, stddev, floor time.Duration) Option {
	return func(r *Registry) {
		r.mean = mean
		r.stddev = stddev
		r.floor = floor
	}
}

// New creates an empty registry
func New(opts ...Option) *Registry {
	r := &Registry{
		held:   make(map[string]struct{}),
		mean:   DefaultPollMean,
		stddev: DefaultPollStdDev,
		floor:  DefaultPollFloor,
		rng:    rand.New(rand.NewSource(time.Now().UnixNano())),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// IsLocked reports whether name is currently held
func (r *Registry) IsLocked(name string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.held[name]
	return ok
}

// TryAcquire takes the lock on name if it is free and reports success
func (r *Registry) TryAcquire(name string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.held[name]; ok {
		return false
	}
	r.held[name] = struct{}{}
	return true
}

// Acquire blocks until name is held by the caller or ctx is done
func (r *Registry) Acquire(ctx context.Context, name string) error {
	for !r.TryAcquire(name) {
		timer := time.NewTimer(r.nextWait())
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
	return nil
}

// Release frees name. Releasing a free name is a no-op.
func (r *Registry) Release(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.held, name)
}

// Held returns the number of names currently locked
func (r *Registry) Held() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.held)
}

func (r *Registry) nextWait() time.Duration {
	r.rngMu.Lock()
	sample := r.rng.NormFloat64()
	r.rngMu.Unlock()

	d := time.Duration(float64(r.mean) + sample*float64(r.stddev))
	if d < r.floor {
		d = r.floor
	}
	return d
}
