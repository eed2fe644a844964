package ratelimit

import (
	"context"
	"testing"
	"time"
)

func TestHostLimiterSpacesRequests(t *testing.T) {
	h := NewHostLimiter()
	ctx := context.Background()
	interval := 50 * time.Millisecond

	start := time.Now()
	for i := 0; i < 3; i++ {
		if err := h.Wait(ctx, "cyberfile.is", interval); err != nil {
			t.Fatalf("Wait() error = %v", err)
		}
	}

	if elapsed := time.Since(start); elapsed < 2*interval-10*time.Millisecond {
		t.Errorf("Expected at least %v between three requests, got %v", 2*interval, elapsed)
	}
}

func TestHostLimiterHostsAreIndependent(t *testing.T) {
	h := NewHostLimiter()
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	if err := h.Wait(ctx, "a.example", time.Hour); err != nil {
		t.Fatalf("Expected first request to a.example to pass, got %v", err)
	}
	if err := h.Wait(ctx, "a.example", time.Hour); err == nil {
		t.Error("Expected second request to a.example to be throttled")
	}
	if err := h.Wait(ctx, "b.example", time.Hour); err != nil {
		t.Errorf("Expected b.example to have its own budget, got %v", err)
	}
}

func TestHostLimiterZeroInterval(t *testing.T) {
	h := NewHostLimiter()
	ctx := context.Background()

	start := time.Now()
	for i := 0; i < 100; i++ {
		if err := h.Wait(ctx, "a.example", 0); err != nil {
			t.Fatalf("Wait() error = %v", err)
		}
	}
	if elapsed := time.Since(start); elapsed > 100*time.Millisecond {
		t.Errorf("Expected zero interval to never throttle, took %v", elapsed)
	}
}

func TestHostLimiterCancellation(t *testing.T) {
	h := NewHostLimiter()
	ctx, cancel := context.WithCancel(context.Background())

	if err := h.Wait(ctx, "a.example", time.Hour); err != nil {
		t.Fatalf("Expected first wait to pass, got %v", err)
	}

	cancel()
	if err := h.Wait(ctx, "a.example", time.Hour); err == nil {
		t.Error("Expected error after cancellation")
	}
}

func TestHostLimiterSlowestIntervalSticks(t *testing.T) {
	h := NewHostLimiter()
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	if err := h.Wait(ctx, "a.example", time.Hour); err != nil {
		t.Fatalf("Wait() error = %v", err)
	}

	if err := h.Wait(ctx, "a.example", time.Millisecond); err == nil {
		t.Error("Expected the hour-long interval to still apply")
	}
}
