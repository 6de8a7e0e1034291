// Package ratelimit includes tests for the per-host token bucket.
package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/crawlkit/catalog-crawler/internal/metrics"
)

func TestMain(m *testing.M) {
	metrics.Init()
	m.Run()
}

// TestWaitUnlimitedNeverBlocks ensures a zero RPS config is a no-op.
func TestWaitUnlimitedNeverBlocks(t *testing.T) {
	t.Parallel()

	l := New(Config{})
	start := time.Now()
	for i := 0; i < 10; i++ {
		if err := l.Wait(context.Background(), "https://example.com/page"); err != nil {
			t.Fatalf("Wait() error = %v", err)
		}
	}
	if elapsed := time.Since(start); elapsed > 100*time.Millisecond {
		t.Fatalf("unlimited limiter blocked for %v", elapsed)
	}
}

// TestWaitEnforcesSpacing checks the limiter spaces requests to a host.
func TestWaitEnforcesSpacing(t *testing.T) {
	t.Parallel()

	l := New(Config{DefaultRPS: 50, DefaultBurst: 1})
	start := time.Now()
	for i := 0; i < 3; i++ {
		if err := l.Wait(context.Background(), "https://example.com/page"); err != nil {
			t.Fatalf("Wait() error = %v", err)
		}
	}
	// Burst 1 at 50 rps means the third call waits roughly 40ms total.
	if elapsed := time.Since(start); elapsed < 30*time.Millisecond {
		t.Fatalf("expected limiter to space requests, elapsed %v", elapsed)
	}
}

// TestWaitSeparateHosts ensures limits do not bleed across hosts.
func TestWaitSeparateHosts(t *testing.T) {
	t.Parallel()

	l := New(Config{DefaultRPS: 1, DefaultBurst: 1})
	start := time.Now()
	hosts := []string{"https://a.test/x", "https://b.test/x", "https://c.test/x"}
	for _, h := range hosts {
		if err := l.Wait(context.Background(), h); err != nil {
			t.Fatalf("Wait(%s) error = %v", h, err)
		}
	}
	if elapsed := time.Since(start); elapsed > 500*time.Millisecond {
		t.Fatalf("distinct hosts should not queue behind each other, elapsed %v", elapsed)
	}
}

// TestWaitHonorsContext ensures cancellation interrupts a blocked wait.
func TestWaitHonorsContext(t *testing.T) {
	t.Parallel()

	l := New(Config{DefaultRPS: 0.1, DefaultBurst: 1})
	// Drain the single token.
	if err := l.Wait(context.Background(), "https://example.com/a"); err != nil {
		t.Fatalf("Wait() error = %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	if err := l.Wait(ctx, "https://example.com/b"); err == nil {
		t.Fatal("Wait() = nil; want context error")
	}
}
