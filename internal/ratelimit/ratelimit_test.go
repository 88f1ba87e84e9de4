package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func newTestLimiter(t *testing.T, cfg Config) *Limiter {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("failed to start miniredis: %v", err)
	}
	t.Cleanup(mr.Close)

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	return New(client, cfg)
}

func TestRateLimiter_AllowsWithinCap(t *testing.T) {
	limiter := newTestLimiter(t, Config{PerMinute: 3, PerHour: 100, PerDay: 1000})

	for i := 0; i < 3; i++ {
		d := limiter.Check(context.Background(), "subject-a")
		if !d.Allowed {
			t.Fatalf("request %d should be allowed, got denied", i+1)
		}
	}
}

func TestRateLimiter_DeniesAtCap(t *testing.T) {
	limiter := newTestLimiter(t, Config{PerMinute: 2, PerHour: 100, PerDay: 1000})

	limiter.Check(context.Background(), "subject-b")
	limiter.Check(context.Background(), "subject-b")
	third := limiter.Check(context.Background(), "subject-b")

	if third.Allowed {
		t.Fatal("third request should be denied at cap=2")
	}
	if third.RetryAfterSec <= 0 {
		t.Error("expected a positive RetryAfterSec on denial")
	}
}

func TestRateLimiter_DoesNotExceedCapUnderConcurrency(t *testing.T) {
	limit := 10
	limiter := newTestLimiter(t, Config{PerMinute: limit, PerHour: 100000, PerDay: 1000000})

	const n = 50
	results := make(chan bool, n)
	for i := 0; i < n; i++ {
		go func() {
			d := limiter.Check(context.Background(), "subject-c")
			results <- d.Allowed
		}()
	}

	allowed := 0
	for i := 0; i < n; i++ {
		if <-results {
			allowed++
		}
	}
	if allowed > limit {
		t.Fatalf("observed %d allowed requests, exceeding cap %d", allowed, limit)
	}
}

func TestRateLimiter_PerSubjectIsolation(t *testing.T) {
	limiter := newTestLimiter(t, Config{PerMinute: 1, PerHour: 100, PerDay: 1000})

	if !limiter.Check(context.Background(), "subject-d").Allowed {
		t.Fatal("first request for subject-d should be allowed")
	}
	if !limiter.Check(context.Background(), "subject-e").Allowed {
		t.Fatal("first request for a distinct subject should not be affected by subject-d's count")
	}
}

func TestBruteForceGuard_LocksAfterThreshold(t *testing.T) {
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("failed to start miniredis: %v", err)
	}
	t.Cleanup(mr.Close)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})

	guard := NewBruteForceGuard(client, 3, time.Minute, time.Minute)
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		guard.RecordFailure(ctx, "user@example.com", "1.2.3.4")
	}
	if guard.Locked(ctx, "user@example.com", "1.2.3.4") {
		t.Fatal("should not be locked before threshold")
	}

	guard.RecordFailure(ctx, "user@example.com", "1.2.3.4")
	if !guard.Locked(ctx, "user@example.com", "1.2.3.4") {
		t.Fatal("should be locked after 3 failures")
	}

	guard.RecordSuccess(ctx, "user@example.com", "1.2.3.4")
}
