package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

// BruteForceGuard tracks failed login attempts per (subject, client
// address), rejecting further attempts once a threshold is crossed
// within a window, per spec.md §4.1 step 8. It keeps its own counters,
// separate from Limiter's. On the login route the auth rate-limit
// middleware runs first, and the Login handler then checks this guard,
// so a locked-out client's requests still count against the rate limit.
type BruteForceGuard struct {
	client      *redis.Client
	maxFailures int
	window      time.Duration
	lockout     time.Duration
}

func NewBruteForceGuard(client *redis.Client, maxFailures int, window, lockout time.Duration) *BruteForceGuard {
	return &BruteForceGuard{client: client, maxFailures: maxFailures, window: window, lockout: lockout}
}

func DefaultBruteForceGuard(client *redis.Client) *BruteForceGuard {
	return NewBruteForceGuard(client, 5, 15*time.Minute, 15*time.Minute)
}

func (g *BruteForceGuard) key(subject, clientAddr string) string {
	return fmt.Sprintf("bf:%s:%s", subject, clientAddr)
}

func (g *BruteForceGuard) lockKey(subject, clientAddr string) string {
	return fmt.Sprintf("bf-lock:%s:%s", subject, clientAddr)
}

// Locked reports whether (subject, clientAddr) is currently locked out.
// On Redis failure it fails open, consistent with the general limiter.
func (g *BruteForceGuard) Locked(ctx context.Context, subject, clientAddr string) bool {
	n, err := g.client.Exists(ctx, g.lockKey(subject, clientAddr)).Result()
	if err != nil {
		log.Warn().Err(err).Msg("brute-force store unreachable, failing open")
		return false
	}
	return n > 0
}

// RecordFailure increments the failure counter and, once the threshold
// is crossed within the window, sets a lockout key for the lockout
// period.
func (g *BruteForceGuard) RecordFailure(ctx context.Context, subject, clientAddr string) {
	key := g.key(subject, clientAddr)
	count, err := g.client.Incr(ctx, key).Result()
	if err != nil {
		log.Warn().Err(err).Msg("brute-force store unreachable, failed to record attempt")
		return
	}
	if count == 1 {
		g.client.Expire(ctx, key, g.window)
	}
	if int(count) >= g.maxFailures {
		g.client.Set(ctx, g.lockKey(subject, clientAddr), 1, g.lockout)
	}
}

// RecordSuccess clears the failure counter on a successful login.
func (g *BruteForceGuard) RecordSuccess(ctx context.Context, subject, clientAddr string) {
	g.client.Del(ctx, g.key(subject, clientAddr))
}
