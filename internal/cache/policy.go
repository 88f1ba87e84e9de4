// Package cache implements the two-tier cache fabric of spec.md §4.4: an
// in-process L1 with adaptive TTL and a Redis-backed L2 with per-cache-
// name TTL policies and transparent gzip compression for large values.
// The teacher repo has no cache layer of its own; this generalizes the
// "dynamic cache expiry and weigher policies" design note (spec.md §9)
// into an explicit Policy interface, as the note itself prescribes.
package cache

import "time"

// Policy governs a named cache's TTL behavior and L1 eviction weight.
type Policy interface {
	// InitialTTL is applied when an entry is first written.
	InitialTTL() time.Duration
	// RefreshTTL is applied to extend an entry's life on a hit; it may
	// differ from InitialTTL to implement adaptive expiry.
	RefreshTTL() time.Duration
	// Weight scores an entry for L1 eviction: at capacity, L1 evicts the
	// entry with the lowest Weight(len(value)). FixedPolicy returns the
	// size in bytes, so its smallest entry is evicted first;
	// AdaptivePolicy returns an inverse of the size, so its largest entry
	// is evicted first.
	Weight(sizeBytes int) int
}

// FixedPolicy applies a constant TTL with no adaptive refresh, used by
// caches where churn and adaptive expiry add no value.
type FixedPolicy struct {
	TTL time.Duration
}

func (p FixedPolicy) InitialTTL() time.Duration        { return p.TTL }
func (p FixedPolicy) RefreshTTL() time.Duration         { return p.TTL }
func (p FixedPolicy) Weight(sizeBytes int) int          { return sizeBytes }

// AdaptivePolicy extends TTL on frequent access and shortens it on
// infrequent access, per spec.md §4.4's L1 description.
type AdaptivePolicy struct {
	Min, Max time.Duration
	Step     time.Duration
}

func (p AdaptivePolicy) InitialTTL() time.Duration { return p.Min }

func (p AdaptivePolicy) RefreshTTL() time.Duration { return p.Max }

func (p AdaptivePolicy) Weight(sizeBytes int) int {
	// Smaller entries score higher (evicted later) per the spec's
	// "weighted eviction favoring small entries".
	if sizeBytes <= 0 {
		return 1 << 20
	}
	return 1 << 20 / sizeBytes
}

// Named policies per spec.md §4.4's per-cache-name TTL table.
var (
	SessionsPolicy = FixedPolicy{TTL: 30 * time.Minute}
	JobMetaPolicy  = FixedPolicy{TTL: 2 * time.Hour}
	DashboardStats = FixedPolicy{TTL: 5 * time.Minute}
	PlansPolicy    = FixedPolicy{TTL: 24 * time.Hour}
	AIFingerprint  = FixedPolicy{TTL: 6 * time.Hour}
	RateLimitTTL   = FixedPolicy{TTL: 1 * time.Minute}
)
