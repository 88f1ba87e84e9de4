package cache

import (
	"sync"
	"time"
)

type l1Entry struct {
	value     []byte
	expiresAt time.Time
	policy    Policy
	hits      int
	accesses  int
}

// L1 is the bounded, in-process tier. Eviction triggers on SIZE
// (capacity exceeded) or EXPIRED; entries whose observed hit frequency
// exceeds 0.5 are asynchronously promoted to L2 on eviction, per
// spec.md §4.4.
type L1 struct {
	mu       sync.Mutex
	entries  map[string]*l1Entry
	capacity int
	bloom    *negativeBloom

	// promote is called (off the hot path, in a goroutine) when an
	// entry with hit-frequency > 0.5 is evicted, so L2 can absorb it.
	promote func(key string, value []byte, policy Policy)
}

func NewL1(capacity int, promote func(key string, value []byte, policy Policy)) *L1 {
	if capacity <= 0 {
		capacity = 10000
	}
	return &L1{
		entries:  make(map[string]*l1Entry, capacity),
		capacity: capacity,
		bloom:    newNegativeBloom(1<<16, 3),
		promote:  promote,
	}
}

// Get returns the cached value and true on hit. A bloom-filter-confirmed
// absence short-circuits without touching the map.
func (c *L1) Get(key string) ([]byte, bool) {
	if c.bloom.MightBeAbsent(key) {
		c.mu.Lock()
		_, stillThere := c.entries[key]
		c.mu.Unlock()
		if !stillThere {
			return nil, false
		}
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[key]
	if !ok {
		return nil, false
	}
	if time.Now().After(e.expiresAt) {
		delete(c.entries, key)
		c.evictAccounting(key, e)
		return nil, false
	}

	e.hits++
	e.accesses++
	// Adaptive expiry: extend TTL on frequent access.
	e.expiresAt = time.Now().Add(e.policy.RefreshTTL())
	return e.value, true
}

// Set writes key, evicting the lowest-weight entry if at capacity.
func (c *L1) Set(key string, value []byte, policy Policy) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, exists := c.entries[key]; !exists && len(c.entries) >= c.capacity {
		c.evictOneLocked()
	}

	c.entries[key] = &l1Entry{
		value:     value,
		expiresAt: time.Now().Add(policy.InitialTTL()),
		policy:    policy,
		accesses:  1,
	}
	c.bloom.Clear()
}

// MarkAbsent records key as a known-miss to short-circuit future Gets.
func (c *L1) MarkAbsent(key string) {
	c.bloom.MarkAbsent(key)
}

// Delete removes key from L1.
func (c *L1) Delete(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, key)
}

// evictOneLocked evicts the lowest-weight entry under capacity pressure.
// Caller holds c.mu.
func (c *L1) evictOneLocked() {
	var victimKey string
	var victim *l1Entry
	lowest := int(^uint(0) >> 1)

	for k, e := range c.entries {
		w := e.policy.Weight(len(e.value))
		if w < lowest {
			lowest = w
			victimKey = k
			victim = e
		}
	}
	if victim == nil {
		return
	}
	delete(c.entries, victimKey)
	c.evictAccounting(victimKey, victim)
}

func (c *L1) evictAccounting(key string, e *l1Entry) {
	if e.accesses == 0 {
		return
	}
	freq := float64(e.hits) / float64(e.accesses)
	if freq > 0.5 && c.promote != nil {
		value, policy := e.value, e.policy
		go c.promote(key, value, policy)
	}
}

// Len reports the current entry count, for tests and metrics.
func (c *L1) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}
