package cache

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
)

// Fabric composes the L1/L2 read path of spec.md §4.4: L1 -> L2 ->
// origin, with L2-hit backfill into L1 and asynchronous L1-eviction
// promotion into L2 for frequently-hit entries.
type Fabric struct {
	l1 *L1
	l2 *L2
}

func NewFabric(l1Capacity int, redisClient *redis.Client) *Fabric {
	f := &Fabric{l2: NewL2(redisClient)}
	f.l1 = NewL1(l1Capacity, f.promoteToL2)
	return f
}

func (f *Fabric) promoteToL2(key string, value []byte, policy Policy) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	_ = f.l2.Set(ctx, key, value, policy.RefreshTTL())
}

// Get checks L1, then L2 (backfilling L1 on an L2 hit). It does not
// consult origin; callers implement the "origin" leg of the read path
// themselves via GetOrLoad.
func (f *Fabric) Get(ctx context.Context, key string, policy Policy) ([]byte, bool) {
	if v, ok := f.l1.Get(key); ok {
		return v, true
	}
	if v, ok := f.l2.Get(ctx, key); ok {
		f.l1.Set(key, v, policy)
		return v, true
	}
	f.l1.MarkAbsent(key)
	return nil, false
}

// Set writes through both tiers.
func (f *Fabric) Set(ctx context.Context, key string, value []byte, policy Policy) error {
	f.l1.Set(key, value, policy)
	return f.l2.Set(ctx, key, value, policy.InitialTTL())
}

// Invalidate deletes key from both tiers.
func (f *Fabric) Invalidate(ctx context.Context, key string) error {
	f.l1.Delete(key)
	return f.l2.Delete(ctx, key)
}

// Loader produces a fresh value from the origin on a full cache miss.
type Loader func(ctx context.Context) ([]byte, error)

// GetOrLoad implements the complete L1 -> L2 -> origin read path,
// backfilling both tiers after an origin load.
func (f *Fabric) GetOrLoad(ctx context.Context, key string, policy Policy, load Loader) ([]byte, error) {
	if v, ok := f.Get(ctx, key, policy); ok {
		return v, nil
	}
	v, err := load(ctx)
	if err != nil {
		return nil, err
	}
	_ = f.Set(ctx, key, v, policy)
	return v, nil
}

// NewRedisClient parses a redis:// URL into a configured client.
func NewRedisClient(url string) (*redis.Client, error) {
	opt, err := redis.ParseURL(url)
	if err != nil {
		return nil, err
	}
	return redis.NewClient(opt), nil
}
