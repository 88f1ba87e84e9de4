package cache

import (
	"bytes"
	"context"
	"io"
	"time"

	"github.com/klauspost/compress/gzip"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

// compressionThreshold is the value-size cutoff above which L2 values
// are gzip-compressed before storage, per spec.md §4.4.
const compressionThreshold = 1024

// gzipMagic is gzip's own 2-byte stream header, read back on
// deserialize to tell a compressed value from a raw one without a side
// channel, per spec.md §4.4.
var gzipMagic = [2]byte{0x1f, 0x8b}

// L2 is the distributed cache tier, backed by Redis.
type L2 struct {
	client *redis.Client
}

func NewL2(client *redis.Client) *L2 {
	return &L2{client: client}
}

// Get returns the raw (decompressed) value and true on hit. Redis
// errors are treated as a miss after logging, per spec.md §7's recovery
// policy ("Recovery is local for cache: treat as miss").
func (l *L2) Get(ctx context.Context, key string) ([]byte, bool) {
	raw, err := l.client.Get(ctx, key).Bytes()
	if err == redis.Nil {
		return nil, false
	}
	if err != nil {
		log.Warn().Err(err).Str("key", key).Msg("L2 cache get failed, treating as miss")
		return nil, false
	}

	value, decompressErr := maybeDecompress(raw)
	if decompressErr != nil {
		log.Warn().Err(decompressErr).Str("key", key).Msg("L2 cache value corrupt, treating as miss")
		return nil, false
	}
	return value, true
}

// Set writes value under key with ttl, compressing above the threshold.
func (l *L2) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	payload := value
	if len(value) > compressionThreshold {
		compressed, err := compress(value)
		if err == nil {
			payload = compressed
		}
	}
	return l.client.Set(ctx, key, payload, ttl).Err()
}

// Delete removes key from L2.
func (l *L2) Delete(ctx context.Context, key string) error {
	return l.client.Del(ctx, key).Err()
}

func compress(value []byte) ([]byte, error) {
	var buf bytes.Buffer
	w := gzip.NewWriter(&buf)
	if _, err := w.Write(value); err != nil {
		return nil, err
	}
	if err := w.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func maybeDecompress(raw []byte) ([]byte, error) {
	if len(raw) < 2 || raw[0] != gzipMagic[0] || raw[1] != gzipMagic[1] {
		return raw, nil
	}
	r, err := gzip.NewReader(bytes.NewReader(raw))
	if err != nil {
		return nil, err
	}
	defer r.Close()
	return io.ReadAll(r)
}
