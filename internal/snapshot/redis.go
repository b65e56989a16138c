package snapshot

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// DefaultRedisKey is the fixed key the snapshot lives under. Only one
// logical session exists per deployment of the widget backend, so a single
// constant key is enough.
const DefaultRedisKey = "cvchat:session"

// defaultRedisTTL expires abandoned sessions server-side a while after the
// store-level MaxAge would have reaped them anyway.
const defaultRedisTTL = 24 * time.Hour

// RedisBackend stores the snapshot under a single Redis key with a TTL that
// is refreshed on every read and write.
type RedisBackend struct {
	client   *redis.Client
	key      string
	ttl      time.Duration
	capacity int64
}

// NewRedisBackend creates a RedisBackend. Empty key, non-positive ttl and
// non-positive capacity fall back to the defaults.
func NewRedisBackend(client *redis.Client, key string, ttl time.Duration, capacity int64) *RedisBackend {
	if key == "" {
		key = DefaultRedisKey
	}
	if ttl <= 0 {
		ttl = defaultRedisTTL
	}
	if capacity <= 0 {
		capacity = defaultFileCapacity
	}
	return &RedisBackend{client: client, key: key, ttl: ttl, capacity: capacity}
}

func (b *RedisBackend) Read(ctx context.Context) ([]byte, error) {
	val, err := b.client.Get(ctx, b.key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("snapshot redis: get: %w", err)
	}
	// Refresh TTL on read; an active session should not expire under the
	// visitor.
	_ = b.client.Expire(ctx, b.key, b.ttl).Err()
	return val, nil
}

func (b *RedisBackend) Write(ctx context.Context, data []byte) error {
	if int64(len(data)) > b.capacity {
		return ErrQuotaExceeded
	}
	if err := b.client.Set(ctx, b.key, data, b.ttl).Err(); err != nil {
		return fmt.Errorf("snapshot redis: set: %w", err)
	}
	return nil
}

func (b *RedisBackend) Delete(ctx context.Context) error {
	if err := b.client.Del(ctx, b.key).Err(); err != nil {
		return fmt.Errorf("snapshot redis: del: %w", err)
	}
	return nil
}

func (b *RedisBackend) Usage(ctx context.Context) (Usage, error) {
	used, err := b.client.StrLen(ctx, b.key).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return Usage{}, fmt.Errorf("snapshot redis: strlen: %w", err)
	}
	avail := b.capacity - used
	if avail < 0 {
		avail = 0
	}
	pct := 0.0
	if b.capacity > 0 {
		pct = float64(used) / float64(b.capacity) * 100
	}
	return Usage{UsedBytes: used, AvailableBytes: avail, Percentage: pct}, nil
}

var _ Backend = (*RedisBackend)(nil)
