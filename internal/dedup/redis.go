package dedup

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	inboundKeyPrefix  = "wati:seen:"
	outboundKeyPrefix = "wati:sent:"
)

// RedisCache shares the dedup memory across replicas. SET NX gives the
// atomic check-and-insert the inbound path needs.
type RedisCache struct {
	client   *redis.Client
	ttl      time.Duration
	suppress time.Duration
}

// NewRedisCache builds a Cache backed by the given redis client.
func NewRedisCache(client *redis.Client, inboundTTL, suppression time.Duration) *RedisCache {
	if client == nil {
		panic("dedup: redis client required")
	}
	if inboundTTL <= 0 {
		inboundTTL = 24 * time.Hour
	}
	if suppression <= 0 {
		suppression = 60 * time.Second
	}
	return &RedisCache{client: client, ttl: inboundTTL, suppress: suppression}
}

// SeenInbound implements Cache.
func (c *RedisCache) SeenInbound(ctx context.Context, id string) (bool, error) {
	if id == "" {
		return false, nil
	}
	inserted, err := c.client.SetNX(ctx, inboundKeyPrefix+id, 1, c.ttl).Result()
	if err != nil {
		return false, fmt.Errorf("dedup: setnx inbound id: %w", err)
	}
	return !inserted, nil
}

// Forget implements Cache.
func (c *RedisCache) Forget(ctx context.Context, id string) error {
	if id == "" {
		return nil
	}
	if err := c.client.Del(ctx, inboundKeyPrefix+id).Err(); err != nil {
		return fmt.Errorf("dedup: forget inbound id: %w", err)
	}
	return nil
}

// MayResend implements Cache.
func (c *RedisCache) MayResend(ctx context.Context, phone, content string) (bool, error) {
	hash := Fingerprint(content)
	key := outboundKeyPrefix + phone

	inserted, err := c.client.SetNX(ctx, key, hash, c.suppress).Result()
	if err != nil {
		return false, fmt.Errorf("dedup: setnx fingerprint: %w", err)
	}
	if inserted {
		return true, nil
	}
	prev, err := c.client.Get(ctx, key).Result()
	if err != nil {
		if err == redis.Nil {
			// Key expired between SETNX and GET; treat as sendable.
			return true, nil
		}
		return false, fmt.Errorf("dedup: get fingerprint: %w", err)
	}
	if prev == hash {
		return false, nil
	}
	// Different content resets the window for this phone.
	if err := c.client.Set(ctx, key, hash, c.suppress).Err(); err != nil {
		return false, fmt.Errorf("dedup: set fingerprint: %w", err)
	}
	return true, nil
}
