// ABOUTME: Redis-backed replay cache shared across gateway instances
// ABOUTME: Uses SET NX with expiry so the first writer wins atomically

package replay

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// DefaultRedisPrefix namespaces replay keys.
const DefaultRedisPrefix = "authflow:replay:"

// Redis is a replay cache stored in Redis.
type Redis struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

// NewRedis creates a Redis cache. An empty prefix uses DefaultRedisPrefix.
func NewRedis(client *redis.Client, prefix string, ttl time.Duration) *Redis {
	if prefix == "" {
		prefix = DefaultRedisPrefix
	}
	return &Redis{client: client, prefix: prefix, ttl: ttl}
}

// CheckAndMark implements Cache.
func (r *Redis) CheckAndMark(ctx context.Context, key string) (bool, error) {
	ok, err := r.client.SetNX(ctx, r.prefix+key, 1, r.ttl).Result()
	if err != nil {
		return false, fmt.Errorf("marking replay key: %w", err)
	}
	// SetNX reports true when the key was newly set.
	return !ok, nil
}
