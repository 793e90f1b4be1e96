package ratelimit

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// Cooldown enforces a minimum gap between two actions of the same key.
type Cooldown struct {
	redisClient redis.UniversalClient
	prefix      string
	gap         time.Duration
}

func NewCooldown(client redis.UniversalClient, prefix string, gap time.Duration) (*Cooldown, error) {
	if client == nil {
		return nil, errors.New("cooldown redis client is required")
	}
	if gap <= 0 {
		return nil, errors.New("cooldown requires a positive gap")
	}
	prefix = strings.TrimSpace(prefix)
	if prefix == "" {
		prefix = "postcraft:cooldown"
	}
	return &Cooldown{redisClient: client, prefix: prefix, gap: gap}, nil
}

// Acquire claims the key for the gap. It returns false with the remaining
// wait when the key is still cooling down. Redis errors are returned so the
// caller decides whether to fail open or closed.
func (c *Cooldown) Acquire(ctx context.Context, key string) (bool, time.Duration, error) {
	redisKey := c.prefix + ":" + strings.TrimSpace(key)
	ok, err := c.redisClient.SetNX(ctx, redisKey, "1", c.gap).Result()
	if err != nil {
		return false, 0, err
	}
	if ok {
		return true, 0, nil
	}
	ttl, err := c.redisClient.PTTL(ctx, redisKey).Result()
	if err != nil || ttl <= 0 {
		ttl = c.gap
	}
	return false, ttl, nil
}

// Release clears the key so a failed attempt does not block a retry.
func (c *Cooldown) Release(ctx context.Context, key string) error {
	return c.redisClient.Del(ctx, c.prefix+":"+strings.TrimSpace(key)).Err()
}
