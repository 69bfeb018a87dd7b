package agent

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Cache is the runtime's Redis attachment, used to short-circuit repeated
// identical turns within a room.
type Cache struct {
	client *redis.Client
	ttl    time.Duration
}

// NewCache connects to Redis. A zero ttl defaults to one minute.
func NewCache(ctx context.Context, addr, password string, db int, ttl time.Duration) (*Cache, error) {
	if ttl <= 0 {
		ttl = time.Minute
	}
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to ping Redis: %w", err)
	}
	return &Cache{client: client, ttl: ttl}, nil
}

func cacheKey(hash, roomID, input string) string {
	return fmt.Sprintf("chatforge:reply:%s:%s:%s", hash, roomID, input)
}

// GetReply returns a cached reply for an identical recent turn.
func (c *Cache) GetReply(ctx context.Context, hash, roomID, input string) (string, bool) {
	val, err := c.client.Get(ctx, cacheKey(hash, roomID, input)).Result()
	if err != nil {
		return "", false
	}
	return val, true
}

// SetReply caches a reply for its ttl window.
func (c *Cache) SetReply(ctx context.Context, hash, roomID, input, reply string) error {
	return c.client.Set(ctx, cacheKey(hash, roomID, input), reply, c.ttl).Err()
}

// Close releases the Redis client.
func (c *Cache) Close() error {
	return c.client.Close()
}
