// Package cache memoizes computed build diffs in Redis. Builds never
// change after creation, so a pair diff can be reused verbatim; the TTL
// only bounds memory, not correctness.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"bagofwords/api/internal/diff"
)

const defaultTTL = 24 * time.Hour

type DiffCache struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

// New connects to Redis by URL.
func New(redisURL string) (*DiffCache, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}

	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("connect to redis: %w", err)
	}

	return NewWithClient(client), nil
}

// NewWithClient wraps an existing Redis client.
func NewWithClient(client *redis.Client) *DiffCache {
	return &DiffCache{
		client: client,
		prefix: "diff:",
		ttl:    defaultTTL,
	}
}

func (c *DiffCache) key(fromBuildID, toBuildID string) string {
	return c.prefix + fromBuildID + ":" + toBuildID
}

// Get returns the cached diff for a build pair, or nil on a miss.
func (c *DiffCache) Get(ctx context.Context, fromBuildID, toBuildID string) (*diff.Result, error) {
	raw, err := c.client.Get(ctx, c.key(fromBuildID, toBuildID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get cached diff: %w", err)
	}
	var result diff.Result
	if err := json.Unmarshal(raw, &result); err != nil {
		return nil, fmt.Errorf("decode cached diff: %w", err)
	}
	return &result, nil
}

// Set stores a computed diff for a build pair.
func (c *DiffCache) Set(ctx context.Context, fromBuildID, toBuildID string, result diff.Result) error {
	raw, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("encode diff: %w", err)
	}
	if err := c.client.Set(ctx, c.key(fromBuildID, toBuildID), raw, c.ttl).Err(); err != nil {
		return fmt.Errorf("set cached diff: %w", err)
	}
	return nil
}

// Close releases the Redis connection.
func (c *DiffCache) Close() error {
	return c.client.Close()
}
