package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const redisPrefix = "poscore"

// Redis is a Cache shared by every process of a node.
// Invalidation bumps a per-collection generation so stale keys are never read
// again and simply expire.
type Redis struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedis creates a redis-backed cache.
func NewRedis(client *redis.Client, ttl time.Duration) *Redis {
	return &Redis{client: client, ttl: ttl}
}

// Ping checks the connection.
func (r *Redis) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}

func generationKey(collection string) string {
	return fmt.Sprintf("%s:gen:%s", redisPrefix, collection)
}

func entryKey(collection string, generation int64, key string) string {
	return fmt.Sprintf("%s:proj:%s:%d:%s", redisPrefix, collection, generation, key)
}

func (r *Redis) generation(ctx context.Context, collection string) (int64, error) {
	gen, err := r.client.Get(ctx, generationKey(collection)).Int64()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("read cache generation: %w", err)
	}
	return gen, nil
}

// Get loads a projection.
func (r *Redis) Get(ctx context.Context, collection, key string, dest any) (bool, error) {
	gen, err := r.generation(ctx, collection)
	if err != nil {
		return false, err
	}

	payload, err := r.client.Get(ctx, entryKey(collection, gen, key)).Bytes()
	if errors.Is(err, redis.Nil) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("read cache entry: %w", err)
	}
	if err := json.Unmarshal(payload, dest); err != nil {
		return false, fmt.Errorf("decode cached %s/%s: %w", collection, key, err)
	}
	return true, nil
}

// Set stores a projection.
func (r *Redis) Set(ctx context.Context, collection, key string, value any) error {
	payload, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("encode %s/%s: %w", collection, key, err)
	}
	gen, err := r.generation(ctx, collection)
	if err != nil {
		return err
	}
	if err := r.client.Set(ctx, entryKey(collection, gen, key), payload, r.ttl).Err(); err != nil {
		return fmt.Errorf("write cache entry: %w", err)
	}
	return nil
}

// InvalidateCollection moves the collection to a new generation.
func (r *Redis) InvalidateCollection(ctx context.Context, collection string) error {
	if err := r.client.Incr(ctx, generationKey(collection)).Err(); err != nil {
		return fmt.Errorf("bump cache generation: %w", err)
	}
	return nil
}
