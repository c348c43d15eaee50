package idempotency

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const redisKeyPrefix = "poscore:idem:"

// Redis shares keys between server instances.
type Redis struct {
	client *redis.Client
	ttl    time.Duration
	now    func() time.Time
}

// NewRedis creates a redis-backed store.
func NewRedis(client *redis.Client, ttl time.Duration) *Redis {
	return &Redis{client: client, ttl: ttl, now: time.Now}
}

// Acquire implements Store. The pending record is written with SET NX; an
// existing record is resolved and a stale one replaced.
func (r *Redis) Acquire(ctx context.Context, key string, fp Fingerprint) (*Replay, error) {
	now := r.now().UTC()
	pending, err := json.Marshal(Record{
		Fingerprint: fp,
		Status:      StatusPending,
		CreatedAt:   now,
		UpdatedAt:   now,
	})
	if err != nil {
		return nil, fmt.Errorf("encode idempotency record: %w", err)
	}

	ok, err := r.client.SetNX(ctx, redisKeyPrefix+key, pending, r.ttl).Result()
	if err != nil {
		return nil, fmt.Errorf("acquire idempotency key: %w", err)
	}
	if ok {
		return nil, nil
	}

	rec, err := r.load(ctx, key)
	if err != nil {
		return nil, err
	}
	if rec == nil {
		// Expired between SETNX and GET.
		return r.Acquire(ctx, key, fp)
	}
	replay, reclaim, err := Resolve(key, rec, fp, now)
	if !reclaim {
		return replay, err
	}
	if err := r.client.Set(ctx, redisKeyPrefix+key, pending, r.ttl).Err(); err != nil {
		return nil, fmt.Errorf("reclaim stale key: %w", err)
	}
	return nil, nil
}

func (r *Redis) load(ctx context.Context, key string) (*Record, error) {
	raw, err := r.client.Get(ctx, redisKeyPrefix+key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load idempotency key: %w", err)
	}
	var rec Record
	if err := json.Unmarshal(raw, &rec); err != nil {
		return nil, fmt.Errorf("decode idempotency record: %w", err)
	}
	return &rec, nil
}

// Complete implements Store.
func (r *Redis) Complete(ctx context.Context, key string, statusCode int, contentType string, body []byte) error {
	return r.finish(ctx, key, StatusSuccess, statusCode, contentType, body)
}

// Fail implements Store.
func (r *Redis) Fail(ctx context.Context, key string, statusCode int, contentType string, body []byte) error {
	return r.finish(ctx, key, StatusFailed, statusCode, contentType, body)
}

func (r *Redis) finish(ctx context.Context, key string, status Status, statusCode int, contentType string, body []byte) error {
	rec, err := r.load(ctx, key)
	if err != nil || rec == nil {
		return err
	}
	rec.Status = status
	rec.StatusCode = statusCode
	rec.ContentType = contentType
	rec.Body = body
	rec.UpdatedAt = r.now().UTC()

	raw, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("encode idempotency record: %w", err)
	}
	return r.client.Set(ctx, redisKeyPrefix+key, raw, redis.KeepTTL).Err()
}
