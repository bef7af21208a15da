package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"
)

// Redis backs the Cache interface with a shared redis instance.
type Redis struct {
	client *redis.Client
	prefix string

	hits   atomic.Uint64
	misses atomic.Uint64
	errs   atomic.Uint64
}

// NewRedis wraps an existing redis client. prefix namespaces all keys.
func NewRedis(client *redis.Client, prefix string) *Redis {
	return &Redis{client: client, prefix: prefix}
}

func (r *Redis) Get(ctx context.Context, key string, dest any) (bool, error) {
	data, err := r.client.Get(ctx, r.prefix+key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			r.misses.Add(1)
			return false, nil
		}
		r.errs.Add(1)
		return false, fmt.Errorf("cache get: %w", err)
	}

	if err := json.Unmarshal(data, dest); err != nil {
		// Undecodable entries are dropped and treated as misses so a bad
		// writer cannot wedge every subsequent reader.
		_ = r.client.Del(ctx, r.prefix+key).Err()
		r.misses.Add(1)
		return false, nil
	}

	r.hits.Add(1)
	return true, nil
}

func (r *Redis) Set(ctx context.Context, key string, value any, ttl time.Duration) error {
	data, err := json.Marshal(value)
	if err != nil {
		r.errs.Add(1)
		return fmt.Errorf("cache marshal: %w", err)
	}
	if err := r.client.Set(ctx, r.prefix+key, data, ttl).Err(); err != nil {
		r.errs.Add(1)
		return fmt.Errorf("cache set: %w", err)
	}
	return nil
}

func (r *Redis) Delete(ctx context.Context, key string) error {
	if err := r.client.Del(ctx, r.prefix+key).Err(); err != nil {
		r.errs.Add(1)
		return fmt.Errorf("cache delete: %w", err)
	}
	return nil
}

func (r *Redis) Incr(ctx context.Context, key string, ttl time.Duration) (int64, error) {
	full := r.prefix + key
	pipe := r.client.TxPipeline()
	incr := pipe.Incr(ctx, full)
	pipe.ExpireNX(ctx, full, ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		r.errs.Add(1)
		return 0, fmt.Errorf("cache incr: %w", err)
	}
	return incr.Val(), nil
}

func (r *Redis) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}

// Stats reports cumulative hit/miss/error counts.
func (r *Redis) Stats() (hits, misses, errs uint64) {
	return r.hits.Load(), r.misses.Load(), r.errs.Load()
}
