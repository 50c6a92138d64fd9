package kv

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/redis/go-redis/v9"
)

// RedisBackend stores items as plain Redis strings under a key prefix.
type RedisBackend struct {
	redis  *redis.Client
	prefix string
}

func NewRedisBackend(client *redis.Client, prefix string) *RedisBackend {
	return &RedisBackend{redis: client, prefix: prefix}
}

func (r *RedisBackend) buildKey(key string) string {
	return fmt.Sprintf("%s%s", r.prefix, key)
}

func (r *RedisBackend) Get(ctx context.Context, key string) ([]byte, bool, error) {
	data, err := r.redis.Get(ctx, r.buildKey(key)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("failed to fetch key from redis: %w", err)
	}
	return data, true, nil
}

func (r *RedisBackend) Set(ctx context.Context, key string, value []byte) error {
	err := r.redis.Set(ctx, r.buildKey(key), value, 0).Err()
	if err != nil {
		// maxmemory reached with noeviction policy
		if strings.HasPrefix(err.Error(), "OOM") {
			return ErrQuotaExceeded
		}
		return fmt.Errorf("failed to set key: %w", err)
	}
	return nil
}

func (r *RedisBackend) Remove(ctx context.Context, key string) error {
	return r.redis.Del(ctx, r.buildKey(key)).Err()
}

func (r *RedisBackend) Clear(ctx context.Context) error {
	keys, err := r.scan(ctx)
	if err != nil {
		return err
	}
	if len(keys) == 0 {
		return nil
	}
	return r.redis.Del(ctx, keys...).Err()
}

func (r *RedisBackend) Keys(ctx context.Context) ([]string, error) {
	keys, err := r.scan(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]string, 0, len(keys))
	for _, k := range keys {
		out = append(out, strings.TrimPrefix(k, r.prefix))
	}
	return out, nil
}

func (r *RedisBackend) scan(ctx context.Context) ([]string, error) {
	var keys []string
	iter := r.redis.Scan(ctx, 0, r.prefix+"*", 100).Iterator()
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("failed to scan keys: %w", err)
	}
	return keys, nil
}
