// Package ratelimit provides the Fiber limiter configuration for verification endpoints and a
// Redis-backed limiter storage shared by every API instance.
package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/redis/go-redis/v9"
)

const (
	keyPrefix     = "ratelimit:"
	scanBatchSize = 100
	opTimeout     = 2 * time.Second
)

var _ fiber.Storage = (*RedisStorage)(nil)

// RedisStorage implements fiber.Storage on a go-redis client.
type RedisStorage struct {
	client redis.UniversalClient
}

// NewRedisStorage returns a storage backed by client, or nil when client is nil.
func NewRedisStorage(client redis.UniversalClient) *RedisStorage {
	if client == nil {
		return nil
	}
	return &RedisStorage{client: client}
}

// Get retrieves the value for the given key. Returns nil, nil when the key does not exist.
func (s *RedisStorage) Get(key string) ([]byte, error) {
	if s == nil {
		return nil, nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()
	val, err := s.client.Get(ctx, keyPrefix+key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("redis get: %w", err)
	}
	return val, nil
}

// Set stores val under key. 0 expiration means no expiration. Empty key or value is ignored.
func (s *RedisStorage) Set(key string, val []byte, exp time.Duration) error {
	if s == nil || key == "" || len(val) == 0 {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()
	if err := s.client.Set(ctx, keyPrefix+key, val, exp).Err(); err != nil {
		return fmt.Errorf("redis set: %w", err)
	}
	return nil
}

// Delete removes key. Missing keys are not an error.
func (s *RedisStorage) Delete(key string) error {
	if s == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()
	if err := s.client.Del(ctx, keyPrefix+key).Err(); err != nil {
		return fmt.Errorf("redis delete: %w", err)
	}
	return nil
}

// Reset deletes every limiter key (SCAN on the key prefix).
func (s *RedisStorage) Reset() error {
	if s == nil {
		return nil
	}
	ctx := context.Background()
	var cursor uint64
	for {
		keys, next, err := s.client.Scan(ctx, cursor, keyPrefix+"*", scanBatchSize).Result()
		if err != nil {
			return fmt.Errorf("redis scan: %w", err)
		}
		if len(keys) > 0 {
			if err := s.client.Del(ctx, keys...).Err(); err != nil {
				return fmt.Errorf("redis batch delete: %w", err)
			}
		}
		cursor = next
		if cursor == 0 {
			return nil
		}
	}
}

// Close is a no-op; the client is owned by the caller.
func (*RedisStorage) Close() error {
	return nil
}
