package cacheinfra

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisStore keeps one cache region in a single Redis hash. Fields are entry
// keys, values are already encoded bytes.
//
// The TTL applies to the whole hash and is set on the first write after the
// hash is created; later writes never refresh it.
type RedisStore struct {
	client redis.UniversalClient
	key    string
	ttl    time.Duration
}

// NewRedisStore creates a store for the hash named key. A zero ttl disables
// expiry.
func NewRedisStore(client redis.UniversalClient, key string, ttl time.Duration) (*RedisStore, error) {
	if client == nil {
		return nil, &ConfigError{Field: "Client", Message: "cannot be nil"}
	}
	if key == "" {
		return nil, &ConfigError{Field: "Key", Message: "cannot be empty"}
	}
	if ttl < 0 {
		return nil, &ConfigError{Field: "TTL", Message: "must be non-negative"}
	}
	return &RedisStore{client: client, key: key, ttl: ttl}, nil
}

// Key returns the name of the backing hash.
func (s *RedisStore) Key() string {
	return s.key
}

// Get reads one field. A missing field is reported with found=false and no
// error.
func (s *RedisStore) Get(ctx context.Context, field string) ([]byte, bool, error) {
	data, err := s.client.HGet(ctx, s.key, field).Bytes()
	if err == redis.Nil {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("hget %s: %w", s.key, err)
	}
	return data, true, nil
}

// Set writes one field and applies the region TTL if the hash has none yet.
func (s *RedisStore) Set(ctx context.Context, field string, data []byte) error {
	if err := s.client.HSet(ctx, s.key, field, data).Err(); err != nil {
		return fmt.Errorf("hset %s: %w", s.key, err)
	}

	if s.ttl <= 0 {
		return nil
	}

	// -1 no expiry set, -2 missing key
	current, err := s.client.TTL(ctx, s.key).Result()
	if err != nil {
		return fmt.Errorf("ttl %s: %w", s.key, err)
	}
	if current >= 0 {
		return nil
	}

	if err := s.client.Expire(ctx, s.key, s.ttl).Err(); err != nil {
		return fmt.Errorf("expire %s: %w", s.key, err)
	}
	return nil
}

// Delete removes one field and returns its previous bytes.
func (s *RedisStore) Delete(ctx context.Context, field string) ([]byte, bool, error) {
	data, found, err := s.Get(ctx, field)
	if err != nil || !found {
		return nil, false, err
	}
	if err := s.client.HDel(ctx, s.key, field).Err(); err != nil {
		return nil, false, fmt.Errorf("hdel %s: %w", s.key, err)
	}
	return data, true, nil
}

// Clear drops the whole hash.
func (s *RedisStore) Clear(ctx context.Context) error {
	if err := s.client.Del(ctx, s.key).Err(); err != nil {
		return fmt.Errorf("del %s: %w", s.key, err)
	}
	return nil
}

// Size returns the number of fields in the hash.
func (s *RedisStore) Size(ctx context.Context) (int, error) {
	n, err := s.client.HLen(ctx, s.key).Result()
	if err != nil {
		return 0, fmt.Errorf("hlen %s: %w", s.key, err)
	}
	return int(n), nil
}
