package cacheinfra

import (
	"time"

	"github.com/viccon/sturdyc"
)

// NoExpiry is the TTL handed to sturdyc when a region never expires. sturdyc
// requires a positive TTL, so "never" is approximated by a century.
const NoExpiry = 100 * 365 * 24 * time.Hour

// Config holds the configuration for one in-process cache region.
type Config struct {
	// Capacity defines the maximum number of entries that the region can store.
	// Must be greater than 0.
	Capacity int

	// NumShards determines the number of shards for concurrent access.
	// Must be greater than 0. Default: 64
	NumShards int

	// TTL is the time-to-live for cached entries. Zero means entries never
	// expire.
	TTL time.Duration

	// EvictionPercentage specifies what percentage of entries to evict
	// when the region reaches its capacity. Must be between 1-100.
	EvictionPercentage int

	// EvictionInterval sets how often expired entries are swept.
	// Zero value uses the sturdyc default.
	EvictionInterval time.Duration
}

// DefaultConfig returns a Config with defaults suited to statement result
// regions: entries never expire and are only evicted under pressure.
func DefaultConfig() Config {
	return Config{
		Capacity:           10000,
		NumShards:          64,
		TTL:                0,
		EvictionPercentage: 10,
	}
}

// ToSturdycOptions converts the Config to sturdyc.Option slice.
// Capacity, NumShards, TTL, and EvictionPercentage are passed directly
// to sturdyc.New() and are not included here.
func (c Config) ToSturdycOptions() []sturdyc.Option {
	var options []sturdyc.Option

	if c.EvictionInterval > 0 {
		options = append(options, sturdyc.WithEvictionInterval(c.EvictionInterval))
	}

	return options
}

// Validate checks if the configuration values are valid.
func (c Config) Validate() error {
	if c.Capacity <= 0 {
		return &ConfigError{Field: "Capacity", Message: "must be greater than 0"}
	}

	if c.NumShards <= 0 {
		return &ConfigError{Field: "NumShards", Message: "must be greater than 0"}
	}

	if c.NumShards > c.Capacity {
		return &ConfigError{Field: "NumShards", Message: "must not exceed Capacity"}
	}

	if c.TTL < 0 {
		return &ConfigError{Field: "TTL", Message: "must be non-negative"}
	}

	if c.EvictionPercentage < 1 || c.EvictionPercentage > 100 {
		return &ConfigError{Field: "EvictionPercentage", Message: "must be between 1 and 100"}
	}

	if c.EvictionInterval < 0 {
		return &ConfigError{Field: "EvictionInterval", Message: "must be non-negative"}
	}

	return nil
}

// ConfigError represents a configuration validation error.
type ConfigError struct {
	Field   string
	Message string
}

// Error implements the error interface.
func (e *ConfigError) Error() string {
	return "config error in field " + e.Field + ": " + e.Message
}

// MemoryStore is one in-process cache region backed by its own sturdyc
// client. Keeping a client per region makes Clear a scan over that region
// only.
type MemoryStore struct {
	client *sturdyc.Client[any]
}

// NewMemoryStore validates cfg and builds the sturdyc client.
func NewMemoryStore(cfg Config) (*MemoryStore, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	ttl := cfg.TTL
	if ttl == 0 {
		ttl = NoExpiry
	}

	client := sturdyc.New[any](
		cfg.Capacity,
		cfg.NumShards,
		ttl,
		cfg.EvictionPercentage,
		cfg.ToSturdycOptions()...,
	)

	return &MemoryStore{client: client}, nil
}

// Get returns the stored value and whether it was present.
func (s *MemoryStore) Get(key string) (any, bool) {
	return s.client.Get(key)
}

// Set stores value under key, replacing any previous value.
func (s *MemoryStore) Set(key string, value any) {
	s.client.Set(key, value)
}

// Delete removes key and returns the value it held.
func (s *MemoryStore) Delete(key string) (any, bool) {
	value, ok := s.client.Get(key)
	if ok {
		s.client.Delete(key)
	}
	return value, ok
}

// Clear removes every entry of the region.
func (s *MemoryStore) Clear() {
	for _, key := range s.client.ScanKeys() {
		s.client.Delete(key)
	}
}

// Size returns the number of entries currently held.
func (s *MemoryStore) Size() int {
	return s.client.Size()
}

// Keys returns a snapshot of the stored keys.
func (s *MemoryStore) Keys() []string {
	return s.client.ScanKeys()
}
