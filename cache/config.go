package cache

import (
	"fmt"
	"strconv"
	"time"

	"github.com/goliatone/go-repository-txcache/internal/cacheinfra"
)

// Property names understood by the built-in factories.
const (
	PropertyCapacity           = "capacity"
	PropertyShards             = "shards"
	PropertyEvictionPercentage = "evictionPercentage"
	PropertyEvictionInterval   = "evictionInterval"
	PropertyCodec              = "codec"
	PropertyPrefix             = "prefix"
)

// Config exposes the in-process region options for consumers of the cache package.
type Config struct {
	Capacity           int
	NumShards          int
	TTL                time.Duration
	EvictionPercentage int
	EvictionInterval   time.Duration
}

// DefaultConfig returns a Config populated with sensible defaults.
func DefaultConfig() Config {
	return convertFromInternal(cacheinfra.DefaultConfig())
}

// Validate checks whether the configuration values are valid.
func (c Config) Validate() error {
	return c.toInternal().Validate()
}

// ConfigFromProperties starts from DefaultConfig, applies the factory
// properties and uses expiry as the entry TTL.
func ConfigFromProperties(expiry time.Duration, properties map[string]any) (Config, error) {
	cfg := DefaultConfig()
	cfg.TTL = expiry

	var err error
	if cfg.Capacity, err = intProperty(properties, PropertyCapacity, cfg.Capacity); err != nil {
		return cfg, err
	}
	if cfg.NumShards, err = intProperty(properties, PropertyShards, cfg.NumShards); err != nil {
		return cfg, err
	}
	if cfg.EvictionPercentage, err = intProperty(properties, PropertyEvictionPercentage, cfg.EvictionPercentage); err != nil {
		return cfg, err
	}
	if cfg.EvictionInterval, err = durationProperty(properties, PropertyEvictionInterval, cfg.EvictionInterval); err != nil {
		return cfg, err
	}

	return cfg, cfg.Validate()
}

func (c Config) toInternal() cacheinfra.Config {
	return cacheinfra.Config{
		Capacity:           c.Capacity,
		NumShards:          c.NumShards,
		TTL:                c.TTL,
		EvictionPercentage: c.EvictionPercentage,
		EvictionInterval:   c.EvictionInterval,
	}
}

func convertFromInternal(cfg cacheinfra.Config) Config {
	return Config{
		Capacity:           cfg.Capacity,
		NumShards:          cfg.NumShards,
		TTL:                cfg.TTL,
		EvictionPercentage: cfg.EvictionPercentage,
		EvictionInterval:   cfg.EvictionInterval,
	}
}

func intProperty(properties map[string]any, name string, fallback int) (int, error) {
	raw, ok := properties[name]
	if !ok || raw == nil {
		return fallback, nil
	}
	switch v := raw.(type) {
	case int:
		return v, nil
	case int64:
		return int(v), nil
	case uint64:
		return int(v), nil
	case float64:
		return int(v), nil
	case string:
		n, err := strconv.Atoi(v)
		if err != nil {
			return fallback, &cacheinfra.ConfigError{Field: name, Message: "must be an integer"}
		}
		return n, nil
	default:
		return fallback, &cacheinfra.ConfigError{Field: name, Message: fmt.Sprintf("unsupported type %T", raw)}
	}
}

func durationProperty(properties map[string]any, name string, fallback time.Duration) (time.Duration, error) {
	raw, ok := properties[name]
	if !ok || raw == nil {
		return fallback, nil
	}
	switch v := raw.(type) {
	case time.Duration:
		return v, nil
	case string:
		d, err := time.ParseDuration(v)
		if err != nil {
			return fallback, &cacheinfra.ConfigError{Field: name, Message: "must be a duration"}
		}
		return d, nil
	case int:
		return time.Duration(v) * time.Second, nil
	default:
		return fallback, &cacheinfra.ConfigError{Field: name, Message: fmt.Sprintf("unsupported type %T", raw)}
	}
}

func stringProperty(properties map[string]any, name, fallback string) string {
	raw, ok := properties[name]
	if !ok || raw == nil {
		return fallback
	}
	if s, ok := raw.(string); ok {
		return s
	}
	return fmt.Sprint(raw)
}
