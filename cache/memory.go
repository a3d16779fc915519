package cache

import (
	"context"
	"time"

	"github.com/goliatone/go-repository-txcache/internal/cacheinfra"
)

// FactoryMemory is the name the in-process factory is registered under.
const FactoryMemory = "memory"

type memoryCache struct {
	id    string
	store *cacheinfra.MemoryStore
}

// NewMemoryCache builds an in-process region for namespace id.
func NewMemoryCache(id string, cfg Config) (Cache, error) {
	store, err := cacheinfra.NewMemoryStore(cfg.toInternal())
	if err != nil {
		return nil, err
	}
	return &memoryCache{id: id, store: store}, nil
}

func (c *memoryCache) ID() string { return c.id }

func (c *memoryCache) Get(_ context.Context, key Key) (any, bool, error) {
	value, ok := c.store.Get(key.String())
	return value, ok, nil
}

func (c *memoryCache) Put(_ context.Context, key Key, value any) error {
	c.store.Set(key.String(), value)
	return nil
}

func (c *memoryCache) Remove(_ context.Context, key Key) (any, bool, error) {
	value, ok := c.store.Delete(key.String())
	return value, ok, nil
}

func (c *memoryCache) Clear(context.Context) error {
	c.store.Clear()
	return nil
}

func (c *memoryCache) Size(context.Context) (int, error) {
	return c.store.Size(), nil
}

// NewMemoryFactory returns a Factory creating one sturdyc backed region per
// namespace. Properties override the capacity, shard and eviction defaults.
func NewMemoryFactory() Factory {
	return FactoryFunc(func(namespace string, expiry time.Duration, properties map[string]any) (Cache, error) {
		cfg, err := ConfigFromProperties(expiry, properties)
		if err != nil {
			return nil, err
		}
		return NewMemoryCache(namespace, cfg)
	})
}
