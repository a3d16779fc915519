package cache

import (
	"context"
	"time"

	errors "github.com/goliatone/go-errors"
	"github.com/redis/go-redis/v9"

	"github.com/goliatone/go-repository-txcache/internal/cacheinfra"
)

// FactoryRedis is the name the remote factory is registered under.
const FactoryRedis = "redis"

type redisCache struct {
	id    string
	store *cacheinfra.RedisStore
	codec Codec
}

// NewRedisCache builds a remote region stored in the hash prefix+id.
func NewRedisCache(client redis.UniversalClient, id, prefix string, expiry time.Duration, codec Codec) (Cache, error) {
	if codec == nil {
		codec = YAMLCodec{}
	}
	store, err := cacheinfra.NewRedisStore(client, prefix+id, expiry)
	if err != nil {
		return nil, err
	}
	return &redisCache{id: id, store: store, codec: codec}, nil
}

func (c *redisCache) ID() string { return c.id }

func (c *redisCache) Get(ctx context.Context, key Key) (any, bool, error) {
	data, found, err := c.store.Get(ctx, key.String())
	if err != nil || !found {
		return nil, false, wrapExternal(err, "redis cache get")
	}
	value, err := c.codec.Decode(data)
	if err != nil {
		return nil, false, err
	}
	return value, true, nil
}

func (c *redisCache) Put(ctx context.Context, key Key, value any) error {
	data, err := c.codec.Encode(value)
	if err != nil {
		return err
	}
	return wrapExternal(c.store.Set(ctx, key.String(), data), "redis cache put")
}

func (c *redisCache) Remove(ctx context.Context, key Key) (any, bool, error) {
	data, found, err := c.store.Delete(ctx, key.String())
	if err != nil || !found {
		return nil, false, wrapExternal(err, "redis cache remove")
	}
	value, err := c.codec.Decode(data)
	if err != nil {
		return nil, true, err
	}
	return value, true, nil
}

func (c *redisCache) Clear(ctx context.Context) error {
	return wrapExternal(c.store.Clear(ctx), "redis cache clear")
}

func (c *redisCache) Size(ctx context.Context) (int, error) {
	n, err := c.store.Size(ctx)
	return n, wrapExternal(err, "redis cache size")
}

// NewRedisFactory returns a Factory storing every namespace in its own hash.
// The codec and prefix properties select the value encoding and the hash
// name prefix.
func NewRedisFactory(client redis.UniversalClient) Factory {
	return FactoryFunc(func(namespace string, expiry time.Duration, properties map[string]any) (Cache, error) {
		codec, err := CodecByName(stringProperty(properties, PropertyCodec, CodecYAML))
		if err != nil {
			return nil, err
		}
		prefix := stringProperty(properties, PropertyPrefix, "")
		return NewRedisCache(client, namespace, prefix, expiry, codec)
	})
}

// wrapExternal keeps nil errors untyped.
func wrapExternal(err error, message string) error {
	if err == nil {
		return nil
	}
	return errors.Wrap(err, errors.CategoryExternal, message)
}
