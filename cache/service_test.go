package cache

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/go-cmp/cmp"
	"github.com/redis/go-redis/v9"
)

func memoryFactoryForTest(t *testing.T) Factory {
	t.Helper()
	return NewMemoryFactory()
}

func redisFactoryForTest(t *testing.T) Factory {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewRedisFactory(client)
}

func TestCache_Contract(t *testing.T) {
	factories := map[string]func(*testing.T) Factory{
		FactoryMemory: memoryFactoryForTest,
		FactoryRedis:  redisFactoryForTest,
	}

	for name, build := range factories {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			c, err := build(t).CreateCache("app.user", 0, nil)
			if err != nil {
				t.Fatalf("CreateCache failed: %v", err)
			}

			if c.ID() != "app.user" {
				t.Errorf("expected ID app.user, got %q", c.ID())
			}

			k1 := NewKey(nil, "app.user.byID", 1)
			k2 := NewKey(nil, "app.user.byID", 2)

			if _, found, err := c.Get(ctx, k1); err != nil || found {
				t.Fatalf("expected miss on empty cache, found=%v err=%v", found, err)
			}

			if err := c.Put(ctx, k1, "one"); err != nil {
				t.Fatalf("Put failed: %v", err)
			}
			if err := c.Put(ctx, k2, "two"); err != nil {
				t.Fatalf("Put failed: %v", err)
			}

			value, found, err := c.Get(ctx, k1)
			if err != nil || !found {
				t.Fatalf("expected hit, found=%v err=%v", found, err)
			}
			if diff := cmp.Diff("one", value); diff != "" {
				t.Errorf("unexpected value (-want +got):\n%s", diff)
			}

			size, err := c.Size(ctx)
			if err != nil || size != 2 {
				t.Errorf("expected size 2, got %d (err %v)", size, err)
			}

			removed, found, err := c.Remove(ctx, k2)
			if err != nil || !found || removed != "two" {
				t.Errorf("expected Remove to return two, got %v found=%v err=%v", removed, found, err)
			}

			if err := c.Clear(ctx); err != nil {
				t.Fatalf("Clear failed: %v", err)
			}
			if size, _ := c.Size(ctx); size != 0 {
				t.Errorf("expected empty cache after Clear, got %d", size)
			}
		})
	}
}

func TestMemoryFactory_Properties(t *testing.T) {
	_, err := NewMemoryFactory().CreateCache("ns", time.Minute, map[string]any{
		PropertyCapacity: "not a number",
	})
	if err == nil {
		t.Fatal("expected error for invalid capacity property")
	}

	c, err := NewMemoryFactory().CreateCache("ns", time.Minute, map[string]any{
		PropertyCapacity:           50,
		PropertyShards:             "5",
		PropertyEvictionPercentage: float64(20),
		PropertyEvictionInterval:   "30s",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if c.ID() != "ns" {
		t.Errorf("expected ID ns, got %q", c.ID())
	}
}

func TestConfigFromProperties(t *testing.T) {
	cfg, err := ConfigFromProperties(2*time.Second, map[string]any{
		PropertyCapacity:         int64(200),
		PropertyShards:           uint64(4),
		PropertyEvictionInterval: 10,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	want := Config{
		Capacity:           200,
		NumShards:          4,
		TTL:                2 * time.Second,
		EvictionPercentage: DefaultConfig().EvictionPercentage,
		EvictionInterval:   10 * time.Second,
	}
	if diff := cmp.Diff(want, cfg); diff != "" {
		t.Errorf("unexpected config (-want +got):\n%s", diff)
	}

	if _, err := ConfigFromProperties(0, map[string]any{PropertyEvictionInterval: true}); err == nil {
		t.Error("expected error for unsupported duration type")
	}
}

func TestRedisFactory_CodecAndPrefix(t *testing.T) {
	ctx := context.Background()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()

	factory := NewRedisFactory(client)

	if _, err := factory.CreateCache("ns", 0, map[string]any{PropertyCodec: "xml"}); err == nil {
		t.Fatal("expected error for unknown codec")
	}

	c, err := factory.CreateCache("app.order", time.Minute, map[string]any{
		PropertyCodec:  CodecMsgpack,
		PropertyPrefix: "txcache:",
	})
	if err != nil {
		t.Fatalf("CreateCache failed: %v", err)
	}

	key := NewKey(nil, "app.order.list")
	if err := c.Put(ctx, key, []any{"a", "b"}); err != nil {
		t.Fatalf("Put failed: %v", err)
	}

	if !mr.Exists("txcache:app.order") {
		t.Fatal("expected prefixed hash to exist")
	}
	if ttl := mr.TTL("txcache:app.order"); ttl != time.Minute {
		t.Errorf("expected hash TTL of one minute, got %v", ttl)
	}

	value, found, err := c.Get(ctx, key)
	if err != nil || !found {
		t.Fatalf("expected hit, found=%v err=%v", found, err)
	}
	if diff := cmp.Diff([]any{"a", "b"}, value); diff != "" {
		t.Errorf("unexpected value (-want +got):\n%s", diff)
	}
}

func TestExpiry(t *testing.T) {
	if Expiry(0) != 0 || Expiry(-5) != 0 {
		t.Error("expected non positive seconds to disable expiry")
	}
	if Expiry(3) != 3*time.Second {
		t.Errorf("expected 3s, got %v", Expiry(3))
	}
}
