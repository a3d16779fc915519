package testsupport

import (
	"context"
	"sync"
	"time"

	"github.com/goliatone/go-repository-txcache/cache"
)

// CacheCall records one invocation on a RecordingCache.
type CacheCall struct {
	Op    string
	Key   cache.Key
	Value any
}

// RecordingCache is an in-memory cache.Cache that records every call and can
// be told to fail. It is safe for concurrent use.
type RecordingCache struct {
	id string

	mu      sync.Mutex
	entries map[cache.Key]any
	calls   []CacheCall

	// GetErr, PutErr and ClearErr are returned by the matching operation
	// when set.
	GetErr   error
	PutErr   error
	ClearErr error
}

// NewRecordingCache creates an empty cache for namespace id.
func NewRecordingCache(id string) *RecordingCache {
	return &RecordingCache{id: id, entries: map[cache.Key]any{}}
}

func (c *RecordingCache) ID() string { return c.id }

func (c *RecordingCache) Get(_ context.Context, key cache.Key) (any, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls = append(c.calls, CacheCall{Op: "get", Key: key})
	if c.GetErr != nil {
		return nil, false, c.GetErr
	}
	value, ok := c.entries[key]
	return value, ok, nil
}

func (c *RecordingCache) Put(_ context.Context, key cache.Key, value any) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls = append(c.calls, CacheCall{Op: "put", Key: key, Value: value})
	if c.PutErr != nil {
		return c.PutErr
	}
	c.entries[key] = value
	return nil
}

func (c *RecordingCache) Remove(_ context.Context, key cache.Key) (any, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls = append(c.calls, CacheCall{Op: "remove", Key: key})
	value, ok := c.entries[key]
	delete(c.entries, key)
	return value, ok, nil
}

func (c *RecordingCache) Clear(context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls = append(c.calls, CacheCall{Op: "clear"})
	if c.ClearErr != nil {
		return c.ClearErr
	}
	c.entries = map[cache.Key]any{}
	return nil
}

func (c *RecordingCache) Size(context.Context) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries), nil
}

// Seed stores value without recording a call.
func (c *RecordingCache) Seed(key cache.Key, value any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[key] = value
}

// Peek returns the stored value without recording a call.
func (c *RecordingCache) Peek(key cache.Key) (any, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	value, ok := c.entries[key]
	return value, ok
}

// Calls returns a snapshot of the recorded calls.
func (c *RecordingCache) Calls() []CacheCall {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]CacheCall(nil), c.calls...)
}

// CallCount returns how many calls of op were recorded.
func (c *RecordingCache) CallCount(op string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, call := range c.calls {
		if call.Op == op {
			n++
		}
	}
	return n
}

// ResetCalls forgets the recorded calls, keeping the entries.
func (c *RecordingCache) ResetCalls() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls = nil
}

// RecordingFactory returns a cache.Factory that hands out RecordingCaches and keeps
// them in regions for inspection.
func RecordingFactory(regions map[string]*RecordingCache) cache.Factory {
	var mu sync.Mutex
	return cache.FactoryFunc(func(namespace string, _ time.Duration, _ map[string]any) (cache.Cache, error) {
		mu.Lock()
		defer mu.Unlock()
		region := NewRecordingCache(namespace)
		regions[namespace] = region
		return region, nil
	})
}
