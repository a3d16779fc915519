package cache

import (
	"context"
	"time"
)

// Cache is the storage capability a second level cache region exposes.
// A region is identified by its namespace and is shared by every session
// that executes statements of that namespace.
//
// Get reports found=false on a miss. Implementations must be safe for
// concurrent use.
type Cache interface {
	ID() string
	Get(ctx context.Context, key Key) (value any, found bool, err error)
	Put(ctx context.Context, key Key, value any) error
	Remove(ctx context.Context, key Key) (value any, found bool, err error)
	Clear(ctx context.Context) error
	Size(ctx context.Context) (int, error)
}

// Factory creates the cache region for a namespace. CreateCache is called at
// most once per namespace, the first time a mapper of that namespace is
// resolved. A zero expiry means entries never expire.
type Factory interface {
	CreateCache(namespace string, expiry time.Duration, properties map[string]any) (Cache, error)
}

// FactoryFunc adapts a function to the Factory interface.
type FactoryFunc func(namespace string, expiry time.Duration, properties map[string]any) (Cache, error)

// CreateCache calls f.
func (f FactoryFunc) CreateCache(namespace string, expiry time.Duration, properties map[string]any) (Cache, error) {
	return f(namespace, expiry, properties)
}

// Expiry converts the configured expiry in seconds to a duration. Non
// positive values disable expiry.
func Expiry(seconds int) time.Duration {
	if seconds <= 0 {
		return 0
	}
	return time.Duration(seconds) * time.Second
}
