package engine

import (
	"sort"
	"sync"
	"time"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"github.com/puzpuzpuz/xsync/v3"

	"github.com/goliatone/go-repository-txcache/cache"
)

// Configuration is the shared registry of statements, namespace cache
// bindings and executor interceptors. It is safe for concurrent use and is
// normally built once at boot and shared by every session.
type Configuration struct {
	// CacheEnabled turns second level caching on. Without a CacheFactory no
	// region is ever created even when enabled.
	CacheEnabled bool
	// CacheFactory creates the region of a namespace on first resolution.
	CacheFactory cache.Factory
	// CacheExpiry is handed to the factory. Zero disables expiry.
	CacheExpiry time.Duration
	// CacheProperties is handed to the factory unchanged.
	CacheProperties map[string]any
	// MapUnderscoreToCamelCase renames snake_case result columns to camelCase.
	MapUnderscoreToCamelCase bool
	// DefaultExecutionMode is used when a session is opened with ModeDefault.
	DefaultExecutionMode ExecutionMode
	// KeySerializer builds cache key text. Nil uses the default serializer.
	KeySerializer cache.KeySerializer
	// Logger receives engine diagnostics.
	Logger log.Logger
	// Variables holds free form properties from configuration.
	Variables map[string]any

	statements *xsync.MapOf[string, *MappedStatement]
	caches     *xsync.MapOf[string, cache.Cache]
	mappers    *xsync.MapOf[string, struct{}]

	mu           sync.Mutex
	interceptors []Interceptor
}

// NewConfiguration returns an empty configuration running simple executors
// with caching disabled.
func NewConfiguration() *Configuration {
	return &Configuration{
		DefaultExecutionMode: ModeSimple,
		Logger:               log.NewNopLogger(),
		Variables:            map[string]any{},
		CacheProperties:      map[string]any{},
		statements:           xsync.NewMapOf[string, *MappedStatement](),
		caches:               xsync.NewMapOf[string, cache.Cache](),
		mappers:              xsync.NewMapOf[string, struct{}](),
	}
}

func (c *Configuration) logger() log.Logger {
	if c.Logger == nil {
		return log.NewNopLogger()
	}
	return c.Logger
}

// AddStatement registers ms. Ids are unique.
func (c *Configuration) AddStatement(ms *MappedStatement) error {
	if ms == nil || ms.ID == "" {
		return ConfigurationError("statement id must not be empty")
	}
	if _, loaded := c.statements.LoadOrStore(ms.ID, ms); loaded {
		return ConfigurationError("statement %q already registered", ms.ID)
	}
	if current := c.Cache(ms.Namespace()); current != nil {
		ms.SetCache(current)
	}
	return nil
}

// Statement looks up a registered statement by its fully qualified id.
func (c *Configuration) Statement(id string) (*MappedStatement, error) {
	ms, ok := c.statements.Load(id)
	if !ok {
		return nil, ConfigurationError("statement %q is not registered", id)
	}
	return ms, nil
}

// HasStatement reports whether id is registered.
func (c *Configuration) HasStatement(id string) bool {
	_, ok := c.statements.Load(id)
	return ok
}

// StatementIDs returns the registered ids in sorted order.
func (c *Configuration) StatementIDs() []string {
	ids := make([]string, 0, c.statements.Size())
	c.statements.Range(func(id string, _ *MappedStatement) bool {
		ids = append(ids, id)
		return true
	})
	sort.Strings(ids)
	return ids
}

// Cache returns the region bound to namespace, nil when none is bound.
func (c *Configuration) Cache(namespace string) cache.Cache {
	region, _ := c.caches.Load(namespace)
	return region
}

// HasCache reports whether namespace has a bound region.
func (c *Configuration) HasCache(namespace string) bool {
	_, ok := c.caches.Load(namespace)
	return ok
}

// SetCache binds region to its ID, replacing any previous binding. Linked
// statements notice the change on their next execution.
func (c *Configuration) SetCache(region cache.Cache) {
	if region == nil {
		return
	}
	c.caches.Store(region.ID(), region)
}

// RemoveCache unbinds namespace.
func (c *Configuration) RemoveCache(namespace string) {
	c.caches.Delete(namespace)
}

// CacheNamespaces returns the namespaces with a bound region, sorted.
func (c *Configuration) CacheNamespaces() []string {
	names := make([]string, 0, c.caches.Size())
	c.caches.Range(func(ns string, _ cache.Cache) bool {
		names = append(names, ns)
		return true
	})
	sort.Strings(names)
	return names
}

// AddInterceptor appends an executor interceptor. Interceptors are applied in
// registration order, so the last one added is the outermost.
func (c *Configuration) AddInterceptor(i Interceptor) {
	if i == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.interceptors = append(c.interceptors, i)
}

// Interceptors returns a snapshot of the registered interceptors.
func (c *Configuration) Interceptors() []Interceptor {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]Interceptor(nil), c.interceptors...)
}

func (c *Configuration) pluginAll(e Executor) Executor {
	for _, i := range c.Interceptors() {
		e = i.Plugin(e)
	}
	return e
}

// HasMapper reports whether namespace has been registered through a Mapper.
func (c *Configuration) HasMapper(namespace string) bool {
	_, ok := c.mappers.Load(namespace)
	return ok
}

// addMapper registers the statements of a namespace once. When caching is
// enabled and the namespace has no region yet, the factory creates one
// before the statements are linked.
func (c *Configuration) addMapper(namespace string, defs []Statement) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.HasMapper(namespace) {
		return nil
	}

	if err := c.ensureCache(namespace); err != nil {
		return err
	}

	seen := make(map[string]struct{}, len(defs))
	for _, def := range defs {
		if def.Name == "" {
			return ConfigurationError("statement in %s has no name", namespace)
		}
		if _, dup := seen[def.Name]; dup {
			return ConfigurationError("statement %s.%s declared twice", namespace, def.Name)
		}
		seen[def.Name] = struct{}{}
		if c.HasStatement(namespace + "." + def.Name) {
			return ConfigurationError("statement %s.%s already registered", namespace, def.Name)
		}
	}

	for _, def := range defs {
		if err := c.AddStatement(NewMappedStatement(namespace, def)); err != nil {
			return err
		}
	}

	level.Debug(c.logger()).Log("msg", "adding mapper", "namespace", namespace, "statements", len(defs))
	c.mappers.Store(namespace, struct{}{})
	return nil
}

// EnsureCache creates the region of namespace without registering any
// statement. It does nothing when caching is disabled or a region is bound.
func (c *Configuration) EnsureCache(namespace string) error {
	if namespace == "" {
		return ConfigurationError("cache namespace must not be empty")
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ensureCache(namespace)
}

// ensureCache must be called with c.mu held.
func (c *Configuration) ensureCache(namespace string) error {
	if !c.CacheEnabled || c.CacheFactory == nil || c.HasCache(namespace) {
		return nil
	}
	region, err := c.CacheFactory.CreateCache(namespace, c.CacheExpiry, c.CacheProperties)
	if err != nil {
		return wrapConfiguration(err, "create cache for %s", namespace)
	}
	if region == nil {
		return ConfigurationError("cache factory returned nil cache for %s", namespace)
	}
	level.Debug(c.logger()).Log("msg", "adding cache", "namespace", namespace)
	c.caches.Store(namespace, region)
	return nil
}

// keySerializer returns the configured serializer or the default one.
func (c *Configuration) keySerializer() cache.KeySerializer {
	if c.KeySerializer == nil {
		return cache.NewDefaultKeySerializer()
	}
	return c.KeySerializer
}
