package di

import (
	"context"
	stdErrors "errors"
	"sort"
	"strings"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	repository "github.com/goliatone/go-repository-bun"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"github.com/uptrace/bun"

	"github.com/goliatone/go-repository-txcache/cache"
	"github.com/goliatone/go-repository-txcache/config"
	"github.com/goliatone/go-repository-txcache/engine"
	"github.com/goliatone/go-repository-txcache/logging"
	"github.com/goliatone/go-repository-txcache/repositorytx"
	"github.com/goliatone/go-repository-txcache/transaction"
	"github.com/goliatone/go-repository-txcache/txcache"
)

// ConfigurationBuilder customizes the engine configuration after the
// container has applied the configuration file.
type ConfigurationBuilder func(cfg *engine.Configuration) error

// Container wires the persistence engine, the caching interceptor and the
// transaction manager from one configuration. It is built once at boot.
type Container struct {
	cfg    config.Config
	db     *bun.DB
	ownsDB bool

	engineCfg *engine.Configuration
	factory   *engine.SessionFactory
	manager   *transaction.Manager
	metrics   *txcache.Metrics

	cacheFactory string
	redis        redis.UniversalClient
	ownsRedis    bool

	logger     log.Logger
	registerer prometheus.Registerer
	candidates map[string]cache.Factory
	builders   []ConfigurationBuilder
}

// Option configures a Container.
type Option func(*Container)

// WithLogger sets the logger handed to every component.
func WithLogger(logger log.Logger) Option {
	return func(c *Container) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithRegisterer registers the cache metrics with reg.
func WithRegisterer(reg prometheus.Registerer) Option {
	return func(c *Container) {
		c.registerer = reg
	}
}

// WithCacheFactory adds a named cache factory candidate. cache.factory may
// name it; when cache.factory is empty exactly one candidate must be
// registered.
func WithCacheFactory(name string, factory cache.Factory) Option {
	return func(c *Container) {
		if factory != nil {
			c.candidates[name] = factory
		}
	}
}

// WithRedisClient sets the client of the redis cache factory. The container
// does not close it.
func WithRedisClient(client redis.UniversalClient) Option {
	return func(c *Container) {
		c.redis = client
	}
}

// WithConfigurationBuilder adds a builder run after the configuration file
// has been applied.
func WithConfigurationBuilder(builder ConfigurationBuilder) Option {
	return func(c *Container) {
		if builder != nil {
			c.builders = append(c.builders, builder)
		}
	}
}

// Open opens the configured database and builds a container owning it.
func Open(cfg config.Config, opts ...Option) (*Container, error) {
	db, err := OpenDB(cfg.Database)
	if err != nil {
		return nil, err
	}
	c, err := NewContainer(cfg, db, opts...)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	c.ownsDB = true
	return c, nil
}

// NewContainer builds a container on db. The caller keeps ownership of db.
func NewContainer(cfg config.Config, db *bun.DB, opts ...Option) (*Container, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if db == nil {
		return nil, engine.ConfigurationError("database must not be nil")
	}

	c := &Container{
		cfg:        cfg,
		db:         db,
		logger:     log.NewNopLogger(),
		candidates: map[string]cache.Factory{},
	}
	for _, opt := range opts {
		if opt != nil {
			opt(c)
		}
	}

	engineCfg := engine.NewConfiguration()
	engineCfg.Logger = logging.Component(c.logger, "engine")
	engineCfg.MapUnderscoreToCamelCase = cfg.MapUnderscoreToCamelCase()
	engineCfg.DefaultExecutionMode = cfg.ExecutionMode()
	if engineCfg.DefaultExecutionMode == engine.ModeDefault {
		engineCfg.DefaultExecutionMode = engine.ModeSimple
	}
	for k, v := range cfg.Properties {
		engineCfg.Variables[k] = v
	}

	if cfg.Log {
		db.AddQueryHook(logging.NewQueryHook(c.logger))
	}

	if cfg.Cache.Enabled {
		if err := c.configureCache(engineCfg); err != nil {
			c.closeRedis()
			return nil, err
		}
	}

	for _, build := range c.builders {
		if err := build(engineCfg); err != nil {
			c.closeRedis()
			return nil, err
		}
	}

	c.engineCfg = engineCfg
	c.factory = engine.NewSessionFactory(db, engineCfg, engine.WithLogger(logging.Component(c.logger, "session")))
	c.manager = transaction.NewManager(c.factory, transaction.WithLogger(logging.Component(c.logger, "transaction")))
	return c, nil
}

// configureCache selects the cache factory and installs the caching
// interceptor. Without a candidate caching is disabled with a warning.
func (c *Container) configureCache(engineCfg *engine.Configuration) error {
	name, factory, err := c.selectFactory()
	if err != nil {
		return err
	}
	if factory == nil {
		level.Warn(c.logger).Log("msg", "no cache factory found, caching disabled")
		return nil
	}

	c.cacheFactory = name
	c.metrics = txcache.NewMetrics(c.registerer)

	engineCfg.CacheEnabled = true
	engineCfg.CacheFactory = factory
	engineCfg.CacheExpiry = c.cfg.Expiry()
	for k, v := range c.cfg.Cache.Properties {
		engineCfg.CacheProperties[k] = v
	}
	engineCfg.AddInterceptor(txcache.NewInterceptor(engineCfg,
		txcache.WithLogger(logging.Component(c.logger, "txcache")),
		txcache.WithMetrics(c.metrics),
	))

	level.Info(c.logger).Log("msg", "cache enabled", "factory", name, "expiry", engineCfg.CacheExpiry)
	return nil
}

func (c *Container) selectFactory() (string, cache.Factory, error) {
	switch c.cfg.Cache.Factory {
	case cache.FactoryMemory:
		return cache.FactoryMemory, cache.NewMemoryFactory(), nil
	case cache.FactoryRedis:
		if c.redis == nil {
			c.redis = NewRedisClient(c.cfg.Redis)
			c.ownsRedis = true
		}
		return cache.FactoryRedis, cache.NewRedisFactory(c.redis), nil
	case "":
	default:
		factory, ok := c.candidates[c.cfg.Cache.Factory]
		if !ok {
			return "", nil, engine.ConfigurationError("unknown cache factory %q", c.cfg.Cache.Factory)
		}
		return c.cfg.Cache.Factory, factory, nil
	}

	switch len(c.candidates) {
	case 0:
		return "", nil, nil
	case 1:
		for name, factory := range c.candidates {
			return name, factory, nil
		}
	}

	names := make([]string, 0, len(c.candidates))
	for name := range c.candidates {
		names = append(names, name)
	}
	sort.Strings(names)
	return "", nil, engine.ConfigurationError("multiple cache factories registered, set cache.factory to one of [%s]", strings.Join(names, ", "))
}

// Config returns the configuration the container was built from.
func (c *Container) Config() config.Config { return c.cfg }

// DB returns the bun database.
func (c *Container) DB() *bun.DB { return c.db }

// Configuration returns the engine configuration.
func (c *Container) Configuration() *engine.Configuration { return c.engineCfg }

// SessionFactory returns the engine session factory.
func (c *Container) SessionFactory() *engine.SessionFactory { return c.factory }

// Manager returns the transaction manager.
func (c *Container) Manager() *transaction.Manager { return c.manager }

// Metrics returns the cache metrics, or nil when caching is disabled.
func (c *Container) Metrics() *txcache.Metrics { return c.metrics }

// CacheFactory returns the name of the selected cache factory, empty when
// caching is disabled.
func (c *Container) CacheFactory() string { return c.cacheFactory }

// OpenSession opens an engine session outside of the transaction manager.
func (c *Container) OpenSession(mode engine.ExecutionMode, isolation engine.IsolationLevel) (*engine.Session, error) {
	return c.factory.OpenSession(mode, isolation)
}

// OpenTransaction opens or joins the transaction of ctx.
func (c *Container) OpenTransaction(ctx context.Context, mode engine.ExecutionMode, isolation engine.IsolationLevel) (context.Context, *transaction.Session, error) {
	return c.manager.OpenTransaction(ctx, mode, isolation)
}

// Proxy builds a transaction proxy for a component's method table.
func (c *Container) Proxy(methods transaction.Methods) *transaction.Proxy {
	return transaction.NewProxy(c.manager, methods)
}

// Close releases the database and the redis client when the container
// opened them.
func (c *Container) Close() error {
	var errs []error
	if c.ownsRedis && c.redis != nil {
		if err := c.redis.Close(); err != nil {
			errs = append(errs, err)
		}
		c.redis = nil
	}
	if c.ownsDB {
		if err := c.db.Close(); err != nil {
			errs = append(errs, err)
		}
		c.ownsDB = false
	}
	return stdErrors.Join(errs...)
}

func (c *Container) closeRedis() {
	if c.ownsRedis && c.redis != nil {
		_ = c.redis.Close()
		c.redis = nil
	}
}

// NewRepository wraps base in a transactional repository and registers its
// namespace, creating the cache region when caching is enabled.
//
// Since Go methods cannot have type parameters, this is provided as a package-level function.
// Example: NewRepository[User](container, baseUserRepository)
func NewRepository[T any](c *Container, base repository.Repository[T], opts ...repositorytx.Option) (*repositorytx.Repository[T], error) {
	opts = append([]repositorytx.Option{repositorytx.WithLogger(logging.Component(c.logger, "repository"))}, opts...)
	repo := repositorytx.New(base, c.manager, opts...)
	if err := repo.Register(c.engineCfg); err != nil {
		return nil, err
	}
	return repo, nil
}
