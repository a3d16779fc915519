package txcache

import (
	"context"
	"time"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"github.com/uptrace/bun"

	"github.com/goliatone/go-repository-txcache/cache"
	"github.com/goliatone/go-repository-txcache/engine"
)

// Executor wraps an engine.Executor with a transaction scoped view of the
// second level cache. Select results are buffered and only reach the shared
// cache when the transaction commits; flush markers clear their namespace
// when the transaction ends either way.
type Executor struct {
	delegate engine.Executor
	cfg      *engine.Configuration
	buffer   *Buffer
	logger   log.Logger
	metrics  *Metrics
	now      func() time.Time
}

var (
	_ engine.Executor    = (*Executor)(nil)
	_ engine.Invalidator = (*Executor)(nil)
)

// Option configures an Executor or an Interceptor.
type Option func(*options)

type options struct {
	logger  log.Logger
	metrics *Metrics
	now     func() time.Time
}

// WithLogger sets the logger receiving cache backend failures.
func WithLogger(logger log.Logger) Option {
	return func(o *options) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// WithMetrics sets the collectors updated by the executor.
func WithMetrics(m *Metrics) Option {
	return func(o *options) {
		if m != nil {
			o.metrics = m
		}
	}
}

// WithClock overrides the time source stamping plans.
func WithClock(now func() time.Time) Option {
	return func(o *options) {
		if now != nil {
			o.now = now
		}
	}
}

func buildOptions(opts []Option) options {
	o := options{logger: log.NewNopLogger(), now: time.Now}
	for _, opt := range opts {
		if opt != nil {
			opt(&o)
		}
	}
	if o.metrics == nil {
		o.metrics = NewMetrics(nil)
	}
	return o
}

// New wraps delegate. Cache bindings are read from cfg on every statement.
func New(delegate engine.Executor, cfg *engine.Configuration, opts ...Option) *Executor {
	o := buildOptions(opts)
	return &Executor{
		delegate: delegate,
		cfg:      cfg,
		buffer:   NewBuffer(),
		logger:   o.logger,
		metrics:  o.metrics,
		now:      o.now,
	}
}

// Interceptor installs the caching executor on every session.
type Interceptor struct {
	cfg  *engine.Configuration
	opts options
}

// NewInterceptor returns an interceptor for cfg. Register it with
// cfg.AddInterceptor.
func NewInterceptor(cfg *engine.Configuration, opts ...Option) *Interceptor {
	return &Interceptor{cfg: cfg, opts: buildOptions(opts)}
}

// Plugin wraps e. Every executor gets its own buffer; logger and metrics are
// shared.
func (i *Interceptor) Plugin(e engine.Executor) engine.Executor {
	return New(e, i.cfg,
		WithLogger(i.opts.logger),
		WithMetrics(i.opts.metrics),
		WithClock(i.opts.now),
	)
}

// Metrics returns the collectors shared by the executors of i.
func (i *Interceptor) Metrics() *Metrics { return i.opts.metrics }

// Delegate returns the wrapped executor.
func (e *Executor) Delegate() engine.Executor { return e.delegate }

// Buffer exposes the pending plans of the current transaction.
func (e *Executor) Buffer() *Buffer { return e.buffer }

// resolve returns the cache bound to the namespace of ms, relinking ms when
// the binding changed since it last ran. Only the caller that wins the swap
// clears the superseded cache.
func (e *Executor) resolve(ctx context.Context, ms *engine.MappedStatement) cache.Cache {
	ns := ms.Namespace()
	bound := e.cfg.Cache(ns)
	linked := ms.Cache()
	if linked == bound {
		return bound
	}

	if ms.CompareAndSwapCache(linked, bound) && linked != nil {
		level.Info(e.logger).Log("msg", "cache binding changed, clearing superseded cache", "namespace", ns, "statement", ms.ID)
		if err := linked.Clear(ctx); err != nil {
			e.backendError(ns, "clear", err)
		}
	}
	return bound
}

func (e *Executor) flushIfRequired(ms *engine.MappedStatement, c cache.Cache) {
	if !ms.FlushCache {
		return
	}
	e.buffer.Push(&Plan{
		Namespace:   ms.Namespace(),
		StatementID: ms.ID,
		Cache:       c,
		Created:     e.now(),
	})
}

func (e *Executor) read(ctx context.Context, ms *engine.MappedStatement, c cache.Cache, key cache.Key) ([]engine.Row, bool) {
	ns := ms.Namespace()

	value, found, flushed := e.buffer.Lookup(ns, ms.ID, key)
	if found {
		if rows, ok := engine.RowsFromCache(value); ok {
			e.metrics.BufferHits.WithLabelValues(ns).Inc()
			return engine.CloneRows(rows), true
		}
	}
	// the namespace is cleared when this transaction ends, so entries
	// committed by others are already stale for it
	if flushed {
		return nil, false
	}

	value, found, err := c.Get(ctx, key)
	if err != nil {
		e.backendError(ns, "get", err)
		return nil, false
	}
	if !found {
		return nil, false
	}

	rows, ok := engine.RowsFromCache(value)
	if !ok {
		level.Debug(e.logger).Log("msg", "ignoring cached value that is not a row set", "namespace", ns, "statement", ms.ID)
		return nil, false
	}
	e.metrics.CacheHits.WithLabelValues(ns).Inc()
	return engine.CloneRows(rows), true
}

func (e *Executor) write(ms *engine.MappedStatement, c cache.Cache, key cache.Key, rows []engine.Row) {
	e.buffer.Push(&Plan{
		Namespace:   ms.Namespace(),
		StatementID: ms.ID,
		Cache:       c,
		Key:         key,
		Value:       engine.CloneRows(rows),
		Created:     e.now(),
		Valid:       true,
	})
}

// Query serves cacheable selects from the transaction buffer or the shared
// cache, and runs everything else against the wrapped executor.
func (e *Executor) Query(ctx context.Context, ms *engine.MappedStatement, bounds engine.RowBounds, handler engine.RowHandler, args []any) ([]engine.Row, error) {
	c := e.resolve(ctx, ms)
	if c == nil {
		return e.delegate.Query(ctx, ms, bounds, handler, args)
	}

	e.flushIfRequired(ms, c)
	if !ms.UseCache || handler != nil {
		return e.delegate.Query(ctx, ms, bounds, handler, args)
	}

	if ms.HasOutParams() {
		return nil, engine.ConfigurationError("caching callable statements with OUT parameters is not supported, set UseCache=false on %s", ms.ID)
	}

	key := e.delegate.CreateCacheKey(ms, bounds, args)
	if rows, ok := e.read(ctx, ms, c, key); ok {
		return rows, nil
	}

	e.metrics.CacheMisses.WithLabelValues(ms.Namespace()).Inc()
	rows, err := e.delegate.Query(ctx, ms, bounds, nil, args)
	if err != nil {
		return nil, err
	}
	e.write(ms, c, key, rows)
	return rows, nil
}

// Update flushes the statement namespace when required, then runs the write.
func (e *Executor) Update(ctx context.Context, ms *engine.MappedStatement, args []any) (int64, error) {
	if c := e.resolve(ctx, ms); c != nil {
		e.flushIfRequired(ms, c)
	}
	return e.delegate.Update(ctx, ms, args)
}

// Invalidate schedules a clear of the namespace cache for the end of the
// transaction. It serves writes that bypass mapped statements.
func (e *Executor) Invalidate(_ context.Context, namespace string) error {
	c := e.cfg.Cache(namespace)
	if c == nil {
		return nil
	}
	e.buffer.Push(&Plan{Namespace: namespace, Cache: c, Created: e.now()})
	return nil
}

// FlushStatements runs pending batched statements on the wrapped executor.
func (e *Executor) FlushStatements(ctx context.Context) ([]engine.BatchResult, error) {
	return e.delegate.FlushStatements(ctx)
}

// Commit commits the database transaction, then publishes the buffer.
func (e *Executor) Commit(ctx context.Context) error {
	if err := e.delegate.Commit(ctx); err != nil {
		return err
	}
	e.commitBuffer(ctx)
	return nil
}

// Rollback rolls back the database transaction and discards the buffer,
// still applying its clears.
func (e *Executor) Rollback(ctx context.Context) error {
	defer e.rollbackBuffer(ctx)
	return e.delegate.Rollback(ctx)
}

// Close ends the transaction. The buffer is published unless forceRollback is
// set, in which case only its clears are applied.
func (e *Executor) Close(ctx context.Context, forceRollback bool) error {
	if forceRollback {
		e.rollbackBuffer(ctx)
	} else {
		e.commitBuffer(ctx)
	}
	return e.delegate.Close(ctx, forceRollback)
}

// IsClosed reports whether the wrapped executor is closed.
func (e *Executor) IsClosed() bool { return e.delegate.IsClosed() }

// CreateCacheKey builds the key of a statement invocation.
func (e *Executor) CreateCacheKey(ms *engine.MappedStatement, bounds engine.RowBounds, args []any) cache.Key {
	return e.delegate.CreateCacheKey(ms, bounds, args)
}

// DB returns the database handle of the wrapped executor.
func (e *Executor) DB(ctx context.Context) (bun.IDB, error) { return e.delegate.DB(ctx) }

func (e *Executor) commitBuffer(ctx context.Context) {
	plans := e.buffer.Drain()
	e.clearFlushed(ctx, plans)

	for _, p := range plans {
		if !p.Valid {
			continue
		}
		if err := p.Cache.Put(ctx, p.Key, p.Value); err != nil {
			e.backendError(p.Namespace, "put", err)
			continue
		}
		e.metrics.Puts.WithLabelValues(p.Namespace).Inc()
	}
}

func (e *Executor) rollbackBuffer(ctx context.Context) {
	e.clearFlushed(ctx, e.buffer.Drain())
}

// clearFlushed clears the cache of every flushed namespace once. It runs
// before any put so results buffered after a flush survive it.
func (e *Executor) clearFlushed(ctx context.Context, plans []*Plan) {
	cleared := map[string]struct{}{}
	for _, p := range plans {
		if !p.IsFlush() || p.Cache == nil {
			continue
		}
		if _, done := cleared[p.Tag]; done {
			continue
		}
		cleared[p.Tag] = struct{}{}

		if err := p.Cache.Clear(ctx); err != nil {
			e.backendError(p.Namespace, "clear", err)
			continue
		}
		e.metrics.Clears.WithLabelValues(p.Namespace).Inc()
	}
}

func (e *Executor) backendError(namespace, op string, err error) {
	e.metrics.BackendErrors.WithLabelValues(namespace, op).Inc()
	level.Warn(e.logger).Log("msg", "cache backend error", "namespace", namespace, "op", op, "err", err)
}
