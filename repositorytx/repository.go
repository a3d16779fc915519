package repositorytx

import (
	"context"
	"reflect"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	repository "github.com/goliatone/go-repository-bun"
	"github.com/uptrace/bun"

	"github.com/goliatone/go-repository-txcache/engine"
	"github.com/goliatone/go-repository-txcache/transaction"
)

// Interface assertion to ensure Repository implements repository.Repository[T]
var _ repository.Repository[any] = (*Repository[any])(nil)

// Repository runs a go-repository-bun repository inside the transaction of
// the calling context. Reads join the open transaction when there is one.
// Writes always run in a transaction, opened for the call when needed, and
// schedule a clear of the repository namespace that applies when the
// transaction ends.
type Repository[T any] struct {
	base      repository.Repository[T]
	manager   *transaction.Manager
	namespace string
	mode      engine.ExecutionMode
	isolation engine.IsolationLevel
	logger    log.Logger
}

// Option configures a Repository.
type Option func(*options)

type options struct {
	namespace string
	mode      engine.ExecutionMode
	isolation engine.IsolationLevel
	logger    log.Logger
}

// WithNamespace sets the cache namespace cleared after writes. It defaults
// to the snake_case name of T.
func WithNamespace(namespace string) Option {
	return func(o *options) {
		if namespace != "" {
			o.namespace = namespace
		}
	}
}

// WithTransaction sets the mode and isolation of the transactions opened
// for writes outside of one.
func WithTransaction(mode engine.ExecutionMode, isolation engine.IsolationLevel) Option {
	return func(o *options) {
		o.mode = mode
		o.isolation = isolation
	}
}

// WithLogger sets the logger.
func WithLogger(logger log.Logger) Option {
	return func(o *options) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// New wraps base so that it runs on the transactions of manager.
func New[T any](base repository.Repository[T], manager *transaction.Manager, opts ...Option) *Repository[T] {
	o := options{
		namespace: NamespaceOf[T](),
		mode:      engine.ModeDefault,
		isolation: engine.IsolationDefault,
		logger:    log.NewNopLogger(),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(&o)
		}
	}
	return &Repository[T]{
		base:      base,
		manager:   manager,
		namespace: o.namespace,
		mode:      o.mode,
		isolation: o.isolation,
		logger:    o.logger,
	}
}

// NamespaceOf returns the default namespace for records of type T.
func NamespaceOf[T any]() string {
	t := reflect.TypeOf((*T)(nil)).Elem()
	for t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	if name := toSnake(t.Name()); name != "" {
		return name
	}
	return toSnake(t.String())
}

// Namespace returns the namespace cleared after writes.
func (r *Repository[T]) Namespace() string { return r.namespace }

// Register creates the cache region of the namespace in cfg when caching is
// enabled. Mappers sharing the namespace use the same region.
func (r *Repository[T]) Register(cfg *engine.Configuration) error {
	return cfg.EnsureCache(r.namespace)
}

// Base returns the wrapped repository.
func (r *Repository[T]) Base() repository.Repository[T] { return r.base }

// Get retrieves a single record, joining the open transaction of ctx
func (r *Repository[T]) Get(ctx context.Context, criteria ...repository.SelectCriteria) (T, error) {
	if tx := r.current(ctx); tx != nil {
		return r.base.GetTx(ctx, tx, criteria...)
	}
	return r.base.Get(ctx, criteria...)
}

// GetByID retrieves a record by ID, joining the open transaction of ctx
func (r *Repository[T]) GetByID(ctx context.Context, id string, criteria ...repository.SelectCriteria) (T, error) {
	if tx := r.current(ctx); tx != nil {
		return r.base.GetByIDTx(ctx, tx, id, criteria...)
	}
	return r.base.GetByID(ctx, id, criteria...)
}

// List retrieves records and the total count, joining the open transaction of ctx
func (r *Repository[T]) List(ctx context.Context, criteria ...repository.SelectCriteria) ([]T, int, error) {
	if tx := r.current(ctx); tx != nil {
		return r.base.ListTx(ctx, tx, criteria...)
	}
	return r.base.List(ctx, criteria...)
}

// Count returns the number of matching records, joining the open transaction of ctx
func (r *Repository[T]) Count(ctx context.Context, criteria ...repository.SelectCriteria) (int, error) {
	if tx := r.current(ctx); tx != nil {
		return r.base.CountTx(ctx, tx, criteria...)
	}
	return r.base.Count(ctx, criteria...)
}

// GetByIdentifier retrieves a record by identifier, joining the open transaction of ctx
func (r *Repository[T]) GetByIdentifier(ctx context.Context, identifier string, criteria ...repository.SelectCriteria) (T, error) {
	if tx := r.current(ctx); tx != nil {
		return r.base.GetByIdentifierTx(ctx, tx, identifier, criteria...)
	}
	return r.base.GetByIdentifier(ctx, identifier, criteria...)
}

// Raw executes a raw SQL query, joining the open transaction of ctx
func (r *Repository[T]) Raw(ctx context.Context, sql string, args ...any) ([]T, error) {
	if tx := r.current(ctx); tx != nil {
		return r.base.RawTx(ctx, tx, sql, args...)
	}
	return r.base.Raw(ctx, sql, args...)
}

// Create creates a new record
func (r *Repository[T]) Create(ctx context.Context, record T, criteria ...repository.InsertCriteria) (T, error) {
	return write(r, ctx, func(ctx context.Context, tx bun.IDB) (T, error) {
		return r.base.CreateTx(ctx, tx, record, criteria...)
	})
}

// CreateMany creates multiple records
func (r *Repository[T]) CreateMany(ctx context.Context, records []T, criteria ...repository.InsertCriteria) ([]T, error) {
	return write(r, ctx, func(ctx context.Context, tx bun.IDB) ([]T, error) {
		return r.base.CreateManyTx(ctx, tx, records, criteria...)
	})
}

// GetOrCreate gets a record or creates it if it doesn't exist
func (r *Repository[T]) GetOrCreate(ctx context.Context, record T) (T, error) {
	return write(r, ctx, func(ctx context.Context, tx bun.IDB) (T, error) {
		return r.base.GetOrCreateTx(ctx, tx, record)
	})
}

// Update updates a record
func (r *Repository[T]) Update(ctx context.Context, record T, criteria ...repository.UpdateCriteria) (T, error) {
	return write(r, ctx, func(ctx context.Context, tx bun.IDB) (T, error) {
		return r.base.UpdateTx(ctx, tx, record, criteria...)
	})
}

// UpdateMany updates multiple records
func (r *Repository[T]) UpdateMany(ctx context.Context, records []T, criteria ...repository.UpdateCriteria) ([]T, error) {
	return write(r, ctx, func(ctx context.Context, tx bun.IDB) ([]T, error) {
		return r.base.UpdateManyTx(ctx, tx, records, criteria...)
	})
}

// Upsert inserts or updates a record
func (r *Repository[T]) Upsert(ctx context.Context, record T, criteria ...repository.UpdateCriteria) (T, error) {
	return write(r, ctx, func(ctx context.Context, tx bun.IDB) (T, error) {
		return r.base.UpsertTx(ctx, tx, record, criteria...)
	})
}

// UpsertMany inserts or updates multiple records
func (r *Repository[T]) UpsertMany(ctx context.Context, records []T, criteria ...repository.UpdateCriteria) ([]T, error) {
	return write(r, ctx, func(ctx context.Context, tx bun.IDB) ([]T, error) {
		return r.base.UpsertManyTx(ctx, tx, records, criteria...)
	})
}

// Delete deletes a record
func (r *Repository[T]) Delete(ctx context.Context, record T) error {
	return r.exec(ctx, func(ctx context.Context, tx bun.IDB) error {
		return r.base.DeleteTx(ctx, tx, record)
	})
}

// DeleteMany deletes records matching criteria
func (r *Repository[T]) DeleteMany(ctx context.Context, criteria ...repository.DeleteCriteria) error {
	return r.exec(ctx, func(ctx context.Context, tx bun.IDB) error {
		return r.base.DeleteManyTx(ctx, tx, criteria...)
	})
}

// DeleteWhere deletes records matching criteria
func (r *Repository[T]) DeleteWhere(ctx context.Context, criteria ...repository.DeleteCriteria) error {
	return r.exec(ctx, func(ctx context.Context, tx bun.IDB) error {
		return r.base.DeleteWhereTx(ctx, tx, criteria...)
	})
}

// ForceDelete deletes a record bypassing soft delete
func (r *Repository[T]) ForceDelete(ctx context.Context, record T) error {
	return r.exec(ctx, func(ctx context.Context, tx bun.IDB) error {
		return r.base.ForceDeleteTx(ctx, tx, record)
	})
}

// GetTx retrieves a single record within tx
func (r *Repository[T]) GetTx(ctx context.Context, tx bun.IDB, criteria ...repository.SelectCriteria) (T, error) {
	return r.base.GetTx(ctx, tx, criteria...)
}

// GetByIDTx retrieves a record by ID within tx
func (r *Repository[T]) GetByIDTx(ctx context.Context, tx bun.IDB, id string, criteria ...repository.SelectCriteria) (T, error) {
	return r.base.GetByIDTx(ctx, tx, id, criteria...)
}

// ListTx retrieves records within tx
func (r *Repository[T]) ListTx(ctx context.Context, tx bun.IDB, criteria ...repository.SelectCriteria) ([]T, int, error) {
	return r.base.ListTx(ctx, tx, criteria...)
}

// CountTx counts records within tx
func (r *Repository[T]) CountTx(ctx context.Context, tx bun.IDB, criteria ...repository.SelectCriteria) (int, error) {
	return r.base.CountTx(ctx, tx, criteria...)
}

// GetByIdentifierTx retrieves a record by identifier within tx
func (r *Repository[T]) GetByIdentifierTx(ctx context.Context, tx bun.IDB, identifier string, criteria ...repository.SelectCriteria) (T, error) {
	return r.base.GetByIdentifierTx(ctx, tx, identifier, criteria...)
}

// RawTx executes a raw SQL query within tx
func (r *Repository[T]) RawTx(ctx context.Context, tx bun.IDB, sql string, args ...any) ([]T, error) {
	return r.base.RawTx(ctx, tx, sql, args...)
}

// CreateTx creates a record within tx
func (r *Repository[T]) CreateTx(ctx context.Context, tx bun.IDB, record T, criteria ...repository.InsertCriteria) (T, error) {
	return writeTx(r, ctx, func() (T, error) {
		return r.base.CreateTx(ctx, tx, record, criteria...)
	})
}

// CreateManyTx creates multiple records within tx
func (r *Repository[T]) CreateManyTx(ctx context.Context, tx bun.IDB, records []T, criteria ...repository.InsertCriteria) ([]T, error) {
	return writeTx(r, ctx, func() ([]T, error) {
		return r.base.CreateManyTx(ctx, tx, records, criteria...)
	})
}

// GetOrCreateTx gets or creates a record within tx
func (r *Repository[T]) GetOrCreateTx(ctx context.Context, tx bun.IDB, record T) (T, error) {
	return writeTx(r, ctx, func() (T, error) {
		return r.base.GetOrCreateTx(ctx, tx, record)
	})
}

// UpdateTx updates a record within tx
func (r *Repository[T]) UpdateTx(ctx context.Context, tx bun.IDB, record T, criteria ...repository.UpdateCriteria) (T, error) {
	return writeTx(r, ctx, func() (T, error) {
		return r.base.UpdateTx(ctx, tx, record, criteria...)
	})
}

// UpdateManyTx updates multiple records within tx
func (r *Repository[T]) UpdateManyTx(ctx context.Context, tx bun.IDB, records []T, criteria ...repository.UpdateCriteria) ([]T, error) {
	return writeTx(r, ctx, func() ([]T, error) {
		return r.base.UpdateManyTx(ctx, tx, records, criteria...)
	})
}

// UpsertTx inserts or updates a record within tx
func (r *Repository[T]) UpsertTx(ctx context.Context, tx bun.IDB, record T, criteria ...repository.UpdateCriteria) (T, error) {
	return writeTx(r, ctx, func() (T, error) {
		return r.base.UpsertTx(ctx, tx, record, criteria...)
	})
}

// UpsertManyTx inserts or updates multiple records within tx
func (r *Repository[T]) UpsertManyTx(ctx context.Context, tx bun.IDB, records []T, criteria ...repository.UpdateCriteria) ([]T, error) {
	return writeTx(r, ctx, func() ([]T, error) {
		return r.base.UpsertManyTx(ctx, tx, records, criteria...)
	})
}

// DeleteTx deletes a record within tx
func (r *Repository[T]) DeleteTx(ctx context.Context, tx bun.IDB, record T) error {
	return r.execTx(ctx, func() error {
		return r.base.DeleteTx(ctx, tx, record)
	})
}

// DeleteManyTx deletes records matching criteria within tx
func (r *Repository[T]) DeleteManyTx(ctx context.Context, tx bun.IDB, criteria ...repository.DeleteCriteria) error {
	return r.execTx(ctx, func() error {
		return r.base.DeleteManyTx(ctx, tx, criteria...)
	})
}

// DeleteWhereTx deletes records matching criteria within tx
func (r *Repository[T]) DeleteWhereTx(ctx context.Context, tx bun.IDB, criteria ...repository.DeleteCriteria) error {
	return r.execTx(ctx, func() error {
		return r.base.DeleteWhereTx(ctx, tx, criteria...)
	})
}

// ForceDeleteTx deletes a record bypassing soft delete within tx
func (r *Repository[T]) ForceDeleteTx(ctx context.Context, tx bun.IDB, record T) error {
	return r.execTx(ctx, func() error {
		return r.base.ForceDeleteTx(ctx, tx, record)
	})
}

// Handlers returns the model handlers from the base repository
func (r *Repository[T]) Handlers() repository.ModelHandlers[T] {
	return r.base.Handlers()
}

// current returns the bun transaction of ctx, or nil outside a transaction.
func (r *Repository[T]) current(ctx context.Context) bun.IDB {
	if !r.manager.InTransaction(ctx) {
		return nil
	}
	tx, err := r.manager.DB(ctx)
	if err != nil {
		level.Debug(r.logger).Log("msg", "running outside transaction", "namespace", r.namespace, "err", err)
		return nil
	}
	return tx
}

func (r *Repository[T]) exec(ctx context.Context, fn func(ctx context.Context, tx bun.IDB) error) error {
	_, err := write(r, ctx, func(ctx context.Context, tx bun.IDB) (struct{}, error) {
		return struct{}{}, fn(ctx, tx)
	})
	return err
}

func (r *Repository[T]) execTx(ctx context.Context, fn func() error) error {
	_, err := writeTx(r, ctx, func() (struct{}, error) {
		return struct{}{}, fn()
	})
	return err
}

// write runs fn on the transaction of ctx, opening one for the call when
// there is none. A failure rolls back only a transaction opened here.
func write[T, V any](r *Repository[T], ctx context.Context, fn func(ctx context.Context, tx bun.IDB) (V, error)) (V, error) {
	var zero V

	txCtx, s, err := r.manager.OpenTransaction(ctx, r.mode, r.isolation)
	if err != nil {
		return zero, err
	}
	owned := s.Depth() == 1

	result, err := func() (V, error) {
		tx, err := s.DB(txCtx)
		if err != nil {
			return zero, err
		}
		result, err := fn(txCtx, tx)
		if err != nil {
			return zero, err
		}
		return result, r.invalidate(txCtx)
	}()
	if err != nil {
		if owned {
			if rbErr := s.Rollback(txCtx); rbErr != nil {
				level.Warn(r.logger).Log("msg", "rollback failed", "namespace", r.namespace, "err", rbErr)
			}
		}
		if closeErr := s.Close(txCtx); closeErr != nil {
			level.Warn(r.logger).Log("msg", "close after failed write", "namespace", r.namespace, "err", closeErr)
		}
		return zero, err
	}

	if err := s.Close(txCtx); err != nil {
		return zero, err
	}
	return result, nil
}

// writeTx runs fn on a caller supplied transaction. The clear joins the
// transaction of ctx when there is one; otherwise it applies right away.
func writeTx[T, V any](r *Repository[T], ctx context.Context, fn func() (V, error)) (V, error) {
	result, err := fn()
	if err != nil {
		return result, err
	}

	if r.manager.InTransaction(ctx) {
		return result, r.invalidate(ctx)
	}

	txCtx, s, err := r.manager.OpenTransaction(ctx, r.mode, r.isolation)
	if err != nil {
		return result, err
	}
	if err := r.invalidate(txCtx); err != nil {
		_ = s.Close(txCtx)
		return result, err
	}
	return result, s.Close(txCtx)
}

// invalidate schedules a clear of the repository namespace and of every
// namespace attached to ctx with WithNamespaces.
func (r *Repository[T]) invalidate(ctx context.Context) error {
	for _, namespace := range dedupeStrings(append([]string{r.namespace}, namespacesFromContext(ctx)...)) {
		if err := r.manager.Invalidate(ctx, namespace); err != nil {
			return err
		}
		level.Debug(r.logger).Log("msg", "scheduled clear", "namespace", namespace)
	}
	return nil
}
