package engine

import (
	"context"

	"github.com/uptrace/bun"

	"github.com/goliatone/go-repository-txcache/cache"
)

// Row is one result row keyed by column name.
type Row = map[string]any

// RowHandler receives rows one at a time. Statements executed with a handler
// are never served from or written to the cache.
type RowHandler func(Row) error

// RowBounds limits a result to Limit rows after skipping Offset rows. A zero
// Limit means no limit.
type RowBounds struct {
	Offset int
	Limit  int
}

// NoRowBounds selects every row.
var NoRowBounds = RowBounds{}

// Apply slices rows to the bounds.
func (b RowBounds) Apply(rows []Row) []Row {
	if b.Offset > 0 {
		if b.Offset >= len(rows) {
			return rows[:0]
		}
		rows = rows[b.Offset:]
	}
	if b.Limit > 0 && b.Limit < len(rows) {
		rows = rows[:b.Limit]
	}
	return rows
}

// BatchResult reports the outcome of one queued batch statement.
type BatchResult struct {
	StatementID  string
	SQL          string
	Parameters   [][]any
	UpdateCounts []int64
}

// BatchUpdatePending is returned by Update in batch mode: the statement is
// queued and its affected row count is only known after FlushStatements.
const BatchUpdatePending int64 = -2147482646

// Executor runs mapped statements inside one lazily begun transaction.
// Interceptors wrap executors to add behaviour such as second level caching.
type Executor interface {
	Query(ctx context.Context, ms *MappedStatement, bounds RowBounds, handler RowHandler, args []any) ([]Row, error)
	Update(ctx context.Context, ms *MappedStatement, args []any) (int64, error)
	FlushStatements(ctx context.Context) ([]BatchResult, error)
	Commit(ctx context.Context) error
	Rollback(ctx context.Context) error
	Close(ctx context.Context, forceRollback bool) error
	IsClosed() bool
	CreateCacheKey(ms *MappedStatement, bounds RowBounds, args []any) cache.Key
	// DB returns the current transaction, beginning it if needed.
	DB(ctx context.Context) (bun.IDB, error)
}

// Interceptor decorates every executor the session factory creates.
type Interceptor interface {
	Plugin(Executor) Executor
}

// InterceptorFunc adapts a function to Interceptor.
type InterceptorFunc func(Executor) Executor

func (f InterceptorFunc) Plugin(e Executor) Executor { return f(e) }

// Invalidator is implemented by executors that can defer a namespace wide
// cache clear to the end of the transaction.
type Invalidator interface {
	Invalidate(ctx context.Context, namespace string) error
}
