package engine

import (
	"context"
	"database/sql"
	"sync"

	"github.com/go-kit/log/level"
	"github.com/uptrace/bun"

	"github.com/goliatone/go-repository-txcache/cache"
)

// runner executes statements against an open transaction. Each execution
// mode provides its own runner.
type runner interface {
	query(ctx context.Context, tx *bun.Tx, ms *MappedStatement, args []any) ([]Row, error)
	update(ctx context.Context, tx *bun.Tx, ms *MappedStatement, args []any) (int64, error)
	flush(ctx context.Context, tx *bun.Tx) ([]BatchResult, error)
	// reset drops per transaction state such as prepared statements or
	// queued batches.
	reset()
}

// bunExecutor begins its transaction lazily on the first statement and
// starts a new one after every commit or rollback.
type bunExecutor struct {
	db     *bun.DB
	cfg    *Configuration
	opts   *sql.TxOptions
	mode   ExecutionMode
	runner runner

	mu     sync.Mutex
	tx     *bun.Tx
	closed bool
}

func newBunExecutor(db *bun.DB, cfg *Configuration, mode ExecutionMode, opts *sql.TxOptions) *bunExecutor {
	var r runner
	switch mode {
	case ModeReuse:
		r = newReuseRunner(db)
	case ModeBatch:
		r = &batchRunner{}
	default:
		mode = ModeSimple
		r = simpleRunner{}
	}
	return &bunExecutor{db: db, cfg: cfg, opts: opts, mode: mode, runner: r}
}

func (e *bunExecutor) begin(ctx context.Context) (*bun.Tx, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.closed {
		return nil, ErrSessionClosed
	}
	if e.tx != nil {
		return e.tx, nil
	}

	tx, err := e.db.BeginTx(ctx, e.opts)
	if err != nil {
		return nil, wrapDatabase(err, "begin transaction")
	}
	e.tx = &tx
	return e.tx, nil
}

// current returns the open transaction without beginning one.
func (e *bunExecutor) current() *bun.Tx {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.tx
}

func (e *bunExecutor) Query(ctx context.Context, ms *MappedStatement, bounds RowBounds, handler RowHandler, args []any) ([]Row, error) {
	tx, err := e.begin(ctx)
	if err != nil {
		return nil, err
	}

	if e.mode == ModeBatch {
		if _, err := e.runner.flush(ctx, tx); err != nil {
			return nil, wrapDatabase(err, "flush batch before %s", ms.ID)
		}
	}

	rows, err := e.runner.query(ctx, tx, ms, args)
	if err != nil {
		return nil, wrapDatabase(err, "query %s", ms.ID)
	}
	if rows == nil {
		rows = []Row{}
	}
	if e.cfg.MapUnderscoreToCamelCase {
		rows = camelRows(rows)
	}
	rows = bounds.Apply(rows)

	if handler == nil {
		return rows, nil
	}
	for _, row := range rows {
		if err := handler(row); err != nil {
			return nil, err
		}
	}
	return nil, nil
}

func (e *bunExecutor) Update(ctx context.Context, ms *MappedStatement, args []any) (int64, error) {
	tx, err := e.begin(ctx)
	if err != nil {
		return 0, err
	}
	n, err := e.runner.update(ctx, tx, ms, args)
	if err != nil {
		return 0, wrapDatabase(err, "update %s", ms.ID)
	}
	return n, nil
}

func (e *bunExecutor) FlushStatements(ctx context.Context) ([]BatchResult, error) {
	if e.IsClosed() {
		return nil, ErrSessionClosed
	}
	tx := e.current()
	if tx == nil {
		return nil, nil
	}
	results, err := e.runner.flush(ctx, tx)
	if err != nil {
		return results, wrapDatabase(err, "flush statements")
	}
	return results, nil
}

func (e *bunExecutor) Commit(ctx context.Context) error {
	if e.IsClosed() {
		return ErrSessionClosed
	}
	tx := e.current()
	if tx == nil {
		return nil
	}

	if _, err := e.runner.flush(ctx, tx); err != nil {
		return wrapDatabase(err, "flush statements before commit")
	}

	e.finish()
	return wrapDatabase(tx.Commit(), "commit")
}

func (e *bunExecutor) Rollback(ctx context.Context) error {
	if e.IsClosed() {
		return ErrSessionClosed
	}
	tx := e.current()
	if tx == nil {
		return nil
	}

	e.finish()
	return wrapDatabase(tx.Rollback(), "rollback")
}

// finish detaches the transaction so the next statement begins a new one.
func (e *bunExecutor) finish() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.runner.reset()
	e.tx = nil
}

// Close rolls back an unfinished transaction. Work must be committed before
// closing to persist it.
func (e *bunExecutor) Close(ctx context.Context, forceRollback bool) error {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return nil
	}
	tx := e.tx
	e.tx = nil
	e.closed = true
	e.runner.reset()
	e.mu.Unlock()

	if tx == nil {
		return nil
	}
	if !forceRollback {
		level.Debug(e.cfg.logger()).Log("msg", "closing executor with open transaction, rolling back")
	}
	if err := tx.Rollback(); err != nil && err != sql.ErrTxDone {
		return wrapDatabase(err, "rollback on close")
	}
	return nil
}

func (e *bunExecutor) IsClosed() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.closed
}

func (e *bunExecutor) CreateCacheKey(ms *MappedStatement, bounds RowBounds, args []any) cache.Key {
	return cache.NewKey(e.cfg.keySerializer(), ms.ID, bounds.Offset, bounds.Limit, ms.SQL, args)
}

func (e *bunExecutor) DB(ctx context.Context) (bun.IDB, error) {
	tx, err := e.begin(ctx)
	if err != nil {
		return nil, err
	}
	return tx, nil
}

// simpleRunner sends every statement as a bun raw query, letting bun format
// the arguments into the SQL.
type simpleRunner struct{}

func (simpleRunner) query(ctx context.Context, tx *bun.Tx, ms *MappedStatement, args []any) ([]Row, error) {
	var rows []Row
	if err := tx.NewRaw(ms.SQL, args...).Scan(ctx, &rows); err != nil {
		return nil, err
	}
	return rows, nil
}

func (simpleRunner) update(ctx context.Context, tx *bun.Tx, ms *MappedStatement, args []any) (int64, error) {
	res, err := tx.NewRaw(ms.SQL, args...).Exec(ctx)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func (simpleRunner) flush(context.Context, *bun.Tx) ([]BatchResult, error) { return nil, nil }

func (simpleRunner) reset() {}

// reuseRunner prepares each distinct SQL once per transaction. The SQL is
// handed to the driver unformatted, so it must use the driver's native
// placeholders.
type reuseRunner struct {
	db *bun.DB

	mu    sync.Mutex
	stmts map[string]*sql.Stmt
}

func newReuseRunner(db *bun.DB) *reuseRunner {
	return &reuseRunner{db: db, stmts: map[string]*sql.Stmt{}}
}

func (r *reuseRunner) prepare(ctx context.Context, tx *bun.Tx, query string) (*sql.Stmt, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if stmt, ok := r.stmts[query]; ok {
		return stmt, nil
	}
	stmt, err := tx.Tx.PrepareContext(ctx, query)
	if err != nil {
		return nil, err
	}
	r.stmts[query] = stmt
	return stmt, nil
}

func (r *reuseRunner) query(ctx context.Context, tx *bun.Tx, ms *MappedStatement, args []any) ([]Row, error) {
	stmt, err := r.prepare(ctx, tx, ms.SQL)
	if err != nil {
		return nil, err
	}
	rs, err := stmt.QueryContext(ctx, args...)
	if err != nil {
		return nil, err
	}
	var rows []Row
	if err := r.db.ScanRows(ctx, rs, &rows); err != nil {
		return nil, err
	}
	return rows, nil
}

func (r *reuseRunner) update(ctx context.Context, tx *bun.Tx, ms *MappedStatement, args []any) (int64, error) {
	stmt, err := r.prepare(ctx, tx, ms.SQL)
	if err != nil {
		return 0, err
	}
	res, err := stmt.ExecContext(ctx, args...)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func (r *reuseRunner) flush(context.Context, *bun.Tx) ([]BatchResult, error) { return nil, nil }

// Prepared returns how many statements are currently prepared.
func (r *reuseRunner) Prepared() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.stmts)
}

func (r *reuseRunner) reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for query, stmt := range r.stmts {
		_ = stmt.Close()
		delete(r.stmts, query)
	}
}

type batchEntry struct {
	ms   *MappedStatement
	args []any
}

// batchRunner queues updates until flushed. Consecutive entries of the same
// statement are reported as one BatchResult.
type batchRunner struct {
	mu      sync.Mutex
	pending []batchEntry
}

func (r *batchRunner) query(ctx context.Context, tx *bun.Tx, ms *MappedStatement, args []any) ([]Row, error) {
	return simpleRunner{}.query(ctx, tx, ms, args)
}

func (r *batchRunner) update(_ context.Context, _ *bun.Tx, ms *MappedStatement, args []any) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.pending = append(r.pending, batchEntry{ms: ms, args: args})
	return BatchUpdatePending, nil
}

func (r *batchRunner) flush(ctx context.Context, tx *bun.Tx) ([]BatchResult, error) {
	r.mu.Lock()
	pending := r.pending
	r.pending = nil
	r.mu.Unlock()

	var results []BatchResult
	for _, entry := range pending {
		if n := len(results); n == 0 || results[n-1].StatementID != entry.ms.ID {
			results = append(results, BatchResult{StatementID: entry.ms.ID, SQL: entry.ms.SQL})
		}
		current := &results[len(results)-1]
		current.Parameters = append(current.Parameters, entry.args)

		res, err := tx.NewRaw(entry.ms.SQL, entry.args...).Exec(ctx)
		if err != nil {
			return results, err
		}
		affected, err := res.RowsAffected()
		if err != nil {
			return results, err
		}
		current.UpdateCounts = append(current.UpdateCounts, affected)
	}
	return results, nil
}

func (r *batchRunner) reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.pending = nil
}
