package engine

import (
	"context"
	"fmt"
	"sync"

	errors "github.com/goliatone/go-errors"
	"github.com/uptrace/bun"
)

// Session runs mapped statements through its executor. A session is meant
// to be used by one logical unit of work; it is safe for concurrent use but
// all callers share one transaction.
type Session struct {
	cfg       *Configuration
	executor  Executor
	mode      ExecutionMode
	isolation IsolationLevel

	mu     sync.Mutex
	dirty  bool
	closed bool
}

// Configuration returns the shared configuration.
func (s *Session) Configuration() *Configuration { return s.cfg }

// Executor returns the outermost executor, including interceptors.
func (s *Session) Executor() Executor { return s.executor }

// Mode returns the execution mode the session was opened with.
func (s *Session) Mode() ExecutionMode { return s.mode }

// Isolation returns the isolation level the session was opened with.
func (s *Session) Isolation() IsolationLevel { return s.isolation }

func (s *Session) statement(id string) (*MappedStatement, error) {
	s.mu.Lock()
	closed := s.closed
	s.mu.Unlock()
	if closed {
		return nil, ErrSessionClosed
	}
	return s.cfg.Statement(id)
}

// SelectList runs a select and returns every row.
func (s *Session) SelectList(ctx context.Context, id string, args ...any) ([]Row, error) {
	return s.SelectListBounds(ctx, id, NoRowBounds, args...)
}

// SelectListBounds runs a select and returns the rows inside bounds.
func (s *Session) SelectListBounds(ctx context.Context, id string, bounds RowBounds, args ...any) ([]Row, error) {
	ms, err := s.statement(id)
	if err != nil {
		return nil, err
	}
	return s.executor.Query(ctx, ms, bounds, nil, args)
}

// SelectOne runs a select expected to return at most one row. No row yields
// a nil Row and no error.
func (s *Session) SelectOne(ctx context.Context, id string, args ...any) (Row, error) {
	rows, err := s.SelectList(ctx, id, args...)
	if err != nil {
		return nil, err
	}
	switch len(rows) {
	case 0:
		return nil, nil
	case 1:
		return rows[0], nil
	default:
		return nil, errors.New(fmt.Sprintf("expected one result from %s, found %d", id, len(rows)), CategoryDatabase)
	}
}

// Select streams rows to handler. Results are never cached.
func (s *Session) Select(ctx context.Context, id string, handler RowHandler, args ...any) error {
	ms, err := s.statement(id)
	if err != nil {
		return err
	}
	if handler == nil {
		return ConfigurationError("row handler for %s must not be nil", id)
	}
	_, err = s.executor.Query(ctx, ms, NoRowBounds, handler, args)
	return err
}

// Insert runs an insert statement and returns the affected row count.
func (s *Session) Insert(ctx context.Context, id string, args ...any) (int64, error) {
	return s.update(ctx, id, args)
}

// Update runs an update statement and returns the affected row count.
func (s *Session) Update(ctx context.Context, id string, args ...any) (int64, error) {
	return s.update(ctx, id, args)
}

// Delete runs a delete statement and returns the affected row count.
func (s *Session) Delete(ctx context.Context, id string, args ...any) (int64, error) {
	return s.update(ctx, id, args)
}

func (s *Session) update(ctx context.Context, id string, args []any) (int64, error) {
	ms, err := s.statement(id)
	if err != nil {
		return 0, err
	}
	s.mu.Lock()
	s.dirty = true
	s.mu.Unlock()
	return s.executor.Update(ctx, ms, args)
}

// FlushStatements sends queued batch statements.
func (s *Session) FlushStatements(ctx context.Context) ([]BatchResult, error) {
	return s.executor.FlushStatements(ctx)
}

// Commit commits the current transaction. The next statement begins a new
// one.
func (s *Session) Commit(ctx context.Context) error {
	if err := s.executor.Commit(ctx); err != nil {
		return err
	}
	s.mu.Lock()
	s.dirty = false
	s.mu.Unlock()
	return nil
}

// Rollback rolls back the current transaction.
func (s *Session) Rollback(ctx context.Context) error {
	err := s.executor.Rollback(ctx)
	s.mu.Lock()
	s.dirty = false
	s.mu.Unlock()
	return err
}

// Close releases the session. Uncommitted updates are rolled back.
func (s *Session) Close(ctx context.Context) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	dirty := s.dirty
	s.mu.Unlock()

	return s.executor.Close(ctx, dirty)
}

// IsClosed reports whether Close has been called.
func (s *Session) IsClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// DB returns the session transaction for code that builds queries with bun
// directly. Statements run this way bypass the cache; pair writes with
// Invalidate.
func (s *Session) DB(ctx context.Context) (bun.IDB, error) {
	if s.IsClosed() {
		return nil, ErrSessionClosed
	}
	return s.executor.DB(ctx)
}

// Invalidate clears the cache region of namespace. When the executor defers
// clears to the transaction outcome the clear happens at commit or rollback,
// otherwise it happens now.
func (s *Session) Invalidate(ctx context.Context, namespace string) error {
	if s.IsClosed() {
		return ErrSessionClosed
	}
	if inv, ok := s.executor.(Invalidator); ok {
		return inv.Invalidate(ctx, namespace)
	}
	region := s.cfg.Cache(namespace)
	if region == nil {
		return nil
	}
	return region.Clear(ctx)
}
