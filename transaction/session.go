package transaction

import (
	"context"
	stdErrors "errors"
	"sync"

	"github.com/uptrace/bun"

	"github.com/goliatone/go-repository-txcache/engine"
)

// Session is the transaction of one execution context. It owns one engine
// session and counts nested opens; the engine session is committed and
// closed when the last open is closed.
type Session struct {
	id        string
	manager   *Manager
	mode      engine.ExecutionMode
	isolation engine.IsolationLevel

	mu     sync.Mutex
	refs   int
	closed bool
	engine *engine.Session
}

// ID returns the execution id the session is bound to.
func (s *Session) ID() string { return s.id }

// Mode returns the execution mode of the first open.
func (s *Session) Mode() engine.ExecutionMode { return s.mode }

// Isolation returns the isolation level of the first open.
func (s *Session) Isolation() engine.IsolationLevel { return s.isolation }

// Depth returns the number of opens not yet closed.
func (s *Session) Depth() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.refs
}

// IsClosed reports whether the final close happened.
func (s *Session) IsClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// acquire increments the open count, opening the engine session on the
// first call. It returns false when s is already closed.
func (s *Session) acquire() (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return false, nil
	}
	if s.refs == 0 {
		es, err := s.manager.opener.OpenSession(s.mode, s.isolation)
		if err != nil {
			s.closed = true
			return false, err
		}
		s.engine = es
		s.manager.debug("msg", "transaction opened", "id", s.id, "mode", s.mode, "isolation", s.isolation)
	}
	s.refs++
	return true, nil
}

// Engine returns the engine session.
func (s *Session) Engine() (*engine.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed || s.engine == nil {
		return nil, ErrTransactionNotOpen
	}
	return s.engine, nil
}

// DB returns the bun transaction statements of this session run in.
func (s *Session) DB(ctx context.Context) (bun.IDB, error) {
	es, err := s.Engine()
	if err != nil {
		return nil, err
	}
	return es.DB(ctx)
}

// Commit commits the work done so far without closing the session.
func (s *Session) Commit(ctx context.Context) error {
	es, err := s.Engine()
	if err != nil {
		return err
	}
	return es.Commit(ctx)
}

// Rollback rolls back the work done so far without closing the session.
// Results buffered for the cache are discarded.
func (s *Session) Rollback(ctx context.Context) error {
	es, err := s.Engine()
	if err != nil {
		return err
	}
	return es.Rollback(ctx)
}

// Close undoes one open. The final close commits, closes the engine session
// and unbinds the execution id.
func (s *Session) Close(ctx context.Context) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrTransactionNotOpen
	}
	s.refs--
	if s.refs > 0 {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	es := s.engine
	s.mu.Unlock()

	defer s.manager.remove(s)

	commitErr := es.Commit(ctx)
	closeErr := es.Close(ctx)
	s.manager.debug("msg", "transaction closed", "id", s.id, "err", commitErr)

	switch {
	case commitErr != nil && closeErr != nil:
		return stdErrors.Join(commitErr, closeErr)
	case commitErr != nil:
		return commitErr
	default:
		return closeErr
	}
}
