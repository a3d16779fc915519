package transaction

import (
	"context"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"github.com/puzpuzpuz/xsync/v3"
	"github.com/uptrace/bun"

	"github.com/goliatone/go-repository-txcache/engine"
)

// SessionOpener opens engine sessions. *engine.SessionFactory implements it.
type SessionOpener interface {
	OpenSession(mode engine.ExecutionMode, isolation engine.IsolationLevel) (*engine.Session, error)
}

// Manager keeps the open transaction of every execution context. Entries are
// added on the first open of a context and removed on its final close.
type Manager struct {
	opener   SessionOpener
	sessions *xsync.MapOf[string, *Session]
	logger   log.Logger
}

// Option configures a Manager.
type Option func(*Manager)

// WithLogger sets the logger for transaction lifecycle messages.
func WithLogger(logger log.Logger) Option {
	return func(m *Manager) {
		if logger != nil {
			m.logger = logger
		}
	}
}

// NewManager returns a manager opening engine sessions through opener.
func NewManager(opener SessionOpener, opts ...Option) *Manager {
	m := &Manager{
		opener:   opener,
		sessions: xsync.NewMapOf[string, *Session](),
		logger:   log.NewNopLogger(),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(m)
		}
	}
	return m
}

// OpenTransaction opens the transaction of the execution context of ctx, or
// joins the one already open. Every call must be paired with Session.Close.
// The returned context carries the execution id and must be passed on to
// everything running inside the transaction.
func (m *Manager) OpenTransaction(ctx context.Context, mode engine.ExecutionMode, isolation engine.IsolationLevel) (context.Context, *Session, error) {
	ctx, id := WithExecutionID(ctx)

	for {
		s, _ := m.sessions.LoadOrCompute(id, func() *Session {
			return &Session{id: id, manager: m, mode: mode, isolation: isolation}
		})

		joined, err := s.acquire()
		if err != nil {
			m.remove(s)
			return ctx, nil, err
		}
		if joined {
			return ctx, s, nil
		}
		// s closed between the load and the acquire
		m.remove(s)
	}
}

// Session returns the open transaction of ctx.
func (m *Manager) Session(ctx context.Context) (*Session, error) {
	id, ok := ExecutionID(ctx)
	if !ok {
		return nil, ErrTransactionNotOpen
	}
	s, ok := m.sessions.Load(id)
	if !ok || s.IsClosed() {
		return nil, ErrTransactionNotOpen
	}
	return s, nil
}

// InTransaction reports whether ctx has an open transaction.
func (m *Manager) InTransaction(ctx context.Context) bool {
	_, err := m.Session(ctx)
	return err == nil
}

// DB returns the bun transaction of the open transaction of ctx.
func (m *Manager) DB(ctx context.Context) (bun.IDB, error) {
	s, err := m.Session(ctx)
	if err != nil {
		return nil, err
	}
	return s.DB(ctx)
}

// Invalidate schedules a clear of namespace in the open transaction of ctx.
func (m *Manager) Invalidate(ctx context.Context, namespace string) error {
	s, err := m.Session(ctx)
	if err != nil {
		return err
	}
	es, err := s.Engine()
	if err != nil {
		return err
	}
	return es.Invalidate(ctx, namespace)
}

// Active returns the number of open transactions.
func (m *Manager) Active() int {
	return m.sessions.Size()
}

// remove drops the entry of s if it is still the registered one.
func (m *Manager) remove(s *Session) {
	m.sessions.Compute(s.id, func(current *Session, loaded bool) (*Session, bool) {
		return current, !loaded || current == s
	})
}

func (m *Manager) debug(keyvals ...any) {
	level.Debug(m.logger).Log(keyvals...)
}
