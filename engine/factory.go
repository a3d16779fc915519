package engine

import (
	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"github.com/uptrace/bun"
)

// SessionFactory opens sessions on one bun database sharing one
// Configuration.
type SessionFactory struct {
	db     *bun.DB
	cfg    *Configuration
	logger log.Logger
}

// Option configures a SessionFactory.
type Option func(*SessionFactory)

// WithLogger sets the logger used for session lifecycle messages.
func WithLogger(logger log.Logger) Option {
	return func(f *SessionFactory) {
		if logger != nil {
			f.logger = logger
		}
	}
}

// NewSessionFactory creates a factory. A nil cfg uses NewConfiguration().
func NewSessionFactory(db *bun.DB, cfg *Configuration, opts ...Option) *SessionFactory {
	if cfg == nil {
		cfg = NewConfiguration()
	}
	f := &SessionFactory{db: db, cfg: cfg, logger: cfg.logger()}
	for _, opt := range opts {
		if opt != nil {
			opt(f)
		}
	}
	return f
}

// Configuration returns the shared configuration.
func (f *SessionFactory) Configuration() *Configuration { return f.cfg }

// DB returns the underlying bun database.
func (f *SessionFactory) DB() *bun.DB { return f.db }

// OpenSession opens a session whose executor runs in mode and begins its
// transaction with isolation. Interceptors registered on the configuration
// wrap the executor.
func (f *SessionFactory) OpenSession(mode ExecutionMode, isolation IsolationLevel) (*Session, error) {
	if f.db == nil {
		return nil, ConfigurationError("session factory has no database")
	}

	if mode == ModeDefault {
		mode = f.cfg.DefaultExecutionMode
	}
	switch mode {
	case ModeDefault, ModeSimple, ModeReuse, ModeBatch:
	default:
		return nil, ConfigurationError("unknown execution mode %d", int(mode))
	}

	opts, err := isolation.TxOptions()
	if err != nil {
		return nil, err
	}

	executor := f.cfg.pluginAll(newBunExecutor(f.db, f.cfg, mode, opts))
	level.Debug(f.logger).Log("msg", "session opened", "mode", mode, "isolation", isolation)

	return &Session{
		cfg:       f.cfg,
		executor:  executor,
		mode:      mode,
		isolation: isolation,
	}, nil
}
