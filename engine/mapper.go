package engine

// Mapper groups the statements of one namespace and knows how to build a
// typed repository on top of a session.
//
//	var Users = engine.Mapper[*UserRepo]{
//		Namespace: "app.user",
//		Statements: []engine.Statement{
//			{Name: "byID", Command: engine.CommandSelect, SQL: "SELECT * FROM users WHERE id = ?"},
//		},
//		New: func(s *engine.Session) *UserRepo { return &UserRepo{s: s} },
//	}
type Mapper[T any] struct {
	Namespace  string
	Statements []Statement
	New        func(*Session) T
}

// Register adds the mapper statements to cfg. It is a no-op when the
// namespace was already registered.
func (m Mapper[T]) Register(cfg *Configuration) error {
	if m.Namespace == "" {
		return ConfigurationError("mapper namespace must not be empty")
	}
	return cfg.addMapper(m.Namespace, m.Statements)
}

// Resolve returns the repository of mapper bound to s. The first resolution
// of a namespace registers its statements and, when caching is enabled,
// creates its cache region.
func Resolve[T any](s *Session, mapper Mapper[T]) (T, error) {
	var zero T
	if s == nil {
		return zero, ConfigurationError("session must not be nil")
	}
	if s.IsClosed() {
		return zero, ErrSessionClosed
	}
	if mapper.New == nil {
		return zero, ConfigurationError("mapper %s has no constructor", mapper.Namespace)
	}
	if err := mapper.Register(s.cfg); err != nil {
		return zero, err
	}
	return mapper.New(s), nil
}
