package transaction

import (
	"context"
	"sort"

	"github.com/go-kit/log/level"

	"github.com/goliatone/go-repository-txcache/engine"
)

// Attributes configures the transaction a method runs in.
type Attributes struct {
	Mode      engine.ExecutionMode
	Isolation engine.IsolationLevel
}

// Methods maps method names to their transaction attributes.
type Methods map[string]Attributes

// Proxy runs the methods of a component inside transactions. The method
// table is fixed at construction; methods missing from it run as is.
//
//	type AccountService struct {
//		tx *transaction.Proxy
//	}
//
//	func (s *AccountService) Transfer(ctx context.Context, from, to, amount int) error {
//		return s.tx.Invoke(ctx, "Transfer", func(ctx context.Context) error {
//			...
//		})
//	}
type Proxy struct {
	manager *Manager
	methods map[string]Attributes
}

// NewProxy builds a proxy over manager for the given method table.
func NewProxy(manager *Manager, methods Methods) *Proxy {
	table := make(map[string]Attributes, len(methods))
	for name, attrs := range methods {
		table[name] = attrs
	}
	return &Proxy{manager: manager, methods: table}
}

// Manager returns the transaction manager of the proxy.
func (p *Proxy) Manager() *Manager { return p.manager }

// Attributes returns the attributes of method and whether it is
// transactional.
func (p *Proxy) Attributes(method string) (Attributes, bool) {
	attrs, ok := p.methods[method]
	return attrs, ok
}

// MethodNames returns the transactional methods, sorted.
func (p *Proxy) MethodNames() []string {
	names := make([]string, 0, len(p.methods))
	for name := range p.methods {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Invoke runs fn as method. A transactional method opens or joins the
// transaction of ctx and hands fn a context bound to it. When fn fails the
// transaction is rolled back and the error is returned unchanged; a panic
// is rolled back and re-raised. The transaction is closed either way, which
// commits it when this was the outermost open.
func (p *Proxy) Invoke(ctx context.Context, method string, fn func(ctx context.Context) error) (err error) {
	attrs, ok := p.methods[method]
	if !ok {
		return fn(ctx)
	}

	txCtx, s, err := p.manager.OpenTransaction(ctx, attrs.Mode, attrs.Isolation)
	if err != nil {
		return err
	}

	defer func() {
		if r := recover(); r != nil {
			p.rollback(txCtx, s, method)
			_ = s.Close(txCtx)
			panic(r)
		}
	}()

	if err = fn(txCtx); err != nil {
		p.rollback(txCtx, s, method)
		if closeErr := s.Close(txCtx); closeErr != nil {
			level.Warn(p.manager.logger).Log("msg", "close after rollback failed", "method", method, "err", closeErr)
		}
		return err
	}

	return s.Close(txCtx)
}

func (p *Proxy) rollback(ctx context.Context, s *Session, method string) {
	if err := s.Rollback(ctx); err != nil {
		level.Warn(p.manager.logger).Log("msg", "rollback failed", "method", method, "err", err)
	}
}

// Call is Invoke for methods returning a value.
func Call[T any](ctx context.Context, p *Proxy, method string, fn func(ctx context.Context) (T, error)) (T, error) {
	var result T
	err := p.Invoke(ctx, method, func(ctx context.Context) error {
		var err error
		result, err = fn(ctx)
		return err
	})
	if err != nil {
		var zero T
		return zero, err
	}
	return result, nil
}

// Repository resolves mapper against the open transaction of ctx.
func Repository[T any](ctx context.Context, manager *Manager, mapper engine.Mapper[T]) (T, error) {
	var zero T
	s, err := manager.Session(ctx)
	if err != nil {
		return zero, err
	}
	es, err := s.Engine()
	if err != nil {
		return zero, err
	}
	return engine.Resolve(es, mapper)
}
