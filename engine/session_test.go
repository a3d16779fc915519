package engine

import (
	"context"
	"fmt"
	"testing"

	"github.com/uptrace/bun"

	"github.com/goliatone/go-repository-txcache/pkg/testsupport"
)

type userRepo struct {
	s *Session
}

var userMapper = Mapper[*userRepo]{
	Namespace: "app.user",
	Statements: []Statement{
		{Name: "byID", Command: CommandSelect, SQL: "SELECT id, user_name, balance FROM users WHERE id = ?"},
		{Name: "all", Command: CommandSelect, SQL: "SELECT id, user_name FROM users ORDER BY id"},
		{Name: "insert", Command: CommandInsert, SQL: "INSERT INTO users (id, user_name, balance) VALUES (?, ?, ?)"},
		{Name: "setBalance", Command: CommandUpdate, SQL: "UPDATE users SET balance = ? WHERE id = ?"},
		{Name: "remove", Command: CommandDelete, SQL: "DELETE FROM users WHERE id = ?"},
	},
	New: func(s *Session) *userRepo { return &userRepo{s: s} },
}

func newTestFactory(t *testing.T, cfg *Configuration) (*SessionFactory, *bun.DB) {
	t.Helper()

	db := testsupport.OpenSQLite(t, testsupport.UsersSchema...)
	if cfg == nil {
		cfg = NewConfiguration()
	}
	if err := userMapper.Register(cfg); err != nil {
		t.Fatalf("failed to register mapper: %v", err)
	}
	return NewSessionFactory(db, cfg), db
}

func openSession(t *testing.T, f *SessionFactory, mode ExecutionMode) *Session {
	t.Helper()

	s, err := f.OpenSession(mode, IsolationDefault)
	if err != nil {
		t.Fatalf("failed to open session: %v", err)
	}
	t.Cleanup(func() { _ = s.Close(context.Background()) })
	return s
}

func TestSessionSelectList(t *testing.T) {
	f, _ := newTestFactory(t, nil)
	s := openSession(t, f, ModeDefault)
	ctx := context.Background()

	rows, err := s.SelectList(ctx, "app.user.all")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(rows) != 2 {
		t.Fatalf("expected 2 rows, got %d", len(rows))
	}
	if fmt.Sprint(rows[0]["user_name"]) != "ann" {
		t.Errorf("expected ann first, got %v", rows[0])
	}

	bounded, err := s.SelectListBounds(ctx, "app.user.all", RowBounds{Offset: 1, Limit: 5})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(bounded) != 1 || fmt.Sprint(bounded[0]["user_name"]) != "bob" {
		t.Errorf("expected only bob, got %v", bounded)
	}
}

func TestSessionMapsUnderscoreToCamelCase(t *testing.T) {
	cfg := NewConfiguration()
	cfg.MapUnderscoreToCamelCase = true
	f, _ := newTestFactory(t, cfg)
	s := openSession(t, f, ModeSimple)

	row, err := s.SelectOne(context.Background(), "app.user.byID", 1)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, ok := row["userName"]; !ok {
		t.Errorf("expected camelCase column, got %v", row)
	}
	if _, ok := row["user_name"]; ok {
		t.Errorf("expected snake_case column to be renamed, got %v", row)
	}
}

func TestSessionSelectOne(t *testing.T) {
	f, _ := newTestFactory(t, nil)
	s := openSession(t, f, ModeSimple)
	ctx := context.Background()

	row, err := s.SelectOne(ctx, "app.user.byID", 2)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if fmt.Sprint(row["balance"]) != "50" {
		t.Errorf("expected balance 50, got %v", row["balance"])
	}

	row, err = s.SelectOne(ctx, "app.user.byID", 99)
	if err != nil || row != nil {
		t.Errorf("expected nil row without error, got %v, %v", row, err)
	}

	if _, err := s.SelectOne(ctx, "app.user.all"); !IsDatabaseError(err) {
		t.Errorf("expected database error for multiple rows, got %v", err)
	}
}

func TestSessionSelectWithHandler(t *testing.T) {
	f, _ := newTestFactory(t, nil)
	s := openSession(t, f, ModeSimple)
	ctx := context.Background()

	var names []string
	err := s.Select(ctx, "app.user.all", func(row Row) error {
		names = append(names, fmt.Sprint(row["user_name"]))
		return nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(names) != 2 || names[0] != "ann" || names[1] != "bob" {
		t.Errorf("unexpected names %v", names)
	}

	if err := s.Select(ctx, "app.user.all", nil); !IsConfigurationError(err) {
		t.Errorf("expected configuration error for nil handler, got %v", err)
	}
}

func TestSessionUnknownStatement(t *testing.T) {
	f, _ := newTestFactory(t, nil)
	s := openSession(t, f, ModeSimple)

	if _, err := s.SelectList(context.Background(), "app.user.nope"); !IsConfigurationError(err) {
		t.Errorf("expected configuration error, got %v", err)
	}
}

func TestSessionCommitPersists(t *testing.T) {
	f, db := newTestFactory(t, nil)
	s := openSession(t, f, ModeSimple)
	ctx := context.Background()

	n, err := s.Insert(ctx, "app.user.insert", 3, "cat", 10)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if n != 1 {
		t.Errorf("expected 1 affected row, got %d", n)
	}
	if err := s.Commit(ctx); err != nil {
		t.Fatalf("commit failed: %v", err)
	}

	if got := testsupport.QueryInt(t, db, "SELECT COUNT(*) FROM users"); got != 3 {
		t.Errorf("expected 3 users after commit, got %d", got)
	}

	// the next statement begins a new transaction
	if _, err := s.Update(ctx, "app.user.setBalance", 0, 3); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := s.Commit(ctx); err != nil {
		t.Fatalf("second commit failed: %v", err)
	}
	if got := testsupport.QueryInt(t, db, "SELECT balance FROM users WHERE id = 3"); got != 0 {
		t.Errorf("expected balance 0, got %d", got)
	}
}

func TestSessionRollbackDiscards(t *testing.T) {
	f, db := newTestFactory(t, nil)
	s := openSession(t, f, ModeSimple)
	ctx := context.Background()

	if _, err := s.Delete(ctx, "app.user.remove", 1); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := s.Rollback(ctx); err != nil {
		t.Fatalf("rollback failed: %v", err)
	}

	if got := testsupport.QueryInt(t, db, "SELECT COUNT(*) FROM users"); got != 2 {
		t.Errorf("expected 2 users after rollback, got %d", got)
	}
}

func TestSessionCloseRollsBackOpenWork(t *testing.T) {
	f, db := newTestFactory(t, nil)
	s := openSession(t, f, ModeSimple)
	ctx := context.Background()

	if _, err := s.Update(ctx, "app.user.setBalance", 999, 1); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := s.Close(ctx); err != nil {
		t.Fatalf("close failed: %v", err)
	}
	if err := s.Close(ctx); err != nil {
		t.Errorf("second close should be a no-op, got %v", err)
	}

	if got := testsupport.QueryInt(t, db, "SELECT balance FROM users WHERE id = 1"); got != 100 {
		t.Errorf("expected balance to stay 100, got %d", got)
	}

	if _, err := s.SelectList(ctx, "app.user.all"); err != ErrSessionClosed {
		t.Errorf("expected ErrSessionClosed, got %v", err)
	}
	if _, err := s.DB(ctx); err != ErrSessionClosed {
		t.Errorf("expected ErrSessionClosed from DB, got %v", err)
	}
	if err := s.Invalidate(ctx, "app.user"); err != ErrSessionClosed {
		t.Errorf("expected ErrSessionClosed from Invalidate, got %v", err)
	}
}

func TestSessionCommitWithoutWorkIsNoop(t *testing.T) {
	f, db := newTestFactory(t, nil)
	s := openSession(t, f, ModeSimple)
	hook := testsupport.NewCountingHook(db)

	if err := s.Commit(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := s.Rollback(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(hook.Queries()) != 0 {
		t.Errorf("expected no database round trips, got %v", hook.Queries())
	}
}

func TestSessionDBSharesTransaction(t *testing.T) {
	f, db := newTestFactory(t, nil)
	s := openSession(t, f, ModeSimple)
	ctx := context.Background()

	idb, err := s.DB(ctx)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := idb.NewRaw("UPDATE users SET balance = 1 WHERE id = 2").Exec(ctx); err != nil {
		t.Fatalf("raw update failed: %v", err)
	}

	row, err := s.SelectOne(ctx, "app.user.byID", 2)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if fmt.Sprint(row["balance"]) != "1" {
		t.Errorf("expected the mapped statement to see the raw update, got %v", row["balance"])
	}

	if err := s.Rollback(ctx); err != nil {
		t.Fatalf("rollback failed: %v", err)
	}
	if got := testsupport.QueryInt(t, db, "SELECT balance FROM users WHERE id = 2"); got != 50 {
		t.Errorf("expected raw update to be rolled back, got %d", got)
	}
}

func TestReuseModePreparesOncePerTransaction(t *testing.T) {
	f, _ := newTestFactory(t, nil)
	s := openSession(t, f, ModeReuse)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		row, err := s.SelectOne(ctx, "app.user.byID", 1)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if fmt.Sprint(row["user_name"]) != "ann" {
			t.Errorf("unexpected row %v", row)
		}
	}

	runner := s.Executor().(*bunExecutor).runner.(*reuseRunner)
	if got := runner.Prepared(); got != 1 {
		t.Errorf("expected 1 prepared statement, got %d", got)
	}

	if err := s.Commit(ctx); err != nil {
		t.Fatalf("commit failed: %v", err)
	}
	if got := runner.Prepared(); got != 0 {
		t.Errorf("expected prepared statements to be released on commit, got %d", got)
	}
}

func TestBatchModeQueuesUpdates(t *testing.T) {
	f, db := newTestFactory(t, nil)
	s := openSession(t, f, ModeBatch)
	ctx := context.Background()

	for i, id := range []int{1, 2} {
		n, err := s.Update(ctx, "app.user.setBalance", 7+i, id)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if n != BatchUpdatePending {
			t.Errorf("expected pending count, got %d", n)
		}
	}
	if _, err := s.Insert(ctx, "app.user.insert", 3, "cat", 1); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	results, err := s.FlushStatements(ctx)
	if err != nil {
		t.Fatalf("flush failed: %v", err)
	}
	if len(results) != 2 {
		t.Fatalf("expected 2 grouped results, got %d", len(results))
	}
	if results[0].StatementID != "app.user.setBalance" || len(results[0].UpdateCounts) != 2 {
		t.Errorf("unexpected first result %+v", results[0])
	}
	if results[1].StatementID != "app.user.insert" || results[1].UpdateCounts[0] != 1 {
		t.Errorf("unexpected second result %+v", results[1])
	}

	if err := s.Commit(ctx); err != nil {
		t.Fatalf("commit failed: %v", err)
	}
	if got := testsupport.QueryInt(t, db, "SELECT balance FROM users WHERE id = 2"); got != 8 {
		t.Errorf("expected batched update to persist, got %d", got)
	}
}

func TestBatchModeFlushesBeforeQuery(t *testing.T) {
	f, _ := newTestFactory(t, nil)
	s := openSession(t, f, ModeBatch)
	ctx := context.Background()

	if _, err := s.Update(ctx, "app.user.setBalance", 5, 1); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	row, err := s.SelectOne(ctx, "app.user.byID", 1)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if fmt.Sprint(row["balance"]) != "5" {
		t.Errorf("expected queued update to be visible, got %v", row["balance"])
	}

	results, err := s.FlushStatements(ctx)
	if err != nil || len(results) != 0 {
		t.Errorf("expected nothing left to flush, got %v, %v", results, err)
	}
}

func TestOpenSessionRejectsUnknownMode(t *testing.T) {
	f, _ := newTestFactory(t, nil)

	if _, err := f.OpenSession(ExecutionMode(42), IsolationDefault); !IsConfigurationError(err) {
		t.Errorf("expected configuration error, got %v", err)
	}
	if _, err := f.OpenSession(ModeSimple, IsolationLevel(42)); !IsConfigurationError(err) {
		t.Errorf("expected configuration error for isolation, got %v", err)
	}
	if _, err := NewSessionFactory(nil, nil).OpenSession(ModeSimple, IsolationDefault); !IsConfigurationError(err) {
		t.Errorf("expected configuration error without database, got %v", err)
	}
}

func TestResolveRegistersMapperAndCreatesCache(t *testing.T) {
	regions := map[string]*testsupport.RecordingCache{}
	cfg := NewConfiguration()
	cfg.CacheEnabled = true
	cfg.CacheFactory = testsupport.RecordingFactory(regions)

	db := testsupport.OpenSQLite(t, testsupport.UsersSchema...)
	f := NewSessionFactory(db, cfg)
	s := openSession(t, f, ModeSimple)

	repo, err := Resolve(s, userMapper)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if repo.s != s {
		t.Error("expected repository bound to the session")
	}
	if !cfg.HasStatement("app.user.byID") {
		t.Error("expected statements to be registered")
	}
	if regions["app.user"] == nil || cfg.Cache("app.user") != regions["app.user"] {
		t.Error("expected cache region to be created and bound")
	}

	if _, err := Resolve(s, userMapper); err != nil {
		t.Errorf("second resolve should succeed, got %v", err)
	}
	if len(regions) != 1 {
		t.Errorf("expected one region, got %d", len(regions))
	}
}

func TestResolveErrors(t *testing.T) {
	f, _ := newTestFactory(t, nil)
	s := openSession(t, f, ModeSimple)

	if _, err := Resolve[*userRepo](nil, userMapper); !IsConfigurationError(err) {
		t.Errorf("expected configuration error for nil session, got %v", err)
	}

	noCtor := userMapper
	noCtor.New = nil
	if _, err := Resolve(s, noCtor); !IsConfigurationError(err) {
		t.Errorf("expected configuration error without constructor, got %v", err)
	}

	_ = s.Close(context.Background())
	if _, err := Resolve(s, userMapper); err != ErrSessionClosed {
		t.Errorf("expected ErrSessionClosed, got %v", err)
	}
}

type invalidatingExecutor struct {
	Executor
	namespaces []string
}

func (e *invalidatingExecutor) Invalidate(_ context.Context, namespace string) error {
	e.namespaces = append(e.namespaces, namespace)
	return nil
}

func TestSessionInvalidate(t *testing.T) {
	ctx := context.Background()

	t.Run("clears directly without invalidator", func(t *testing.T) {
		f, _ := newTestFactory(t, nil)
		region := testsupport.NewRecordingCache("app.user")
		f.Configuration().SetCache(region)
		s := openSession(t, f, ModeSimple)

		if err := s.Invalidate(ctx, "app.user"); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if region.CallCount("clear") != 1 {
			t.Errorf("expected one clear, got %d", region.CallCount("clear"))
		}
		if err := s.Invalidate(ctx, "unbound"); err != nil {
			t.Errorf("unbound namespace should be ignored, got %v", err)
		}
	})

	t.Run("delegates to invalidator", func(t *testing.T) {
		cfg := NewConfiguration()
		var captured *invalidatingExecutor
		cfg.AddInterceptor(InterceptorFunc(func(e Executor) Executor {
			captured = &invalidatingExecutor{Executor: e}
			return captured
		}))
		region := testsupport.NewRecordingCache("app.user")
		cfg.SetCache(region)

		f, _ := newTestFactory(t, cfg)
		s := openSession(t, f, ModeSimple)

		if err := s.Invalidate(ctx, "app.user"); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if len(captured.namespaces) != 1 || captured.namespaces[0] != "app.user" {
			t.Errorf("expected invalidator to receive namespace, got %v", captured.namespaces)
		}
		if region.CallCount("clear") != 0 {
			t.Error("expected no direct clear")
		}
	})
}
