package testsupport

import (
	"context"
	"database/sql"
	"strings"
	"sync"
	"testing"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/sqlitedialect"
)

// UsersSchema is the table most package tests run against.
var UsersSchema = []string{
	`CREATE TABLE users (id INTEGER PRIMARY KEY, user_name TEXT NOT NULL, email TEXT, balance INTEGER NOT NULL DEFAULT 0)`,
	`INSERT INTO users (id, user_name, email, balance) VALUES (1, 'ann', 'ann@example.com', 100)`,
	`INSERT INTO users (id, user_name, email, balance) VALUES (2, 'bob', 'bob@example.com', 50)`,
}

// OpenSQLite opens a private in-memory sqlite database wrapped in bun and runs
// the given setup statements. The pool is limited to one connection so every
// query sees the same database; callers must not query outside an open
// transaction while one is in progress.
func OpenSQLite(t *testing.T, setup ...string) *bun.DB {
	t.Helper()

	dsn := "file:" + uuid.NewString() + "?mode=memory&cache=shared"
	sqldb, err := sql.Open("sqlite3", dsn)
	if err != nil {
		t.Fatalf("failed to open sqlite: %v", err)
	}
	sqldb.SetMaxOpenConns(1)

	db := bun.NewDB(sqldb, sqlitedialect.New())
	t.Cleanup(func() { _ = db.Close() })

	Exec(t, db, setup...)
	return db
}

// Exec runs statements outside of any transaction, failing the test on the
// first error.
func Exec(t *testing.T, db *bun.DB, statements ...string) {
	t.Helper()

	ctx := context.Background()
	for _, stmt := range statements {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			t.Fatalf("failed to exec %q: %v", stmt, err)
		}
	}
}

// QueryInt runs a single column, single row query and returns the value.
func QueryInt(t *testing.T, db *bun.DB, query string, args ...any) int64 {
	t.Helper()

	var n int64
	if err := db.NewRaw(query, args...).Scan(context.Background(), &n); err != nil {
		t.Fatalf("failed to query %q: %v", query, err)
	}
	return n
}

// CountingHook is a bun query hook that counts executed queries by their
// operation, for asserting how many statements reached the database.
type CountingHook struct {
	mu      sync.Mutex
	queries []string
}

// NewCountingHook creates a hook and installs it on db.
func NewCountingHook(db *bun.DB) *CountingHook {
	h := &CountingHook{}
	db.AddQueryHook(h)
	return h
}

func (h *CountingHook) BeforeQuery(ctx context.Context, _ *bun.QueryEvent) context.Context {
	return ctx
}

func (h *CountingHook) AfterQuery(_ context.Context, event *bun.QueryEvent) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.queries = append(h.queries, event.Query)
}

// Queries returns the executed queries in order.
func (h *CountingHook) Queries() []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]string(nil), h.queries...)
}

// Count returns how many executed queries start with prefix, ignoring case.
func (h *CountingHook) Count(prefix string) int {
	n := 0
	for _, q := range h.Queries() {
		if strings.HasPrefix(strings.ToUpper(q), strings.ToUpper(prefix)) {
			n++
		}
	}
	return n
}

// Reset forgets the recorded queries.
func (h *CountingHook) Reset() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.queries = nil
}
