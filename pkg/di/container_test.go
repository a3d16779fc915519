package di

import (
	"bytes"
	"context"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/goliatone/go-repository-txcache/config"
	"github.com/goliatone/go-repository-txcache/engine"
	"github.com/goliatone/go-repository-txcache/logging"
	"github.com/goliatone/go-repository-txcache/pkg/testsupport"
	"github.com/goliatone/go-repository-txcache/transaction"
)

type userRepo struct {
	s *engine.Session
}

func (u *userRepo) ByID(ctx context.Context, id int) (engine.Row, error) {
	return u.s.SelectOne(ctx, "app.user.byID", id)
}

func (u *userRepo) SetBalance(ctx context.Context, id, balance int) error {
	_, err := u.s.Update(ctx, "app.user.setBalance", balance, id)
	return err
}

var userMapper = engine.Mapper[*userRepo]{
	Namespace: "app.user",
	Statements: []engine.Statement{
		{Name: "byID", Command: engine.CommandSelect, SQL: "SELECT id, user_name, balance FROM users WHERE id = ?"},
		{Name: "setBalance", Command: engine.CommandUpdate, SQL: "UPDATE users SET balance = ? WHERE id = ?"},
	},
	New: func(s *engine.Session) *userRepo { return &userRepo{s: s} },
}

func cachedConfig(factory string) config.Config {
	cfg := config.Default()
	cfg.Cache.Enabled = true
	cfg.Cache.Factory = factory
	cfg.Cache.Expired = 300
	return cfg
}

func TestNewContainerDefaults(t *testing.T) {
	db := testsupport.OpenSQLite(t, testsupport.UsersSchema...)

	container, err := NewContainer(config.Default(), db)
	if err != nil {
		t.Fatalf("NewContainer() failed: %v", err)
	}

	if container.DB() != db {
		t.Error("expected the container to use the given database")
	}
	if container.Configuration() == nil || container.SessionFactory() == nil || container.Manager() == nil {
		t.Fatal("expected engine, session factory and manager to be wired")
	}
	if container.CacheFactory() != "" || container.Metrics() != nil {
		t.Error("expected caching disabled by default")
	}
	if container.Configuration().CacheEnabled {
		t.Error("engine caching must stay off")
	}
	if container.Configuration().DefaultExecutionMode != engine.ModeSimple {
		t.Errorf("expected simple mode, got %v", container.Configuration().DefaultExecutionMode)
	}
	if len(container.Configuration().Interceptors()) != 0 {
		t.Error("expected no interceptors without caching")
	}

	// the caller owns db
	if err := container.Close(); err != nil {
		t.Fatalf("Close() failed: %v", err)
	}
	if err := db.Ping(); err != nil {
		t.Errorf("expected db to stay open, got %v", err)
	}
}

func TestNewContainerErrors(t *testing.T) {
	db := testsupport.OpenSQLite(t)

	if _, err := NewContainer(config.Default(), nil); !engine.IsConfigurationError(err) {
		t.Errorf("expected configuration error for nil db, got %v", err)
	}

	invalid := config.Default()
	invalid.Database.Driver = "oracle"
	if _, err := NewContainer(invalid, db); !engine.IsConfigurationError(err) {
		t.Errorf("expected configuration error for invalid config, got %v", err)
	}

	unknown := cachedConfig("memcached")
	if _, err := NewContainer(unknown, db); err == nil || !strings.Contains(err.Error(), "memcached") {
		t.Errorf("expected unknown factory error, got %v", err)
	}
}

func TestCacheFactorySelection(t *testing.T) {
	tests := []struct {
		name       string
		factory    string
		candidates []string
		want       string
		wantErr    string
	}{
		{name: "memory by name", factory: "memory", want: "memory"},
		{name: "named candidate", factory: "custom", candidates: []string{"custom", "other"}, want: "custom"},
		{name: "single candidate", candidates: []string{"custom"}, want: "custom"},
		{name: "no candidate disables caching", want: ""},
		{name: "ambiguous candidates", candidates: []string{"b", "a"}, wantErr: "[a, b]"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			db := testsupport.OpenSQLite(t)
			regions := map[string]*testsupport.RecordingCache{}

			var opts []Option
			for _, name := range tt.candidates {
				opts = append(opts, WithCacheFactory(name, testsupport.RecordingFactory(regions)))
			}

			container, err := NewContainer(cachedConfig(tt.factory), db, opts...)
			if tt.wantErr != "" {
				if !engine.IsConfigurationError(err) || !strings.Contains(err.Error(), tt.wantErr) {
					t.Fatalf("expected configuration error listing %s, got %v", tt.wantErr, err)
				}
				return
			}
			if err != nil {
				t.Fatalf("NewContainer() failed: %v", err)
			}
			if container.CacheFactory() != tt.want {
				t.Errorf("expected factory %q, got %q", tt.want, container.CacheFactory())
			}
			if enabled := container.Configuration().CacheEnabled; enabled != (tt.want != "") {
				t.Errorf("unexpected cache enabled %v", enabled)
			}
		})
	}
}

func TestNoCacheFactoryWarns(t *testing.T) {
	var buf bytes.Buffer
	db := testsupport.OpenSQLite(t)

	if _, err := NewContainer(cachedConfig(""), db, WithLogger(logging.New(logging.Options{Writer: &buf}))); err != nil {
		t.Fatalf("NewContainer() failed: %v", err)
	}
	if !strings.Contains(buf.String(), "level=warn") || !strings.Contains(buf.String(), "caching disabled") {
		t.Errorf("expected a warning, got %q", buf.String())
	}
}

func TestCacheSettingsReachFactory(t *testing.T) {
	db := testsupport.OpenSQLite(t, testsupport.UsersSchema...)
	regions := map[string]*testsupport.RecordingCache{}

	cfg := cachedConfig("")
	cfg.Cache.Properties = map[string]any{"prefix": "app:"}
	container, err := NewContainer(cfg, db, WithCacheFactory("recording", testsupport.RecordingFactory(regions)))
	if err != nil {
		t.Fatalf("NewContainer() failed: %v", err)
	}

	engineCfg := container.Configuration()
	if engineCfg.CacheExpiry != 5*time.Minute {
		t.Errorf("expected 5m expiry, got %v", engineCfg.CacheExpiry)
	}
	if engineCfg.CacheProperties["prefix"] != "app:" {
		t.Errorf("expected cache properties to be copied, got %v", engineCfg.CacheProperties)
	}
	if len(engineCfg.Interceptors()) != 1 {
		t.Errorf("expected the caching interceptor, got %d interceptors", len(engineCfg.Interceptors()))
	}
}

func TestConfigurationBuilders(t *testing.T) {
	db := testsupport.OpenSQLite(t)
	cfg := config.Default()
	cfg.Properties[config.PropertyMapUnderscoreToCamelCase] = "true"

	var order []string
	container, err := NewContainer(cfg, db,
		WithConfigurationBuilder(func(c *engine.Configuration) error {
			order = append(order, "first")
			if !c.MapUnderscoreToCamelCase {
				t.Error("builders must run after the configuration file is applied")
			}
			return userMapper.Register(c)
		}),
		WithConfigurationBuilder(func(*engine.Configuration) error {
			order = append(order, "second")
			return nil
		}),
	)
	if err != nil {
		t.Fatalf("NewContainer() failed: %v", err)
	}
	if strings.Join(order, ",") != "first,second" {
		t.Errorf("unexpected builder order %v", order)
	}
	if !container.Configuration().HasStatement("app.user.byID") {
		t.Error("expected builder registrations to be kept")
	}
	if container.Configuration().Variables[config.PropertyMapUnderscoreToCamelCase] != "true" {
		t.Error("expected properties copied to engine variables")
	}

	boom := engine.ConfigurationError("bad builder")
	if _, err := NewContainer(cfg, db, WithConfigurationBuilder(func(*engine.Configuration) error { return boom })); err != boom {
		t.Errorf("expected builder error, got %v", err)
	}
}

func TestLogInstallsQueryHook(t *testing.T) {
	var buf bytes.Buffer
	db := testsupport.OpenSQLite(t, testsupport.UsersSchema...)
	cfg := config.Default()
	cfg.Log = true

	if _, err := NewContainer(cfg, db, WithLogger(logging.New(logging.Options{Writer: &buf, Verbose: true}))); err != nil {
		t.Fatalf("NewContainer() failed: %v", err)
	}
	testsupport.QueryInt(t, db, "SELECT COUNT(*) FROM users")

	if !strings.Contains(buf.String(), "component=sql") {
		t.Errorf("expected SQL to be logged, got %q", buf.String())
	}
}

func TestMetricsRegistered(t *testing.T) {
	db := testsupport.OpenSQLite(t, testsupport.UsersSchema...)
	reg := prometheus.NewRegistry()

	container, err := NewContainer(cachedConfig("memory"), db, WithRegisterer(reg))
	if err != nil {
		t.Fatalf("NewContainer() failed: %v", err)
	}

	ctx, s, err := container.OpenTransaction(context.Background(), engine.ModeDefault, engine.IsolationDefault)
	if err != nil {
		t.Fatalf("OpenTransaction() failed: %v", err)
	}
	repo, err := transaction.Repository(ctx, container.Manager(), userMapper)
	if err != nil {
		t.Fatalf("resolve failed: %v", err)
	}
	if _, err := repo.ByID(ctx, 1); err != nil {
		t.Fatalf("query failed: %v", err)
	}
	if err := s.Close(ctx); err != nil {
		t.Fatalf("close failed: %v", err)
	}

	if got := testutil.ToFloat64(container.Metrics().Puts.WithLabelValues("app.user")); got != 1 {
		t.Errorf("expected 1 put, got %v", got)
	}
	if n, err := testutil.GatherAndCount(reg, "txcache_puts_total"); err != nil || n != 1 {
		t.Errorf("expected the put counter registered, got %d, %v", n, err)
	}
}

func TestOpen(t *testing.T) {
	cfg := config.Default()
	cfg.Database.DSN = "file:" + t.Name() + "?mode=memory&cache=shared"
	cfg.Database.MaxIdleConns = 1
	cfg.Database.ConnMaxIdleTime = time.Minute

	container, err := Open(cfg)
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	if err := container.DB().Ping(); err != nil {
		t.Fatalf("expected a live database, got %v", err)
	}
	if got := container.DB().DB.Stats().MaxOpenConnections; got != 1 {
		t.Errorf("expected pool limit 1, got %d", got)
	}

	if err := container.Close(); err != nil {
		t.Fatalf("Close() failed: %v", err)
	}
	if err := container.DB().Ping(); err == nil {
		t.Error("expected the owned database to be closed")
	}
}

func TestOpenDBUnsupportedDriver(t *testing.T) {
	_, err := OpenDB(config.Database{Driver: "oracle", DSN: "x"})
	if !engine.IsConfigurationError(err) {
		t.Errorf("expected configuration error, got %v", err)
	}
}

func TestDialects(t *testing.T) {
	for _, driver := range []string{config.DriverSQLite, config.DriverPostgres, config.DriverMySQL} {
		d, err := dialectFor(driver)
		if err != nil || d == nil {
			t.Errorf("expected a dialect for %s, got %v", driver, err)
		}
	}
}
