package di

import (
	"database/sql"

	_ "github.com/go-sql-driver/mysql"
	errors "github.com/goliatone/go-errors"
	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"
	"github.com/redis/go-redis/v9"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/mysqldialect"
	"github.com/uptrace/bun/dialect/pgdialect"
	"github.com/uptrace/bun/dialect/sqlitedialect"
	"github.com/uptrace/bun/schema"

	"github.com/goliatone/go-repository-txcache/config"
	"github.com/goliatone/go-repository-txcache/engine"
)

// OpenDB opens the configured database with the bun dialect of its driver
// and applies the pool limits.
func OpenDB(cfg config.Database) (*bun.DB, error) {
	dialect, err := dialectFor(cfg.Driver)
	if err != nil {
		return nil, err
	}

	sqldb, err := sql.Open(cfg.Driver, cfg.DSN)
	if err != nil {
		return nil, errors.Wrap(err, engine.CategoryDatabase, "open "+cfg.Driver)
	}
	if cfg.MaxOpenConns > 0 {
		sqldb.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		sqldb.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		sqldb.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}
	if cfg.ConnMaxIdleTime > 0 {
		sqldb.SetConnMaxIdleTime(cfg.ConnMaxIdleTime)
	}

	return bun.NewDB(sqldb, dialect), nil
}

func dialectFor(driver string) (schema.Dialect, error) {
	switch driver {
	case config.DriverSQLite:
		return sqlitedialect.New(), nil
	case config.DriverPostgres:
		return pgdialect.New(), nil
	case config.DriverMySQL:
		return mysqldialect.New(), nil
	default:
		return nil, engine.ConfigurationError("unsupported database driver %q", driver)
	}
}

// NewRedisClient builds the client of the redis cache factory.
func NewRedisClient(cfg config.Redis) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:         cfg.Addr,
		Password:     cfg.Password,
		DB:           cfg.DB,
		PoolSize:     cfg.PoolSize,
		DialTimeout:  cfg.DialTimeout,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	})
}
