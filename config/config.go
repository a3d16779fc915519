package config

import (
	"fmt"
	"os"
	"regexp"
	"strconv"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	errors "github.com/goliatone/go-errors"
	"gopkg.in/yaml.v3"

	"github.com/goliatone/go-repository-txcache/cache"
	"github.com/goliatone/go-repository-txcache/engine"
)

// PropertyMapUnderscoreToCamelCase is the property that renames snake_case
// result columns to camelCase.
const PropertyMapUnderscoreToCamelCase = "mapUnderscoreToCamelCase"

// Supported database drivers.
const (
	DriverSQLite   = "sqlite3"
	DriverPostgres = "postgres"
	DriverMySQL    = "mysql"
)

var factoryName = regexp.MustCompile(`^[a-z][a-z0-9_-]*$`)

// Config is the root of the configuration file.
type Config struct {
	// Log turns SQL statement logging on.
	Log bool `yaml:"log" json:"log"`

	Cache Cache `yaml:"cache" json:"cache"`

	// Properties are free form engine properties, for example
	// mapUnderscoreToCamelCase.
	Properties map[string]any `yaml:"properties,omitempty" json:"properties,omitempty"`

	Database Database `yaml:"database" json:"database"`

	Redis Redis `yaml:"redis" json:"redis"`
}

// Cache configures second level caching.
type Cache struct {
	Enabled bool `yaml:"enabled" json:"enabled"`

	// Expired is the entry lifetime in seconds. Zero or less never expires.
	Expired int `yaml:"expired" json:"expired"`

	// Factory names the cache factory: memory, redis or a factory
	// registered with the container. Empty selects the only registered one.
	Factory string `yaml:"factory,omitempty" json:"factory,omitempty"`

	// Properties are handed to the factory of every region.
	Properties map[string]any `yaml:"properties,omitempty" json:"properties,omitempty"`
}

// Database configures the connection pool and the default session mode.
type Database struct {
	Driver string `yaml:"driver" json:"driver"`
	DSN    string `yaml:"dsn" json:"dsn"`

	MaxOpenConns    int           `yaml:"max_open_conns,omitempty" json:"max_open_conns,omitempty"`
	MaxIdleConns    int           `yaml:"max_idle_conns,omitempty" json:"max_idle_conns,omitempty"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime,omitempty" json:"conn_max_lifetime,omitempty"`
	ConnMaxIdleTime time.Duration `yaml:"conn_max_idle_time,omitempty" json:"conn_max_idle_time,omitempty"`

	// ExecutionMode is used by sessions opened with the default mode:
	// simple, reuse or batch.
	ExecutionMode string `yaml:"execution_mode,omitempty" json:"execution_mode,omitempty"`
}

// Redis configures the client of the remote cache factory.
type Redis struct {
	Addr     string `yaml:"addr" json:"addr"`
	Password string `yaml:"password,omitempty" json:"password,omitempty"`
	DB       int    `yaml:"db,omitempty" json:"db,omitempty"`

	PoolSize     int           `yaml:"pool_size,omitempty" json:"pool_size,omitempty"`
	DialTimeout  time.Duration `yaml:"dial_timeout,omitempty" json:"dial_timeout,omitempty"`
	ReadTimeout  time.Duration `yaml:"read_timeout,omitempty" json:"read_timeout,omitempty"`
	WriteTimeout time.Duration `yaml:"write_timeout,omitempty" json:"write_timeout,omitempty"`
}

// Default returns a configuration running an in-memory sqlite database with
// caching disabled.
func Default() Config {
	return Config{
		Cache: Cache{
			Properties: map[string]any{},
		},
		Properties: map[string]any{},
		Database: Database{
			Driver:          DriverSQLite,
			DSN:             "file::memory:?cache=shared",
			MaxOpenConns:    1,
			ConnMaxLifetime: 5 * time.Minute,
			ExecutionMode:   "simple",
		},
		Redis: Redis{
			Addr:         "localhost:6379",
			PoolSize:     10,
			DialTimeout:  5 * time.Second,
			ReadTimeout:  3 * time.Second,
			WriteTimeout: 3 * time.Second,
		},
	}
}

// Load reads and parses the YAML file at path.
func Load(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, errors.Wrap(err, engine.CategoryConfiguration, fmt.Sprintf("read config %s", path))
	}
	return Parse(data)
}

// Parse decodes YAML on top of Default and validates the result.
func Parse(data []byte) (Config, error) {
	cfg := Default()
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, errors.Wrap(err, engine.CategoryConfiguration, "decode config")
	}
	if cfg.Properties == nil {
		cfg.Properties = map[string]any{}
	}
	if cfg.Cache.Properties == nil {
		cfg.Cache.Properties = map[string]any{}
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks the configuration. Failures carry the configuration
// category.
func (c Config) Validate() error {
	err := validation.ValidateStruct(&c,
		validation.Field(&c.Cache),
		validation.Field(&c.Database),
		validation.Field(&c.Redis),
	)
	if err == nil && c.Cache.Enabled && c.Cache.Factory == cache.FactoryRedis {
		err = validation.ValidateStruct(&c.Redis,
			validation.Field(&c.Redis.Addr, validation.Required.Error("is required by the redis cache factory")),
		)
	}
	if err != nil {
		return errors.Wrap(err, engine.CategoryConfiguration, "invalid configuration")
	}
	return nil
}

func (c Cache) Validate() error {
	return validation.ValidateStruct(&c,
		validation.Field(&c.Factory, validation.Match(factoryName)),
	)
}

func (d Database) Validate() error {
	return validation.ValidateStruct(&d,
		validation.Field(&d.Driver, validation.Required, validation.In(DriverSQLite, DriverPostgres, DriverMySQL)),
		validation.Field(&d.DSN, validation.Required),
		validation.Field(&d.MaxOpenConns, validation.Min(0)),
		validation.Field(&d.MaxIdleConns, validation.Min(0)),
		validation.Field(&d.ExecutionMode, validation.By(func(any) error {
			_, err := engine.ParseExecutionMode(d.ExecutionMode)
			return err
		})),
	)
}

func (r Redis) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.DB, validation.Min(0)),
		validation.Field(&r.PoolSize, validation.Min(0)),
	)
}

// Expiry returns the cache entry lifetime.
func (c Config) Expiry() time.Duration {
	return cache.Expiry(c.Cache.Expired)
}

// ExecutionMode returns the parsed default execution mode.
func (c Config) ExecutionMode() engine.ExecutionMode {
	mode, err := engine.ParseExecutionMode(c.Database.ExecutionMode)
	if err != nil {
		return engine.ModeDefault
	}
	return mode
}

// MapUnderscoreToCamelCase reports whether the property of the same name is
// set to true. String values are parsed.
func (c Config) MapUnderscoreToCamelCase() bool {
	switch v := c.Properties[PropertyMapUnderscoreToCamelCase].(type) {
	case bool:
		return v
	case string:
		b, _ := strconv.ParseBool(v)
		return b
	default:
		return false
	}
}
