// Package config loads Layercake's ambient settings: storage backend
// selection, connection strings, the import/export filesystem root, and
// worker pool sizing. Settings load from LAYERCAKE_* environment
// variables with defaults, or from an optional YAML file.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// Backend names the entity-store implementation to wire up.
type Backend string

const (
	BackendMemory   Backend = "memory"
	BackendSQLite   Backend = "sqlite"
	BackendPostgres Backend = "postgres"
	BackendRedis    Backend = "redis"
	BackendBadger   Backend = "badger"
)

// Config holds every setting the server binary needs to construct the
// store, executor and event bus.
type Config struct {
	// Backend selects the entity-store implementation.
	Backend Backend `yaml:"backend"`

	// SQLitePath is the database file path when Backend is sqlite.
	SQLitePath string `yaml:"sqlite_path"`

	// PostgresDSN is the connection string when Backend is postgres.
	PostgresDSN string `yaml:"postgres_dsn"`

	// RedisAddr, RedisPassword, RedisDB, RedisPrefix configure the
	// redis backend and the redis eventbus transport.
	RedisAddr     string `yaml:"redis_addr"`
	RedisPassword string `yaml:"redis_password"`
	RedisDB       int    `yaml:"redis_db"`
	RedisPrefix   string `yaml:"redis_prefix"`

	// BadgerDir is the data directory when Backend is badger.
	BadgerDir string `yaml:"badger_dir"`

	// ImportExportRoot is the optional filesystem root artefact and
	// dataset paths resolve under; relative node-config paths resolve
	// under it and absolute paths outside it are rejected.
	ImportExportRoot string `yaml:"import_export_root"`

	// WorkerPoolSize is the configured compute pool size. It is validated
	// and reported at server startup; the executor evaluates a plan's
	// nodes one at a time and does not read it.
	WorkerPoolSize int `yaml:"worker_pool_size"`

	// EventBusCapacity is the coordinator's command channel buffer;
	// senders block once it is full.
	EventBusCapacity int `yaml:"eventbus_capacity"`

	// LogLevel is one of debug|info|warn|error.
	LogLevel string `yaml:"log_level"`
}

// Default returns a Config usable without any environment or file, the
// in-memory store being the only backend with zero external
// dependencies.
func Default() *Config {
	return &Config{
		Backend:          BackendMemory,
		SQLitePath:       "./layercake.db",
		RedisAddr:        "localhost:6379",
		RedisPrefix:      "layercake:",
		BadgerDir:        "./layercake-data",
		WorkerPoolSize:   4,
		EventBusCapacity: 64,
		LogLevel:         "info",
	}
}

// LoadFromEnv starts from Default() and overrides each field present in
// the environment under the LAYERCAKE_ prefix.
func LoadFromEnv() *Config {
	c := Default()
	c.Backend = Backend(getEnv("LAYERCAKE_BACKEND", string(c.Backend)))
	c.SQLitePath = getEnv("LAYERCAKE_SQLITE_PATH", c.SQLitePath)
	c.PostgresDSN = getEnv("LAYERCAKE_POSTGRES_DSN", c.PostgresDSN)
	c.RedisAddr = getEnv("LAYERCAKE_REDIS_ADDR", c.RedisAddr)
	c.RedisPassword = getEnv("LAYERCAKE_REDIS_PASSWORD", c.RedisPassword)
	c.RedisDB = getEnvInt("LAYERCAKE_REDIS_DB", c.RedisDB)
	c.RedisPrefix = getEnv("LAYERCAKE_REDIS_PREFIX", c.RedisPrefix)
	c.BadgerDir = getEnv("LAYERCAKE_BADGER_DIR", c.BadgerDir)
	c.ImportExportRoot = getEnv("LAYERCAKE_IMPORT_EXPORT_ROOT", c.ImportExportRoot)
	c.WorkerPoolSize = getEnvInt("LAYERCAKE_WORKER_POOL_SIZE", c.WorkerPoolSize)
	c.EventBusCapacity = getEnvInt("LAYERCAKE_EVENTBUS_CAPACITY", c.EventBusCapacity)
	c.LogLevel = getEnv("LAYERCAKE_LOG_LEVEL", c.LogLevel)
	return c
}

// LoadFile reads a YAML config file, falling back to Default() values
// for any field the file omits.
func LoadFile(path string) (*Config, error) {
	c := Default()
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return nil, fmt.Errorf("parsing config file %s: %w", path, err)
	}
	return c, nil
}

// Validate checks the config for settings the server cannot start
// with.
func (c *Config) Validate() error {
	switch c.Backend {
	case BackendMemory, BackendSQLite, BackendPostgres, BackendRedis, BackendBadger:
	default:
		return fmt.Errorf("unknown backend %q", c.Backend)
	}
	if c.Backend == BackendSQLite && c.SQLitePath == "" {
		return fmt.Errorf("sqlite backend requires sqlite_path")
	}
	if c.Backend == BackendPostgres && c.PostgresDSN == "" {
		return fmt.Errorf("postgres backend requires postgres_dsn")
	}
	if c.Backend == BackendBadger && c.BadgerDir == "" {
		return fmt.Errorf("badger backend requires badger_dir")
	}
	if c.WorkerPoolSize <= 0 {
		return fmt.Errorf("worker_pool_size must be positive, got %d", c.WorkerPoolSize)
	}
	if c.EventBusCapacity <= 0 {
		return fmt.Errorf("eventbus_capacity must be positive, got %d", c.EventBusCapacity)
	}
	switch strings.ToLower(c.LogLevel) {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("unknown log_level %q", c.LogLevel)
	}
	return nil
}

func getEnv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getEnvInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}
