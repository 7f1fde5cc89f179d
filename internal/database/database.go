// Package database provides PostgreSQL connection management.
package database

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"

	"github.com/dmsystem/dms/internal/resilience"
)

// Config holds database connection configuration.
type Config struct {
	Host            string        `yaml:"host"`
	Port            int           `yaml:"port"`
	User            string        `yaml:"user"`
	Password        string        `yaml:"password"`
	Database        string        `yaml:"name"`
	SSLMode         string        `yaml:"ssl_mode"`
	MaxOpenConns    int           `yaml:"max_open_conns"`
	MaxIdleConns    int           `yaml:"max_idle_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime"`

	// ConnectRetries bounds how often the initial connection is retried.
	ConnectRetries uint64 `yaml:"connect_retries"`
}

// DefaultConfig returns the local development defaults.
func DefaultConfig() Config {
	return Config{
		Host:            "localhost",
		Port:            5432,
		User:            "dms",
		Password:        "localdev",
		Database:        "dms",
		SSLMode:         "disable",
		MaxOpenConns:    10,
		MaxIdleConns:    5,
		ConnMaxLifetime: 5 * time.Minute,
		ConnectRetries:  5,
	}
}

// ApplyEnv overrides fields whose DB_* environment variable is set.
func (c *Config) ApplyEnv() {
	c.Host = getEnvOrDefault("DB_HOST", c.Host)
	c.User = getEnvOrDefault("DB_USER", c.User)
	c.Password = getEnvOrDefault("DB_PASSWORD", c.Password)
	c.Database = getEnvOrDefault("DB_NAME", c.Database)
	c.SSLMode = getEnvOrDefault("DB_SSL_MODE", c.SSLMode)

	if port, err := strconv.Atoi(os.Getenv("DB_PORT")); err == nil {
		c.Port = port
	}
	if n, err := strconv.Atoi(os.Getenv("DB_MAX_OPEN_CONNS")); err == nil {
		c.MaxOpenConns = n
	}
	if n, err := strconv.Atoi(os.Getenv("DB_MAX_IDLE_CONNS")); err == nil {
		c.MaxIdleConns = n
	}
	if d, err := time.ParseDuration(os.Getenv("DB_CONN_MAX_LIFETIME")); err == nil {
		c.ConnMaxLifetime = d
	}
	if n, err := strconv.ParseUint(os.Getenv("DB_CONNECT_RETRIES"), 10, 64); err == nil {
		c.ConnectRetries = n
	}
}

// ConnectionString returns the PostgreSQL connection string.
func (c Config) ConnectionString() string {
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=%s",
		c.User, c.Password, c.Host, c.Port, c.Database, c.SSLMode,
	)
}

// Connect creates a new database connection pool. The first ping is
// retried with exponential backoff so the service can start before the
// database is ready.
func Connect(ctx context.Context, cfg Config, logger zerolog.Logger) (*pgxpool.Pool, error) {
	poolConfig, err := pgxpool.ParseConfig(cfg.ConnectionString())
	if err != nil {
		return nil, fmt.Errorf("parse connection string: %w", err)
	}

	poolConfig.MaxConns = int32(cfg.MaxOpenConns) //nolint:gosec // MaxOpenConns is bounded by config validation
	poolConfig.MinConns = int32(cfg.MaxIdleConns) //nolint:gosec // MaxIdleConns is bounded by config validation
	poolConfig.MaxConnLifetime = cfg.ConnMaxLifetime

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("create connection pool: %w", err)
	}

	attempt := 0
	err = resilience.Retry(ctx, resilience.RetryConfig{
		MaxRetries:      cfg.ConnectRetries,
		InitialInterval: 500 * time.Millisecond,
		MaxInterval:     10 * time.Second,
	}, func() error {
		attempt++
		pingErr := pool.Ping(ctx)
		if pingErr != nil {
			logger.Warn().Err(pingErr).Int("attempt", attempt).Msg("database not reachable yet")
		}
		return pingErr
	})
	if err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	return pool, nil
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
