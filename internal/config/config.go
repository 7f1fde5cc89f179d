// Package config loads service configuration.
//
// Values start from Default, are overlaid by an optional YAML file named by
// the --config flag, and finally by environment variables. Environment
// variables win so that deployments can override a shared file.
package config

import (
	"errors"
	"fmt"
	"os"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"gopkg.in/yaml.v3"

	"github.com/dmsystem/dms/internal/database"
)

// Store drivers.
const (
	DriverMemory   = "memory"
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
)

// Notification sinks.
const (
	SinkStore  = "store"
	SinkPubSub = "pubsub"
	SinkNATS   = "nats"
)

// Environments.
const (
	EnvDevelopment = "development"
	EnvStaging     = "staging"
	EnvProduction  = "production"
)

// Config is the configuration shared by the api and worker binaries.
type Config struct {
	Env  string `yaml:"env"`
	Port string `yaml:"port"`

	// ShutdownTimeout bounds graceful shutdown.
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`

	// RequireTLS rejects plain HTTP requests that did not arrive through a
	// TLS-terminating proxy.
	RequireTLS bool `yaml:"require_tls"`

	Store     StoreConfig     `yaml:"store"`
	Database  database.Config `yaml:"database"`
	Auth      AuthConfig      `yaml:"auth"`
	Notify    NotifyConfig    `yaml:"notify"`
	PubSub    PubSubConfig    `yaml:"pubsub"`
	NATS      NATSConfig      `yaml:"nats"`
	Telemetry TelemetryConfig `yaml:"telemetry"`
}

// StoreConfig selects the record store backend.
type StoreConfig struct {
	Driver     string `yaml:"driver"`
	SQLitePath string `yaml:"sqlite_path"`
}

// AuthConfig configures bearer token validation.
type AuthConfig struct {
	JWTSigningKey string        `yaml:"jwt_signing_key"`
	Issuer        string        `yaml:"issuer"`
	Audience      string        `yaml:"audience"`
	TokenTTL      time.Duration `yaml:"token_ttl"`
}

// NotifyConfig configures notification delivery.
type NotifyConfig struct {
	// Sinks lists where notifications go: store, pubsub, nats.
	Sinks []string `yaml:"sinks"`

	// RetentionDays is how long the worker keeps notifications.
	RetentionDays int `yaml:"retention_days"`
}

// PubSubConfig names the notification topic and the worker subscription.
type PubSubConfig struct {
	ProjectID    string `yaml:"project_id"`
	Topic        string `yaml:"topic"`
	Subscription string `yaml:"subscription"`
}

// NATSConfig configures the NATS notification sink.
type NATSConfig struct {
	URL           string `yaml:"url"`
	SubjectPrefix string `yaml:"subject_prefix"`
}

// TelemetryConfig configures OpenTelemetry export.
type TelemetryConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Endpoint string `yaml:"endpoint"`
}

// Default returns the local development configuration.
func Default() *Config {
	return &Config{
		Env:             EnvDevelopment,
		Port:            "8080",
		ShutdownTimeout: 30 * time.Second,
		Store: StoreConfig{
			Driver:     DriverMemory,
			SQLitePath: "dms.db",
		},
		Database: database.DefaultConfig(),
		Auth: AuthConfig{
			JWTSigningKey: "dev-signing-key-change-in-production",
			Issuer:        "dms",
			Audience:      "dms-api",
			TokenTTL:      time.Hour,
		},
		Notify: NotifyConfig{
			Sinks:         []string{SinkStore},
			RetentionDays: 30,
		},
		PubSub: PubSubConfig{
			Topic:        "notifications",
			Subscription: "notifications-worker",
		},
		NATS: NATSConfig{
			URL:           "nats://localhost:4222",
			SubjectPrefix: "notifications",
		},
		Telemetry: TelemetryConfig{
			Endpoint: "localhost:4317",
		},
	}
}

// RegisterFlags adds the --config flag to fs and returns its value.
func RegisterFlags(fs *pflag.FlagSet) *string {
	return fs.String("config", os.Getenv("DMS_CONFIG"), "path to a YAML config file")
}

// Load builds the configuration from defaults, the file at path (if any),
// and the environment, then validates it.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		if err := cfg.loadFile(path); err != nil {
			return nil, fmt.Errorf("loading config file %s: %w", path, err)
		}
	}

	cfg.ApplyEnv()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) loadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	return yaml.Unmarshal(data, c)
}

// ApplyEnv overrides fields whose environment variable is set.
func (c *Config) ApplyEnv() {
	c.Env = getEnvOrDefault("APP_ENV", c.Env)
	c.Port = getEnvOrDefault("APP_PORT", c.Port)
	c.Store.Driver = getEnvOrDefault("STORE_DRIVER", c.Store.Driver)
	c.Store.SQLitePath = getEnvOrDefault("SQLITE_PATH", c.Store.SQLitePath)
	c.Auth.JWTSigningKey = getEnvOrDefault("JWT_SIGNING_KEY", c.Auth.JWTSigningKey)
	c.Auth.Issuer = getEnvOrDefault("JWT_ISSUER", c.Auth.Issuer)
	c.Auth.Audience = getEnvOrDefault("JWT_AUDIENCE", c.Auth.Audience)
	c.PubSub.ProjectID = getEnvOrDefault("PUBSUB_PROJECT_ID", c.PubSub.ProjectID)
	c.PubSub.Topic = getEnvOrDefault("PUBSUB_TOPIC", c.PubSub.Topic)
	c.PubSub.Subscription = getEnvOrDefault("PUBSUB_SUBSCRIPTION", c.PubSub.Subscription)
	c.NATS.URL = getEnvOrDefault("NATS_URL", c.NATS.URL)
	c.NATS.SubjectPrefix = getEnvOrDefault("NATS_SUBJECT_PREFIX", c.NATS.SubjectPrefix)
	c.Telemetry.Endpoint = getEnvOrDefault("OTEL_EXPORTER_OTLP_ENDPOINT", c.Telemetry.Endpoint)

	if v := os.Getenv("REQUIRE_TLS"); v != "" {
		c.RequireTLS = v == "true"
	}
	if v := os.Getenv("OTEL_ENABLED"); v != "" {
		c.Telemetry.Enabled = v == "true"
	}
	if v := os.Getenv("NOTIFY_SINKS"); v != "" {
		c.Notify.Sinks = splitList(v)
	}
	if n, err := strconv.Atoi(os.Getenv("NOTIFY_RETENTION_DAYS")); err == nil {
		c.Notify.RetentionDays = n
	}
	if d, err := time.ParseDuration(os.Getenv("JWT_TOKEN_TTL")); err == nil {
		c.Auth.TokenTTL = d
	}

	c.Database.ApplyEnv()
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	var errs []error

	if !slices.Contains([]string{EnvDevelopment, EnvStaging, EnvProduction}, c.Env) {
		errs = append(errs, fmt.Errorf("invalid env: %s", c.Env))
	}
	if c.Port == "" {
		errs = append(errs, errors.New("port is required"))
	}

	switch c.Store.Driver {
	case DriverMemory, DriverPostgres:
	case DriverSQLite:
		if c.Store.SQLitePath == "" {
			errs = append(errs, errors.New("store.sqlite_path is required for the sqlite driver"))
		}
	default:
		errs = append(errs, fmt.Errorf("store.driver must be one of: %v", []string{DriverMemory, DriverPostgres, DriverSQLite}))
	}

	if c.Auth.JWTSigningKey == "" {
		errs = append(errs, errors.New("auth.jwt_signing_key is required"))
	}
	if c.Env == EnvProduction && c.Auth.JWTSigningKey == Default().Auth.JWTSigningKey {
		errs = append(errs, errors.New("auth.jwt_signing_key must be set in production"))
	}
	if c.Auth.TokenTTL <= 0 {
		errs = append(errs, errors.New("auth.token_ttl must be positive"))
	}

	for _, sink := range c.Notify.Sinks {
		switch sink {
		case SinkStore:
		case SinkPubSub:
			if c.PubSub.ProjectID == "" || c.PubSub.Topic == "" {
				errs = append(errs, errors.New("pubsub.project_id and pubsub.topic are required for the pubsub sink"))
			}
		case SinkNATS:
			if c.NATS.URL == "" {
				errs = append(errs, errors.New("nats.url is required for the nats sink"))
			}
		default:
			errs = append(errs, fmt.Errorf("unknown notify sink: %s", sink))
		}
	}
	if c.Notify.RetentionDays <= 0 {
		errs = append(errs, errors.New("notify.retention_days must be positive"))
	}

	return errors.Join(errs...)
}

// HasSink reports whether name is one of the configured notification sinks.
func (c *Config) HasSink(name string) bool {
	return slices.Contains(c.Notify.Sinks, name)
}

// IsDevelopment reports whether the service runs in the development env.
func (c *Config) IsDevelopment() bool {
	return c.Env == EnvDevelopment
}

func splitList(v string) []string {
	var out []string
	for _, part := range strings.Split(v, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
