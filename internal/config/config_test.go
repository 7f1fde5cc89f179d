package config_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmsystem/dms/internal/config"
)

var envKeys = []string{
	"APP_ENV", "APP_PORT", "STORE_DRIVER", "SQLITE_PATH",
	"JWT_SIGNING_KEY", "JWT_ISSUER", "JWT_AUDIENCE", "JWT_TOKEN_TTL",
	"NOTIFY_SINKS", "NOTIFY_RETENTION_DAYS",
	"PUBSUB_PROJECT_ID", "PUBSUB_TOPIC", "PUBSUB_SUBSCRIPTION",
	"NATS_URL", "NATS_SUBJECT_PREFIX",
	"OTEL_ENABLED", "OTEL_EXPORTER_OTLP_ENDPOINT", "REQUIRE_TLS",
	"DB_HOST", "DB_PORT", "DB_USER", "DB_PASSWORD", "DB_NAME", "DB_SSL_MODE",
	"DB_MAX_OPEN_CONNS", "DB_MAX_IDLE_CONNS", "DB_CONN_MAX_LIFETIME", "DB_CONNECT_RETRIES",
}

func clearEnv(t *testing.T) {
	t.Helper()
	for _, key := range envKeys {
		t.Setenv(key, "")
	}
}

func writeFile(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "dms.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoad_Defaults(t *testing.T) {
	clearEnv(t)

	cfg, err := config.Load("")
	require.NoError(t, err)

	assert.Equal(t, config.Default(), cfg)
	assert.True(t, cfg.IsDevelopment())
	assert.True(t, cfg.HasSink(config.SinkStore))
	assert.False(t, cfg.HasSink(config.SinkNATS))
}

func TestLoad_FileThenEnv(t *testing.T) {
	clearEnv(t)
	path := writeFile(t, `
env: staging
port: "9090"
store:
  driver: sqlite
  sqlite_path: /var/lib/dms/dms.db
notify:
  sinks: [store, nats]
  retention_days: 14
nats:
  url: nats://nats.internal:4222
database:
  host: db.internal
`)
	t.Setenv("APP_PORT", "7070")
	t.Setenv("NOTIFY_SINKS", "store, nats ,")
	t.Setenv("JWT_TOKEN_TTL", "15m")
	t.Setenv("REQUIRE_TLS", "true")

	cfg, err := config.Load(path)
	require.NoError(t, err)

	assert.Equal(t, config.EnvStaging, cfg.Env)
	assert.Equal(t, "7070", cfg.Port)
	assert.Equal(t, config.DriverSQLite, cfg.Store.Driver)
	assert.Equal(t, "/var/lib/dms/dms.db", cfg.Store.SQLitePath)
	assert.Equal(t, []string{"store", "nats"}, cfg.Notify.Sinks)
	assert.Equal(t, 14, cfg.Notify.RetentionDays)
	assert.Equal(t, "nats://nats.internal:4222", cfg.NATS.URL)
	assert.Equal(t, "notifications", cfg.NATS.SubjectPrefix, "unset file keys keep defaults")
	assert.Equal(t, "db.internal", cfg.Database.Host)
	assert.Equal(t, 5432, cfg.Database.Port)
	assert.Equal(t, 15*time.Minute, cfg.Auth.TokenTTL)
	assert.True(t, cfg.RequireTLS)
}

func TestLoad_MissingFile(t *testing.T) {
	clearEnv(t)

	_, err := config.Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*config.Config)
		wantErr string
	}{
		{
			name:    "unknown env",
			mutate:  func(c *config.Config) { c.Env = "qa" },
			wantErr: "invalid env: qa",
		},
		{
			name:    "unknown driver",
			mutate:  func(c *config.Config) { c.Store.Driver = "mongo" },
			wantErr: "store.driver must be one of",
		},
		{
			name: "sqlite without path",
			mutate: func(c *config.Config) {
				c.Store.Driver = config.DriverSQLite
				c.Store.SQLitePath = ""
			},
			wantErr: "store.sqlite_path is required",
		},
		{
			name:    "pubsub without project",
			mutate:  func(c *config.Config) { c.Notify.Sinks = []string{config.SinkPubSub} },
			wantErr: "pubsub.project_id and pubsub.topic are required",
		},
		{
			name:    "unknown sink",
			mutate:  func(c *config.Config) { c.Notify.Sinks = []string{"email"} },
			wantErr: "unknown notify sink: email",
		},
		{
			name:    "missing signing key",
			mutate:  func(c *config.Config) { c.Auth.JWTSigningKey = "" },
			wantErr: "auth.jwt_signing_key is required",
		},
		{
			name:    "default signing key in production",
			mutate:  func(c *config.Config) { c.Env = config.EnvProduction },
			wantErr: "auth.jwt_signing_key must be set in production",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := config.Default()
			tt.mutate(cfg)

			err := cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestRegisterFlags(t *testing.T) {
	t.Setenv("DMS_CONFIG", "")
	fs := pflag.NewFlagSet("test", pflag.ContinueOnError)
	path := config.RegisterFlags(fs)

	require.NoError(t, fs.Parse([]string{"--config", "/etc/dms.yaml"}))
	assert.Equal(t, "/etc/dms.yaml", *path)
}
