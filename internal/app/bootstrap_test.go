package app_test

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmsystem/dms/internal/app"
	"github.com/dmsystem/dms/internal/config"
	"github.com/dmsystem/dms/internal/resilience"
	"github.com/dmsystem/dms/internal/store"
)

func TestOpenStore(t *testing.T) {
	tests := []struct {
		name   string
		driver string
		path   string
	}{
		{name: "memory", driver: config.DriverMemory},
		{name: "sqlite", driver: config.DriverSQLite, path: filepath.Join(t.TempDir(), "data", "dms.db")},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx := context.Background()
			cfg := config.Default()
			cfg.Store.Driver = tt.driver
			cfg.Store.SQLitePath = tt.path
			registry := resilience.NewRegistry()

			s, closeStore, err := app.OpenStore(ctx, cfg, registry, zerolog.Nop())
			require.NoError(t, err)
			defer closeStore()

			_, err = s.Insert(ctx, "users", store.Document{"email": "a@example.com"})
			require.NoError(t, err)
			n, err := s.Count(ctx, "users", store.Where())
			require.NoError(t, err)
			assert.Equal(t, int64(1), n)

			health := registry.GetHealth(app.StoreBreakerName)
			require.NotNil(t, health)
			assert.True(t, health.IsHealthy())
		})
	}
}

func TestOpenStore_UnknownDriver(t *testing.T) {
	cfg := config.Default()
	cfg.Store.Driver = "mongo"

	_, _, err := app.OpenStore(context.Background(), cfg, resilience.NewRegistry(), zerolog.Nop())
	assert.ErrorContains(t, err, "unknown store driver")
}

func TestOpenSinks(t *testing.T) {
	cfg := config.Default()

	sinks, closeSinks, err := app.OpenSinks(context.Background(), cfg, zerolog.Nop())
	require.NoError(t, err)
	defer closeSinks()
	assert.Empty(t, sinks, "the store sink is the inbox, not an external channel")

	cfg.Notify.Sinks = []string{config.SinkStore, "smtp"}
	_, _, err = app.OpenSinks(context.Background(), cfg, zerolog.Nop())
	assert.ErrorContains(t, err, "unknown notify sink: smtp")
}
