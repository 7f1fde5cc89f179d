// Package main provides the entrypoint for the DMS API server.
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/pflag"

	"github.com/dmsystem/dms/internal/api"
	"github.com/dmsystem/dms/internal/api/handler"
	"github.com/dmsystem/dms/internal/api/middleware"
	"github.com/dmsystem/dms/internal/app"
	"github.com/dmsystem/dms/internal/auth"
	"github.com/dmsystem/dms/internal/config"
	"github.com/dmsystem/dms/internal/notification"
	"github.com/dmsystem/dms/internal/resilience"
	"github.com/dmsystem/dms/internal/telemetry"
)

// Version and BuildTime are set at compile time via ldflags.
var (
	Version   = "dev"
	BuildTime = "unknown"
)

func main() {
	const serviceName = "dms-api"

	configPath := config.RegisterFlags(pflag.CommandLine)
	pflag.Parse()

	// Setup structured logging
	log := zerolog.New(os.Stdout).
		With().
		Timestamp().
		Str("service", serviceName).
		Str("version", Version).
		Logger()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatal().Err(err).Msg("invalid configuration")
	}

	log.Info().
		Str("build_time", BuildTime).
		Str("env", cfg.Env).
		Msg("starting DMS API")

	ctx := context.Background()

	tp, err := telemetry.Init(ctx, telemetry.Config{
		ServiceName:    serviceName,
		ServiceVersion: Version,
		Environment:    cfg.Env,
		OTLPEndpoint:   cfg.Telemetry.Endpoint,
		Enabled:        cfg.Telemetry.Enabled,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("failed to initialize telemetry")
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if shutdownErr := tp.Shutdown(shutdownCtx); shutdownErr != nil {
			log.Error().Err(shutdownErr).Msg("failed to shutdown telemetry")
		}
	}()

	if cfg.Telemetry.Enabled {
		log.Info().
			Str("otlp_endpoint", cfg.Telemetry.Endpoint).
			Msg("OpenTelemetry initialized")
	}

	httpMetrics, err := middleware.NewMetrics(tp.Meter)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to initialize http metrics")
	}
	workflowMetrics, err := telemetry.NewWorkflowMetrics(tp.Meter)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to initialize workflow metrics")
	}

	registry := resilience.NewRegistry()
	records, closeStore, err := app.OpenStore(ctx, cfg, registry, log)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to open record store")
	}
	defer closeStore()

	sinks, closeSinks, err := app.OpenSinks(ctx, cfg, log)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect notification sinks")
	}
	defer closeSinks()

	services := app.New(app.Config{
		Store:   records,
		Logger:  log,
		Metrics: workflowMetrics,
		Inbox:   cfg.HasSink(config.SinkStore),
		Sinks:   sinks,
	})
	log.Info().Strs("sinks", cfg.Notify.Sinks).Msg("custody services initialized")

	jwtService := auth.NewJWTService(auth.JWTConfig{
		SigningKey: cfg.Auth.JWTSigningKey,
		Issuer:     cfg.Auth.Issuer,
		Audience:   cfg.Auth.Audience,
		TTL:        cfg.Auth.TokenTTL,
	})
	authService := auth.NewService(auth.ServiceConfig{
		JWTService: jwtService,
		Users:      services.Users,
	})
	if cfg.IsDevelopment() {
		log.Warn().Msg("development token endpoint enabled")
	}

	// With a Pub/Sub sink the worker owns the inbox, so cleanup goes there too.
	var cleanup handler.CleanupScheduler
	for _, sink := range sinks {
		if p, ok := sink.(*notification.PubSubPublisher); ok {
			cleanup = p
		}
	}

	router := api.NewRouter(api.RouterConfig{
		Version:       Version,
		BuildTime:     BuildTime,
		Logger:        log,
		ServiceName:   serviceName,
		Metrics:       httpMetrics,
		RequireTLS:    cfg.RequireTLS,
		DevTokens:     cfg.IsDevelopment(),
		Store:         records,
		Registry:      registry,
		Sinks:         cfg.Notify.Sinks,
		AuthService:   authService,
		Users:         services.Users,
		Devices:       services.Devices,
		Distributions: services.Distributions,
		Returns:       services.Returns,
		Defects:       services.Defects,
		Operators:     services.Operators,
		Approvals:     services.Approvals,
		Notifications: services.Notifications,
		FeatureFlags:  services.Flags,

		CleanupScheduler: cleanup,
	})

	server := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Info().
			Str("addr", server.Addr).
			Msg("server listening")

		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("server error")
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("shutting down server")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("server forced to shutdown")
	}

	log.Info().Msg("server stopped")
}
