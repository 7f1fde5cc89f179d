// Package main provides the entrypoint for the DMS notification worker.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"cloud.google.com/go/pubsub/v2"
	"github.com/rs/zerolog"
	"github.com/spf13/pflag"

	"github.com/dmsystem/dms/internal/app"
	"github.com/dmsystem/dms/internal/config"
	"github.com/dmsystem/dms/internal/notification"
	"github.com/dmsystem/dms/internal/resilience"
	"github.com/dmsystem/dms/internal/worker"
)

// Version and BuildTime are set at compile time via ldflags.
var (
	Version   = "dev"
	BuildTime = "unknown"
)

func main() {
	const serviceName = "dms-worker"

	configPath := config.RegisterFlags(pflag.CommandLine)
	pflag.Parse()

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
	if cfg.PubSub.ProjectID == "" || cfg.PubSub.Subscription == "" {
		log.Fatal().Msg("pubsub.project_id and pubsub.subscription are required by the worker")
	}

	log.Info().
		Str("build_time", BuildTime).
		Str("env", cfg.Env).
		Msg("starting DMS worker")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	registry := resilience.NewRegistry()
	records, closeStore, err := app.OpenStore(ctx, cfg, registry, log)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to open record store")
	}
	defer closeStore()

	client, err := pubsub.NewClient(ctx, cfg.PubSub.ProjectID)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to create pubsub client")
	}
	defer func() { _ = client.Close() }()

	consumer := worker.NewNotificationConsumer(worker.ConsumerConfig{
		Client:           client,
		SubscriptionName: cfg.PubSub.Subscription,
		Inbox: notification.NewService(notification.ServiceConfig{
			Store:  records,
			Logger: log.With().Str("component", "notification").Logger(),
		}),
		RetentionDays: cfg.Notify.RetentionDays,
		Logger:        log.With().Str("component", "consumer").Logger(),
	})

	// Health endpoint for the container platform
	mux := http.NewServeMux()
	mux.HandleFunc("/health", func(w http.ResponseWriter, _ *http.Request) {
		status, code := "healthy", http.StatusOK
		if !registry.Healthy() {
			status, code = "degraded", http.StatusServiceUnavailable
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(code)
		_ = json.NewEncoder(w).Encode(map[string]any{
			"status":       status,
			"version":      Version,
			"dependencies": registry.GetAllHealth(),
		})
	})

	server := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      mux,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
	}

	go func() {
		log.Info().Str("addr", server.Addr).Msg("health server listening")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error().Err(err).Msg("health server error")
		}
	}()

	done := make(chan error, 1)
	go func() { done <- consumer.Start(ctx) }()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case <-quit:
		log.Info().Msg("shutting down worker")
	case err := <-done:
		if err != nil {
			log.Error().Err(err).Msg("consumer stopped")
		}
	}
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("health server forced to shutdown")
	}

	log.Info().Msg("worker stopped")
}
