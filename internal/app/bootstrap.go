package app

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"
	"github.com/sony/gobreaker/v2"

	"github.com/dmsystem/dms/internal/config"
	"github.com/dmsystem/dms/internal/database"
	"github.com/dmsystem/dms/internal/notification"
	"github.com/dmsystem/dms/internal/resilience"
	"github.com/dmsystem/dms/internal/store"
)

// StoreBreakerName is the registry name of the record store breaker.
const StoreBreakerName = "store"

// OpenStore connects the configured record store driver, wraps it in a
// circuit breaker and registers the breaker with registry. The returned
// func releases the driver.
func OpenStore(ctx context.Context, cfg *config.Config, registry *resilience.Registry, logger zerolog.Logger) (*store.BreakerStore, func(), error) {
	var (
		backend store.Store
		closer  = func() {}
	)

	switch cfg.Store.Driver {
	case config.DriverMemory:
		backend = store.NewMemoryStore()
		logger.Warn().Msg("using in-memory record store, data is lost on restart")
	case config.DriverPostgres:
		pool, err := database.Connect(ctx, cfg.Database, logger)
		if err != nil {
			return nil, nil, err
		}
		pg := store.NewPostgresStore(pool)
		if err := pg.EnsureSchema(ctx); err != nil {
			pool.Close()
			return nil, nil, err
		}
		backend, closer = pg, pool.Close
	case config.DriverSQLite:
		lite, err := store.NewSQLiteStore(cfg.Store.SQLitePath)
		if err != nil {
			return nil, nil, err
		}
		backend, closer = lite, func() { _ = lite.Close() }
		logger.Info().Str("path", cfg.Store.SQLitePath).Msg("sqlite record store opened")
	default:
		return nil, nil, fmt.Errorf("unknown store driver: %s", cfg.Store.Driver)
	}

	breakerCfg := resilience.DefaultCircuitBreakerConfig(StoreBreakerName)
	breakerCfg.OnStateChange = func(name string, from, to gobreaker.State) {
		logger.Warn().
			Str("breaker", name).
			Str("from", from.String()).
			Str("to", to.String()).
			Msg("circuit breaker state changed")
		if to == gobreaker.StateOpen {
			registry.RecordFailure(name, fmt.Errorf("circuit opened after %s", from))
		}
	}

	guarded := store.WithBreaker(backend, breakerCfg)
	registry.Register(StoreBreakerName, guarded.Breaker())

	logger.Info().Str("driver", cfg.Store.Driver).Msg("record store ready")
	return guarded, closer, nil
}

// OpenSinks connects the external notification sinks named in the config.
// The store sink is not external; it is enabled through Config.Inbox.
func OpenSinks(ctx context.Context, cfg *config.Config, logger zerolog.Logger) ([]notification.Sink, func(), error) {
	var (
		sinks   []notification.Sink
		closers []func()
	)
	closeAll := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	for _, name := range cfg.Notify.Sinks {
		switch name {
		case config.SinkStore:
		case config.SinkPubSub:
			p, err := notification.NewPubSubPublisher(ctx, cfg.PubSub.ProjectID, cfg.PubSub.Topic)
			if err != nil {
				closeAll()
				return nil, nil, err
			}
			sinks = append(sinks, p)
			closers = append(closers, func() { _ = p.Close() })
			logger.Info().Str("topic", cfg.PubSub.Topic).Msg("pubsub notification sink connected")
		case config.SinkNATS:
			p, err := notification.DialNATS(cfg.NATS.URL, cfg.NATS.SubjectPrefix)
			if err != nil {
				closeAll()
				return nil, nil, err
			}
			sinks = append(sinks, p)
			closers = append(closers, p.Close)
			logger.Info().Str("url", cfg.NATS.URL).Msg("nats notification sink connected")
		default:
			closeAll()
			return nil, nil, fmt.Errorf("unknown notify sink: %s", name)
		}
	}
	return sinks, closeAll, nil
}
