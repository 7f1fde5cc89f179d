// Package app assembles the custody services over a record store.
package app

import (
	"time"

	"github.com/rs/zerolog"

	"github.com/dmsystem/dms/internal/approval"
	"github.com/dmsystem/dms/internal/bizid"
	"github.com/dmsystem/dms/internal/defect"
	"github.com/dmsystem/dms/internal/device"
	"github.com/dmsystem/dms/internal/distribution"
	"github.com/dmsystem/dms/internal/featureflags"
	"github.com/dmsystem/dms/internal/notification"
	"github.com/dmsystem/dms/internal/operator"
	"github.com/dmsystem/dms/internal/returns"
	"github.com/dmsystem/dms/internal/store"
	"github.com/dmsystem/dms/internal/telemetry"
	"github.com/dmsystem/dms/internal/user"
)

// Config holds what the services are built from.
type Config struct {
	Store   store.Store
	Logger  zerolog.Logger
	Metrics *telemetry.WorkflowMetrics

	// Inbox persists notifications directly. Without it they reach the
	// inbox only through a broker and the worker.
	Inbox bool

	// Sinks are the external delivery channels.
	Sinks []notification.Sink

	// FlagCacheTTL defaults to one minute.
	FlagCacheTTL time.Duration
}

// Services is the assembled set of custody services.
type Services struct {
	Users         *user.Service
	Flags         *featureflags.Service
	Notifications *notification.Service
	Notifier      notification.Notifier
	Devices       *device.Ledger
	Approvals     *approval.Gateway
	Distributions *distribution.Engine
	Returns       *returns.Workflow
	Defects       *defect.Service
	Operators     *operator.Registry
}

// New builds the services and registers each workflow with the approval
// gateway.
func New(cfg Config) *Services {
	s := cfg.Store
	ids := bizid.NewGenerator(s)

	users := user.NewService(user.ServiceConfig{Store: s, Logger: cfg.Logger})
	flags := featureflags.NewService(featureflags.ServiceConfig{
		Repository: featureflags.NewStoreRepository(s),
		Logger:     cfg.Logger.With().Str("component", "featureflags").Logger(),
		CacheTTL:   cfg.FlagCacheTTL,
	})
	inbox := notification.NewService(notification.ServiceConfig{
		Store:  s,
		Logger: cfg.Logger.With().Str("component", "notification").Logger(),
	})
	sinks := cfg.Sinks
	if cfg.Inbox {
		sinks = append([]notification.Sink{inbox}, sinks...)
	}
	notifier := notification.NewFanout(notification.FanoutConfig{
		Sinks:    sinks,
		Logger:   cfg.Logger.With().Str("component", "notification").Logger(),
		Metrics:  cfg.Metrics,
		Disabled: flags.NotificationsDisabled,
	})

	ledger := device.NewLedger(device.LedgerConfig{
		Store:   s,
		IDs:     ids,
		Logger:  cfg.Logger.With().Str("component", "device").Logger(),
		Metrics: cfg.Metrics,
	})
	gateway := approval.NewGateway(approval.GatewayConfig{
		Store:    s,
		Notifier: notifier,
		Logger:   cfg.Logger.With().Str("component", "approval").Logger(),
		Metrics:  cfg.Metrics,
	})

	engine := distribution.NewEngine(distribution.EngineConfig{
		Store:     s,
		Ledger:    ledger,
		Users:     users,
		Approvals: gateway,
		Notifier:  notifier,
		IDs:       ids,
		Policy:    flags,
		Logger:    cfg.Logger.With().Str("component", "distribution").Logger(),
		Metrics:   cfg.Metrics,
	})

	admins := returns.AdminResolver{Users: users}
	workflow := returns.NewWorkflow(returns.WorkflowConfig{
		Store:  s,
		Ledger: ledger,
		Resolver: returns.SwitchResolver{
			Policy:  flags,
			Chain:   returns.ChainResolver{History: ledger, Users: users, Fallback: admins},
			Default: admins,
		},
		Approvals: gateway,
		Notifier:  notifier,
		IDs:       ids,
		Policy:    flags,
		Logger:    cfg.Logger.With().Str("component", "returns").Logger(),
		Metrics:   cfg.Metrics,
	})

	defects := defect.NewService(defect.ServiceConfig{
		Store:    s,
		Ledger:   ledger,
		Users:    users,
		Notifier: notifier,
		IDs:      ids,
		Logger:   cfg.Logger.With().Str("component", "defect").Logger(),
		Metrics:  cfg.Metrics,
	})

	operators := operator.NewRegistry(operator.RegistryConfig{
		Store:  s,
		Ledger: ledger,
		IDs:    ids,
		Logger: cfg.Logger.With().Str("component", "operator").Logger(),
	})

	gateway.Register(approval.TypeDistribution, engine)
	gateway.Register(approval.TypeReturn, workflow)
	gateway.Register(approval.TypeDefect, defects)

	users.GuardDeletes(
		user.Reference{Kind: "devices in custody", Count: ledger.CountHeldBy},
		user.Reference{Kind: "distributions", Count: engine.CountOpen},
		user.Reference{Kind: "returns", Count: workflow.CountOpen},
		user.Reference{Kind: "operators", Count: operators.CountAssignedTo},
	)

	return &Services{
		Users:         users,
		Flags:         flags,
		Notifications: inbox,
		Notifier:      notifier,
		Devices:       ledger,
		Approvals:     gateway,
		Distributions: engine,
		Returns:       workflow,
		Defects:       defects,
		Operators:     operators,
	}
}
