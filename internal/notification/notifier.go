package notification

import (
	"context"

	"github.com/rs/zerolog"

	"github.com/dmsystem/dms/internal/telemetry"
)

// Notifier accepts messages for delivery. It reports nothing back; failures
// are handled by the implementation.
type Notifier interface {
	Notify(ctx context.Context, msg Message)
}

// Sink is one delivery channel behind a Fanout.
type Sink interface {
	Name() string
	Deliver(ctx context.Context, msg Message) error
}

// Discard is a Notifier that drops every message.
var Discard Notifier = discard{}

type discard struct{}

func (discard) Notify(context.Context, Message) {}

// FanoutConfig holds configuration for a Fanout.
type FanoutConfig struct {
	Sinks   []Sink
	Logger  zerolog.Logger
	Metrics *telemetry.WorkflowMetrics

	// Disabled, when set and true, drops messages before any sink sees them.
	Disabled func(ctx context.Context) bool
}

// Fanout delivers every message to each of its sinks in turn.
type Fanout struct {
	sinks    []Sink
	logger   zerolog.Logger
	metrics  *telemetry.WorkflowMetrics
	disabled func(ctx context.Context) bool
}

// NewFanout creates a Fanout over cfg.Sinks.
func NewFanout(cfg FanoutConfig) *Fanout {
	return &Fanout{
		sinks:    cfg.Sinks,
		logger:   cfg.Logger,
		metrics:  cfg.Metrics,
		disabled: cfg.Disabled,
	}
}

// Notify delivers msg to every sink. A failing sink is logged and counted
// and does not stop delivery to the others.
func (f *Fanout) Notify(ctx context.Context, msg Message) {
	// Delivery outlives the request that triggered it.
	ctx = context.WithoutCancel(ctx)

	if f.disabled != nil && f.disabled(ctx) {
		f.logger.Debug().
			Str("user_id", msg.UserID).
			Str("category", string(msg.Category)).
			Msg("notifications disabled, dropping message")
		return
	}

	for _, sink := range f.sinks {
		if err := sink.Deliver(ctx, msg); err != nil {
			f.logger.Warn().Err(err).
				Str("sink", sink.Name()).
				Str("user_id", msg.UserID).
				Str("category", string(msg.Category)).
				Msg("notification delivery failed")
			f.metrics.RecordNotificationFailure(ctx, sink.Name(), string(msg.Category))
		}
	}
}

// Broadcast sends a copy of msg to each user in turn.
func Broadcast(ctx context.Context, n Notifier, userIDs []string, msg Message) {
	for _, id := range userIDs {
		m := msg
		m.UserID = id
		n.Notify(ctx, m)
	}
}
