package telemetry

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// WorkflowMetrics records custody workflow activity.
// A nil *WorkflowMetrics records nothing.
type WorkflowMetrics struct {
	transitions         metric.Int64Counter
	notificationsFailed metric.Int64Counter
}

// NewWorkflowMetrics creates the workflow instruments on meter.
func NewWorkflowMetrics(meter metric.Meter) (*WorkflowMetrics, error) {
	transitions, err := meter.Int64Counter(
		"custody.transitions",
		metric.WithDescription("Committed status transitions of custody entities"),
		metric.WithUnit("{transition}"),
	)
	if err != nil {
		return nil, err
	}

	notificationsFailed, err := meter.Int64Counter(
		"custody.notifications.failed",
		metric.WithDescription("Notifications that could not be delivered"),
		metric.WithUnit("{notification}"),
	)
	if err != nil {
		return nil, err
	}

	return &WorkflowMetrics{
		transitions:         transitions,
		notificationsFailed: notificationsFailed,
	}, nil
}

// RecordTransition counts a committed status change of entity.
func (m *WorkflowMetrics) RecordTransition(ctx context.Context, entity, status string) {
	if m == nil {
		return
	}
	m.transitions.Add(ctx, 1, metric.WithAttributes(
		attribute.String("entity", entity),
		attribute.String("status", status),
	))
}

// RecordNotificationFailure counts an undelivered notification.
func (m *WorkflowMetrics) RecordNotificationFailure(ctx context.Context, sink, category string) {
	if m == nil {
		return
	}
	m.notificationsFailed.Add(ctx, 1, metric.WithAttributes(
		attribute.String("sink", sink),
		attribute.String("category", category),
	))
}
