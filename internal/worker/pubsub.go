// Package worker consumes notification jobs published by the api.
package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"cloud.google.com/go/pubsub/v2"
	"github.com/rs/zerolog"

	"github.com/dmsystem/dms/internal/apperror"
	"github.com/dmsystem/dms/internal/notification"
)

// Inbox is the part of the notification service the consumer writes to.
type Inbox interface {
	Create(ctx context.Context, msg notification.Message) (*notification.Notification, error)
	DeleteOlderThan(ctx context.Context, days int) (int64, error)
}

// ConsumerConfig holds configuration for the notification consumer.
type ConsumerConfig struct {
	Client           *pubsub.Client
	SubscriptionName string
	Inbox            Inbox

	// RetentionDays is used by cleanup jobs that carry no window.
	RetentionDays int

	Logger zerolog.Logger
}

// NotificationConsumer persists notifications arriving on a Pub/Sub
// subscription and runs retention cleanup jobs.
type NotificationConsumer struct {
	subscriber       *pubsub.Subscriber
	subscriptionName string
	inbox            Inbox
	retentionDays    int
	logger           zerolog.Logger
}

// NewNotificationConsumer creates a consumer on cfg.SubscriptionName.
func NewNotificationConsumer(cfg ConsumerConfig) *NotificationConsumer {
	subscriber := cfg.Client.Subscriber(cfg.SubscriptionName)
	subscriber.ReceiveSettings.MaxOutstandingMessages = 10
	subscriber.ReceiveSettings.MaxExtension = 10 * time.Minute

	retention := cfg.RetentionDays
	if retention <= 0 {
		retention = notification.DefaultRetentionDays
	}

	return &NotificationConsumer{
		subscriber:       subscriber,
		subscriptionName: cfg.SubscriptionName,
		inbox:            cfg.Inbox,
		retentionDays:    retention,
		logger:           cfg.Logger,
	}
}

// Start processes messages until ctx is cancelled.
func (c *NotificationConsumer) Start(ctx context.Context) error {
	c.logger.Info().
		Str("subscription", c.subscriptionName).
		Msg("starting notification consumer")

	return c.subscriber.Receive(ctx, func(ctx context.Context, msg *pubsub.Message) {
		if c.Handle(ctx, msg.Data) {
			msg.Ack()
			return
		}
		msg.Nack()
	})
}

// Handle runs the job encoded in data and reports whether the message
// should be acknowledged. Malformed and invalid messages are acknowledged
// so that they are not redelivered forever.
func (c *NotificationConsumer) Handle(ctx context.Context, data []byte) bool {
	start := time.Now()

	var env notification.Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		c.logger.Error().Err(err).Msg("failed to parse message")
		return true
	}

	logger := c.logger.With().Str("job_type", env.JobType).Logger()

	var err error
	switch env.JobType {
	case notification.JobDeliver:
		err = c.deliver(ctx, env)
	case notification.JobCleanup:
		err = c.cleanup(ctx, env)
	default:
		logger.Warn().Msg("unknown job type")
		return true
	}

	if err != nil {
		if errors.Is(err, apperror.ErrValidation) {
			logger.Warn().Err(err).Msg("dropping invalid job")
			return true
		}
		logger.Error().Err(err).Msg("job failed")
		return false
	}

	logger.Info().Dur("duration", time.Since(start)).Msg("job completed successfully")
	return true
}

func (c *NotificationConsumer) deliver(ctx context.Context, env notification.Envelope) error {
	if env.Notification == nil {
		return apperror.Validation("notification job has no payload")
	}
	n, err := c.inbox.Create(ctx, *env.Notification)
	if err != nil {
		return fmt.Errorf("persisting notification: %w", err)
	}
	c.logger.Debug().
		Str("notification_id", n.ID).
		Str("user_id", n.UserID).
		Msg("notification stored")
	return nil
}

func (c *NotificationConsumer) cleanup(ctx context.Context, env notification.Envelope) error {
	days := env.Days
	if days <= 0 {
		days = c.retentionDays
	}
	deleted, err := c.inbox.DeleteOlderThan(ctx, days)
	if err != nil {
		return fmt.Errorf("deleting old notifications: %w", err)
	}
	c.logger.Info().
		Int("days", days).
		Int64("deleted", deleted).
		Msg("notification cleanup completed")
	return nil
}
