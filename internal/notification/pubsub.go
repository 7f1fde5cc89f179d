package notification

import (
	"context"
	"encoding/json"
	"fmt"

	"cloud.google.com/go/pubsub/v2"
	"google.golang.org/api/option"
)

// Job types carried on the notification topic.
const (
	JobDeliver = "notification"
	JobCleanup = "notification_cleanup"
)

// Envelope is the JSON body of a notification topic message.
type Envelope struct {
	JobType      string   `json:"job_type"`
	Notification *Message `json:"notification,omitempty"`

	// Days is the retention window of a cleanup job.
	Days int `json:"days,omitempty"`
}

// PubSubPublisher hands messages to the worker over a Pub/Sub topic; the
// worker persists them.
type PubSubPublisher struct {
	client    *pubsub.Client
	publisher *pubsub.Publisher
	topic     string
	owned     bool
}

// NewPubSubPublisher connects to Pub/Sub and publishes to topic.
func NewPubSubPublisher(ctx context.Context, projectID, topic string, opts ...option.ClientOption) (*PubSubPublisher, error) {
	client, err := pubsub.NewClient(ctx, projectID, opts...)
	if err != nil {
		return nil, fmt.Errorf("creating pubsub client: %w", err)
	}
	p := NewPubSubPublisherFromClient(client, topic)
	p.owned = true
	return p, nil
}

// NewPubSubPublisherFromClient publishes to topic through an existing client.
func NewPubSubPublisherFromClient(client *pubsub.Client, topic string) *PubSubPublisher {
	return &PubSubPublisher{
		client:    client,
		publisher: client.Publisher(topic),
		topic:     topic,
	}
}

// Name implements Sink.
func (p *PubSubPublisher) Name() string { return "pubsub" }

// Deliver implements Sink. It waits for the server to acknowledge the publish.
func (p *PubSubPublisher) Deliver(ctx context.Context, msg Message) error {
	return p.publish(ctx, Envelope{JobType: JobDeliver, Notification: &msg}, map[string]string{
		"job_type": JobDeliver,
		"category": string(msg.Category),
	})
}

// ScheduleCleanup asks the worker to delete notifications older than days.
func (p *PubSubPublisher) ScheduleCleanup(ctx context.Context, days int) error {
	return p.publish(ctx, Envelope{JobType: JobCleanup, Days: days}, map[string]string{"job_type": JobCleanup})
}

func (p *PubSubPublisher) publish(ctx context.Context, env Envelope, attrs map[string]string) error {
	data, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("encoding %s message: %w", env.JobType, err)
	}

	result := p.publisher.Publish(ctx, &pubsub.Message{Data: data, Attributes: attrs})
	if _, err := result.Get(ctx); err != nil {
		return fmt.Errorf("publishing to %s: %w", p.topic, err)
	}
	return nil
}

// Close flushes pending messages and releases the client when owned.
func (p *PubSubPublisher) Close() error {
	p.publisher.Stop()
	if p.owned {
		return p.client.Close()
	}
	return nil
}
