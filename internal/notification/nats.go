package notification

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/nats-io/nats.go"

	"github.com/dmsystem/dms/internal/resilience"
)

// DefaultSubjectPrefix is the subject root notifications are published under.
const DefaultSubjectPrefix = "notifications"

// Publisher is the subset of *nats.Conn used for publishing.
type Publisher interface {
	Publish(subject string, data []byte) error
}

// NATSPublisher broadcasts notifications on subjects of the form
// <prefix>.<category> for external consumers.
type NATSPublisher struct {
	conn   Publisher
	prefix string
	retry  resilience.RetryConfig
	close  func()
}

// DialNATS connects to url and returns a publisher owning the connection.
func DialNATS(url, prefix string, opts ...nats.Option) (*NATSPublisher, error) {
	opts = append([]nats.Option{nats.Name("dms")}, opts...)
	nc, err := nats.Connect(url, opts...)
	if err != nil {
		return nil, fmt.Errorf("connecting to nats: %w", err)
	}
	p := NewNATSPublisher(nc, prefix)
	p.close = nc.Close
	return p, nil
}

// NewNATSPublisher publishes through conn. An empty prefix uses
// DefaultSubjectPrefix.
func NewNATSPublisher(conn Publisher, prefix string) *NATSPublisher {
	if prefix == "" {
		prefix = DefaultSubjectPrefix
	}
	return &NATSPublisher{
		conn:   conn,
		prefix: prefix,
		retry:  resilience.DefaultRetryConfig(),
	}
}

// WithRetry overrides the publish retry policy.
func (p *NATSPublisher) WithRetry(cfg resilience.RetryConfig) *NATSPublisher {
	p.retry = cfg
	return p
}

// Name implements Sink.
func (p *NATSPublisher) Name() string { return "nats" }

// Subject returns the subject a message of category is published on.
func (p *NATSPublisher) Subject(category Category) string {
	return p.prefix + "." + string(category)
}

// Deliver implements Sink.
func (p *NATSPublisher) Deliver(ctx context.Context, msg Message) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("encoding notification: %w", err)
	}

	subject := p.Subject(msg.Category)
	return resilience.Retry(ctx, p.retry, func() error {
		err := p.conn.Publish(subject, data)
		if errors.Is(err, nats.ErrBadSubject) || errors.Is(err, nats.ErrMaxPayload) {
			return resilience.Permanent(err)
		}
		return err
	})
}

// Close closes the connection when the publisher owns it.
func (p *NATSPublisher) Close() {
	if p.close != nil {
		p.close()
	}
}
