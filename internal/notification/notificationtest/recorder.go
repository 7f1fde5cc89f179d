// Package notificationtest provides a recording Notifier for tests.
package notificationtest

import (
	"context"
	"sync"

	"github.com/dmsystem/dms/internal/notification"
)

// Recorder is a Notifier and Sink that keeps every message it receives.
type Recorder struct {
	mu       sync.Mutex
	messages []notification.Message
}

// Notify implements notification.Notifier.
func (r *Recorder) Notify(_ context.Context, msg notification.Message) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.messages = append(r.messages, msg)
}

// Name implements notification.Sink.
func (r *Recorder) Name() string { return "recorder" }

// Deliver implements notification.Sink.
func (r *Recorder) Deliver(ctx context.Context, msg notification.Message) error {
	r.Notify(ctx, msg)
	return nil
}

// Messages returns the received messages in order.
func (r *Recorder) Messages() []notification.Message {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]notification.Message(nil), r.messages...)
}

// For returns the messages addressed to userID.
func (r *Recorder) For(userID string) []notification.Message {
	var out []notification.Message
	for _, m := range r.Messages() {
		if m.UserID == userID {
			out = append(out, m)
		}
	}
	return out
}

// Reset discards the received messages.
func (r *Recorder) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.messages = nil
}
