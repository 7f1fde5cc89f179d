package notification_test

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmsystem/dms/internal/notification"
)

type recordingSink struct {
	name string
	err  error

	mu       sync.Mutex
	messages []notification.Message
	ctxErr   error
}

func (s *recordingSink) Name() string { return s.name }

func (s *recordingSink) Deliver(ctx context.Context, msg notification.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.messages = append(s.messages, msg)
	s.ctxErr = ctx.Err()
	return s.err
}

func TestFanout_DeliversToEverySink(t *testing.T) {
	failing := &recordingSink{name: "broken", err: errors.New("connection refused")}
	healthy := &recordingSink{name: "store"}
	f := notification.NewFanout(notification.FanoutConfig{
		Sinks:  []notification.Sink{failing, healthy},
		Logger: zerolog.Nop(),
	})

	msg := notification.Message{UserID: "u1", Title: "Hello", Category: notification.CategorySystem}
	f.Notify(context.Background(), msg)

	require.Len(t, failing.messages, 1)
	require.Len(t, healthy.messages, 1)
	assert.Equal(t, msg, healthy.messages[0])
}

func TestFanout_IgnoresCallerCancellation(t *testing.T) {
	sink := &recordingSink{name: "store"}
	f := notification.NewFanout(notification.FanoutConfig{Sinks: []notification.Sink{sink}, Logger: zerolog.Nop()})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	f.Notify(ctx, notification.Message{UserID: "u1"})

	require.Len(t, sink.messages, 1)
	assert.NoError(t, sink.ctxErr)
}

func TestFanout_Disabled(t *testing.T) {
	sink := &recordingSink{name: "store"}
	f := notification.NewFanout(notification.FanoutConfig{
		Sinks:    []notification.Sink{sink},
		Logger:   zerolog.Nop(),
		Disabled: func(context.Context) bool { return true },
	})

	f.Notify(context.Background(), notification.Message{UserID: "u1"})
	assert.Empty(t, sink.messages)
}

type collector struct {
	messages []notification.Message
}

func (c *collector) Notify(_ context.Context, msg notification.Message) {
	c.messages = append(c.messages, msg)
}

func TestBroadcast(t *testing.T) {
	c := &collector{}
	notification.Broadcast(context.Background(), c, []string{"a", "b"}, notification.Message{Title: "Defect"})

	require.Len(t, c.messages, 2)
	assert.Equal(t, "a", c.messages[0].UserID)
	assert.Equal(t, "b", c.messages[1].UserID)
	assert.Equal(t, "Defect", c.messages[1].Title)
}
