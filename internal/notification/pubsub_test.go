package notification_test

import (
	"context"
	"encoding/json"
	"testing"

	"cloud.google.com/go/pubsub/v2"
	"cloud.google.com/go/pubsub/v2/apiv1/pubsubpb"
	"cloud.google.com/go/pubsub/v2/pstest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/api/option"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/dmsystem/dms/internal/notification"
)

const (
	testProject = "dms-test"
	testTopic   = "notifications"
)

func newFakePubSub(t *testing.T) (*pstest.Server, *pubsub.Client) {
	t.Helper()
	ctx := context.Background()

	srv := pstest.NewServer()
	t.Cleanup(func() { _ = srv.Close() })

	conn, err := grpc.NewClient(srv.Addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	require.NoError(t, err)

	client, err := pubsub.NewClient(ctx, testProject, option.WithGRPCConn(conn))
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })

	_, err = srv.GServer.CreateTopic(ctx, &pubsubpb.Topic{Name: "projects/" + testProject + "/topics/" + testTopic})
	require.NoError(t, err)

	return srv, client
}

func TestPubSubPublisher_Deliver(t *testing.T) {
	srv, client := newFakePubSub(t)
	p := notification.NewPubSubPublisherFromClient(client, testTopic)
	defer func() { _ = p.Close() }()

	msg := notification.Message{
		UserID:   "u1",
		Title:    "New Distribution Request",
		Type:     notification.TypeInfo,
		Category: notification.CategoryDistribution,
		Link:     "/distributions/d1",
	}
	require.NoError(t, p.Deliver(context.Background(), msg))

	published := srv.Messages()
	require.Len(t, published, 1)
	assert.Equal(t, notification.JobDeliver, published[0].Attributes["job_type"])
	assert.Equal(t, "distribution", published[0].Attributes["category"])

	var env notification.Envelope
	require.NoError(t, json.Unmarshal(published[0].Data, &env))
	assert.Equal(t, notification.JobDeliver, env.JobType)
	require.NotNil(t, env.Notification)
	assert.Equal(t, msg, *env.Notification)
}

func TestPubSubPublisher_ScheduleCleanup(t *testing.T) {
	srv, client := newFakePubSub(t)
	p := notification.NewPubSubPublisherFromClient(client, testTopic)
	defer func() { _ = p.Close() }()

	require.NoError(t, p.ScheduleCleanup(context.Background(), 14))

	published := srv.Messages()
	require.Len(t, published, 1)

	var env notification.Envelope
	require.NoError(t, json.Unmarshal(published[0].Data, &env))
	assert.Equal(t, notification.JobCleanup, env.JobType)
	assert.Equal(t, 14, env.Days)
}
