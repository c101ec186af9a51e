package pubsub

import (
	"context"
	"encoding/json"
	"testing"

	"cloud.google.com/go/pubsub"
	"cloud.google.com/go/pubsub/pstest"
	"github.com/stretchr/testify/require"
	"google.golang.org/api/option"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
)

func newFakeClient(t *testing.T) (*pubsub.Client, *pstest.Server) {
	t.Helper()

	srv := pstest.NewServer()
	t.Cleanup(func() { _ = srv.Close() })

	conn, err := grpc.NewClient(srv.Addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	require.NoError(t, err)

	client, err := pubsub.NewClient(context.Background(), "crawl-test", option.WithGRPCConn(conn))
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })
	return client, srv
}

func TestPublisherPublishesJSON(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	client, srv := newFakeClient(t)
	_, err := client.CreateTopic(ctx, "crawl-runs")
	require.NoError(t, err)

	pub, err := New(client, "crawl-runs", map[string]string{"source": "storefront-crawler"})
	require.NoError(t, err)
	defer pub.Close()

	id, err := pub.Publish(ctx, "", map[string]any{"runId": "r1", "listingsProcessed": 2})
	require.NoError(t, err)
	require.NotEmpty(t, id)

	msgs := srv.Messages()
	require.Len(t, msgs, 1)
	require.Equal(t, "storefront-crawler", msgs[0].Attributes["source"])

	var decoded map[string]any
	require.NoError(t, json.Unmarshal(msgs[0].Data, &decoded))
	require.Equal(t, "r1", decoded["runId"])
}

func TestPublisherErrors(t *testing.T) {
	t.Parallel()

	_, err := New(nil, "crawl-runs", nil)
	require.Error(t, err)

	client, _ := newFakeClient(t)
	pub, err := New(client, "", nil)
	require.NoError(t, err)
	defer pub.Close()

	_, err = pub.Publish(context.Background(), "", "payload")
	require.ErrorContains(t, err, "topic is not configured")

	_, err = pub.Publish(context.Background(), "crawl-runs", func() {})
	require.ErrorContains(t, err, "marshal payload")
}
