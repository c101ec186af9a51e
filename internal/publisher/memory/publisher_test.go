package memory

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestPublisherStoresMessages(t *testing.T) {
	t.Parallel()

	pub := New()
	id1, err := pub.Publish(context.Background(), "crawl-runs", map[string]string{"runId": "r1"})
	require.NoError(t, err)
	require.Equal(t, "memory-1", id1)
	id2, err := pub.Publish(context.Background(), "crawl-alerts", "payload")
	require.NoError(t, err)
	require.Equal(t, "memory-2", id2)

	msgs := pub.Messages()
	require.Len(t, msgs, 2)
	require.Equal(t, "crawl-runs", msgs[0].Topic)
	require.JSONEq(t, `{"runId":"r1"}`, string(msgs[0].Data))
	require.Equal(t, `"payload"`, string(msgs[1].Data))

	msgs[0].Topic = "modified"
	require.Equal(t, "crawl-runs", pub.Messages()[0].Topic, "Messages() must return a copy")

	_, err = pub.Publish(context.Background(), "crawl-runs", make(chan int))
	require.Error(t, err)
}
