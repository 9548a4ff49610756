package memory

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestPublisherStoresMessages(t *testing.T) {
	t.Parallel()

	pub := New()
	attrs := map[string]string{"event": "record.created"}
	id1, err := pub.Publish(context.Background(), map[string]string{"k": "v"}, attrs)
	require.NoError(t, err)
	require.Equal(t, "memory-1", id1)
	id2, err := pub.Publish(context.Background(), "payload", nil)
	require.NoError(t, err)
	require.Equal(t, "memory-2", id2)

	attrs["event"] = "mutated"
	msgs := pub.Messages()
	require.Len(t, msgs, 2)
	require.Equal(t, "record.created", msgs[0].Attributes["event"])
	require.Equal(t, "payload", msgs[1].Payload)

	msgs[0].Payload = "modified"
	require.NotEqual(t, "modified", pub.Messages()[0].Payload)
}

func TestPublisherFailWith(t *testing.T) {
	t.Parallel()

	pub := New()
	boom := errors.New("topic gone")
	pub.FailWith(boom)
	_, err := pub.Publish(context.Background(), "x", nil)
	require.ErrorIs(t, err, boom)
	require.Empty(t, pub.Messages())

	pub.FailWith(nil)
	_, err = pub.Publish(context.Background(), "x", nil)
	require.NoError(t, err)
}
