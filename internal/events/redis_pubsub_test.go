package events

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestRedisPubSub_RoundTrip(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	got := make(chan Event, 1)
	sub := NewRedisSubscriber(client, zap.NewNop())
	require.NoError(t, sub.Subscribe(ctx, ChannelListing, func(e Event) { got <- e }))

	pub := NewRedisPublisher(client, zap.NewNop())
	require.NoError(t, pub.Publish(ctx, ChannelListing, Event{
		Type:    EventListingUpdated,
		Payload: map[string]any{"token_id": "1", "new_status": "inspected"},
	}))

	select {
	case e := <-got:
		assert.Equal(t, EventListingUpdated, e.Type)
		assert.Equal(t, "inspected", e.Payload["new_status"])
	case <-time.After(2 * time.Second):
		t.Fatal("event not delivered")
	}
}

func TestRedisPubSub_IgnoresOtherChannels(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	got := make(chan Event, 1)
	require.NoError(t, NewRedisSubscriber(client, zap.NewNop()).Subscribe(ctx, ChannelProperty, func(e Event) { got <- e }))
	require.NoError(t, NewRedisPublisher(client, zap.NewNop()).Publish(ctx, ChannelListing, Event{Type: EventListingUpdated}))

	select {
	case e := <-got:
		t.Fatalf("unexpected event %q", e.Type)
	case <-time.After(200 * time.Millisecond):
	}
}
