package services

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/realestate-escrow/backend/internal/events"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestWebhookClient_Notify(t *testing.T) {
	var (
		got       WebhookPayload
		signature string
		body      []byte
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ = io.ReadAll(r.Body)
		signature = r.Header.Get(SignatureHeader)
		_ = json.Unmarshal(body, &got)
		w.WriteHeader(http.StatusAccepted)
	}))
	defer srv.Close()

	c := NewWebhookClient(srv.URL, "s3cret", time.Second, zap.NewNop())
	err := c.Notify(context.Background(), events.ChannelListing, events.Event{
		Type:    events.EventPaymentReceived,
		Payload: map[string]any{"token_id": "1", "amount": "4"},
	})
	require.NoError(t, err)

	assert.Equal(t, events.ChannelListing, got.Channel)
	assert.Equal(t, events.EventPaymentReceived, got.Type)
	assert.Equal(t, "4", got.Payload["amount"])
	assert.Equal(t, "sha256="+Sign([]byte("s3cret"), body), signature)
}

func TestWebhookClient_Unsigned(t *testing.T) {
	var signature string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		signature = r.Header.Get(SignatureHeader)
	}))
	defer srv.Close()

	c := NewWebhookClient(srv.URL, "", 0, zap.NewNop())
	require.NoError(t, c.Notify(context.Background(), events.ChannelProperty, events.Event{Type: events.EventPropertyUpdated}))
	assert.Empty(t, signature)
}

func TestWebhookClient_Non2xx(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusBadGateway)
	}))
	defer srv.Close()

	c := NewWebhookClient(srv.URL, "", time.Second, zap.NewNop())
	err := c.Notify(context.Background(), events.ChannelListing, events.Event{Type: events.EventListingUpdated})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "502")
}
