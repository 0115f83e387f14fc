package services

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/realestate-escrow/backend/internal/events"
	"go.uber.org/zap"
)

const SignatureHeader = "X-Escrow-Signature"

// WebhookClient forwards published events to an external HTTP endpoint.
type WebhookClient struct {
	url        string
	secret     []byte
	httpClient *http.Client
	log        *zap.Logger
}

func NewWebhookClient(url, secret string, timeout time.Duration, log *zap.Logger) *WebhookClient {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &WebhookClient{
		url:    url,
		secret: []byte(secret),
		httpClient: &http.Client{
			Timeout: timeout,
		},
		log: log,
	}
}

type WebhookPayload struct {
	Channel string         `json:"channel"`
	Type    string         `json:"type"`
	Payload map[string]any `json:"payload"`
	SentAt  time.Time      `json:"sent_at"`
}

// Notify posts one event. Non-2xx responses are errors so the caller can log
// them; there is no retry.
func (c *WebhookClient) Notify(ctx context.Context, channel string, event events.Event) error {
	body, err := json.Marshal(WebhookPayload{
		Channel: channel,
		Type:    event.Type,
		Payload: event.Payload,
		SentAt:  time.Now().UTC(),
	})
	if err != nil {
		return fmt.Errorf("marshal webhook payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if len(c.secret) > 0 {
		req.Header.Set(SignatureHeader, "sha256="+Sign(c.secret, body))
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("webhook unavailable: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("webhook returned %d: %s", resp.StatusCode, string(msg))
	}
	return nil
}

// Sign is the hex HMAC-SHA256 of body, as sent in SignatureHeader.
func Sign(secret, body []byte) string {
	mac := hmac.New(sha256.New, secret)
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}
