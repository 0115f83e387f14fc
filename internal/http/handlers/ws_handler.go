package handlers

import (
	"context"
	"encoding/json"
	"strings"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"
	"github.com/realestate-escrow/backend/internal/auth"
	"github.com/realestate-escrow/backend/internal/events"
	"go.uber.org/zap"
)

// wsClient is one socket. An empty watch set means every token.
type wsClient struct {
	conn   *websocket.Conn
	wallet common.Address

	mu    sync.Mutex
	watch map[string]struct{}
}

type wsCommand struct {
	Action  string   `json:"action"` // subscribe | unsubscribe
	TokenID []string `json:"token_ids"`
}

func (c *wsClient) wants(event events.Event) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.watch) == 0 {
		return true
	}
	id, _ := event.Payload["token_id"].(string)
	_, ok := c.watch[id]
	return ok
}

func (c *wsClient) apply(cmd wsCommand) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, id := range cmd.TokenID {
		switch cmd.Action {
		case "subscribe":
			c.watch[id] = struct{}{}
		case "unsubscribe":
			delete(c.watch, id)
		}
	}
}

func (c *wsClient) send(data []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()
	_ = c.conn.WriteMessage(websocket.TextMessage, data)
}

// WSHub pushes listing and property events to connected wallets. Browsers
// cannot set headers on the upgrade request, so the JWT comes as ?token=.
// ?token_ids=1,2 narrows the stream; clients adjust it later with
// {"action":"subscribe","token_ids":["3"]}.
type WSHub struct {
	jwtSecret  string
	subscriber events.Subscriber
	log        *zap.Logger
	mu         sync.RWMutex
	clients    map[*wsClient]struct{}
}

func NewWSHub(jwtSecret string, subscriber events.Subscriber, log *zap.Logger) *WSHub {
	return &WSHub{
		jwtSecret:  jwtSecret,
		subscriber: subscriber,
		log:        log,
		clients:    make(map[*wsClient]struct{}),
	}
}

func (h *WSHub) Start(ctx context.Context) error {
	for _, ch := range []string{events.ChannelListing, events.ChannelProperty} {
		if err := h.subscriber.Subscribe(ctx, ch, h.dispatch); err != nil {
			return err
		}
	}
	return nil
}

func (h *WSHub) dispatch(event events.Event) {
	data, err := json.Marshal(event)
	if err != nil {
		h.log.Warn("ws marshal failed", zap.String("type", event.Type), zap.Error(err))
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()
	for c := range h.clients {
		if c.wants(event) {
			c.send(data)
		}
	}
}

// WSUpgradeMiddleware checks for websocket upgrade
func WSUpgradeMiddleware() fiber.Handler {
	return func(c *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(c) {
			return c.Next()
		}
		return fiber.ErrUpgradeRequired
	}
}

func newWSClient(conn *websocket.Conn, wallet common.Address, tokenIDs string) *wsClient {
	c := &wsClient{conn: conn, wallet: wallet, watch: make(map[string]struct{})}
	for _, id := range strings.Split(tokenIDs, ",") {
		if id = strings.TrimSpace(id); id != "" {
			c.watch[id] = struct{}{}
		}
	}
	return c
}

func (h *WSHub) HandleWS(conn *websocket.Conn) {
	tokenStr := conn.Query("token")
	if tokenStr == "" {
		_ = conn.WriteMessage(websocket.TextMessage, []byte(`{"error":"missing token"}`))
		conn.Close()
		return
	}

	claims, err := auth.ParseJWT(h.jwtSecret, tokenStr)
	if err != nil {
		_ = conn.WriteMessage(websocket.TextMessage, []byte(`{"error":"invalid token"}`))
		conn.Close()
		return
	}

	client := newWSClient(conn, claims.Wallet(), conn.Query("token_ids"))

	h.mu.Lock()
	h.clients[client] = struct{}{}
	h.mu.Unlock()
	h.log.Debug("ws connected", zap.String("wallet", client.wallet.Hex()))

	defer func() {
		h.mu.Lock()
		delete(h.clients, client)
		h.mu.Unlock()
		conn.Close()
	}()

	for {
		_, msg, err := conn.ReadMessage()
		if err != nil {
			break
		}
		var cmd wsCommand
		if json.Unmarshal(msg, &cmd) == nil {
			client.apply(cmd)
		}
	}
}
