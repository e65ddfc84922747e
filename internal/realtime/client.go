package realtime

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stellar/go-stellar-sdk/strkey"

	"github.com/stellara-labs/stellara/internal/auth"
	"github.com/stellara-labs/stellara/internal/telemetry"
	"github.com/stellara-labs/stellara/internal/util"
	"github.com/stellara-labs/stellara/pkg/stellara/domain"
)

const (
	writeWait          = 10 * time.Second
	pongWait           = 60 * time.Second
	pingPeriod         = (pongWait * 9) / 10
	maxMessageSize     = 4096
	wsBufferSize       = 1024
	incomingBufferSize = 16
	maxChannels        = 50
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  wsBufferSize,
	WriteBufferSize: wsBufferSize,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// Authenticator resolves the token a client connects with.
type Authenticator interface {
	AuthenticateToken(ctx context.Context, token string) (*auth.Principal, error)
}

type WalletLookup interface {
	FindByPublicKey(ctx context.Context, publicKey string) (*domain.WalletBinding, error)
}

type WatchLookup interface {
	UserWatchesAccount(ctx context.Context, userID int64, account string) (bool, error)
}

// ChannelPolicy decides which channels a principal may subscribe to:
// market, its own user channel, and accounts it has bound or subscribed to.
type ChannelPolicy struct {
	Wallets WalletLookup
	Watches WatchLookup
}

func (p *ChannelPolicy) Allowed(ctx context.Context, principal *auth.Principal, channel string) bool {
	if p == nil {
		p = &ChannelPolicy{}
	}
	switch {
	case channel == ChannelMarket:
		return true
	case strings.HasPrefix(channel, "user:"):
		id, err := strconv.ParseInt(strings.TrimPrefix(channel, "user:"), 10, 64)
		return err == nil && id == principal.UserID
	case strings.HasPrefix(channel, "account:"):
		account := strings.TrimPrefix(channel, "account:")
		if !strkey.IsValidEd25519PublicKey(account) {
			return false
		}
		if principal.IsAdmin() {
			return true
		}
		if p.Wallets != nil {
			b, err := p.Wallets.FindByPublicKey(ctx, account)
			if err != nil {
				slog.ErrorContext(ctx, "Wallet lookup failed", "account", account, "error", err)
				return false
			}
			if b != nil && b.UserID == principal.UserID {
				return true
			}
		}
		if p.Watches != nil {
			ok, err := p.Watches.UserWatchesAccount(ctx, principal.UserID, account)
			if err != nil {
				slog.ErrorContext(ctx, "Subscription lookup failed", "account", account, "error", err)
				return false
			}
			return ok
		}
	}
	return false
}

type clientRequest struct {
	Type     string   `json:"type"`
	Channels []string `json:"channels"`
}

type clientReply struct {
	Type     string   `json:"type"`
	Channels []string `json:"channels,omitempty"`
	Rejected []string `json:"rejected,omitempty"`
	Message  string   `json:"message,omitempty"`
}

// Client is one WebSocket connection.
type Client struct {
	hub       *Hub
	conn      *websocket.Conn
	principal *auth.Principal
	policy    *ChannelPolicy
	send      chan []byte

	mu       sync.RWMutex
	channels map[string]struct{}
	closed   bool
}

// Handler upgrades authenticated requests. The token comes from ?token= or the Authorization header.
func (h *Hub) Handler(authn Authenticator, policy *ChannelPolicy) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := r.URL.Query().Get("token")
		if token == "" {
			token = auth.Credential(r)
		}
		if token == "" {
			util.WriteError(w, http.StatusUnauthorized, "Authentication required")
			return
		}
		principal, err := authn.AuthenticateToken(r.Context(), token)
		if err != nil {
			util.WriteError(w, http.StatusUnauthorized, "Invalid or expired credentials")
			return
		}

		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			slog.ErrorContext(r.Context(), "WebSocket upgrade failed", "error", err)
			return
		}
		c := &Client{
			hub:       h,
			conn:      conn,
			principal: principal,
			policy:    policy,
			send:      make(chan []byte, sendBufferSize),
			channels:  make(map[string]struct{}),
		}
		h.register(c)
		telemetry.WebSocketConnected()
		slog.DebugContext(r.Context(), "WebSocket client connected", "user_id", principal.UserID)
		go c.run(context.WithoutCancel(auth.WithPrincipal(r.Context(), principal)))
	})
}

func (c *Client) subscribed(channel string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	_, ok := c.channels[channel]
	return ok
}

// enqueue drops the message for a client that cannot keep up.
func (c *Client) enqueue(raw []byte) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return
	}
	select {
	case c.send <- raw:
	default:
		slog.Warn("WebSocket client too slow, dropping message", "user_id", c.principal.UserID)
	}
}

func (c *Client) run(ctx context.Context) {
	done := make(chan struct{})
	defer func() {
		close(done)
		c.hub.unregister(c)
		c.mu.Lock()
		c.closed = true
		c.mu.Unlock()
		telemetry.WebSocketDisconnected()
		_ = c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	incoming := make(chan []byte, incomingBufferSize)
	go readMessages(c.conn.ReadMessage, incoming, done)

	for {
		select {
		case message, ok := <-incoming:
			if !ok {
				return
			}
			if !c.write(c.handleRequest(ctx, message)) {
				return
			}

		case raw := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, raw); err != nil {
				slog.Debug("WebSocket write failed", "error", err)
				return
			}

		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// readMessages pumps frames into incoming until the read fails or done is closed.
func readMessages(read func() (int, []byte, error), incoming chan<- []byte, done <-chan struct{}) {
	defer close(incoming)
	for {
		_, message, err := read()
		if err != nil {
			return
		}
		select {
		case incoming <- message:
		case <-done:
			return
		}
	}
}

func (c *Client) write(reply clientReply) bool {
	_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := c.conn.WriteJSON(reply); err != nil {
		slog.Debug("WebSocket write failed", "error", err)
		return false
	}
	return true
}

func (c *Client) handleRequest(ctx context.Context, message []byte) clientReply {
	var req clientRequest
	if err := json.Unmarshal(message, &req); err != nil {
		return clientReply{Type: "error", Message: "malformed message"}
	}
	switch req.Type {
	case "subscribe":
		var accepted, rejected []string
		for _, ch := range req.Channels {
			if c.policy.Allowed(ctx, c.principal, ch) && c.add(ch) {
				accepted = append(accepted, ch)
			} else {
				rejected = append(rejected, ch)
			}
		}
		return clientReply{Type: "subscribed", Channels: accepted, Rejected: rejected}
	case "unsubscribe":
		c.mu.Lock()
		for _, ch := range req.Channels {
			delete(c.channels, ch)
		}
		c.mu.Unlock()
		return clientReply{Type: "unsubscribed", Channels: req.Channels}
	default:
		return clientReply{Type: "error", Message: "unknown message type " + strconv.Quote(req.Type)}
	}
}

func (c *Client) add(channel string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.channels[channel]; !ok && len(c.channels) >= maxChannels {
		return false
	}
	c.channels[channel] = struct{}{}
	return true
}
