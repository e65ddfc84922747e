// Package realtime fans server events out to WebSocket clients across instances.
package realtime

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"

	"github.com/redis/go-redis/v9"

	"github.com/stellara-labs/stellara/pkg/stellara/core"
)

const (
	ChannelMarket = "market"

	EventStellar     = "stellar.event"
	EventMarketPrice = "market.price"
	EventVoiceJob    = "voice.job"

	fanoutChannel  = "ws"
	sendBufferSize = 64
)

// Message is what clients receive.
type Message struct {
	Channel   string          `json:"channel"`
	Event     string          `json:"event"`
	Data      json.RawMessage `json:"data"`
	Timestamp int64           `json:"timestamp"`
}

func AccountChannel(account string) string {
	return "account:" + account
}

func UserChannel(userID int64) string {
	return fmt.Sprintf("user:%d", userID)
}

// Hub tracks the local clients. With Redis configured every publish goes through
// the shared channel so clients on all instances receive it.
type Hub struct {
	mu      sync.RWMutex
	clients map[*Client]struct{}
	rdb     *redis.Client
	channel string
	clock   core.Clock
	ready   chan struct{}
	once    sync.Once
}

func NewHub(rdb *redis.Client, prefix string, clock core.Clock) *Hub {
	if clock == nil {
		clock = core.NewRealClock()
	}
	return &Hub{
		clients: make(map[*Client]struct{}),
		rdb:     rdb,
		channel: prefix + fanoutChannel,
		clock:   clock,
		ready:   make(chan struct{}),
	}
}

// Ready is closed once the hub receives from Redis, or immediately in local mode.
func (h *Hub) Ready() <-chan struct{} {
	return h.ready
}

func (h *Hub) markReady() {
	h.once.Do(func() { close(h.ready) })
}

// Publish sends an event to every client subscribed to channel on any instance.
// If Redis is unavailable the message is still delivered locally.
func (h *Hub) Publish(ctx context.Context, channel, event string, data any) error {
	payload, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("marshal %s payload: %w", event, err)
	}
	msg := Message{Channel: channel, Event: event, Data: payload, Timestamp: h.clock.Now().UnixMilli()}
	raw, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	if h.rdb != nil {
		err := h.rdb.Publish(ctx, h.channel, raw).Err()
		if err == nil {
			return nil
		}
		slog.WarnContext(ctx, "Redis publish failed, delivering locally", "channel", channel, "error", err)
	}
	h.deliver(channel, raw)
	return nil
}

// Run relays messages from Redis to local clients until ctx is done.
func (h *Hub) Run(ctx context.Context) error {
	if h.rdb == nil {
		h.markReady()
		<-ctx.Done()
		return nil
	}
	pubsub := h.rdb.Subscribe(ctx, h.channel)
	defer pubsub.Close()
	if _, err := pubsub.Receive(ctx); err != nil {
		h.markReady()
		return fmt.Errorf("subscribe %s: %w", h.channel, err)
	}
	h.markReady()
	slog.InfoContext(ctx, "WebSocket fan-out subscribed", "channel", h.channel)

	ch := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case m, ok := <-ch:
			if !ok {
				return nil
			}
			var msg Message
			if err := json.Unmarshal([]byte(m.Payload), &msg); err != nil {
				slog.WarnContext(ctx, "Dropping malformed fan-out message", "error", err)
				continue
			}
			h.deliver(msg.Channel, []byte(m.Payload))
		}
	}
}

func (h *Hub) register(c *Client) {
	h.mu.Lock()
	h.clients[c] = struct{}{}
	h.mu.Unlock()
}

func (h *Hub) unregister(c *Client) {
	h.mu.Lock()
	delete(h.clients, c)
	h.mu.Unlock()
}

func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

func (h *Hub) deliver(channel string, raw []byte) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for c := range h.clients {
		if c.subscribed(channel) {
			c.enqueue(raw)
		}
	}
}
