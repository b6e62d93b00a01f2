// Package ws streams committed marketplace events to WebSocket clients.
package ws

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/alanyoungcy/tokenmarket/internal/domain"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 4096
	sendBufferSize = 256

	// TopicAll receives every event.
	TopicAll = "events"
)

// Topics an event is routed to, besides TopicAll:
//
//	type:<event type>            e.g. type:token_bought
//	collection:<lowercase hex>   e.g. collection:0xabc...
func eventTopics(payload []byte) []string {
	var head struct {
		Type       string `json:"type"`
		Collection string `json:"collection"`
	}
	topics := []string{TopicAll}
	if err := json.Unmarshal(payload, &head); err != nil {
		return topics
	}
	if head.Type != "" {
		topics = append(topics, "type:"+head.Type)
	}
	if head.Collection != "" {
		topics = append(topics, "collection:"+strings.ToLower(head.Collection))
	}
	return topics
}

// Config captures hub settings.
type Config struct {
	// Channels are the signal bus channels forwarded to clients.
	Channels       []string
	Mode           string
	StartedAt      time.Time
	AllowedOrigins []string
}

// Hub bridges the signal bus to connected WebSocket clients.
type Hub struct {
	clients    map[*client]bool
	broadcast  chan broadcastMsg
	register   chan *client
	unregister chan *client
	bus        domain.SignalBus
	upgrader   websocket.Upgrader
	cfg        Config
	mu         sync.RWMutex
	logger     *slog.Logger
}

type broadcastMsg struct {
	topics []string
	data   []byte
}

// NewHub creates a Hub reading from bus.
func NewHub(bus domain.SignalBus, logger *slog.Logger, cfg Config) *Hub {
	if cfg.StartedAt.IsZero() {
		cfg.StartedAt = time.Now().UTC()
	}
	h := &Hub{
		clients:    make(map[*client]bool),
		broadcast:  make(chan broadcastMsg, 256),
		register:   make(chan *client),
		unregister: make(chan *client),
		bus:        bus,
		cfg:        cfg,
		logger:     logger.With(slog.String("component", "ws")),
	}
	h.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     h.checkOrigin,
	}
	return h
}

func (h *Hub) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" || len(h.cfg.AllowedOrigins) == 0 {
		return true
	}
	for _, o := range h.cfg.AllowedOrigins {
		if o == "*" || strings.EqualFold(o, origin) {
			return true
		}
	}
	return false
}

// Run subscribes to the configured channels and serves clients until ctx is
// cancelled.
func (h *Hub) Run(ctx context.Context) error {
	for _, channel := range h.cfg.Channels {
		msgCh, err := h.bus.Subscribe(ctx, channel)
		if err != nil {
			h.logger.ErrorContext(ctx, "subscribe failed",
				slog.String("channel", channel),
				slog.String("error", err.Error()),
			)
			continue
		}
		go h.forward(ctx, channel, msgCh)
	}

	for {
		select {
		case <-ctx.Done():
			h.mu.Lock()
			for c := range h.clients {
				close(c.send)
				delete(h.clients, c)
			}
			h.mu.Unlock()
			return ctx.Err()

		case c := <-h.register:
			h.mu.Lock()
			h.clients[c] = true
			total := len(h.clients)
			h.mu.Unlock()
			h.logger.Info("client connected", slog.Int("total_clients", total))

		case c := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[c]; ok {
				delete(h.clients, c)
				close(c.send)
			}
			total := len(h.clients)
			h.mu.Unlock()
			h.logger.Info("client disconnected", slog.Int("total_clients", total))

		case msg := <-h.broadcast:
			h.mu.RLock()
			for c := range h.clients {
				if !c.wants(msg.topics) {
					continue
				}
				select {
				case c.send <- msg.data:
				default:
					h.logger.Warn("dropping message for slow client")
				}
			}
			h.mu.RUnlock()
		}
	}
}

func (h *Hub) forward(ctx context.Context, channel string, msgCh <-chan []byte) {
	for {
		select {
		case <-ctx.Done():
			return
		case data, ok := <-msgCh:
			if !ok {
				h.logger.Warn("subscription closed", slog.String("channel", channel))
				return
			}
			select {
			case h.broadcast <- broadcastMsg{topics: eventTopics(data), data: data}:
			case <-ctx.Done():
				return
			}
		}
	}
}

// HandleWS upgrades the request and registers the client. New clients are
// subscribed to TopicAll.
// GET /ws
func (h *Hub) HandleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("upgrade failed", slog.String("error", err.Error()))
		return
	}

	c := &client{
		hub:    h,
		conn:   conn,
		send:   make(chan []byte, sendBufferSize),
		topics: map[string]bool{TopicAll: true},
	}

	select {
	case h.register <- c:
	case <-r.Context().Done():
		conn.Close()
		return
	}
	c.reply("hello", map[string]any{
		"mode":           h.cfg.Mode,
		"uptime_seconds": int64(time.Since(h.cfg.StartedAt).Seconds()),
		"topics":         c.topicList(),
	})

	go c.writePump()
	go c.readPump()
}

// client is one WebSocket connection.
type client struct {
	hub    *Hub
	conn   *websocket.Conn
	send   chan []byte
	topics map[string]bool
	mu     sync.RWMutex
}

// subscribeMsg changes a client's topics:
//
//	{"action":"subscribe","topics":["type:token_bought"]}
type subscribeMsg struct {
	Action string   `json:"action"`
	Topics []string `json:"topics"`
}

func (c *client) readPump() {
	defer func() {
		c.hub.unregister <- c
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.hub.logger.Warn("unexpected close", slog.String("error", err.Error()))
			}
			return
		}

		var msg subscribeMsg
		if err := json.Unmarshal(message, &msg); err != nil {
			c.reply("error", map[string]string{"error": "invalid JSON"})
			continue
		}
		c.handleSubscription(msg)
	}
}

func (c *client) handleSubscription(msg subscribeMsg) {
	c.mu.Lock()
	switch msg.Action {
	case "subscribe":
		for _, t := range msg.Topics {
			c.topics[normaliseTopic(t)] = true
		}
	case "unsubscribe":
		for _, t := range msg.Topics {
			delete(c.topics, normaliseTopic(t))
		}
	default:
		c.mu.Unlock()
		c.reply("error", map[string]string{"error": "unknown action " + msg.Action})
		return
	}
	c.mu.Unlock()

	c.reply("subscribed", map[string]any{"topics": c.topicList()})
}

func normaliseTopic(t string) string {
	t = strings.TrimSpace(t)
	if rest, ok := strings.CutPrefix(t, "collection:"); ok {
		return "collection:" + strings.ToLower(rest)
	}
	return t
}

func (c *client) wants(topics []string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	for _, t := range topics {
		if c.topics[t] {
			return true
		}
	}
	return false
}

func (c *client) topicList() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]string, 0, len(c.topics))
	for t := range c.topics {
		out = append(out, t)
	}
	sort.Strings(out)
	return out
}

// reply queues a control message for this client only.
func (c *client) reply(typ string, payload any) {
	msg, err := json.Marshal(map[string]any{"type": typ, "payload": payload})
	if err != nil {
		return
	}
	defer func() {
		// send may already be closed by the hub on shutdown.
		_ = recover()
	}()
	select {
	case c.send <- msg:
	default:
	}
}

func (c *client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
