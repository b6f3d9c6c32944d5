// Package ws pushes signal bus traffic (positions, simulation, results) to
// browser clients over websockets.
package ws

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/alanyoungcy/bundlerlab/internal/domain"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 4096
	sendBufferSize = 64
)

// Channels are the bus channels bridged to clients.
var Channels = []string{domain.ChannelPositions, domain.ChannelSimulation, domain.ChannelResults}

// LatestReader is implemented by buses that remember the last payload of a
// channel; new clients are primed with it.
type LatestReader interface {
	Latest(ctx context.Context, channel string) ([]byte, error)
}

// Frame is the JSON envelope of every message sent to clients.
type Frame struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

type outbound struct {
	channel string
	data    []byte
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// Origin checks are left to the CORS and auth middleware.
	CheckOrigin: func(*http.Request) bool { return true },
}

// Hub fans bus messages out to connected clients.
type Hub struct {
	bus    domain.SignalBus
	logger *slog.Logger

	clients    map[*client]bool
	broadcast  chan outbound
	register   chan *client
	unregister chan *client
	done       chan struct{}
	mu         sync.RWMutex
}

// NewHub creates a hub reading from bus.
func NewHub(bus domain.SignalBus, logger *slog.Logger) *Hub {
	return &Hub{
		bus:        bus,
		logger:     logger.With(slog.String("component", "ws_hub")),
		clients:    make(map[*client]bool),
		broadcast:  make(chan outbound, 256),
		register:   make(chan *client),
		unregister: make(chan *client),
		done:       make(chan struct{}),
	}
}

// Run subscribes to every channel and serves clients until ctx is done.
func (h *Hub) Run(ctx context.Context) error {
	defer close(h.done)

	for _, ch := range Channels {
		msgs, err := h.bus.Subscribe(ctx, ch)
		if err != nil {
			return err
		}
		go h.forward(ctx, ch, msgs)
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
			n := len(h.clients)
			h.mu.Unlock()
			h.logger.Info("client connected", slog.Int("clients", n))

		case c := <-h.unregister:
			h.mu.Lock()
			if h.clients[c] {
				delete(h.clients, c)
				close(c.send)
			}
			n := len(h.clients)
			h.mu.Unlock()
			h.logger.Info("client disconnected", slog.Int("clients", n))

		case msg := <-h.broadcast:
			h.mu.RLock()
			for c := range h.clients {
				if !c.isSubscribed(msg.channel) {
					continue
				}
				select {
				case c.send <- msg.data:
				default:
					h.logger.Warn("dropping message for slow client", slog.String("channel", msg.channel))
				}
			}
			h.mu.RUnlock()
		}
	}
}

func (h *Hub) forward(ctx context.Context, channel string, msgs <-chan []byte) {
	for {
		select {
		case <-ctx.Done():
			return
		case payload, ok := <-msgs:
			if !ok {
				h.logger.Warn("bus subscription closed", slog.String("channel", channel))
				return
			}
			frame, err := encodeFrame(channel, payload)
			if err != nil {
				h.logger.Warn("drop malformed payload",
					slog.String("channel", channel),
					slog.String("error", err.Error()),
				)
				continue
			}
			select {
			case h.broadcast <- outbound{channel: channel, data: frame}:
			case <-ctx.Done():
				return
			}
		}
	}
}

func encodeFrame(typ string, payload []byte) ([]byte, error) {
	f := Frame{Type: typ}
	if len(payload) > 0 {
		if !json.Valid(payload) {
			return nil, errors.New("payload is not JSON")
		}
		f.Payload = payload
	}
	return json.Marshal(f)
}

// HandleWS serves GET /ws.
func (h *Hub) HandleWS(w http.ResponseWriter, r *http.Request) {
	select {
	case <-h.done:
		http.Error(w, "hub stopped", http.StatusServiceUnavailable)
		return
	default:
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("upgrade failed", slog.String("error", err.Error()))
		return
	}

	c := &client{
		hub:  h,
		conn: conn,
		send: make(chan []byte, sendBufferSize),
		subs: make(map[string]bool, len(Channels)),
	}
	for _, ch := range Channels {
		c.subs[ch] = true
	}
	c.prime(r.Context())

	select {
	case h.register <- c:
	case <-h.done:
		_ = conn.Close()
		return
	}
	go c.writePump()
	go c.readPump()
}

type client struct {
	hub  *Hub
	conn *websocket.Conn
	send chan []byte
	mu   sync.RWMutex
	subs map[string]bool
}

// prime queues the hello frame and the latest payload of each channel.
func (c *client) prime(ctx context.Context) {
	hello, _ := json.Marshal(map[string]any{"channels": Channels})
	if f, err := encodeFrame("hello", hello); err == nil {
		c.send <- f
	}
	latest, ok := c.hub.bus.(LatestReader)
	if !ok {
		return
	}
	for _, ch := range Channels {
		payload, err := latest.Latest(ctx, ch)
		if err != nil {
			continue
		}
		if f, err := encodeFrame(ch, payload); err == nil {
			c.send <- f
		}
	}
}

type subscribeMsg struct {
	Action   string   `json:"action"` // subscribe | unsubscribe
	Channels []string `json:"channels"`
}

func (c *client) readPump() {
	defer func() {
		select {
		case c.hub.unregister <- c:
		case <-c.hub.done:
		}
		_ = c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.hub.logger.Warn("unexpected close", slog.String("error", err.Error()))
			}
			return
		}
		var msg subscribeMsg
		if json.Unmarshal(data, &msg) == nil {
			c.apply(msg)
		}
	}
}

func (c *client) apply(msg subscribeMsg) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, ch := range msg.Channels {
		switch msg.Action {
		case "subscribe":
			c.subs[ch] = true
		case "unsubscribe":
			delete(c.subs, ch)
		}
	}
}

func (c *client) isSubscribed(channel string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.subs[channel]
}

func (c *client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	for {
		select {
		case msg, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
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
