// Package feed broadcasts live-session events to browser clients over
// WebSocket: finalized transcript turns and session status changes.
//
// Each client gets a bounded send buffer. A client that falls behind is
// disconnected rather than allowed to stall the session that publishes.
package feed

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/MrWong99/wicara/internal/transcript"
)

// Message types.
const (
	TypeTurn   = "turn"
	TypeStatus = "status"
)

// Message is one JSON frame sent to clients.
type Message struct {
	Type    string    `json:"type"`
	Speaker string    `json:"speaker,omitempty"`
	Text    string    `json:"text,omitempty"`
	State   string    `json:"state,omitempty"`
	Error   string    `json:"error,omitempty"`
	At      time.Time `json:"at"`
}

// TurnMessage builds the frame for a finalized turn.
func TurnMessage(t transcript.Turn) Message {
	return Message{Type: TypeTurn, Speaker: string(t.Speaker), Text: t.Text, At: time.Now().UTC()}
}

// StatusMessage builds the frame for a state change.
func StatusMessage(state string, err error) Message {
	m := Message{Type: TypeStatus, State: state, At: time.Now().UTC()}
	if err != nil {
		m.Error = err.Error()
	}
	return m
}

// Option configures a [Hub].
type Option func(*Hub)

// WithBuffer sets how many frames may queue per client. Default: 32.
func WithBuffer(n int) Option {
	return func(h *Hub) {
		if n > 0 {
			h.buffer = n
		}
	}
}

// WithWriteTimeout bounds every write to a client. Default: 5s.
func WithWriteTimeout(d time.Duration) Option {
	return func(h *Hub) {
		if d > 0 {
			h.writeTimeout = d
		}
	}
}

// WithPingInterval sets the keepalive ping period. Default: 20s.
func WithPingInterval(d time.Duration) Option {
	return func(h *Hub) {
		if d > 0 {
			h.pingInterval = d
		}
	}
}

// WithCheckOrigin overrides the upgrader's origin check. By default only
// same-origin requests are accepted.
func WithCheckOrigin(fn func(*http.Request) bool) Option {
	return func(h *Hub) {
		h.upgrader.CheckOrigin = fn
	}
}

// Hub fans messages out to every connected client. It implements
// [http.Handler]; mount it on the path clients dial.
type Hub struct {
	upgrader     websocket.Upgrader
	buffer       int
	writeTimeout time.Duration
	pingInterval time.Duration

	mu         sync.Mutex
	clients    map[*client]struct{}
	lastStatus []byte
	closed     bool
}

type client struct {
	conn *websocket.Conn
	send chan []byte
	once sync.Once
	done chan struct{}
}

func (c *client) stop() {
	c.once.Do(func() { close(c.done) })
}

// NewHub returns an empty Hub.
func NewHub(opts ...Option) *Hub {
	h := &Hub{
		buffer:       32,
		writeTimeout: 5 * time.Second,
		pingInterval: 20 * time.Second,
		clients:      make(map[*client]struct{}),
	}
	for _, o := range opts {
		o(h)
	}
	return h
}

// ServeHTTP upgrades the request and streams messages until the client goes
// away. New clients first receive the most recent status.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already written the HTTP error.
		slog.Debug("feed: upgrade failed", "err", err)
		return
	}

	c := &client{conn: conn, send: make(chan []byte, h.buffer), done: make(chan struct{})}
	if !h.register(c) {
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, "shutting down"),
			time.Now().Add(h.writeTimeout))
		_ = conn.Close()
		return
	}
	slog.Debug("feed: client connected", "remote", r.RemoteAddr)

	go h.readLoop(c)
	h.writeLoop(c)

	h.unregister(c)
	_ = conn.Close()
	slog.Debug("feed: client disconnected", "remote", r.RemoteAddr)
}

// readLoop discards inbound frames; its only job is to notice the client
// closing the connection.
func (h *Hub) readLoop(c *client) {
	defer c.stop()
	c.conn.SetReadLimit(512)
	for {
		if _, _, err := c.conn.NextReader(); err != nil {
			return
		}
	}
}

func (h *Hub) writeLoop(c *client) {
	ping := time.NewTicker(h.pingInterval)
	defer ping.Stop()

	for {
		select {
		case <-c.done:
			_ = c.conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(h.writeTimeout))
			return
		case data := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(h.writeTimeout))
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}
		case <-ping.C:
			if err := c.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(h.writeTimeout)); err != nil {
				return
			}
		}
	}
}

func (h *Hub) register(c *client) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return false
	}
	h.clients[c] = struct{}{}
	if h.lastStatus != nil {
		c.send <- h.lastStatus
	}
	return true
}

func (h *Hub) unregister(c *client) {
	h.mu.Lock()
	delete(h.clients, c)
	h.mu.Unlock()
	c.stop()
}

// Publish sends m to every client. It never blocks: a client whose buffer is
// full is disconnected.
func (h *Hub) Publish(m Message) {
	data, err := json.Marshal(m)
	if err != nil {
		slog.Error("feed: marshal message", "type", m.Type, "err", err)
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if m.Type == TypeStatus {
		h.lastStatus = data
	}
	for c := range h.clients {
		select {
		case c.send <- data:
		default:
			slog.Warn("feed: dropping slow client")
			delete(h.clients, c)
			c.stop()
		}
	}
}

// Turn publishes a finalized transcript turn.
func (h *Hub) Turn(t transcript.Turn) {
	h.Publish(TurnMessage(t))
}

// Status publishes a session state change.
func (h *Hub) Status(state string, err error) {
	h.Publish(StatusMessage(state, err))
}

// Clients returns the number of connected clients.
func (h *Hub) Clients() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// Close disconnects every client and refuses new ones.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.closed = true
	for c := range h.clients {
		delete(h.clients, c)
		c.stop()
	}
}
