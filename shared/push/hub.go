// Package push keeps the websocket channel that clients hold open while using
// the service. Connections are tracked and kept alive; no account data is sent.
package push

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

const (
	writeWait      = time.Second
	maxMessageSize = 4096
)

type connection struct {
	id       string
	conn     *websocket.Conn
	mu       sync.Mutex
	lastSeen time.Time
}

func (c *connection) touch() {
	c.mu.Lock()
	c.lastSeen = time.Now()
	c.mu.Unlock()
}

func (c *connection) idleFor() time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	return time.Since(c.lastSeen)
}

func (c *connection) ping() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait))
}

// Hub tracks open websocket connections.
type Hub struct {
	logger   *zerolog.Logger
	upgrader websocket.Upgrader

	mu          sync.RWMutex
	connections map[string]*connection
	closed      bool
}

// NewHub creates a hub. allowedOrigins empty or "*" accepts any origin.
func NewHub(logger *zerolog.Logger, allowedOrigins []string) *Hub {
	h := &Hub{
		logger:      logger,
		connections: make(map[string]*connection),
	}
	h.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     originChecker(allowedOrigins),
	}
	return h
}

func originChecker(allowed []string) func(r *http.Request) bool {
	if len(allowed) == 0 {
		return func(*http.Request) bool { return true }
	}

	set := make(map[string]struct{}, len(allowed))
	for _, o := range allowed {
		if o == "*" {
			return func(*http.Request) bool { return true }
		}
		set[o] = struct{}{}
	}

	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true
		}
		_, ok := set[origin]
		return ok
	}
}

// ServeHTTP upgrades the request and blocks reading until the client goes away.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn().Err(err).Msg("websocket upgrade failed")
		return
	}

	c := h.add(conn)
	if c == nil {
		_ = conn.Close()
		return
	}
	defer h.remove(c)

	conn.SetReadLimit(maxMessageSize)
	conn.SetPongHandler(func(string) error {
		c.touch()
		return nil
	})

	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
		c.touch()
	}
}

func (h *Hub) add(conn *websocket.Conn) *connection {
	c := &connection{id: uuid.NewString(), conn: conn, lastSeen: time.Now()}

	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return nil
	}
	h.connections[c.id] = c
	total := len(h.connections)
	h.mu.Unlock()

	h.logger.Info().Str("connection_id", c.id).Int("total", total).Msg("websocket connected")
	return c
}

func (h *Hub) remove(c *connection) {
	h.mu.Lock()
	_, ok := h.connections[c.id]
	delete(h.connections, c.id)
	h.mu.Unlock()

	_ = c.conn.Close()
	if ok {
		h.logger.Info().Str("connection_id", c.id).Msg("websocket disconnected")
	}
}

// Count returns the number of open connections.
func (h *Hub) Count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.connections)
}

func (h *Hub) snapshot() []*connection {
	h.mu.RLock()
	defer h.mu.RUnlock()

	conns := make([]*connection, 0, len(h.connections))
	for _, c := range h.connections {
		conns = append(conns, c)
	}
	return conns
}

// Heartbeat pings every connection each interval and drops connections that
// have not answered within two intervals. It returns when ctx is done.
func (h *Hub) Heartbeat(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			for _, c := range h.snapshot() {
				if c.idleFor() > 2*interval {
					h.remove(c)
					continue
				}
				if err := c.ping(); err != nil {
					h.remove(c)
				}
			}
		}
	}
}

// Close sends a close frame to every connection and rejects new ones.
func (h *Hub) Close() {
	h.mu.Lock()
	h.closed = true
	h.mu.Unlock()

	msg := websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down")
	for _, c := range h.snapshot() {
		c.mu.Lock()
		_ = c.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(writeWait))
		c.mu.Unlock()
		h.remove(c)
	}
}
