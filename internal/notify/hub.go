package notify

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/efreitasn/batchbroker/internal/metrics"
	"github.com/gorilla/websocket"
)

const (
	writeWait    = 10 * time.Second
	pongWait     = 60 * time.Second
	pingInterval = pongWait * 9 / 10
	sendBuffer   = 64
)

// Hub streams events to websocket clients. A client connecting with
// ?account_id=X only receives X's events; without it, every event.
type Hub struct {
	upgrader websocket.Upgrader
	logger   *slog.Logger
	metrics  *metrics.Metrics

	mu      sync.RWMutex
	clients map[*client]struct{}
}

type client struct {
	conn      *websocket.Conn
	send      chan []byte
	accountID string
}

// NewHub creates an empty Hub.
func NewHub(logger *slog.Logger, m *metrics.Metrics) *Hub {
	return &Hub{
		upgrader: websocket.Upgrader{ReadBufferSize: 1024, WriteBufferSize: 1024},
		logger:   logger.With(slog.String("component", "stream")),
		metrics:  m,
		clients:  make(map[*client]struct{}),
	}
}

// Name identifies the hub in fanout logs.
func (h *Hub) Name() string { return "stream" }

// ServeHTTP upgrades the request and registers the client.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", slog.String("error", err.Error()))
		return
	}

	c := &client{
		conn:      conn,
		send:      make(chan []byte, sendBuffer),
		accountID: r.URL.Query().Get("account_id"),
	}
	h.mu.Lock()
	h.clients[c] = struct{}{}
	h.mu.Unlock()
	h.metrics.StreamClients(1)

	go h.writePump(c)
	go h.readPump(c)
}

// Deliver queues ev for every matching client. A client whose buffer is
// full is disconnected rather than allowed to stall the others.
func (h *Hub) Deliver(ev Event) {
	data, err := json.Marshal(ev)
	if err != nil {
		h.logger.Error("failed to marshal stream event", slog.String("error", err.Error()))
		return
	}

	var slow []*client
	h.mu.RLock()
	for c := range h.clients {
		if c.accountID != "" && c.accountID != ev.AccountID {
			continue
		}
		select {
		case c.send <- data:
		default:
			slow = append(slow, c)
		}
	}
	h.mu.RUnlock()

	for _, c := range slow {
		h.logger.Warn("stream client too slow, disconnecting", slog.String("account_id", c.accountID))
		h.remove(c)
	}
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Close disconnects every client.
func (h *Hub) Close() {
	h.mu.RLock()
	all := make([]*client, 0, len(h.clients))
	for c := range h.clients {
		all = append(all, c)
	}
	h.mu.RUnlock()
	for _, c := range all {
		h.remove(c)
	}
}

func (h *Hub) remove(c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[c]; !ok {
		return
	}
	delete(h.clients, c)
	close(c.send)
	h.metrics.StreamClients(-1)
}

func (h *Hub) writePump(c *client) {
	ticker := time.NewTicker(pingInterval)
	defer func() {
		ticker.Stop()
		c.conn.Close()
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
				h.remove(c)
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				h.remove(c)
				return
			}
		}
	}
}

// readPump only services control frames; clients do not send commands.
func (h *Hub) readPump(c *client) {
	defer h.remove(c)

	c.conn.SetReadLimit(512)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}
