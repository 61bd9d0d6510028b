package api

import (
	"encoding/json"
	"net/http"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/j-veylop/antigravity-quota-monitor/internal/logger"
	"github.com/j-veylop/antigravity-quota-monitor/internal/metrics"
	"github.com/j-veylop/antigravity-quota-monitor/internal/models"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 512
	clientBuffer   = 8
)

// Hub fans published updates out to connected WebSocket clients.
type Hub struct {
	upgrader websocket.Upgrader
	metrics  *metrics.Metrics
	clients  map[uuid.UUID]*client
	mu       sync.Mutex
	closed   bool
}

type client struct {
	hub  *Hub
	conn *websocket.Conn
	send chan []byte
	once sync.Once
	id   uuid.UUID
}

// NewHub creates a hub. An empty origins list accepts every origin.
func NewHub(origins []string, m *metrics.Metrics) *Hub {
	h := &Hub{
		metrics: m,
		clients: make(map[uuid.UUID]*client),
	}
	h.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			if len(origins) == 0 || slices.Contains(origins, "*") {
				return true
			}
			return slices.Contains(origins, r.Header.Get("Origin"))
		},
	}
	return h
}

// Run broadcasts every update until the channel is closed.
func (h *Hub) Run(updates <-chan models.Update) {
	for update := range updates {
		h.Broadcast(update)
	}
}

// Broadcast sends an update to all clients. A client that cannot keep up is
// disconnected.
func (h *Hub) Broadcast(update models.Update) {
	data, err := json.Marshal(update)
	if err != nil {
		logger.Error("failed to encode update", "error", err)
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	for id, c := range h.clients {
		select {
		case c.send <- data:
		default:
			logger.Warn("dropping slow websocket client", "client", id)
			h.removeLocked(c)
		}
	}
}

// ServeWS upgrades the request and sends the initial update.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request, initial models.Update) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.Warn("websocket upgrade failed", "error", err)
		return
	}

	c := &client{
		hub:  h,
		conn: conn,
		send: make(chan []byte, clientBuffer),
		id:   uuid.New(),
	}

	data, err := json.Marshal(initial)
	if err != nil {
		logger.Error("failed to encode initial update", "error", err)
		_ = conn.Close()
		return
	}
	c.send <- data

	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		_ = conn.Close()
		return
	}
	h.clients[c.id] = c
	h.mu.Unlock()

	h.metrics.IncWebSocketClients()
	logger.Debug("websocket client connected", "client", c.id)

	go c.writePump()
	go c.readPump()
}

// Count returns the number of connected clients.
func (h *Hub) Count() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// Close disconnects every client.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.closed = true
	for _, c := range h.clients {
		h.removeLocked(c)
	}
}

func (h *Hub) remove(c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.removeLocked(c)
}

func (h *Hub) removeLocked(c *client) {
	if _, ok := h.clients[c.id]; !ok {
		return
	}
	delete(h.clients, c.id)
	h.metrics.DecWebSocketClients()
	c.once.Do(func() { close(c.send) })
	logger.Debug("websocket client disconnected", "client", c.id)
}

// readPump discards client messages and notices disconnects.
func (c *client) readPump() {
	defer func() {
		c.hub.remove(c)
		_ = c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
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

func (c *client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.hub.remove(c)
		_ = c.conn.Close()
	}()

	for {
		select {
		case data, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				logger.Debug("websocket write failed", "client", c.id, "error", err)
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
