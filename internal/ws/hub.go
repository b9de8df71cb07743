// Package ws broadcasts committed engine events to websocket subscribers.
package ws

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"

	"github.com/xtrntr/matchbook/internal/events"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// Hub fans committed events out to all connected websocket clients.
// It implements events.Publisher.
type Hub struct {
	upgrader websocket.Upgrader
	log      *zap.Logger

	mu      sync.RWMutex
	clients map[*client]struct{}
}

type client struct {
	conn *websocket.Conn
	mu   sync.Mutex // serializes writes to the connection
}

// NewHub creates an empty hub.
func NewHub(log *zap.Logger) *Hub {
	return &Hub{
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		log:     log,
		clients: make(map[*client]struct{}),
	}
}

// Handle upgrades the request and keeps the connection registered until the
// peer disconnects. Incoming frames are read and discarded.
func (h *Hub) Handle(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warn("failed to upgrade connection", zap.Error(err))
		return
	}

	c := &client{conn: conn}
	h.mu.Lock()
	h.clients[c] = struct{}{}
	h.mu.Unlock()

	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			break
		}
	}

	h.remove(c)
	conn.Close()
}

// Publish broadcasts the event to every connected client. Clients that fail
// to accept the write are dropped.
func (h *Hub) Publish(_ context.Context, evt events.Event) {
	data, err := json.Marshal(evt)
	if err != nil {
		h.log.Error("failed to marshal event", zap.String("event", evt.Name), zap.Error(err))
		return
	}

	h.mu.RLock()
	conns := make([]*client, 0, len(h.clients))
	for c := range h.clients {
		conns = append(conns, c)
	}
	h.mu.RUnlock()

	for _, c := range conns {
		c.mu.Lock()
		err := c.conn.WriteMessage(websocket.TextMessage, data)
		c.mu.Unlock()
		if err != nil {
			h.log.Debug("dropping websocket client", zap.Error(err))
			h.remove(c)
			c.conn.Close()
		}
	}
}

func (h *Hub) remove(c *client) {
	h.mu.Lock()
	delete(h.clients, c)
	h.mu.Unlock()
}
