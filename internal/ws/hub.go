package ws

import (
	"sync"

	"github.com/gorilla/websocket"
)

// Hub tracks live connections keyed by user id.
type Hub struct {
	mu    sync.RWMutex
	conns map[string]map[*Connection]struct{}
}

func NewHub() *Hub {
	return &Hub{
		conns: make(map[string]map[*Connection]struct{}),
	}
}

// Register adds a connection for its user.
func (h *Hub) Register(c *Connection) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.conns[c.UserID] == nil {
		h.conns[c.UserID] = make(map[*Connection]struct{})
	}
	h.conns[c.UserID][c] = struct{}{}
}

// Unregister removes a connection.
func (h *Hub) Unregister(c *Connection) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if conns, ok := h.conns[c.UserID]; ok {
		delete(conns, c)
		if len(conns) == 0 {
			delete(h.conns, c.UserID)
		}
	}
}

// Count returns the number of live connections of userID, or of every user
// when userID is empty.
func (h *Hub) Count(userID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()

	if userID != "" {
		return len(h.conns[userID])
	}
	n := 0
	for _, conns := range h.conns {
		n += len(conns)
	}
	return n
}

// CloseAll disconnects every client, used on shutdown.
func (h *Hub) CloseAll() {
	h.mu.RLock()
	var all []*Connection
	for _, conns := range h.conns {
		for c := range conns {
			all = append(all, c)
		}
	}
	h.mu.RUnlock()

	for _, c := range all {
		c.Close(websocket.CloseGoingAway, "server shutting down")
	}
}
