package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/xtrntr/stocksim/internal/models"
)

// writeWait bounds each write to a client, so one that stops reading is
// dropped instead of stalling the broadcast.
const writeWait = 10 * time.Second

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

type wsClient struct {
	conn *websocket.Conn
	mu   sync.Mutex
}

// Hub keeps the set of connected websocket clients and broadcasts to them.
type Hub struct {
	mu        sync.RWMutex
	clients   map[*wsClient]bool
	logger    *slog.Logger
	writeWait time.Duration
}

// NewHub creates an empty hub.
func NewHub(logger *slog.Logger) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	return &Hub{clients: make(map[*wsClient]bool), logger: logger, writeWait: writeWait}
}

// Len returns the number of connected clients.
func (h *Hub) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// ServeHTTP upgrades the connection and keeps it registered until the
// client goes away.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", slog.String("error", err.Error()))
		return
	}

	client := &wsClient{conn: conn}
	h.mu.Lock()
	h.clients[client] = true
	h.mu.Unlock()

	// Reads only detect disconnects; clients never send anything useful.
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			h.remove(client)
			return
		}
	}
}

func (h *Hub) remove(c *wsClient) {
	h.mu.Lock()
	delete(h.clients, c)
	h.mu.Unlock()
	c.conn.Close()
}

// Broadcast writes data to every client, dropping clients that fail.
func (h *Hub) Broadcast(data []byte) {
	h.mu.RLock()
	clients := make([]*wsClient, 0, len(h.clients))
	for c := range h.clients {
		clients = append(clients, c)
	}
	h.mu.RUnlock()

	for _, c := range clients {
		c.mu.Lock()
		c.conn.SetWriteDeadline(time.Now().Add(h.writeWait))
		err := c.conn.WriteMessage(websocket.TextMessage, data)
		c.mu.Unlock()
		if err != nil {
			h.logger.Debug("dropping websocket client", slog.String("error", err.Error()))
			h.remove(c)
		}
	}
}

// PublishMatches implements Publisher.
func (h *Hub) PublishMatches(ctx context.Context, matches []models.Match) error {
	if len(matches) == 0 {
		return nil
	}
	data, err := json.Marshal(NewMatchEvent(matches))
	if err != nil {
		return fmt.Errorf("failed to marshal matches: %w", err)
	}
	h.Broadcast(data)
	return nil
}
