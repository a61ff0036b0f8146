package events

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/xtrntr/coinledger/internal/models"
	"go.uber.org/zap"
)

const writeWait = 5 * time.Second

type wsClient struct {
	conn *websocket.Conn
	mu   sync.Mutex
}

func (c *wsClient) write(data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		return err
	}
	return c.conn.WriteMessage(websocket.TextMessage, data)
}

// Hub streams each user's executed trades to that user's websocket connections
type Hub struct {
	upgrader websocket.Upgrader
	mu       sync.RWMutex
	clients  map[int64]map[*wsClient]struct{}
	log      *zap.Logger
}

func NewHub(log *zap.Logger) *Hub {
	if log == nil {
		log = zap.NewNop()
	}
	return &Hub{
		upgrader: websocket.Upgrader{
			// Access is gated by the bearer token
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		clients: make(map[int64]map[*wsClient]struct{}),
		log:     log,
	}
}

// Serve upgrades the request and holds the connection until the peer goes away
func (h *Hub) Serve(w http.ResponseWriter, r *http.Request, userID int64) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warn("websocket upgrade failed", zap.Error(err))
		return
	}

	client := &wsClient{conn: conn}
	h.add(userID, client)
	defer h.remove(userID, client)

	// Keep connection alive and handle disconnection
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}

// Publish sends t to every connection of its owner
func (h *Hub) Publish(_ context.Context, t models.Trade) error {
	data, err := json.Marshal(t)
	if err != nil {
		return fmt.Errorf("failed to marshal trade: %w", err)
	}

	h.mu.RLock()
	targets := make([]*wsClient, 0, len(h.clients[t.UserID]))
	for c := range h.clients[t.UserID] {
		targets = append(targets, c)
	}
	h.mu.RUnlock()

	for _, c := range targets {
		if err := c.write(data); err != nil {
			h.log.Debug("dropping websocket client", zap.Int64("user_id", t.UserID), zap.Error(err))
			h.remove(t.UserID, c)
		}
	}
	return nil
}

// Subscribers reports how many connections userID holds
func (h *Hub) Subscribers(userID int64) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients[userID])
}

// Close disconnects every client
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for userID, set := range h.clients {
		for c := range set {
			_ = c.conn.Close()
		}
		delete(h.clients, userID)
	}
}

func (h *Hub) add(userID int64, c *wsClient) {
	h.mu.Lock()
	defer h.mu.Unlock()
	set, ok := h.clients[userID]
	if !ok {
		set = make(map[*wsClient]struct{})
		h.clients[userID] = set
	}
	set[c] = struct{}{}
}

func (h *Hub) remove(userID int64, c *wsClient) {
	h.mu.Lock()
	defer h.mu.Unlock()
	set, ok := h.clients[userID]
	if !ok {
		return
	}
	if _, ok := set[c]; ok {
		delete(set, c)
		_ = c.conn.Close()
	}
	if len(set) == 0 {
		delete(h.clients, userID)
	}
}
