// Package websocket pushes dashboard updates to connected browsers so the
// frontend learns about safety transitions without waiting for its next poll.
// The stream is push-only: inbound frames are drained and ignored.
package websocket

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/tradewatch/tradewatch/internal/common/logger"
	"github.com/tradewatch/tradewatch/internal/events/bus"
)

// pushMessage is the frame sent to browsers.
type pushMessage struct {
	Type string      `json:"type"`
	TS   int64       `json:"ts"`
	Data interface{} `json:"data"`
}

// Hub manages all WebSocket client connections.
type Hub struct {
	clients map[*Client]bool

	register   chan *Client
	unregister chan *Client
	broadcast  chan []byte

	// done is closed when Run returns, so client goroutines shutting down
	// after the hub never block on its channels.
	done chan struct{}

	mu     sync.RWMutex
	logger *logger.Logger
}

// NewHub creates a hub. Call Run to start its loop.
func NewHub(log *logger.Logger) *Hub {
	return &Hub{
		clients:    make(map[*Client]bool),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		broadcast:  make(chan []byte, 256),
		done:       make(chan struct{}),
		logger:     log.WithComponent("ws_hub"),
	}
}

// Run starts the hub's main processing loop until ctx is cancelled.
func (h *Hub) Run(ctx context.Context) {
	h.logger.Info("websocket hub started")
	defer h.logger.Info("websocket hub stopped")
	defer close(h.done)

	for {
		select {
		case <-ctx.Done():
			h.closeAllClients()
			return

		case client := <-h.register:
			h.mu.Lock()
			h.clients[client] = true
			h.mu.Unlock()
			h.logger.Debug("client registered", zap.String("client_id", client.ID))

		case client := <-h.unregister:
			h.removeClient(client)

		case data := <-h.broadcast:
			h.mu.RLock()
			for client := range h.clients {
				select {
				case client.send <- data:
				default:
					// Buffer full, the write pump will clean the client up.
				}
			}
			h.mu.RUnlock()
		}
	}
}

// Push broadcasts one typed frame to every connected client.
func (h *Hub) Push(msgType string, payload interface{}) {
	data, err := json.Marshal(pushMessage{
		Type: msgType,
		TS:   time.Now().UnixMilli(),
		Data: payload,
	})
	if err != nil {
		h.logger.Error("failed to marshal push frame", zap.Error(err))
		return
	}
	select {
	case h.broadcast <- data:
	default:
		h.logger.Warn("push dropped, broadcast buffer full", zap.String("type", msgType))
	}
}

// AttachBus forwards safety transitions and overview rebuilds from the event
// bus to every connected browser.
func (h *Hub) AttachBus(eventBus bus.EventBus) error {
	for _, subject := range []string{bus.SubjectSafetyChanged, bus.SubjectOverviewRebuilt} {
		if _, err := eventBus.Subscribe(subject, func(_ context.Context, event *bus.Event) error {
			h.Push(event.Type, event.Data)
			return nil
		}); err != nil {
			return err
		}
	}
	return nil
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

func (h *Hub) closeAllClients() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for client := range h.clients {
		close(client.send)
		delete(h.clients, client)
	}
}

func (h *Hub) removeClient(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[client]; ok {
		delete(h.clients, client)
		close(client.send)
	}
	h.logger.Debug("client unregistered", zap.String("client_id", client.ID))
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	// The dashboard is an operator-local tool served from varying origins.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// GinHandler returns the gin handler that upgrades GET /ws connections.
func (h *Hub) GinHandler(log *logger.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
		if err != nil {
			log.Error("websocket upgrade failed", zap.Error(err))
			return
		}
		client := NewClient(uuid.New().String(), conn, h, log)
		select {
		case h.register <- client:
		case <-h.done:
			conn.Close()
			return
		}

		go client.WritePump()
		go client.ReadPump()
	}
}
