package api

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/harrisonrobin/sheetsync/pkg/model"
)

type MessageType string

const (
	// MessageTypeHello is sent once on connect with the current counts.
	MessageTypeHello MessageType = "hello"
	// MessageTypeSyncResult carries a finished pass.
	MessageTypeSyncResult MessageType = "sync_result"
)

type Message struct {
	Type      MessageType     `json:"type"`
	Timestamp time.Time       `json:"timestamp"`
	Data      json.RawMessage `json:"data,omitempty"`
}

// Hub fans sync results out to websocket subscribers.
type Hub struct {
	clients   map[*websocket.Conn]bool
	clientsMu sync.RWMutex

	broadcast chan Message
	logger    *log.Logger
}

func NewHub(logger *log.Logger) *Hub {
	return &Hub{
		clients:   make(map[*websocket.Conn]bool),
		broadcast: make(chan Message, 32),
		logger:    logger,
	}
}

// Publish queues a pass result for every subscriber. It never blocks; when
// the queue is full the result is dropped.
func (h *Hub) Publish(res model.SyncResult) {
	data, err := json.Marshal(res)
	if err != nil {
		h.logger.Printf("WARNING: failed to marshal sync result: %v", err)
		return
	}
	select {
	case h.broadcast <- Message{Type: MessageTypeSyncResult, Timestamp: time.Now(), Data: data}:
	default:
		h.logger.Println("WARNING: event queue full, dropping sync result")
	}
}

// Run delivers queued messages until ctx ends, then closes every client.
func (h *Hub) Run(ctx context.Context) {
	defer h.closeAll()
	for {
		select {
		case <-ctx.Done():
			return
		case msg := <-h.broadcast:
			h.send(msg)
		}
	}
}

func (h *Hub) send(msg Message) {
	data, err := json.Marshal(msg)
	if err != nil {
		h.logger.Printf("WARNING: failed to marshal message: %v", err)
		return
	}

	h.clientsMu.RLock()
	clients := make([]*websocket.Conn, 0, len(h.clients))
	for conn := range h.clients {
		clients = append(clients, conn)
	}
	h.clientsMu.RUnlock()

	for _, conn := range clients {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		err := conn.Write(ctx, websocket.MessageText, data)
		cancel()
		if err != nil {
			h.logger.Printf("Failed to send to client: %v", err)
			h.remove(conn)
		}
	}
}

// Serve upgrades the request and keeps the connection registered until the
// client goes away or ctx ends. hello, when non-nil, is written first.
func (h *Hub) Serve(ctx context.Context, w http.ResponseWriter, r *http.Request, hello *Message) {
	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		h.logger.Printf("WebSocket upgrade failed: %v", err)
		return
	}

	if hello != nil {
		if data, err := json.Marshal(hello); err == nil {
			wctx, cancel := context.WithTimeout(ctx, 5*time.Second)
			_ = conn.Write(wctx, websocket.MessageText, data)
			cancel()
		}
	}

	h.clientsMu.Lock()
	h.clients[conn] = true
	count := len(h.clients)
	h.clientsMu.Unlock()
	h.logger.Printf("Event client connected (total: %d)", count)

	defer h.remove(conn)
	for {
		// Clients only listen; reading detects the disconnect.
		if _, _, err := conn.Read(ctx); err != nil {
			return
		}
	}
}

func (h *Hub) remove(conn *websocket.Conn) {
	h.clientsMu.Lock()
	if _, ok := h.clients[conn]; !ok {
		h.clientsMu.Unlock()
		return
	}
	delete(h.clients, conn)
	count := len(h.clients)
	h.clientsMu.Unlock()

	_ = conn.Close(websocket.StatusNormalClosure, "")
	h.logger.Printf("Event client disconnected (total: %d)", count)
}

func (h *Hub) closeAll() {
	h.clientsMu.Lock()
	defer h.clientsMu.Unlock()
	for conn := range h.clients {
		_ = conn.Close(websocket.StatusGoingAway, "server shutting down")
		delete(h.clients, conn)
	}
}

// ClientCount is the number of connected subscribers.
func (h *Hub) ClientCount() int {
	h.clientsMu.RLock()
	defer h.clientsMu.RUnlock()
	return len(h.clients)
}
