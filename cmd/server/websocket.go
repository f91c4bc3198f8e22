// Package main provides the WebSocket server for real-time queue events.
package main

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/kimhsiao/taskdeck/backend/internal/logging"
	"github.com/kimhsiao/taskdeck/backend/internal/models"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		// Only local status UIs connect here
		return true
	},
}

// WSClient represents a WebSocket client connection.
type WSClient struct {
	id   string
	conn *websocket.Conn
	send chan []byte
	hub  *WSHub
}

// WSHub maintains active client connections and broadcasts messages.
type WSHub struct {
	clients    map[string]*WSClient
	broadcast  chan []byte
	register   chan *WSClient
	unregister chan *WSClient
	mu         sync.RWMutex
}

// WSEnvelope wraps all WebSocket messages.
type WSEnvelope struct {
	Type      string                 `json:"type"`
	Data      map[string]interface{} `json:"data"`
	Timestamp int64                  `json:"timestamp"`
}

// WebSocket event types
const (
	EventOperationEnqueued  = "queue.operation_enqueued"
	EventOperationDelivered = "queue.operation_delivered"
	EventOperationFailed    = "queue.operation_failed"
	EventDrainFinished      = "queue.drain_finished"
	EventFailedCleared      = "queue.failed_cleared"
	EventFailedRequeued     = "queue.failed_requeued"
	EventConnectivity       = "queue.connectivity_changed"
)

// NewWSHub creates a new WebSocket hub.
func NewWSHub() *WSHub {
	hub := &WSHub{
		clients:    make(map[string]*WSClient),
		broadcast:  make(chan []byte, 256),
		register:   make(chan *WSClient),
		unregister: make(chan *WSClient),
	}
	go hub.run()
	return hub
}

// run manages client connections and broadcasts.
func (h *WSHub) run() {
	for {
		select {
		case client := <-h.register:
			h.mu.Lock()
			h.clients[client.id] = client
			total := len(h.clients)
			h.mu.Unlock()
			logging.Debug("WebSocket client connected",
				map[string]interface{}{"client_id": client.id, "total": total})

		case client := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[client.id]; ok {
				delete(h.clients, client.id)
				close(client.send)
			}
			total := len(h.clients)
			h.mu.Unlock()
			logging.Debug("WebSocket client disconnected",
				map[string]interface{}{"client_id": client.id, "total": total})

		case message := <-h.broadcast:
			h.mu.Lock()
			for id, client := range h.clients {
				select {
				case client.send <- message:
				default:
					// Client send buffer is full, drop the connection
					close(client.send)
					delete(h.clients, id)
				}
			}
			h.mu.Unlock()
		}
	}
}

// Broadcast sends a message to all connected clients.
func (h *WSHub) Broadcast(messageType string, data map[string]interface{}) {
	envelope := WSEnvelope{
		Type:      messageType,
		Data:      data,
		Timestamp: time.Now().Unix(),
	}

	message, err := json.Marshal(envelope)
	if err != nil {
		logging.Error("Failed to marshal WebSocket envelope", err, nil)
		return
	}

	select {
	case h.broadcast <- message:
	default:
		logging.Warn("WebSocket broadcast buffer full, dropping event",
			map[string]interface{}{"type": messageType})
	}
}

// HandleWebSocket upgrades an HTTP connection and registers the client.
func (h *WSHub) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		logging.Error("WebSocket upgrade failed", err, nil)
		return
	}

	client := &WSClient{
		id:   uuid.New().String(),
		conn: conn,
		send: make(chan []byte, 64),
		hub:  h,
	}

	h.register <- client

	go client.writeLoop()
	go client.readLoop()
}

// writeLoop pushes broadcast messages to the client connection.
func (c *WSClient) writeLoop() {
	defer c.conn.Close()

	for message := range c.send {
		if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
			return
		}
	}
}

// readLoop drains client frames so pings are answered, unregistering on close.
func (c *WSClient) readLoop() {
	defer func() {
		c.hub.unregister <- c
		c.conn.Close()
	}()

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}

// =====================================================
// Queue event adapters
// =====================================================

func operationData(op models.Operation) map[string]interface{} {
	return map[string]interface{}{
		"operation_id": string(op.ID),
		"kind":         string(op.Kind),
		"entity_type":  string(op.EntityType),
		"entity_id":    op.EntityID,
		"retry_count":  op.RetryCount,
	}
}

// BroadcastOperationEnqueued implements handlers.QueueBroadcaster.
func (h *WSHub) BroadcastOperationEnqueued(op models.Operation) {
	h.Broadcast(EventOperationEnqueued, operationData(op))
}

// BroadcastFailedCleared implements handlers.QueueBroadcaster.
func (h *WSHub) BroadcastFailedCleared(count int) {
	h.Broadcast(EventFailedCleared, map[string]interface{}{"count": count})
}

// BroadcastFailedRequeued implements handlers.QueueBroadcaster.
func (h *WSHub) BroadcastFailedRequeued(count int) {
	h.Broadcast(EventFailedRequeued, map[string]interface{}{"count": count})
}

// OperationDelivered implements scheduler.Events.
func (h *WSHub) OperationDelivered(op models.Operation) {
	h.Broadcast(EventOperationDelivered, operationData(op))
}

// OperationFailed implements scheduler.Events.
func (h *WSHub) OperationFailed(op models.Operation, reason string) {
	data := operationData(op)
	data["error"] = reason
	h.Broadcast(EventOperationFailed, data)
}

// ConnectivityChanged implements monitor.Listener.
func (h *WSHub) ConnectivityChanged(online bool) {
	h.Broadcast(EventConnectivity, map[string]interface{}{"online": online})
}

// DrainFinished implements scheduler.Events.
func (h *WSHub) DrainFinished(delivered, failed int) {
	h.Broadcast(EventDrainFinished, map[string]interface{}{
		"delivered": delivered,
		"failed":    failed,
	})
}
