// Package websocket is the /ws gateway: terminal sessions and task update broadcasts.
package websocket

import (
	"context"
	"encoding/json"
	"sync"

	"go.uber.org/zap"

	"github.com/kandev/examlab/internal/common/logger"
	"github.com/kandev/examlab/internal/terminal"
	ws "github.com/kandev/examlab/pkg/websocket"
)

// Hub manages all WebSocket client connections
type Hub struct {
	clients map[*Client]bool
	byID    map[string]*Client

	unregister chan *Client
	broadcast  chan *ws.Message
	done       chan struct{}

	dispatcher   *ws.Dispatcher
	onDisconnect func(clientID string)

	mu     sync.RWMutex
	closed bool
	logger *logger.Logger
}

// NewHub creates a new WebSocket hub
func NewHub(dispatcher *ws.Dispatcher, log *logger.Logger) *Hub {
	return &Hub{
		clients:    make(map[*Client]bool),
		byID:       make(map[string]*Client),
		unregister: make(chan *Client),
		broadcast:  make(chan *ws.Message, 256),
		done:       make(chan struct{}),
		dispatcher: dispatcher,
		logger:     log.WithComponent("ws_hub"),
	}
}

// SetDisconnectHandler registers fn to run after a client is removed.
func (h *Hub) SetDisconnectHandler(fn func(clientID string)) {
	h.onDisconnect = fn
}

// Run processes unregistrations and broadcasts until ctx is cancelled.
func (h *Hub) Run(ctx context.Context) {
	h.logger.Info("WebSocket hub started")
	defer h.logger.Info("WebSocket hub stopped")
	defer close(h.done)

	for {
		select {
		case <-ctx.Done():
			h.closeAllClients()
			return

		case client := <-h.unregister:
			h.removeClient(client)

		case msg := <-h.broadcast:
			h.broadcastMessage(msg)
		}
	}
}

func (h *Hub) closeAllClients() {
	h.mu.Lock()
	h.closed = true
	ids := make([]string, 0, len(h.clients))
	for client := range h.clients {
		client.shutdown()
		ids = append(ids, client.ID)
	}
	h.clients = make(map[*Client]bool)
	h.byID = make(map[string]*Client)
	h.mu.Unlock()

	for _, id := range ids {
		h.disconnected(id)
	}
}

func (h *Hub) removeClient(client *Client) {
	h.mu.Lock()
	_, ok := h.clients[client]
	if ok {
		delete(h.clients, client)
		delete(h.byID, client.ID)
		client.shutdown()
	}
	h.mu.Unlock()

	if ok {
		h.disconnected(client.ID)
	}
	h.logger.Debug("Client unregistered", zap.String("client_id", client.ID))
}

// disconnected must run without h.mu held: the handler may deliver events back through the hub.
func (h *Hub) disconnected(clientID string) {
	if h.onDisconnect != nil {
		h.onDisconnect(clientID)
	}
}

func (h *Hub) broadcastMessage(msg *ws.Message) {
	data, err := json.Marshal(msg)
	if err != nil {
		h.logger.Error("Failed to marshal broadcast message", zap.Error(err))
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()
	for client := range h.clients {
		select {
		case client.send <- data:
		default:
			h.logger.Warn("Client send buffer full, dropping broadcast", zap.String("client_id", client.ID))
		}
	}
}

// Register adds a client to the hub. It is synchronous so the client can be
// addressed by SendTo as soon as its read pump starts.
func (h *Hub) Register(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		client.shutdown()
		return
	}
	h.clients[client] = true
	h.byID[client.ID] = client
	h.logger.Debug("Client registered", zap.String("client_id", client.ID))
}

// Unregister removes a client from the hub
func (h *Hub) Unregister(client *Client) {
	select {
	case h.unregister <- client:
	case <-h.done:
	}
}

// Broadcast queues a notification for every connected client
func (h *Hub) Broadcast(msg *ws.Message) {
	select {
	case h.broadcast <- msg:
	case <-h.done:
	}
}

// SendTo queues a response for one client without blocking. It reports false if the
// client is gone or its buffer is full.
func (h *Hub) SendTo(clientID string, msg *ws.Message) bool {
	data, err := json.Marshal(msg)
	if err != nil {
		h.logger.Error("Failed to marshal message", zap.Error(err))
		return false
	}

	h.mu.RLock()
	defer h.mu.RUnlock()
	client, ok := h.byID[clientID]
	if !ok {
		return false
	}
	select {
	case client.send <- data:
		return true
	default:
		h.logger.Warn("Client send buffer full, dropping message",
			zap.String("client_id", clientID),
			zap.String("action", msg.Action))
		return false
	}
}

// Deliver forwards a terminal event to the client that owns the session. It blocks
// while the client's buffer is full so the session reader slows down instead of
// losing output, and gives up only once the client is gone.
func (h *Hub) Deliver(clientID string, evt terminal.Event) {
	action, payload := terminalNotification(evt)
	msg, err := ws.NewNotification(action, payload)
	if err != nil {
		h.logger.Error("Failed to build terminal notification", zap.Error(err))
		return
	}
	data, err := json.Marshal(msg)
	if err != nil {
		h.logger.Error("Failed to marshal terminal notification", zap.Error(err))
		return
	}

	h.mu.RLock()
	client, ok := h.byID[clientID]
	h.mu.RUnlock()
	if !ok {
		h.logger.Debug("Terminal event for unknown client",
			zap.String("client_id", clientID),
			zap.Int("task_id", evt.TaskID),
			zap.String("type", string(evt.Type)))
		return
	}

	select {
	case client.send <- data:
	case <-client.done:
		h.logger.Debug("Terminal event dropped, client disconnected",
			zap.String("client_id", clientID),
			zap.Int("task_id", evt.TaskID),
			zap.String("type", string(evt.Type)))
	}
}

// ClientCount returns the number of connected clients
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

var _ terminal.EventSink = (*Hub)(nil)
