package websocket

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"fleet-sync/internal/operations"
	"fleet-sync/pkg/realtime"

	"github.com/golang/glog"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

const (
	writeWait    = 10 * time.Second
	pongWait     = 60 * time.Second
	pingPeriod   = 54 * time.Second
	idleTimeout  = 90 * time.Second
	healthPeriod = 30 * time.Second
)

// Hub fans change events out to every client subscribed to changements.
type Hub struct {
	clients      map[string]*Client
	register     chan *Client
	unregister   chan *Client
	broadcast    chan operations.ChangeEvent
	mutex        sync.RWMutex
	upgrader     websocket.Upgrader
	authenticate Authenticator
	initTimeout  time.Duration
	done         chan struct{}
	stopOnce     sync.Once
}

// NewHub creates a hub. A nil authenticator accepts every connection.
func NewHub(authenticate Authenticator) *Hub {
	return &Hub{
		clients:    make(map[string]*Client),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		broadcast:  make(chan operations.ChangeEvent, 1000),
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			Subprotocols:    []string{realtime.Subprotocol},
		},
		authenticate: authenticate,
		initTimeout:  10 * time.Second,
		done:         make(chan struct{}),
	}
}

// Start begins the hub's main loop
func (h *Hub) Start() {
	go h.run()
	glog.Infof("WebSocket hub started")
}

// Stop closes every connection. It is safe to call more than once.
func (h *Hub) Stop() {
	h.stopOnce.Do(func() {
		close(h.done)

		h.mutex.Lock()
		for id, client := range h.clients {
			delete(h.clients, id)
			close(client.Send)
			client.Conn.Close()
		}
		h.mutex.Unlock()

		glog.Infof("WebSocket hub stopped")
	})
}

func (h *Hub) run() {
	ticker := time.NewTicker(healthPeriod)
	defer ticker.Stop()

	for {
		select {
		case client := <-h.register:
			h.mutex.Lock()
			h.clients[client.ID] = client
			h.mutex.Unlock()
			glog.V(2).Infof("Client %s registered", client.ID)
			go h.handleClient(client)
			go h.writeMessages(client)

		case client := <-h.unregister:
			h.remove(client)

		case event := <-h.broadcast:
			h.broadcastToClients(event)

		case <-ticker.C:
			h.healthCheck()

		case <-h.done:
			return
		}
	}
}

// Upgrade switches an HTTP request to a websocket and hands it to the hub.
func (h *Hub) Upgrade(w http.ResponseWriter, r *http.Request) (string, error) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return "", fmt.Errorf("failed to upgrade to websocket: %w", err)
	}
	client := newClient(uuid.New().String(), conn)
	select {
	case h.register <- client:
		return client.ID, nil
	case <-h.done:
		conn.Close()
		return "", errors.New("hub stopped")
	}
}

// BroadcastChange queues event for every subscriber.
func (h *Hub) BroadcastChange(event operations.ChangeEvent) error {
	select {
	case h.broadcast <- event:
		return nil
	default:
		return fmt.Errorf("broadcast channel full, dropping %s %s event", event.Entity, event.Action)
	}
}

// GetConnectedClients returns the number of connected clients
func (h *Hub) GetConnectedClients() int {
	h.mutex.RLock()
	defer h.mutex.RUnlock()
	return len(h.clients)
}

func (h *Hub) GetClientStats() ClientStats {
	h.mutex.RLock()
	defer h.mutex.RUnlock()

	stats := ClientStats{TotalClients: len(h.clients)}
	for _, client := range h.clients {
		stats.Subscriptions += len(client.subscriptionIDs())
	}
	return stats
}

func (h *Hub) remove(client *Client) {
	h.mutex.Lock()
	defer h.mutex.Unlock()
	if _, ok := h.clients[client.ID]; !ok {
		return
	}
	delete(h.clients, client.ID)
	close(client.Send)
	client.Conn.Close()
	glog.V(2).Infof("Client %s unregistered", client.ID)
}

// enqueue queues msg unless the client is already gone.
func (h *Hub) enqueue(client *Client, msg realtime.Message) {
	h.mutex.RLock()
	defer h.mutex.RUnlock()
	if _, ok := h.clients[client.ID]; !ok {
		return
	}
	select {
	case client.Send <- msg:
	default:
		glog.Warningf("Client %s send channel full, dropping %s", client.ID, msg.Type)
	}
}

func (h *Hub) broadcastToClients(event operations.ChangeEvent) {
	payload, err := json.Marshal(map[string]any{
		"data": map[string]any{operations.FieldChangements: event},
	})
	if err != nil {
		glog.Errorf("Failed to encode change event: %v", err)
		return
	}

	h.mutex.RLock()
	defer h.mutex.RUnlock()

	for _, client := range h.clients {
		for _, id := range client.subscriptionIDs() {
			select {
			case client.Send <- realtime.Message{ID: id, Type: realtime.MessageNext, Payload: payload}:
			default:
				glog.Warningf("Client %s send channel full, dropping event", client.ID)
			}
		}
	}
}

// handleClient reads protocol messages until the connection ends.
func (h *Hub) handleClient(client *Client) {
	defer func() {
		select {
		case h.unregister <- client:
		case <-h.done:
		}
	}()

	conn := client.Conn
	conn.SetReadDeadline(time.Now().Add(h.initTimeout))
	conn.SetPongHandler(func(string) error {
		client.touch()
		conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		var msg realtime.Message
		if err := conn.ReadJSON(&msg); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				glog.V(2).Infof("WebSocket error for client %s: %v", client.ID, err)
			}
			return
		}
		client.touch()

		if !h.handleMessage(client, msg) {
			return
		}
	}
}

// handleMessage reports whether the connection should stay open.
func (h *Hub) handleMessage(client *Client, msg realtime.Message) bool {
	switch msg.Type {
	case realtime.MessageConnectionInit:
		if client.acknowledged {
			h.closeWith(client, CloseTooManyInitCalls, "Too many initialisation requests")
			return false
		}
		if err := h.checkInit(msg.Payload); err != nil {
			glog.V(2).Infof("Client %s rejected: %v", client.ID, err)
			h.closeWith(client, CloseForbidden, "Forbidden")
			return false
		}
		client.acknowledged = true
		client.Conn.SetReadDeadline(time.Now().Add(pongWait))
		h.enqueue(client, realtime.Message{Type: realtime.MessageConnectionAck})

	case realtime.MessagePing:
		h.enqueue(client, realtime.Message{Type: realtime.MessagePong})

	case realtime.MessagePong:

	case realtime.MessageSubscribe:
		if !client.acknowledged {
			h.closeWith(client, CloseForbidden, "Unauthorized")
			return false
		}
		h.subscribe(client, msg)

	case realtime.MessageComplete:
		client.mu.Lock()
		delete(client.subscriptions, msg.ID)
		client.mu.Unlock()

	default:
		h.closeWith(client, CloseBadRequest, "Invalid message received")
		return false
	}
	return true
}

func (h *Hub) checkInit(payload json.RawMessage) error {
	if h.authenticate == nil {
		return nil
	}
	var params map[string]any
	if len(payload) > 0 {
		if err := json.Unmarshal(payload, &params); err != nil {
			return fmt.Errorf("invalid connection_init payload: %w", err)
		}
	}
	var header string
	for key, value := range params {
		if strings.EqualFold(key, "Authorization") {
			header, _ = value.(string)
		}
	}
	token := strings.TrimSpace(strings.TrimPrefix(header, "Bearer "))
	return h.authenticate(token)
}

func (h *Hub) subscribe(client *Client, msg realtime.Message) {
	var payload realtime.SubscribePayload
	if err := json.Unmarshal(msg.Payload, &payload); err != nil {
		h.sendError(client, msg.ID, "invalid subscribe payload")
		return
	}
	if field := operations.RootField(payload.Query); field != operations.FieldChangements {
		h.sendError(client, msg.ID, fmt.Sprintf("unknown subscription %q", field))
		return
	}

	client.mu.Lock()
	client.subscriptions[msg.ID] = struct{}{}
	client.mu.Unlock()
	glog.V(2).Infof("Client %s subscribed as %s", client.ID, msg.ID)
}

func (h *Hub) sendError(client *Client, id, message string) {
	payload, _ := json.Marshal([]map[string]string{{"message": message}})
	h.enqueue(client, realtime.Message{ID: id, Type: realtime.MessageError, Payload: payload})
}

func (h *Hub) closeWith(client *Client, code int, reason string) {
	deadline := time.Now().Add(writeWait)
	if err := client.Conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(code, reason), deadline); err != nil {
		glog.V(2).Infof("Failed to close client %s: %v", client.ID, err)
	}
}

// writeMessages is the only writer of data frames on the connection.
func (h *Hub) writeMessages(client *Client) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case msg, ok := <-client.Send:
			client.Conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				client.Conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := client.Conn.WriteJSON(msg); err != nil {
				glog.V(2).Infof("Error writing message to client %s: %v", client.ID, err)
				return
			}

		case <-ticker.C:
			client.Conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := client.Conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				glog.V(2).Infof("Error sending ping to client %s: %v", client.ID, err)
				return
			}
		}
	}
}

// healthCheck drops clients that have gone quiet.
func (h *Hub) healthCheck() {
	h.mutex.Lock()
	defer h.mutex.Unlock()

	now := time.Now()
	for id, client := range h.clients {
		if client.idleFor(now) > idleTimeout {
			glog.V(2).Infof("Client %s timed out, removing", id)
			delete(h.clients, id)
			close(client.Send)
			client.Conn.Close()
		}
	}
}
