package websocket

import (
	"sync"
	"sync/atomic"
	"time"

	"fleet-sync/internal/operations"
	"fleet-sync/pkg/realtime"

	"github.com/gorilla/websocket"
)

// Authenticator validates the bearer token a client sends in connection_init.
type Authenticator func(token string) error

// Client represents a WebSocket client connection
type Client struct {
	ID   string
	Conn *websocket.Conn
	Send chan realtime.Message

	lastSeen     atomic.Int64
	acknowledged bool

	mu            sync.Mutex
	subscriptions map[string]struct{}
}

func newClient(id string, conn *websocket.Conn) *Client {
	c := &Client{
		ID:            id,
		Conn:          conn,
		Send:          make(chan realtime.Message, 256),
		subscriptions: make(map[string]struct{}),
	}
	c.touch()
	return c
}

func (c *Client) touch() {
	c.lastSeen.Store(time.Now().UnixNano())
}

func (c *Client) idleFor(now time.Time) time.Duration {
	return now.Sub(time.Unix(0, c.lastSeen.Load()))
}

func (c *Client) subscriptionIDs() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	ids := make([]string, 0, len(c.subscriptions))
	for id := range c.subscriptions {
		ids = append(ids, id)
	}
	return ids
}

// ChangeBroadcaster is what the API needs from the hub.
type ChangeBroadcaster interface {
	BroadcastChange(event operations.ChangeEvent) error
}

// ClientStats provides statistics about connected clients
type ClientStats struct {
	TotalClients  int `json:"totalClients"`
	Subscriptions int `json:"subscriptions"`
}

// Close codes of the graphql-transport-ws protocol.
const (
	CloseBadRequest       = 4400
	CloseForbidden        = 4403
	CloseInitTimeout      = 4408
	CloseTooManyInitCalls = 4429
)
