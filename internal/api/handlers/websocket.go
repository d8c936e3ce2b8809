package handlers

import (
	"net/http"

	"fleet-sync/internal/websocket"

	"github.com/gin-gonic/gin"
	"github.com/golang/glog"
)

// WebSocketHandler hands realtime connections to the hub. Authentication
// happens in the connection_init message, not on the upgrade request.
type WebSocketHandler struct {
	hub *websocket.Hub
}

func NewWebSocketHandler(hub *websocket.Hub) *WebSocketHandler {
	return &WebSocketHandler{hub: hub}
}

func (h *WebSocketHandler) HandleWebSocket(c *gin.Context) {
	clientID, err := h.hub.Upgrade(c.Writer, c.Request)
	if err != nil {
		// The upgrader has already replied.
		glog.Warningf("WebSocket connection failed: %v", err)
		return
	}
	glog.V(2).Infof("WebSocket client %s connected", clientID)
}

// GetConnectedClients returns the number of connected WebSocket clients
func (h *WebSocketHandler) GetConnectedClients(c *gin.Context) {
	stats := h.hub.GetClientStats()
	c.JSON(http.StatusOK, gin.H{
		"connectedClients": stats.TotalClients,
		"stats":            stats,
	})
}
