package handlers

import (
	"context"
	"net/http"
	"time"

	"fleet-sync/internal/repository"
	"fleet-sync/internal/websocket"
	"fleet-sync/pkg/redis"

	"github.com/gin-gonic/gin"
)

type HealthHandler struct {
	repo        *repository.Repository
	redisClient *redis.Client
	hub         *websocket.Hub
}

type HealthResponse struct {
	Status    string                    `json:"status"`
	Timestamp time.Time                 `json:"timestamp"`
	Services  map[string]map[string]any `json:"services"`
}

// NewHealthHandler reports on the given dependencies; redisClient and hub may be nil.
func NewHealthHandler(repo *repository.Repository, redisClient *redis.Client, hub *websocket.Hub) *HealthHandler {
	return &HealthHandler{
		repo:        repo,
		redisClient: redisClient,
		hub:         hub,
	}
}

func (h *HealthHandler) HealthCheck(c *gin.Context) {
	response := HealthResponse{
		Timestamp: time.Now(),
		Services:  make(map[string]map[string]any),
	}

	overallHealthy := true

	storageStatus := h.checkStorage(c.Request.Context())
	response.Services["storage"] = storageStatus
	if !storageStatus["healthy"].(bool) {
		overallHealthy = false
	}

	if h.redisClient != nil {
		redisStatus := h.checkRedis()
		response.Services["redis"] = redisStatus
		if !redisStatus["healthy"].(bool) {
			overallHealthy = false
		}
	}

	if h.hub != nil {
		stats := h.hub.GetClientStats()
		response.Services["websocket"] = map[string]any{
			"healthy":       true,
			"clients":       stats.TotalClients,
			"subscriptions": stats.Subscriptions,
		}
	}

	if overallHealthy {
		response.Status = "healthy"
		c.JSON(http.StatusOK, response)
	} else {
		response.Status = "unhealthy"
		c.JSON(http.StatusServiceUnavailable, response)
	}
}

func (h *HealthHandler) checkStorage(ctx context.Context) map[string]any {
	status := map[string]any{
		"healthy": false,
	}

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := h.repo.Ping(ctx); err != nil {
		status["error"] = err.Error()
	} else {
		status["healthy"] = true
		status["message"] = "Connected"
	}
	return status
}

func (h *HealthHandler) checkRedis() map[string]any {
	healthStatus := h.redisClient.HealthCheck()
	status := map[string]any{
		"healthy":        healthStatus.IsConnected,
		"connectionInfo": healthStatus.ConnectionInfo,
		"responseTime":   healthStatus.ResponseTime.String(),
		"lastPing":       healthStatus.LastPing,
	}
	if healthStatus.Error != "" {
		status["error"] = healthStatus.Error
	}
	return status
}
