package routes

import (
	"fleet-sync/internal/api/handlers"
	"fleet-sync/internal/api/middleware"
	"fleet-sync/internal/repository"
	"fleet-sync/internal/services"
	"fleet-sync/internal/websocket"
	"fleet-sync/pkg/ratelimit"
	"fleet-sync/pkg/redis"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
)

// UploadsPath is where stored uploads are served.
const UploadsPath = "/uploads"

type Dependencies struct {
	Repository *repository.Repository
	Auth       *services.AuthService
	Fleet      *services.FleetService
	Hub        *websocket.Hub
	Limiter    ratelimit.RateLimiter
	Redis      *redis.Client
	UploadDir  string
}

// NewRouter builds the engine with logging, recovery and CORS, then mounts
// the routes.
func NewRouter(deps Dependencies, allowedOrigins []string) *gin.Engine {
	router := gin.New()
	router.Use(gin.Logger(), gin.Recovery())

	corsConfig := cors.Config{
		AllowMethods:  []string{"GET", "POST", "OPTIONS"},
		AllowHeaders:  []string{"Origin", "Content-Type", "Authorization", "Upgrade", "Connection", "Sec-WebSocket-Key", "Sec-WebSocket-Version", "Sec-WebSocket-Protocol"},
		ExposeHeaders: []string{"Content-Length", "Retry-After"},
	}

	// Handle wildcard origin for development
	if len(allowedOrigins) == 0 || (len(allowedOrigins) == 1 && allowedOrigins[0] == "*") {
		corsConfig.AllowAllOrigins = true
		corsConfig.AllowCredentials = false // Cannot use credentials with AllowAllOrigins
	} else {
		corsConfig.AllowOrigins = allowedOrigins
		corsConfig.AllowCredentials = true
	}
	router.Use(cors.New(corsConfig))

	SetupRoutes(router, deps)
	return router
}

func SetupRoutes(router *gin.Engine, deps Dependencies) {
	graphqlHandler := handlers.NewGraphQLHandler(deps.Auth, deps.Fleet, deps.Limiter)
	healthHandler := handlers.NewHealthHandler(deps.Repository, deps.Redis, deps.Hub)

	router.GET("/health", healthHandler.HealthCheck)

	api := router.Group("/graphql")
	api.POST("", middleware.AuthMiddleware(deps.Auth), graphqlHandler.Handle)

	if deps.Hub != nil {
		wsHandler := handlers.NewWebSocketHandler(deps.Hub)
		api.GET("/ws", wsHandler.HandleWebSocket)
		api.GET("/ws/clients", wsHandler.GetConnectedClients)
	}

	if deps.UploadDir != "" {
		router.Static(UploadsPath, deps.UploadDir)
	}
}
