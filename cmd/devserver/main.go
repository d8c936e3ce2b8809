package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"fleet-sync/internal/api/routes"
	"fleet-sync/internal/config"
	"fleet-sync/internal/models"
	"fleet-sync/internal/repository"
	"fleet-sync/internal/services"
	"fleet-sync/internal/websocket"
	"fleet-sync/pkg/cleanup"
	"fleet-sync/pkg/database"
	"fleet-sync/pkg/jwt"
	"fleet-sync/pkg/ratelimit"
	"fleet-sync/pkg/redis"

	"github.com/golang/glog"
)

func main() {
	flag.Parse()
	defer glog.Flush()

	cfg, err := config.Load()
	if err != nil {
		glog.Exitf("Failed to load configuration: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	repo := repository.NewMemoryRepository()
	if cfg.Server.MongoURI != "" {
		db, err := database.Connect(ctx, cfg.Server.MongoURI)
		if err != nil {
			glog.Exitf("Failed to connect to database: %v", err)
		}
		repo = repository.NewMongoRepository(db)
	} else {
		glog.Infof("MONGO_URI not set, keeping records in memory")
	}
	defer repo.Close(context.Background())

	var redisClient *redis.Client
	var limiter ratelimit.RateLimiter
	var housekeeping []cleanup.Task
	switch cfg.Server.RateLimit {
	case "memory":
		memoryLimiter := ratelimit.NewMemoryRateLimiter(nil, nil)
		housekeeping = append(housekeeping, cleanup.Task{
			Name: "rate limit buckets",
			Run:  func() (int, error) { return memoryLimiter.Cleanup(), nil },
		})
		limiter = memoryLimiter
	case "redis":
		redisClient = redis.NewClient(cfg.Redis)
		defer redisClient.Close()

		healthStatus := redisClient.HealthCheck()
		if healthStatus.IsConnected {
			glog.Infof("Redis connected successfully at %s", healthStatus.ConnectionInfo)
		} else {
			glog.Warningf("Redis connection failed: %s (will retry automatically)", healthStatus.Error)
		}
		limiter = ratelimit.NewRedisRateLimiter(redisClient, nil, nil)
	}

	auth := services.NewAuthService(repo.Users, jwt.NewJWTUtil(cfg.Server.JWTSecret, cfg.Server.JWTExpiry))
	seed := models.Identity{
		Email:          cfg.Server.SeedEmail,
		Role:           "admin",
		OrganizationID: "1",
		LastName:       "Admin",
	}
	if err := auth.EnsureUser(ctx, seed, cfg.Server.SeedPassword); err != nil {
		glog.Exitf("Failed to seed user: %v", err)
	}

	housekeeping = append(housekeeping, cleanup.Task{Name: "revoked tokens", Run: auth.PruneRevoked})
	janitor := cleanup.NewCleanupService(cfg.Server.CleanupInterval, nil, housekeeping...)
	go janitor.Start()
	defer janitor.Stop()

	hub := websocket.NewHub(func(token string) error {
		_, err := auth.Authenticate(token)
		return err
	})
	hub.Start()
	defer hub.Stop()

	uploads := services.DiskUploads{Dir: cfg.Server.UploadDir, URLPrefix: routes.UploadsPath}
	fleet := services.NewFleetService(repo, hub, uploads)

	router := routes.NewRouter(routes.Dependencies{
		Repository: repo,
		Auth:       auth,
		Fleet:      fleet,
		Hub:        hub,
		Limiter:    limiter,
		Redis:      redisClient,
		UploadDir:  cfg.Server.UploadDir,
	}, cfg.Server.AllowedOrigins)

	server := &http.Server{
		Addr:              ":" + cfg.Server.Port,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			glog.Errorf("Server shutdown: %v", err)
		}
	}()

	glog.Infof("Server starting on port %s", cfg.Server.Port)
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		glog.Errorf("Server failed: %v", err)
	}
}
