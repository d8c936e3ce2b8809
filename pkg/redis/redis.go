package redis

import (
	"context"
	"fmt"
	"sync"
	"time"

	"fleet-sync/internal/config"

	"github.com/golang/glog"
	"github.com/redis/go-redis/v9"
)

// Client wraps a go-redis client with a health check loop and reconnection.
type Client struct {
	client        *redis.Client
	config        config.RedisConfig
	mu            sync.RWMutex
	isConnected   bool
	reconnectChan chan struct{}
	ctx           context.Context
	cancel        context.CancelFunc
}

type HealthStatus struct {
	IsConnected    bool          `json:"isConnected"`
	LastPing       time.Time     `json:"lastPing"`
	ResponseTime   time.Duration `json:"responseTime"`
	ConnectionInfo string        `json:"connectionInfo"`
	Error          string        `json:"error,omitempty"`
}

// NewClient connects using cfg and starts the background health and reconnect loops.
func NewClient(cfg config.RedisConfig) *Client {
	c := newClient(cfg)
	c.connect()
	c.startLoops()
	return c
}

// Wrap adopts an existing go-redis client, typically one pointed at miniredis in tests.
func Wrap(rdb *redis.Client, cfg config.RedisConfig) *Client {
	c := newClient(cfg)
	c.client = rdb
	c.isConnected = rdb.Ping(context.Background()).Err() == nil
	c.startLoops()
	return c
}

func newClient(cfg config.RedisConfig) *Client {
	ctx, cancel := context.WithCancel(context.Background())
	return &Client{
		config:        cfg,
		reconnectChan: make(chan struct{}, 1),
		ctx:           ctx,
		cancel:        cancel,
	}
}

func (c *Client) startLoops() {
	go c.healthCheckLoop()
	go c.reconnectLoop()
}

func (c *Client) connect() {
	var opt *redis.Options
	if c.config.URL != "" {
		parsed, err := redis.ParseURL(c.config.URL)
		if err != nil {
			glog.Warningf("Failed to parse Redis URL: %v, falling back to host:port", err)
		} else {
			opt = parsed
		}
	}
	if opt == nil {
		opt = &redis.Options{
			Addr:     c.address(),
			Password: c.config.Password,
			DB:       c.config.DB,
		}
	}
	opt.PoolSize = c.config.PoolSize
	opt.MinIdleConns = c.config.MinIdleConns
	opt.MaxRetries = c.config.MaxRetries
	opt.MinRetryBackoff = c.config.RetryDelay
	opt.DialTimeout = c.config.DialTimeout
	opt.ReadTimeout = c.config.ReadTimeout
	opt.WriteTimeout = c.config.WriteTimeout
	opt.PoolTimeout = c.config.PoolTimeout

	client := redis.NewClient(opt)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	err := client.Ping(ctx).Err()

	c.mu.Lock()
	c.client = client
	c.isConnected = err == nil
	c.mu.Unlock()

	if err != nil {
		glog.Warningf("Redis connection test failed: %v", err)
	} else {
		glog.Infof("Redis connected at %s", c.address())
	}
}

func (c *Client) address() string {
	return fmt.Sprintf("%s:%s", c.config.Host, c.config.Port)
}

// GetClient returns the current go-redis client.
func (c *Client) GetClient() *redis.Client {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.client
}

// KeyPrefix is prepended to every key written through this client.
func (c *Client) KeyPrefix() string {
	return c.config.KeyPrefix
}

func (c *Client) IsConnected() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.isConnected
}

// HealthCheck pings Redis and triggers a reconnect on failure.
func (c *Client) HealthCheck() HealthStatus {
	client := c.GetClient()
	status := HealthStatus{ConnectionInfo: c.address()}
	if client == nil {
		status.Error = "Redis client not initialized"
		return status
	}

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	start := time.Now()
	err := client.Ping(ctx).Err()
	status.ResponseTime = time.Since(start)
	status.LastPing = time.Now()

	c.mu.Lock()
	c.isConnected = err == nil
	c.mu.Unlock()

	if err != nil {
		status.Error = err.Error()
		c.triggerReconnect()
		return status
	}
	status.IsConnected = true
	return status
}

func (c *Client) triggerReconnect() {
	select {
	case c.reconnectChan <- struct{}{}:
	default:
	}
}

func (c *Client) healthCheckLoop() {
	interval := c.config.HealthCheckEvery
	if interval <= 0 {
		interval = 30 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-c.ctx.Done():
			return
		case <-ticker.C:
			if status := c.HealthCheck(); !status.IsConnected {
				glog.Warningf("Redis health check failed: %s", status.Error)
			}
		}
	}
}

// reconnectLoop reconnects with exponential backoff capped at 30s.
func (c *Client) reconnectLoop() {
	backoff := 1 * time.Second
	maxBackoff := 30 * time.Second

	for {
		select {
		case <-c.ctx.Done():
			return
		case <-c.reconnectChan:
			if c.IsConnected() {
				continue
			}
			glog.Infof("Attempting to reconnect to Redis...")

			c.mu.Lock()
			if c.client != nil {
				c.client.Close()
			}
			c.mu.Unlock()

			c.connect()
			if c.IsConnected() {
				glog.Infof("Successfully reconnected to Redis")
				backoff = 1 * time.Second
				continue
			}

			glog.Warningf("Reconnection failed, retrying in %v", backoff)
			select {
			case <-c.ctx.Done():
				return
			case <-time.After(backoff):
			}
			backoff *= 2
			if backoff > maxBackoff {
				backoff = maxBackoff
			}
			c.triggerReconnect()
		}
	}
}

func (c *Client) Close() error {
	c.cancel()

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.client != nil {
		return c.client.Close()
	}
	return nil
}
