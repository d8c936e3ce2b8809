package config

import (
	"errors"
	"fmt"
	"io/fs"
	"time"

	"fleet-sync/pkg/batch"

	"github.com/caarlos0/env/v11"
	"github.com/golang/glog"
	"github.com/joho/godotenv"
)

type Config struct {
	APIURL      string `env:"API_URL" envDefault:"http://localhost:8080/graphql"`
	RealtimeURL string `env:"REALTIME_URL" envDefault:"ws://localhost:8080/graphql/ws"`

	StorageDriver string `env:"STORAGE_DRIVER" envDefault:"sqlite"`
	SQLitePath    string `env:"SQLITE_PATH" envDefault:"fleet-sync.db"`

	CacheDriver string        `env:"CACHE_DRIVER" envDefault:"memory"`
	CacheSize   int           `env:"CACHE_SIZE" envDefault:"512"`
	CacheTTL    time.Duration `env:"CACHE_TTL" envDefault:"5m"`

	SessionCheckInterval time.Duration `env:"SESSION_CHECK_INTERVAL" envDefault:"2m"`
	RealtimeMaxRetries   int           `env:"REALTIME_MAX_RETRIES" envDefault:"5"`
	HTTPTimeout          time.Duration `env:"HTTP_TIMEOUT" envDefault:"60s"`
	Locale               string        `env:"LOCALE" envDefault:"fr"`

	// Refresh batches change events before collections are reloaded.
	Refresh batch.Config `envPrefix:"REFRESH_BATCH_"`

	Redis RedisConfig `envPrefix:"REDIS_"`

	Server ServerConfig
}

// ServerConfig configures cmd/devserver.
type ServerConfig struct {
	Port           string   `env:"PORT" envDefault:"8080"`
	MongoURI       string   `env:"MONGO_URI"`
	JWTSecret      string   `env:"JWT_SECRET"`
	JWTExpiry      string   `env:"JWT_EXPIRY" envDefault:"24h"`
	AllowedOrigins []string `env:"ALLOWED_ORIGINS" envSeparator:"," envDefault:"*"`
	SeedEmail      string   `env:"SEED_EMAIL" envDefault:"admin@fleet.local"`
	SeedPassword   string   `env:"SEED_PASSWORD" envDefault:"admin123"`
	UploadDir      string   `env:"UPLOAD_DIR" envDefault:"uploads"`
	RateLimit      string   `env:"RATE_LIMIT_DRIVER" envDefault:"memory"`

	CleanupInterval time.Duration `env:"CLEANUP_INTERVAL" envDefault:"10m"`
}

type RedisConfig struct {
	URL              string        `env:"URL"`
	Host             string        `env:"HOST" envDefault:"localhost"`
	Port             string        `env:"PORT" envDefault:"6379"`
	Password         string        `env:"PASSWORD"`
	DB               int           `env:"DB" envDefault:"0"`
	KeyPrefix        string        `env:"KEY_PREFIX" envDefault:"fleet-sync:"`
	PoolSize         int           `env:"POOL_SIZE" envDefault:"10"`
	MinIdleConns     int           `env:"MIN_IDLE_CONNS" envDefault:"2"`
	MaxRetries       int           `env:"MAX_RETRIES" envDefault:"3"`
	RetryDelay       time.Duration `env:"RETRY_DELAY" envDefault:"1s"`
	DialTimeout      time.Duration `env:"DIAL_TIMEOUT" envDefault:"5s"`
	ReadTimeout      time.Duration `env:"READ_TIMEOUT" envDefault:"3s"`
	WriteTimeout     time.Duration `env:"WRITE_TIMEOUT" envDefault:"3s"`
	PoolTimeout      time.Duration `env:"POOL_TIMEOUT" envDefault:"4s"`
	HealthCheckEvery time.Duration `env:"HEALTH_CHECK_INTERVAL" envDefault:"30s"`
}

// Load reads an optional .env file and then the process environment.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		glog.Warningf("Error loading .env file: %v", err)
	}

	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse environment: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) Validate() error {
	switch c.StorageDriver {
	case "memory", "sqlite", "redis":
	default:
		return fmt.Errorf("unknown STORAGE_DRIVER %q", c.StorageDriver)
	}
	switch c.CacheDriver {
	case "memory", "redis":
	default:
		return fmt.Errorf("unknown CACHE_DRIVER %q", c.CacheDriver)
	}
	switch c.Server.RateLimit {
	case "off", "memory", "redis":
	default:
		return fmt.Errorf("unknown RATE_LIMIT_DRIVER %q", c.Server.RateLimit)
	}
	if c.Server.CleanupInterval <= 0 {
		return errors.New("CLEANUP_INTERVAL must be greater than 0")
	}
	if c.CacheSize <= 0 {
		return errors.New("CACHE_SIZE must be greater than 0")
	}
	if c.RealtimeMaxRetries < 0 {
		return errors.New("REALTIME_MAX_RETRIES must be greater than or equal to 0")
	}
	if err := batch.ValidateConfig(c.Refresh); err != nil {
		return fmt.Errorf("REFRESH_BATCH: %w", err)
	}
	return nil
}
