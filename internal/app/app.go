// Package app wires the sync layer together once and owns its lifecycle.
package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"fleet-sync/internal/config"
	"fleet-sync/internal/hooks"
	"fleet-sync/internal/models"
	"fleet-sync/internal/operations"
	"fleet-sync/internal/session"
	"fleet-sync/internal/store"
	"fleet-sync/pkg/batch"
	"fleet-sync/pkg/cache"
	"fleet-sync/pkg/graphql"
	"fleet-sync/pkg/kv"
	"fleet-sync/pkg/realtime"
	"fleet-sync/pkg/redis"

	"github.com/golang/glog"
	"github.com/jonboulle/clockwork"
)

type App struct {
	Config  *config.Config
	Storage kv.Store
	Cache   cache.Cache
	Client  *graphql.Client
	Session *session.Manager
	Store   *store.Store

	redis      *redis.Client
	clock      clockwork.Clock
	dialer     realtime.Dialer
	httpClient *http.Client

	ctx       context.Context
	cancel    context.CancelFunc
	refreshes *batch.Processor[string, operations.ChangeEvent]

	mu       sync.Mutex
	monitor  *session.Monitor
	channel  *realtime.Channel
	changes  *hooks.Subscription[operations.ChangeEvent]
	follow   context.Context
	unfollow context.CancelFunc
	onChange []func(operations.ChangeEvent)
	closed   bool
}

type Option func(*App)

func WithClock(clock clockwork.Clock) Option {
	return func(a *App) { a.clock = clock }
}

// WithStorage replaces the store named by STORAGE_DRIVER.
func WithStorage(storage kv.Store) Option {
	return func(a *App) { a.Storage = storage }
}

func WithDialer(dialer realtime.Dialer) Option {
	return func(a *App) { a.dialer = dialer }
}

func WithHTTPClient(httpClient *http.Client) Option {
	return func(a *App) { a.httpClient = httpClient }
}

// New builds every service from cfg. Nothing touches the network until Start.
func New(ctx context.Context, cfg *config.Config, opts ...Option) (*App, error) {
	a := &App{
		Config: cfg,
		clock:  clockwork.NewRealClock(),
		dialer: realtime.WebsocketDialer{},
	}
	for _, opt := range opts {
		opt(a)
	}
	if a.httpClient == nil {
		a.httpClient = &http.Client{Timeout: cfg.HTTPTimeout}
	}
	if (a.Storage == nil && cfg.StorageDriver == "redis") || cfg.CacheDriver == "redis" {
		a.redis = redis.NewClient(cfg.Redis)
	}

	if a.Storage == nil {
		storage, err := openStorage(ctx, cfg, a.redis)
		if err != nil {
			a.closeRedis()
			return nil, err
		}
		a.Storage = storage
	}

	cacheConfig := cache.CacheConfig{
		MaxEntries: cfg.CacheSize,
		DefaultTTL: cfg.CacheTTL,
		KeyPrefix:  cfg.Redis.KeyPrefix,
	}
	responses, err := cache.NewCache(cfg.CacheDriver, a.redis, cacheConfig, a.clock)
	if err != nil {
		a.Storage.Close()
		a.closeRedis()
		return nil, fmt.Errorf("failed to create cache: %w", err)
	}
	a.Cache = responses

	a.Client = graphql.NewClient(cfg.APIURL,
		graphql.WithHTTPClient(a.httpClient),
		graphql.WithCache(responses, cacheConfig),
		graphql.WithClock(a.clock),
	)
	a.Session = session.NewManager(a.Client, a.Storage, session.WithClock(a.clock))
	a.Client.SetCredentials(a.Session)

	a.Store = store.New(a.Client, a.Storage, store.WithClock(a.clock))
	// Change events stop before the collections are emptied.
	a.Session.Register(session.ClearerFunc(func(context.Context) error {
		a.stopRealtime()
		return nil
	}))
	a.Session.Register(a.Store)

	refreshConfig := cfg.Refresh
	if refreshConfig == (batch.Config{}) {
		refreshConfig = batch.DefaultConfig()
	}
	refreshes, err := batch.NewProcessor[string, operations.ChangeEvent](refreshConfig, batch.FlushFunc[string, operations.ChangeEvent](a.flushChanges), a.clock)
	if err != nil {
		a.Cache.Close()
		a.Storage.Close()
		a.closeRedis()
		return nil, fmt.Errorf("invalid refresh batching: %w", err)
	}
	a.refreshes = refreshes
	a.refreshes.Start()
	a.ctx, a.cancel = context.WithCancel(context.Background())

	return a, nil
}

func openStorage(ctx context.Context, cfg *config.Config, redisClient *redis.Client) (kv.Store, error) {
	switch cfg.StorageDriver {
	case "memory":
		return kv.NewMemoryStore(), nil
	case "sqlite":
		return kv.OpenSQLite(ctx, cfg.SQLitePath)
	case "redis":
		return kv.NewRedisStore(redisClient), nil
	}
	return nil, fmt.Errorf("unknown storage driver %q", cfg.StorageDriver)
}

// Start restores the session and the stored collections, then starts the
// session monitor and, when signed in, the change subscription.
func (a *App) Start(ctx context.Context) error {
	if err := a.Session.Restore(ctx); err != nil {
		return fmt.Errorf("failed to restore session: %w", err)
	}
	if err := a.Store.Load(ctx); err != nil {
		return fmt.Errorf("failed to load collections: %w", err)
	}

	a.mu.Lock()
	if a.monitor == nil && !a.closed {
		a.monitor = session.NewMonitor(a.Session, a.Config.SessionCheckInterval)
		go a.monitor.Start()
	}
	a.mu.Unlock()

	if a.Session.Active() {
		if err := a.startRealtime(); err != nil {
			glog.Warningf("app: realtime unavailable: %v", err)
		}
	}
	return nil
}

// SignIn opens a session and starts following changes.
func (a *App) SignIn(ctx context.Context, email, password string) (models.Identity, error) {
	identity, err := a.Session.SignIn(ctx, email, password)
	if err != nil {
		return models.Identity{}, err
	}
	if err := a.startRealtime(); err != nil {
		glog.Warningf("app: realtime unavailable: %v", err)
	}
	return identity, nil
}

// SignOut ends the session locally; the server is told in the background.
func (a *App) SignOut(ctx context.Context) error {
	return a.Session.SignOut(ctx)
}

// OnChange registers fn to run after each change event has been applied.
func (a *App) OnChange(fn func(operations.ChangeEvent)) {
	a.mu.Lock()
	a.onChange = append(a.onChange, fn)
	a.mu.Unlock()
}

// Realtime returns the current channel, or nil when not following changes.
func (a *App) Realtime() *realtime.Channel {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.channel
}

// RefreshStats reports how change events have been batched into reloads.
func (a *App) RefreshStats() batch.BatchStats {
	return a.refreshes.GetBatchStats()
}

func (a *App) startRealtime() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closed {
		return errors.New("app closed")
	}
	if a.channel != nil {
		select {
		case <-a.channel.Done():
			// Retries were exhausted; start over with a fresh channel.
		default:
			return nil
		}
	}

	channel := realtime.NewChannel(
		realtime.Config{URL: a.Config.RealtimeURL, MaxRetries: a.Config.RealtimeMaxRetries},
		a.dialer,
		a.Session.StoredCredential(),
		realtime.WithClock(a.clock),
		realtime.WithHooks(realtime.Hooks{
			OnRetry: func(attempt int, delay time.Duration) {
				glog.Infof("app: realtime reconnect attempt %d in %v", attempt, delay)
			},
		}),
	)
	decode := hooks.FieldDecoder[operations.ChangeEvent](operations.FieldChangements)
	changes, err := hooks.Subscribe(channel, operations.ChangesSubscription, nil, decode, a.applyChange)
	if err != nil {
		channel.Close()
		return err
	}
	a.channel = channel
	a.changes = changes
	a.follow, a.unfollow = context.WithCancel(a.ctx)
	return nil
}

func (a *App) stopRealtime() {
	a.mu.Lock()
	channel, changes, unfollow := a.channel, a.changes, a.unfollow
	a.channel, a.changes, a.follow, a.unfollow = nil, nil, nil, nil
	a.mu.Unlock()

	if unfollow != nil {
		unfollow()
	}
	if n := a.refreshes.Discard(); n > 0 {
		glog.V(1).Infof("app: dropped %d pending changes", n)
	}
	if changes != nil {
		changes.Close()
	}
	if channel != nil {
		channel.Close()
	}
}

// applyChange drops cached results of the changed collection and queues a
// reload. Events arriving together cost one reload per collection.
func (a *App) applyChange(event operations.ChangeEvent) {
	field, ok := operations.ListFieldFor(event.Entity)
	if !ok {
		glog.Warningf("app: ignoring change to unknown entity %q", event.Entity)
		return
	}
	a.Client.InvalidateCache(field)

	if err := a.refreshes.Add(event.Entity, event); err != nil {
		glog.V(1).Infof("app: change %s %s %s not queued: %v", event.Entity, event.Action, event.ID, err)
	}
}

// flushChanges reloads every collection named in batch, then tells the
// listeners. Reloaded entities leave the batch so a retry only sees the rest.
func (a *App) flushChanges(_ context.Context, changes map[string][]operations.ChangeEvent) error {
	a.mu.Lock()
	follow := a.follow
	listeners := append([]func(operations.ChangeEvent){}, a.onChange...)
	a.mu.Unlock()
	if follow == nil {
		return nil
	}

	ctx, cancel := context.WithTimeout(follow, a.Config.HTTPTimeout)
	defer cancel()

	var errs []error
	for entity, events := range changes {
		if err := a.Store.RefreshEntity(ctx, entity); err != nil {
			errs = append(errs, fmt.Errorf("refresh %s: %w", entity, err))
			continue
		}
		delete(changes, entity)
		for _, event := range events {
			for _, fn := range listeners {
				fn(event)
			}
		}
	}
	return errors.Join(errs...)
}

// Close stops background work and releases storage, cache and connections.
func (a *App) Close() error {
	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		return nil
	}
	a.closed = true
	monitor := a.monitor
	a.mu.Unlock()

	if monitor != nil {
		monitor.Stop()
	}
	a.stopRealtime()
	a.refreshes.Stop()
	a.cancel()
	a.Session.Wait()

	err := errors.Join(a.Cache.Close(), a.Storage.Close())
	a.closeRedis()
	return err
}

func (a *App) closeRedis() {
	if a.redis != nil {
		if err := a.redis.Close(); err != nil {
			glog.Warningf("app: failed to close redis: %v", err)
		}
	}
}
