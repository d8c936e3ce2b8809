package graphql

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"fleet-sync/pkg/cache"

	"github.com/golang/glog"
	"github.com/jonboulle/clockwork"
)

const (
	defaultHttpTimeout        = 60 * time.Second
	defaultHttpConnectTimeout = 5 * time.Second
	defaultHttpTlsTimeout     = 5 * time.Second
)

func defaultHTTPClient(timeout time.Duration) *http.Client {
	dialer := &net.Dialer{
		Timeout: defaultHttpConnectTimeout,
	}
	transport := &http.Transport{
		DialContext:         dialer.DialContext,
		TLSHandshakeTimeout: defaultHttpTlsTimeout,
	}
	return &http.Client{
		Transport: transport,
		Timeout:   timeout,
	}
}

// CredentialSource supplies the bearer credential for each outgoing request.
// An empty credential means the request is sent unauthenticated.
type CredentialSource interface {
	Credential(ctx context.Context) (string, error)
}

type CredentialFunc func(ctx context.Context) (string, error)

func (f CredentialFunc) Credential(ctx context.Context) (string, error) {
	return f(ctx)
}

// Variables are the arguments of an operation.
type Variables map[string]any

type requestBody struct {
	Query     string    `json:"query"`
	Variables Variables `json:"variables,omitempty"`
}

type responseBody struct {
	Data   json.RawMessage `json:"data,omitempty"`
	Errors []struct {
		Message    string         `json:"message"`
		Extensions map[string]any `json:"extensions,omitempty"`
	} `json:"errors,omitempty"`
}

// Client issues operations against a single endpoint and caches query results.
type Client struct {
	endpoint    string
	httpClient  *http.Client
	credentials CredentialSource
	cache       cache.Cache
	cacheConfig cache.CacheConfig
	clock       clockwork.Clock

	// cacheMu orders result stores against invalidations; cacheGen counts
	// invalidations so a result fetched across one is not stored.
	cacheMu  sync.Mutex
	cacheGen uint64
}

type Option func(*Client)

func WithHTTPClient(httpClient *http.Client) Option {
	return func(c *Client) { c.httpClient = httpClient }
}

func WithCredentials(source CredentialSource) Option {
	return func(c *Client) { c.credentials = source }
}

func WithCache(store cache.Cache, config cache.CacheConfig) Option {
	return func(c *Client) {
		c.cache = store
		c.cacheConfig = config
	}
}

func WithClock(clock clockwork.Clock) Option {
	return func(c *Client) { c.clock = clock }
}

func NewClient(endpoint string, opts ...Option) *Client {
	c := &Client{
		endpoint:    endpoint,
		cacheConfig: cache.DefaultCacheConfig(),
		clock:       clockwork.NewRealClock(),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.httpClient == nil {
		c.httpClient = defaultHTTPClient(defaultHttpTimeout)
	}
	if c.cache == nil {
		c.cache = cache.NewDefaultCache()
	}
	return c
}

// SetCredentials replaces the credential source after construction.
func (c *Client) SetCredentials(source CredentialSource) {
	c.credentials = source
}

// Request performs one network call, bypassing the cache.
func (c *Client) Request(ctx context.Context, op string, vars Variables) (json.RawMessage, error) {
	body, err := json.Marshal(requestBody{Query: op, Variables: vars})
	if err != nil {
		return nil, fmt.Errorf("failed to encode request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, &TransportError{Err: err}
	}
	req.Header.Set("Content-Type", "application/json")
	if err := c.authorize(ctx, req); err != nil {
		return nil, err
	}
	return c.do(req, operationName(op))
}

type credentialKey struct{}

// ContextWithCredential pins the credential used by requests made with ctx,
// taking precedence over the client's CredentialSource.
func ContextWithCredential(ctx context.Context, token string) context.Context {
	return context.WithValue(ctx, credentialKey{}, token)
}

func (c *Client) authorize(ctx context.Context, req *http.Request) error {
	token, pinned := ctx.Value(credentialKey{}).(string)
	if !pinned {
		if c.credentials == nil {
			return nil
		}
		var err error
		if token, err = c.credentials.Credential(ctx); err != nil {
			return fmt.Errorf("failed to read credential: %w", err)
		}
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	return nil
}

func (c *Client) do(req *http.Request, name string) (json.RawMessage, error) {
	start := c.clock.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, &TransportError{Err: err}
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &TransportError{StatusCode: resp.StatusCode, Err: err}
	}
	glog.V(2).Infof("graphql: %s -> %d in %v", name, resp.StatusCode, c.clock.Since(start))

	var parsed responseBody
	decodeErr := json.Unmarshal(raw, &parsed)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		terr := &TransportError{StatusCode: resp.StatusCode}
		if decodeErr == nil && len(parsed.Errors) > 0 {
			terr.Message = parsed.Errors[0].Message
		}
		return nil, terr
	}
	if decodeErr != nil {
		return nil, fmt.Errorf("%w: %v", ErrShapeMismatch, decodeErr)
	}
	if len(parsed.Errors) > 0 {
		return nil, &ProtocolError{
			Message:    parsed.Errors[0].Message,
			Extensions: parsed.Errors[0].Extensions,
			Count:      len(parsed.Errors),
		}
	}
	if len(parsed.Data) == 0 || bytes.Equal(parsed.Data, []byte("null")) {
		return nil, ErrNoData
	}
	return parsed.Data, nil
}

type queryOptions struct {
	skipCache bool
	ttl       time.Duration
}

type QueryOption func(*queryOptions)

// SkipCache forces a network call; the result still refreshes the cache.
func SkipCache() QueryOption {
	return func(o *queryOptions) { o.skipCache = true }
}

// WithTTL overrides the default time-to-live for the stored result.
func WithTTL(ttl time.Duration) QueryOption {
	return func(o *queryOptions) { o.ttl = ttl }
}

// Query serves from the cache when a fresh entry exists, otherwise performs
// the request and stores the result.
func (c *Client) Query(ctx context.Context, op string, vars Variables, opts ...QueryOption) (json.RawMessage, error) {
	var o queryOptions
	for _, opt := range opts {
		opt(&o)
	}

	key := CacheKey(op, vars)
	if !o.skipCache {
		if data, ok := c.lookup(key); ok {
			return data, nil
		}
	}

	c.cacheMu.Lock()
	gen := c.cacheGen
	c.cacheMu.Unlock()

	data, err := c.Request(ctx, op, vars)
	if err != nil {
		return nil, err
	}

	c.cacheMu.Lock()
	defer c.cacheMu.Unlock()
	if gen != c.cacheGen {
		glog.V(2).Infof("graphql: cache invalidated during %s, result not stored", operationName(op))
		return data, nil
	}
	entry := cache.Entry{
		Key:      key,
		Payload:  data,
		StoredAt: c.clock.Now(),
		TTL:      c.cacheConfig.TTLOrDefault(o.ttl),
	}
	if err := c.cache.Set(entry); err != nil {
		glog.Warningf("graphql: failed to cache %s: %v", operationName(op), err)
	}
	return data, nil
}

// Cached returns the cached result for op and vars without touching the network.
func (c *Client) Cached(op string, vars Variables) (json.RawMessage, bool) {
	return c.lookup(CacheKey(op, vars))
}

func (c *Client) lookup(key string) (json.RawMessage, bool) {
	entry, ok, err := c.cache.Get(key)
	if err != nil {
		glog.Warningf("graphql: cache read failed: %v", err)
		return nil, false
	}
	if !ok {
		return nil, false
	}
	return entry.Payload, true
}

// Mutate performs the request and, on success, evicts every cache entry whose
// key contains one of invalidatePatterns.
func (c *Client) Mutate(ctx context.Context, op string, vars Variables, invalidatePatterns ...string) (json.RawMessage, error) {
	data, err := c.Request(ctx, op, vars)
	if err != nil {
		return nil, err
	}
	for _, pattern := range invalidatePatterns {
		c.invalidate(pattern)
	}
	return data, nil
}

// InvalidateCache clears the whole cache when no pattern is given, otherwise
// only the entries matching each pattern.
func (c *Client) InvalidateCache(patterns ...string) {
	if len(patterns) == 0 {
		c.cacheMu.Lock()
		defer c.cacheMu.Unlock()
		c.cacheGen++
		if err := c.cache.Clear(); err != nil {
			glog.Warningf("graphql: failed to clear cache: %v", err)
		}
		return
	}
	for _, pattern := range patterns {
		c.invalidate(pattern)
	}
}

func (c *Client) invalidate(pattern string) {
	c.cacheMu.Lock()
	defer c.cacheMu.Unlock()
	c.cacheGen++
	removed, err := c.cache.Invalidate(pattern)
	if err != nil {
		glog.Warningf("graphql: failed to invalidate %q: %v", pattern, err)
		return
	}
	glog.V(2).Infof("graphql: invalidated %d entries matching %q", removed, pattern)
}

// CacheKey derives the cache key from whitespace-normalized operation text and
// the JSON encoding of vars. encoding/json sorts map keys, so equal variables
// always produce the same key.
func CacheKey(op string, vars Variables) string {
	encoded, err := json.Marshal(vars)
	if err != nil {
		encoded = []byte(fmt.Sprintf("%v", vars))
	}
	return normalize(op) + "|" + string(encoded)
}

func normalize(op string) string {
	return strings.Join(strings.Fields(op), " ")
}

// operationName returns the declared operation name, or the first word of op.
func operationName(op string) string {
	fields := strings.Fields(strings.NewReplacer("{", " ", "(", " ").Replace(op))
	if len(fields) >= 2 && (fields[0] == "query" || fields[0] == "mutation" || fields[0] == "subscription") {
		return fields[1]
	}
	if len(fields) > 0 {
		return fields[0]
	}
	return "anonymous"
}
