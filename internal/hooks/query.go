// Package hooks binds the graphql client and the realtime channel to a
// reactive {Data, Loading, Err} state that views can render and observe.
package hooks

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"fleet-sync/pkg/graphql"

	"github.com/golang/glog"
)

type FetchPolicy string

const (
	CacheFirst      FetchPolicy = "cache-first"
	NetworkOnly     FetchPolicy = "network-only"
	CacheAndNetwork FetchPolicy = "cache-and-network"
)

// Client is the part of *graphql.Client the hooks call.
type Client interface {
	Query(ctx context.Context, op string, vars graphql.Variables, opts ...graphql.QueryOption) (json.RawMessage, error)
	Cached(op string, vars graphql.Variables) (json.RawMessage, bool)
	Mutate(ctx context.Context, op string, vars graphql.Variables, invalidatePatterns ...string) (json.RawMessage, error)
}

// Decoder turns the data object of a response into a typed result.
type Decoder[T any] func(data json.RawMessage) (T, error)

// FieldDecoder decodes the top-level field name.
func FieldDecoder[T any](name string) Decoder[T] {
	return func(data json.RawMessage) (T, error) {
		return graphql.Field[T](data, name)
	}
}

type State[T any] struct {
	Data    T
	HasData bool
	Loading bool
	Err     error
}

// Refetcher is anything a mutation can refresh after it succeeds.
type Refetcher interface {
	Refetch(ctx context.Context) error
}

type QueryOptions struct {
	Skip        bool
	FetchPolicy FetchPolicy
	// TTL overrides the cache lifetime of results stored by this query.
	TTL time.Duration
}

type Query[T any] struct {
	client Client
	decode Decoder[T]

	mu         sync.Mutex
	op         string
	vars       graphql.Variables
	key        string
	opts       QueryOptions
	state      State[T]
	generation int

	listeners listeners[State[T]]
}

func NewQuery[T any](client Client, op string, vars graphql.Variables, decode Decoder[T], opts QueryOptions) *Query[T] {
	if opts.FetchPolicy == "" {
		opts.FetchPolicy = CacheFirst
	}
	return &Query[T]{
		client: client,
		decode: decode,
		op:     op,
		vars:   vars,
		key:    graphql.CacheKey(op, vars),
		opts:   opts,
	}
}

func (q *Query[T]) State() State[T] {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.state
}

// Subscribe registers fn to run on every state change.
func (q *Query[T]) Subscribe(fn func(State[T])) func() {
	return q.listeners.add(fn)
}

// Run executes the query according to its fetch policy.
func (q *Query[T]) Run(ctx context.Context) error {
	q.mu.Lock()
	if q.opts.Skip {
		q.mu.Unlock()
		return nil
	}
	q.generation++
	gen, op, vars, policy := q.generation, q.op, q.vars, q.opts.FetchPolicy
	q.mu.Unlock()

	switch policy {
	case NetworkOnly:
		return q.fetch(ctx, gen, op, vars, true)
	case CacheAndNetwork:
		if data, ok := q.client.Cached(op, vars); ok {
			q.resolve(gen, data, true)
		}
		return q.fetch(ctx, gen, op, vars, true)
	default:
		if data, ok := q.client.Cached(op, vars); ok {
			return q.resolve(gen, data, false)
		}
		return q.fetch(ctx, gen, op, vars, false)
	}
}

// Refetch always goes to the network and refreshes the cache.
func (q *Query[T]) Refetch(ctx context.Context) error {
	q.mu.Lock()
	if q.opts.Skip {
		q.mu.Unlock()
		return nil
	}
	q.generation++
	gen, op, vars := q.generation, q.op, q.vars
	q.mu.Unlock()
	return q.fetch(ctx, gen, op, vars, true)
}

// SetVariables re-runs the query when the serialized variables change.
func (q *Query[T]) SetVariables(ctx context.Context, vars graphql.Variables) error {
	q.mu.Lock()
	key := graphql.CacheKey(q.op, vars)
	if key == q.key {
		q.mu.Unlock()
		return nil
	}
	q.vars, q.key = vars, key
	q.mu.Unlock()
	return q.Run(ctx)
}

// SetOperation re-runs the query when the operation text changes.
func (q *Query[T]) SetOperation(ctx context.Context, op string) error {
	q.mu.Lock()
	key := graphql.CacheKey(op, q.vars)
	if key == q.key {
		q.mu.Unlock()
		return nil
	}
	q.op, q.key = op, key
	q.mu.Unlock()
	return q.Run(ctx)
}

// SetSkip re-runs the query when skip is turned off.
func (q *Query[T]) SetSkip(ctx context.Context, skip bool) error {
	q.mu.Lock()
	if q.opts.Skip == skip {
		q.mu.Unlock()
		return nil
	}
	q.opts.Skip = skip
	q.mu.Unlock()
	if skip {
		return nil
	}
	return q.Run(ctx)
}

func (q *Query[T]) fetch(ctx context.Context, gen int, op string, vars graphql.Variables, skipCache bool) error {
	q.update(gen, func(s *State[T]) { s.Loading = true })

	q.mu.Lock()
	ttl := q.opts.TTL
	q.mu.Unlock()

	opts := []graphql.QueryOption{}
	if skipCache {
		opts = append(opts, graphql.SkipCache())
	}
	if ttl > 0 {
		opts = append(opts, graphql.WithTTL(ttl))
	}
	data, err := q.client.Query(ctx, op, vars, opts...)
	if err != nil {
		glog.Warningf("hooks: query %s failed: %v", op, err)
		q.update(gen, func(s *State[T]) {
			s.Loading = false
			s.Err = err
		})
		return err
	}
	return q.resolve(gen, data, false)
}

func (q *Query[T]) resolve(gen int, data json.RawMessage, loading bool) error {
	result, err := q.decode(data)
	q.update(gen, func(s *State[T]) {
		s.Loading = loading
		if err != nil {
			s.Err = err
			return
		}
		s.Data, s.HasData, s.Err = result, true, nil
	})
	if err != nil {
		glog.Warningf("hooks: failed to decode result: %v", err)
	}
	return err
}

// update applies fn unless a newer run has started since gen.
func (q *Query[T]) update(gen int, fn func(*State[T])) {
	q.mu.Lock()
	if gen != q.generation {
		q.mu.Unlock()
		return
	}
	fn(&q.state)
	state := q.state
	q.mu.Unlock()
	q.listeners.emit(state)
}

type listeners[S any] struct {
	mu     sync.Mutex
	nextID int
	fns    map[int]func(S)
}

func (l *listeners[S]) add(fn func(S)) func() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.fns == nil {
		l.fns = make(map[int]func(S))
	}
	id := l.nextID
	l.nextID++
	l.fns[id] = fn
	return func() {
		l.mu.Lock()
		delete(l.fns, id)
		l.mu.Unlock()
	}
}

func (l *listeners[S]) emit(state S) {
	l.mu.Lock()
	fns := make([]func(S), 0, len(l.fns))
	for _, fn := range l.fns {
		fns = append(fns, fn)
	}
	l.mu.Unlock()
	for _, fn := range fns {
		fn(state)
	}
}
