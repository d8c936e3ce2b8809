package hooks

import (
	"context"
	"sync"

	"fleet-sync/pkg/graphql"

	"github.com/golang/glog"
)

type MutationOptions[T any] struct {
	OnCompleted func(T)
	OnError     func(error)
	// RefetchQueries are refreshed after every successful mutation.
	RefetchQueries     []Refetcher
	InvalidatePatterns []string
}

type Mutation[T any] struct {
	client Client
	op     string
	decode Decoder[T]
	opts   MutationOptions[T]

	mu    sync.Mutex
	state State[T]
}

func NewMutation[T any](client Client, op string, decode Decoder[T], opts MutationOptions[T]) *Mutation[T] {
	return &Mutation[T]{client: client, op: op, decode: decode, opts: opts}
}

func (m *Mutation[T]) State() State[T] {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

func (m *Mutation[T]) Mutate(ctx context.Context, vars graphql.Variables) (T, error) {
	m.mu.Lock()
	m.state.Loading = true
	m.state.Err = nil
	m.mu.Unlock()

	result, err := m.run(ctx, vars)

	m.mu.Lock()
	m.state.Loading = false
	if err != nil {
		m.state.Err = err
	} else {
		m.state.Data, m.state.HasData = result, true
	}
	m.mu.Unlock()

	if err != nil {
		glog.Warningf("hooks: mutation failed: %v", err)
		if m.opts.OnError != nil {
			m.opts.OnError(err)
		}
		return result, err
	}

	for _, q := range m.opts.RefetchQueries {
		if err := q.Refetch(ctx); err != nil {
			glog.Warningf("hooks: refetch after mutation failed: %v", err)
		}
	}
	if m.opts.OnCompleted != nil {
		m.opts.OnCompleted(result)
	}
	return result, nil
}

func (m *Mutation[T]) run(ctx context.Context, vars graphql.Variables) (T, error) {
	data, err := m.client.Mutate(ctx, m.op, vars, m.opts.InvalidatePatterns...)
	if err != nil {
		var zero T
		return zero, err
	}
	return m.decode(data)
}
