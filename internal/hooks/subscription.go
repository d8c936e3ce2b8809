package hooks

import (
	"encoding/json"
	"sync"

	"fleet-sync/pkg/graphql"
	"fleet-sync/pkg/realtime"
)

type Subscriber interface {
	Subscribe(op string, vars graphql.Variables, handlers realtime.Handlers) (*realtime.Subscription, error)
}

// Subscription exposes the latest event of a realtime subscription.
type Subscription[T any] struct {
	decode Decoder[T]
	onData func(T)
	sub    *realtime.Subscription

	mu    sync.Mutex
	state State[T]
	done  bool

	listeners listeners[State[T]]
}

// Subscribe starts a subscription on ch. onData, when set, runs for every event.
func Subscribe[T any](ch Subscriber, op string, vars graphql.Variables, decode Decoder[T], onData func(T)) (*Subscription[T], error) {
	s := &Subscription[T]{
		decode: decode,
		onData: onData,
		state:  State[T]{Loading: true},
	}
	sub, err := ch.Subscribe(op, vars, realtime.Handlers{
		OnData:     s.handleData,
		OnError:    s.handleError,
		OnComplete: s.handleComplete,
	})
	if err != nil {
		return nil, err
	}
	s.sub = sub
	return s, nil
}

func (s *Subscription[T]) State() State[T] {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *Subscription[T]) Subscribe(fn func(State[T])) func() {
	return s.listeners.add(fn)
}

// Done reports whether the server completed the subscription or Close was called.
func (s *Subscription[T]) Done() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.done
}

// Close ends the subscription, and the channel with it when no other subscription remains.
func (s *Subscription[T]) Close() {
	s.mu.Lock()
	s.done = true
	s.mu.Unlock()
	s.sub.Unsubscribe()
}

func (s *Subscription[T]) handleData(data json.RawMessage) {
	event, err := s.decode(data)
	if err != nil {
		s.handleError(err)
		return
	}
	s.set(func(st *State[T]) {
		st.Data, st.HasData, st.Loading, st.Err = event, true, false, nil
	})
	if s.onData != nil {
		s.onData(event)
	}
}

func (s *Subscription[T]) handleError(err error) {
	s.set(func(st *State[T]) {
		st.Loading, st.Err = false, err
	})
}

func (s *Subscription[T]) handleComplete() {
	s.mu.Lock()
	s.done = true
	s.mu.Unlock()
	s.set(func(st *State[T]) { st.Loading = false })
}

func (s *Subscription[T]) set(fn func(*State[T])) {
	s.mu.Lock()
	fn(&s.state)
	state := s.state
	s.mu.Unlock()
	s.listeners.emit(state)
}
