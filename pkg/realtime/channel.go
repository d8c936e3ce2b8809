package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"fleet-sync/pkg/graphql"

	"github.com/golang/glog"
	"github.com/jonboulle/clockwork"
)

type State int

const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
	StateReconnecting
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateReconnecting:
		return "reconnecting"
	default:
		return "disconnected"
	}
}

var (
	ErrClosed           = errors.New("realtime channel closed")
	ErrRetriesExhausted = errors.New("realtime reconnect attempts exhausted")
)

const (
	baseRetryDelay = 1000 * time.Millisecond
	maxRetryDelay  = 16000 * time.Millisecond
)

// Backoff returns min(1000ms * 2^attempt, 16000ms).
func Backoff(attempt int) time.Duration {
	if attempt < 0 {
		attempt = 0
	}
	if attempt >= 5 {
		return maxRetryDelay
	}
	d := baseRetryDelay << attempt
	if d > maxRetryDelay {
		return maxRetryDelay
	}
	return d
}

type Config struct {
	URL        string
	MaxRetries int
}

// Hooks observe the channel lifecycle. Both are optional.
type Hooks struct {
	OnStateChange func(State)
	OnRetry       func(attempt int, delay time.Duration)
}

// Handlers receive the events of one subscription.
type Handlers struct {
	OnData     func(data json.RawMessage)
	OnError    func(err error)
	OnComplete func()
}

// Channel multiplexes subscriptions over a single connection and reconnects
// with bounded exponential backoff. It starts on the first Subscribe and
// stops when the last subscription is removed, Close is called or retries
// are exhausted. A stopped channel is not restarted; create a new one.
type Channel struct {
	config      Config
	dialer      Dialer
	credentials graphql.CredentialSource
	clock       clockwork.Clock
	hooks       Hooks

	mu      sync.Mutex
	state   State
	conn    Conn
	subs    map[string]*Subscription
	nextID  int
	started bool
	stopped bool
	err     error

	writeMu sync.Mutex

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
}

type Option func(*Channel)

func WithClock(clock clockwork.Clock) Option {
	return func(c *Channel) { c.clock = clock }
}

func WithHooks(hooks Hooks) Option {
	return func(c *Channel) { c.hooks = hooks }
}

// NewChannel creates an idle channel. credentials is consulted on every
// connection attempt.
func NewChannel(config Config, dialer Dialer, credentials graphql.CredentialSource, opts ...Option) *Channel {
	ctx, cancel := context.WithCancel(context.Background())
	c := &Channel{
		config:      config,
		dialer:      dialer,
		credentials: credentials,
		clock:       clockwork.NewRealClock(),
		subs:        make(map[string]*Subscription),
		ctx:         ctx,
		cancel:      cancel,
		done:        make(chan struct{}),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Subscription is the handle of one live subscription.
type Subscription struct {
	id       string
	payload  SubscribePayload
	handlers Handlers
	channel  *Channel
	once     sync.Once
}

func (s *Subscription) ID() string {
	return s.id
}

// Unsubscribe stops delivery and tears down the channel if this was the last subscription.
func (s *Subscription) Unsubscribe() {
	s.once.Do(func() {
		s.channel.remove(s.id, true)
	})
}

func (c *Channel) Subscribe(op string, vars graphql.Variables, handlers Handlers) (*Subscription, error) {
	c.mu.Lock()
	if c.stopped {
		err := c.err
		c.mu.Unlock()
		if err == nil {
			err = ErrClosed
		}
		return nil, err
	}
	c.nextID++
	sub := &Subscription{
		id:       strconv.Itoa(c.nextID),
		payload:  SubscribePayload{Query: op, Variables: vars},
		handlers: handlers,
		channel:  c,
	}
	c.subs[sub.id] = sub
	conn, connected := c.conn, c.conn != nil && c.state == StateConnected
	start := !c.started
	c.started = true
	c.mu.Unlock()

	if start {
		go c.run()
	} else if connected {
		if err := c.sendSubscribe(conn, sub); err != nil {
			glog.Warningf("realtime: failed to send subscribe %s: %v", sub.id, err)
		}
	}
	return sub, nil
}

func (c *Channel) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Done is closed once the channel has stopped for good.
func (c *Channel) Done() <-chan struct{} {
	return c.done
}

// Err reports why the channel stopped; nil while running or after Close.
func (c *Channel) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.err
}

// Close tears down the connection and every subscription.
func (c *Channel) Close() {
	c.mu.Lock()
	started := c.started
	c.started = true
	c.stopped = true
	c.mu.Unlock()

	c.cancel()
	if !started {
		close(c.done)
	}
}

func (c *Channel) remove(id string, notify bool) {
	c.mu.Lock()
	_, ok := c.subs[id]
	delete(c.subs, id)
	remaining := len(c.subs)
	conn, connected := c.conn, c.conn != nil && c.state == StateConnected
	c.mu.Unlock()

	if ok && notify && connected {
		if err := c.write(conn, Message{ID: id, Type: MessageComplete}); err != nil {
			glog.V(2).Infof("realtime: failed to send complete %s: %v", id, err)
		}
	}
	if remaining == 0 {
		c.Close()
	}
}

func (c *Channel) setState(state State) {
	c.mu.Lock()
	changed := c.state != state
	c.state = state
	c.mu.Unlock()

	if changed {
		c.notifyState(state)
	}
}

func (c *Channel) notifyState(state State) {
	glog.V(2).Infof("realtime: %s", state)
	if c.hooks.OnStateChange != nil {
		c.hooks.OnStateChange(state)
	}
}

func (c *Channel) run() {
	defer close(c.done)
	defer c.setState(StateDisconnected)

	attempt := 0
	for {
		c.setState(StateConnecting)
		acked, err := c.connectAndServe()
		if c.ctx.Err() != nil {
			return
		}
		if acked {
			attempt = 0
		}
		glog.Warningf("realtime: connection lost: %v", err)

		if attempt >= c.config.MaxRetries {
			glog.Warningf("realtime: giving up after %d attempts", attempt)
			c.mu.Lock()
			c.stopped = true
			c.err = ErrRetriesExhausted
			c.mu.Unlock()
			return
		}

		delay := Backoff(attempt)
		attempt++
		c.setState(StateReconnecting)
		if c.hooks.OnRetry != nil {
			c.hooks.OnRetry(attempt, delay)
		}

		select {
		case <-c.ctx.Done():
			return
		case <-c.clock.After(delay):
		}
	}
}

// connectAndServe runs one connection attempt until the connection ends.
// acked reports whether the server accepted the connection.
func (c *Channel) connectAndServe() (acked bool, err error) {
	var token string
	if c.credentials != nil {
		if token, err = c.credentials.Credential(c.ctx); err != nil {
			return false, fmt.Errorf("failed to read credential: %w", err)
		}
	}

	conn, err := c.dialer.Dial(c.ctx, c.config.URL)
	if err != nil {
		return false, err
	}

	connDone := make(chan struct{})
	defer close(connDone)
	go func() {
		select {
		case <-c.ctx.Done():
			conn.Close()
		case <-connDone:
		}
	}()
	defer conn.Close()

	initPayload := map[string]string{}
	if token != "" {
		initPayload["Authorization"] = "Bearer " + token
	}
	raw, _ := json.Marshal(initPayload)
	if err := c.write(conn, Message{Type: MessageConnectionInit, Payload: raw}); err != nil {
		return false, err
	}

	var ack Message
	if err := conn.ReadJSON(&ack); err != nil {
		return false, err
	}
	if ack.Type != MessageConnectionAck {
		return false, fmt.Errorf("expected %s, got %s", MessageConnectionAck, ack.Type)
	}

	// Subscriptions added after the snapshot are sent by Subscribe itself.
	c.mu.Lock()
	c.conn = conn
	c.state = StateConnected
	subs := make([]*Subscription, 0, len(c.subs))
	for _, sub := range c.subs {
		subs = append(subs, sub)
	}
	c.mu.Unlock()
	defer func() {
		c.mu.Lock()
		c.conn = nil
		c.mu.Unlock()
	}()

	c.notifyState(StateConnected)
	for _, sub := range subs {
		if err := c.sendSubscribe(conn, sub); err != nil {
			return true, err
		}
	}

	for {
		var msg Message
		if err := conn.ReadJSON(&msg); err != nil {
			return true, err
		}
		c.dispatch(conn, msg)
	}
}

func (c *Channel) dispatch(conn Conn, msg Message) {
	if msg.Type == MessagePing {
		if err := c.write(conn, Message{Type: MessagePong}); err != nil {
			glog.V(2).Infof("realtime: failed to send pong: %v", err)
		}
		return
	}

	c.mu.Lock()
	sub, ok := c.subs[msg.ID]
	c.mu.Unlock()
	if !ok {
		return
	}

	switch msg.Type {
	case MessageNext:
		var next NextPayload
		if err := json.Unmarshal(msg.Payload, &next); err != nil {
			sub.emitError(fmt.Errorf("%w: %v", graphql.ErrShapeMismatch, err))
			return
		}
		if len(next.Errors) > 0 {
			sub.emitError(&graphql.ProtocolError{Message: next.Errors[0].Message, Count: len(next.Errors)})
			return
		}
		if sub.handlers.OnData != nil {
			sub.handlers.OnData(next.Data)
		}
	case MessageError:
		sub.emitError(decodeErrors(msg.Payload))
	case MessageComplete:
		c.remove(msg.ID, false)
		if sub.handlers.OnComplete != nil {
			sub.handlers.OnComplete()
		}
	}
}

func (s *Subscription) emitError(err error) {
	glog.Warningf("realtime: subscription %s: %v", s.id, err)
	if s.handlers.OnError != nil {
		s.handlers.OnError(err)
	}
}

func decodeErrors(payload json.RawMessage) error {
	var errs []struct {
		Message string `json:"message"`
	}
	if err := json.Unmarshal(payload, &errs); err != nil || len(errs) == 0 {
		return &graphql.ProtocolError{Message: "subscription error", Count: 1}
	}
	return &graphql.ProtocolError{Message: errs[0].Message, Count: len(errs)}
}

func (c *Channel) sendSubscribe(conn Conn, sub *Subscription) error {
	raw, err := json.Marshal(sub.payload)
	if err != nil {
		return err
	}
	return c.write(conn, Message{ID: sub.id, Type: MessageSubscribe, Payload: raw})
}

func (c *Channel) write(conn Conn, msg Message) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return conn.WriteJSON(msg)
}
