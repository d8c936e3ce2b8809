package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"fleet-sync/pkg/graphql"

	"github.com/gorilla/websocket"
	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const changesSubscription = "subscription { changements { entite action id } }"

// scriptedConn records outgoing messages and fails on the first read.
type scriptedConn struct {
	mu      sync.Mutex
	written []Message
}

func (c *scriptedConn) ReadJSON(v interface{}) error {
	return errors.New("connection reset")
}

func (c *scriptedConn) WriteJSON(v interface{}) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.written = append(c.written, v.(Message))
	return nil
}

func (c *scriptedConn) Close() error {
	return nil
}

type scriptedDialer struct {
	mu    sync.Mutex
	fail  bool
	dials int
	conns []*scriptedConn
}

func (d *scriptedDialer) Dial(ctx context.Context, url string) (Conn, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.dials++
	if d.fail {
		return nil, errors.New("connection refused")
	}
	conn := &scriptedConn{}
	d.conns = append(d.conns, conn)
	return conn, nil
}

func (d *scriptedDialer) dialCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.dials
}

func waitFor[T any](t *testing.T, ch <-chan T) T {
	t.Helper()
	select {
	case v := <-ch:
		return v
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for event")
	}
	var zero T
	return zero
}

func waitDone(t *testing.T, ch *Channel) {
	t.Helper()
	select {
	case <-ch.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("channel did not stop")
	}
}

func TestBackoff(t *testing.T) {
	assert.Equal(t, 1000*time.Millisecond, Backoff(0))
	assert.Equal(t, 2000*time.Millisecond, Backoff(1))
	assert.Equal(t, 4000*time.Millisecond, Backoff(2))
	assert.Equal(t, 8000*time.Millisecond, Backoff(3))
	assert.Equal(t, 16000*time.Millisecond, Backoff(4))
	assert.Equal(t, 16000*time.Millisecond, Backoff(10))
	assert.Equal(t, 1000*time.Millisecond, Backoff(-1))
}

func TestChannelRetriesWithBackoffThenStops(t *testing.T) {
	clock := clockwork.NewFakeClock()
	dialer := &scriptedDialer{fail: true}
	retries := make(chan time.Duration, 10)

	ch := NewChannel(Config{URL: "ws://fleet.test/graphql", MaxRetries: 4}, dialer, nil,
		WithClock(clock),
		WithHooks(Hooks{OnRetry: func(attempt int, delay time.Duration) { retries <- delay }}),
	)
	_, err := ch.Subscribe(changesSubscription, nil, Handlers{})
	require.NoError(t, err)

	for _, want := range []time.Duration{1000 * time.Millisecond, 2000 * time.Millisecond, 4000 * time.Millisecond, 8000 * time.Millisecond} {
		got := waitFor(t, retries)
		assert.Equal(t, want, got)
		clock.BlockUntil(1)
		clock.Advance(got)
	}

	waitDone(t, ch)
	assert.ErrorIs(t, ch.Err(), ErrRetriesExhausted)
	assert.Equal(t, 5, dialer.dialCount())
	assert.Equal(t, StateDisconnected, ch.State())
	assert.Len(t, retries, 0)

	_, err = ch.Subscribe(changesSubscription, nil, Handlers{})
	assert.ErrorIs(t, err, ErrRetriesExhausted)
}

func TestChannelReadsCredentialOnEveryAttempt(t *testing.T) {
	clock := clockwork.NewFakeClock()
	dialer := &scriptedDialer{}
	retries := make(chan time.Duration, 10)

	var mu sync.Mutex
	token := "first"
	credentials := graphql.CredentialFunc(func(ctx context.Context) (string, error) {
		mu.Lock()
		defer mu.Unlock()
		return token, nil
	})

	ch := NewChannel(Config{URL: "ws://fleet.test/graphql", MaxRetries: 1}, dialer, credentials,
		WithClock(clock),
		WithHooks(Hooks{OnRetry: func(attempt int, delay time.Duration) { retries <- delay }}),
	)
	_, err := ch.Subscribe(changesSubscription, nil, Handlers{})
	require.NoError(t, err)

	delay := waitFor(t, retries)
	mu.Lock()
	token = "second"
	mu.Unlock()
	clock.BlockUntil(1)
	clock.Advance(delay)
	waitDone(t, ch)

	dialer.mu.Lock()
	defer dialer.mu.Unlock()
	require.Len(t, dialer.conns, 2)
	for i, want := range []string{"Bearer first", "Bearer second"} {
		conn := dialer.conns[i]
		require.NotEmpty(t, conn.written)
		init := conn.written[0]
		assert.Equal(t, MessageConnectionInit, init.Type)
		var payload map[string]string
		require.NoError(t, json.Unmarshal(init.Payload, &payload))
		assert.Equal(t, want, payload["Authorization"])
	}
}

func TestChannelWithoutCredentialSendsEmptyInit(t *testing.T) {
	dialer := &scriptedDialer{}
	ch := NewChannel(Config{URL: "ws://fleet.test/graphql"}, dialer, nil, WithClock(clockwork.NewFakeClock()))
	_, err := ch.Subscribe(changesSubscription, nil, Handlers{})
	require.NoError(t, err)
	waitDone(t, ch)

	dialer.mu.Lock()
	defer dialer.mu.Unlock()
	require.Len(t, dialer.conns, 1)
	assert.JSONEq(t, `{}`, string(dialer.conns[0].written[0].Payload))
}

func TestChannelCloseBeforeStart(t *testing.T) {
	ch := NewChannel(Config{URL: "ws://fleet.test/graphql"}, &scriptedDialer{}, nil)
	ch.Close()
	waitDone(t, ch)
	ch.Close()

	_, err := ch.Subscribe(changesSubscription, nil, Handlers{})
	assert.ErrorIs(t, err, ErrClosed)
}

// graphqlWSServer speaks the server side of the protocol for one test.
type graphqlWSServer struct {
	t        *testing.T
	mu       sync.Mutex
	sessions int
	received chan Message
	serve    func(session int, conn *websocket.Conn)
}

func (s *graphqlWSServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	upgrader := websocket.Upgrader{Subprotocols: []string{Subprotocol}}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	s.mu.Lock()
	s.sessions++
	session := s.sessions
	s.mu.Unlock()

	var init Message
	if err := conn.ReadJSON(&init); err != nil {
		return
	}
	s.received <- init
	if err := conn.WriteJSON(Message{Type: MessageConnectionAck}); err != nil {
		return
	}
	s.serve(session, conn)
}

func (s *graphqlWSServer) read(conn *websocket.Conn) (Message, bool) {
	var msg Message
	if err := conn.ReadJSON(&msg); err != nil {
		return msg, false
	}
	s.received <- msg
	return msg, true
}

func wsURL(server *httptest.Server) string {
	return "ws" + strings.TrimPrefix(server.URL, "http")
}

func TestChannelDeliversEvents(t *testing.T) {
	srv := &graphqlWSServer{t: t, received: make(chan Message, 20)}
	srv.serve = func(session int, conn *websocket.Conn) {
		sub, ok := srv.read(conn)
		if !ok {
			return
		}
		conn.WriteJSON(Message{ID: sub.ID, Type: MessageNext, Payload: json.RawMessage(`{"data":{"changements":{"entite":"vehicule","action":"creation","id":"7"}}}`)})
		conn.WriteJSON(Message{ID: sub.ID, Type: MessageError, Payload: json.RawMessage(`[{"message":"forbidden"}]`)})
		conn.WriteJSON(Message{Type: MessagePing})
		if _, ok := srv.read(conn); !ok {
			return
		}
		conn.WriteJSON(Message{ID: sub.ID, Type: MessageComplete})
		srv.read(conn)
	}
	server := httptest.NewServer(srv)
	defer server.Close()

	credentials := graphql.CredentialFunc(func(ctx context.Context) (string, error) { return "tok", nil })
	states := make(chan State, 10)
	ch := NewChannel(Config{URL: wsURL(server), MaxRetries: 0}, WebsocketDialer{}, credentials,
		WithHooks(Hooks{OnStateChange: func(s State) { states <- s }}),
	)

	data := make(chan json.RawMessage, 1)
	errs := make(chan error, 1)
	completed := make(chan struct{}, 1)
	sub, err := ch.Subscribe(changesSubscription, graphql.Variables{"entite": "vehicule"}, Handlers{
		OnData:     func(d json.RawMessage) { data <- d },
		OnError:    func(err error) { errs <- err },
		OnComplete: func() { completed <- struct{}{} },
	})
	require.NoError(t, err)
	assert.Equal(t, "1", sub.ID())

	init := waitFor(t, srv.received)
	assert.Equal(t, MessageConnectionInit, init.Type)
	assert.JSONEq(t, `{"Authorization":"Bearer tok"}`, string(init.Payload))

	subscribe := waitFor(t, srv.received)
	assert.Equal(t, MessageSubscribe, subscribe.Type)
	assert.Equal(t, "1", subscribe.ID)
	var payload SubscribePayload
	require.NoError(t, json.Unmarshal(subscribe.Payload, &payload))
	assert.Equal(t, changesSubscription, payload.Query)
	assert.Equal(t, "vehicule", payload.Variables["entite"])

	assert.JSONEq(t, `{"changements":{"entite":"vehicule","action":"creation","id":"7"}}`, string(waitFor(t, data)))

	var perr *graphql.ProtocolError
	require.ErrorAs(t, waitFor(t, errs), &perr)
	assert.Equal(t, "forbidden", perr.Message)

	pong := waitFor(t, srv.received)
	assert.Equal(t, MessagePong, pong.Type)

	waitFor(t, completed)
	waitDone(t, ch)

	assert.Equal(t, StateConnecting, waitFor(t, states))
	assert.Equal(t, StateConnected, waitFor(t, states))
	assert.Equal(t, StateDisconnected, waitFor(t, states))
}

func TestChannelResubscribesAfterReconnect(t *testing.T) {
	srv := &graphqlWSServer{t: t, received: make(chan Message, 20)}
	release := make(chan struct{})
	srv.serve = func(session int, conn *websocket.Conn) {
		sub, ok := srv.read(conn)
		if !ok {
			return
		}
		if session == 1 {
			return
		}
		conn.WriteJSON(Message{ID: sub.ID, Type: MessageNext, Payload: json.RawMessage(`{"data":{"changements":{"entite":"chauffeur","action":"suppression","id":"3"}}}`)})
		srv.read(conn)
		<-release
	}
	server := httptest.NewServer(srv)
	defer server.Close()
	defer close(release)

	clock := clockwork.NewFakeClock()
	retries := make(chan time.Duration, 10)
	ch := NewChannel(Config{URL: wsURL(server), MaxRetries: 1}, WebsocketDialer{}, nil,
		WithClock(clock),
		WithHooks(Hooks{OnRetry: func(attempt int, delay time.Duration) { retries <- delay }}),
	)

	data := make(chan json.RawMessage, 1)
	sub, err := ch.Subscribe(changesSubscription, nil, Handlers{OnData: func(d json.RawMessage) { data <- d }})
	require.NoError(t, err)

	waitFor(t, srv.received)
	first := waitFor(t, srv.received)
	assert.Equal(t, MessageSubscribe, first.Type)

	delay := waitFor(t, retries)
	assert.Equal(t, 1000*time.Millisecond, delay)
	clock.BlockUntil(1)
	clock.Advance(delay)

	waitFor(t, srv.received)
	second := waitFor(t, srv.received)
	assert.Equal(t, MessageSubscribe, second.Type)
	assert.Equal(t, first.ID, second.ID)

	assert.JSONEq(t, `{"changements":{"entite":"chauffeur","action":"suppression","id":"3"}}`, string(waitFor(t, data)))
	assert.Equal(t, StateConnected, ch.State())

	sub.Unsubscribe()
	complete := waitFor(t, srv.received)
	assert.Equal(t, MessageComplete, complete.Type)
	assert.Equal(t, sub.ID(), complete.ID)
	waitDone(t, ch)
	assert.NoError(t, ch.Err())
}
