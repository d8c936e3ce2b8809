package graphql

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"fleet-sync/pkg/cache"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const listDrivers = `query Chauffeurs {
  chauffeurs { id nom }
}`

const listVehicles = `query Vehicules { vehicules { id immatriculation } }`

type recordingServer struct {
	*httptest.Server
	calls    atomic.Int32
	lastAuth atomic.Value
	lastBody atomic.Value
	respond  func(w http.ResponseWriter, body requestBody)
}

func newRecordingServer(t *testing.T, respond func(w http.ResponseWriter, body requestBody)) *recordingServer {
	rs := &recordingServer{respond: respond}
	rs.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rs.calls.Add(1)
		rs.lastAuth.Store(r.Header.Get("Authorization"))
		var body requestBody
		raw, _ := io.ReadAll(r.Body)
		rs.lastBody.Store(string(raw))
		_ = json.Unmarshal(raw, &body)
		rs.respond(w, body)
	}))
	t.Cleanup(rs.Close)
	return rs
}

func okData(payload string) func(http.ResponseWriter, requestBody) {
	return func(w http.ResponseWriter, _ requestBody) {
		w.Header().Set("Content-Type", "application/json")
		io.WriteString(w, `{"data":`+payload+`}`)
	}
}

func newTestClient(t *testing.T, url string, clock clockwork.Clock, opts ...Option) *Client {
	store, err := cache.NewMemoryCache(cache.DefaultCacheConfig(), clock)
	require.NoError(t, err)
	base := []Option{WithCache(store, cache.DefaultCacheConfig()), WithClock(clock)}
	return NewClient(url, append(base, opts...)...)
}

func TestQuery_CachesWithinTTL(t *testing.T) {
	server := newRecordingServer(t, okData(`{"chauffeurs":[{"id":"1","nom":"Diallo"}]}`))
	clock := clockwork.NewFakeClock()
	client := newTestClient(t, server.URL, clock)
	ctx := context.Background()

	_, err := client.Query(ctx, listDrivers, nil)
	require.NoError(t, err)
	_, err = client.Query(ctx, listDrivers, nil)
	require.NoError(t, err)
	assert.Equal(t, int32(1), server.calls.Load(), "second identical query must be served from cache")

	clock.Advance(5 * time.Minute)

	_, err = client.Query(ctx, listDrivers, nil)
	require.NoError(t, err)
	assert.Equal(t, int32(2), server.calls.Load(), "expired entry must trigger a network call")
}

func TestQuery_PerRequestTTLAndSkipCache(t *testing.T) {
	server := newRecordingServer(t, okData(`{"chauffeurs":[]}`))
	clock := clockwork.NewFakeClock()
	client := newTestClient(t, server.URL, clock)
	ctx := context.Background()

	_, err := client.Query(ctx, listDrivers, nil, WithTTL(10*time.Second))
	require.NoError(t, err)

	clock.Advance(11 * time.Second)
	_, err = client.Query(ctx, listDrivers, nil)
	require.NoError(t, err)
	assert.Equal(t, int32(2), server.calls.Load())

	_, err = client.Query(ctx, listDrivers, nil, SkipCache())
	require.NoError(t, err)
	assert.Equal(t, int32(3), server.calls.Load())
}

func TestQuery_KeyIncludesVariables(t *testing.T) {
	server := newRecordingServer(t, okData(`{"chauffeur":{"id":"1"}}`))
	client := newTestClient(t, server.URL, clockwork.NewFakeClock())
	ctx := context.Background()
	op := `query Chauffeur($id: ID!) { chauffeur(id: $id) { id } }`

	_, err := client.Query(ctx, op, Variables{"id": "1"})
	require.NoError(t, err)
	_, err = client.Query(ctx, op, Variables{"id": "2"})
	require.NoError(t, err)
	_, err = client.Query(ctx, op, Variables{"id": "1"})
	require.NoError(t, err)

	assert.Equal(t, int32(2), server.calls.Load())
}

func TestMutate_InvalidatesMatchingEntries(t *testing.T) {
	server := newRecordingServer(t, func(w http.ResponseWriter, body requestBody) {
		switch {
		case strings.Contains(body.Query, "chauffeurs"):
			io.WriteString(w, `{"data":{"chauffeurs":[]}}`)
		case strings.Contains(body.Query, "vehicules"):
			io.WriteString(w, `{"data":{"vehicules":[]}}`)
		default:
			io.WriteString(w, `{"data":{"supprimerChauffeur":true}}`)
		}
	})
	client := newTestClient(t, server.URL, clockwork.NewFakeClock())
	ctx := context.Background()

	_, err := client.Query(ctx, listDrivers, nil)
	require.NoError(t, err)
	_, err = client.Query(ctx, listVehicles, nil)
	require.NoError(t, err)
	require.Equal(t, int32(2), server.calls.Load())

	_, err = client.Mutate(ctx, `mutation Supprimer($id: ID!) { supprimerChauffeur(id: $id) }`, Variables{"id": "1"}, "chauffeurs")
	require.NoError(t, err)
	require.Equal(t, int32(3), server.calls.Load())

	_, err = client.Query(ctx, listDrivers, nil)
	require.NoError(t, err)
	assert.Equal(t, int32(4), server.calls.Load(), "chauffeurs entry must have been invalidated")

	_, err = client.Query(ctx, listVehicles, nil)
	require.NoError(t, err)
	assert.Equal(t, int32(4), server.calls.Load(), "vehicules entry must survive")
}

func TestInvalidateCache_ClearsEverything(t *testing.T) {
	server := newRecordingServer(t, okData(`{"vehicules":[]}`))
	client := newTestClient(t, server.URL, clockwork.NewFakeClock())
	ctx := context.Background()

	_, err := client.Query(ctx, listVehicles, nil)
	require.NoError(t, err)
	_, ok := client.Cached(listVehicles, nil)
	assert.True(t, ok)

	client.InvalidateCache()

	_, ok = client.Cached(listVehicles, nil)
	assert.False(t, ok)
}

func TestQuery_ClearDuringRequestDropsResult(t *testing.T) {
	entered := make(chan struct{})
	release := make(chan struct{})
	server := newRecordingServer(t, func(w http.ResponseWriter, _ requestBody) {
		close(entered)
		<-release
		io.WriteString(w, `{"data":{"vehicules":[{"id":"7","immatriculation":"AB-123"}]}}`)
	})
	client := newTestClient(t, server.URL, clockwork.NewFakeClock())

	done := make(chan error, 1)
	go func() {
		_, err := client.Query(context.Background(), listVehicles, nil)
		done <- err
	}()

	<-entered
	client.InvalidateCache()
	close(release)
	require.NoError(t, <-done)

	_, ok := client.Cached(listVehicles, nil)
	assert.False(t, ok, "a result fetched across a clear must not be cached")
}

func TestRequest_AttachesBearerCredential(t *testing.T) {
	server := newRecordingServer(t, okData(`{"ok":true}`))
	token := "abc"
	client := newTestClient(t, server.URL, clockwork.NewFakeClock(), WithCredentials(CredentialFunc(func(context.Context) (string, error) {
		return token, nil
	})))

	_, err := client.Request(context.Background(), `query { ok }`, nil)
	require.NoError(t, err)
	assert.Equal(t, "Bearer abc", server.lastAuth.Load())

	token = ""
	_, err = client.Request(context.Background(), `query { ok }`, nil)
	require.NoError(t, err)
	assert.Equal(t, "", server.lastAuth.Load())
}

func TestRequest_PinnedCredentialOverridesSource(t *testing.T) {
	server := newRecordingServer(t, okData(`{"deconnexion":true}`))
	client := newTestClient(t, server.URL, clockwork.NewFakeClock(), WithCredentials(CredentialFunc(func(context.Context) (string, error) {
		return "", nil
	})))

	ctx := ContextWithCredential(context.Background(), "old-token")
	_, err := client.Request(ctx, `mutation { deconnexion }`, nil)
	require.NoError(t, err)
	assert.Equal(t, "Bearer old-token", server.lastAuth.Load())

	unauthenticated := NewClient(server.URL)
	_, err = unauthenticated.Request(ctx, `mutation { deconnexion }`, nil)
	require.NoError(t, err)
	assert.Equal(t, "Bearer old-token", server.lastAuth.Load())
}

func TestRequest_ErrorClasses(t *testing.T) {
	t.Run("ProtocolError", func(t *testing.T) {
		server := newRecordingServer(t, func(w http.ResponseWriter, _ requestBody) {
			io.WriteString(w, `{"errors":[{"message":"not authenticated"},{"message":"second"}]}`)
		})
		client := newTestClient(t, server.URL, clockwork.NewFakeClock())

		_, err := client.Request(context.Background(), `query { ok }`, nil)
		var perr *ProtocolError
		require.ErrorAs(t, err, &perr)
		assert.Equal(t, "not authenticated", perr.Message)
		assert.Equal(t, 2, perr.Count)
	})

	t.Run("NoData", func(t *testing.T) {
		server := newRecordingServer(t, func(w http.ResponseWriter, _ requestBody) {
			io.WriteString(w, `{"data":null}`)
		})
		client := newTestClient(t, server.URL, clockwork.NewFakeClock())

		_, err := client.Request(context.Background(), `query { ok }`, nil)
		assert.ErrorIs(t, err, ErrNoData)
	})

	t.Run("Non2xx", func(t *testing.T) {
		server := newRecordingServer(t, func(w http.ResponseWriter, _ requestBody) {
			w.WriteHeader(http.StatusBadGateway)
		})
		client := newTestClient(t, server.URL, clockwork.NewFakeClock())

		_, err := client.Request(context.Background(), `query { ok }`, nil)
		var terr *TransportError
		require.ErrorAs(t, err, &terr)
		assert.Equal(t, http.StatusBadGateway, terr.StatusCode)
		assert.Contains(t, err.Error(), "502")
	})

	t.Run("Unreachable", func(t *testing.T) {
		server := newRecordingServer(t, okData(`{}`))
		url := server.URL
		server.Close()
		client := newTestClient(t, url, clockwork.NewFakeClock())

		_, err := client.Request(context.Background(), `query { ok }`, nil)
		var terr *TransportError
		require.ErrorAs(t, err, &terr)
		assert.NotNil(t, errors.Unwrap(err))
	})
}

func TestQuery_FailureIsNotCached(t *testing.T) {
	fail := atomic.Bool{}
	fail.Store(true)
	server := newRecordingServer(t, func(w http.ResponseWriter, _ requestBody) {
		if fail.Load() {
			io.WriteString(w, `{"errors":[{"message":"boom"}]}`)
			return
		}
		io.WriteString(w, `{"data":{"chauffeurs":[]}}`)
	})
	client := newTestClient(t, server.URL, clockwork.NewFakeClock())
	ctx := context.Background()

	_, err := client.Query(ctx, listDrivers, nil)
	require.Error(t, err)

	fail.Store(false)
	_, err = client.Query(ctx, listDrivers, nil)
	require.NoError(t, err)
	assert.Equal(t, int32(2), server.calls.Load())
}

func TestCacheKey_NormalizesWhitespace(t *testing.T) {
	a := CacheKey("query  Chauffeurs {\n chauffeurs { id } }", Variables{"b": 1, "a": 2})
	b := CacheKey("query Chauffeurs { chauffeurs { id } }", Variables{"a": 2, "b": 1})
	assert.Equal(t, a, b)
	assert.Contains(t, a, "chauffeurs")
}

func TestOperationName(t *testing.T) {
	assert.Equal(t, "Chauffeurs", operationName(listDrivers))
	assert.Equal(t, "Supprimer", operationName(`mutation Supprimer($id: ID!) { x }`))
	assert.Equal(t, "anonymous", operationName(""))
}
