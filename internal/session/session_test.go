package session

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"testing"
	"time"

	"fleet-sync/internal/models"
	"fleet-sync/internal/operations"
	"fleet-sync/internal/store"
	"fleet-sync/pkg/graphql"
	"fleet-sync/pkg/jwt"
	"fleet-sync/pkg/kv"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

// MockRemote is a mock implementation of the Remote interface
type MockRemote struct {
	mock.Mock
}

func (m *MockRemote) Request(ctx context.Context, op string, vars graphql.Variables) (json.RawMessage, error) {
	args := m.Called(op, vars)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(json.RawMessage), args.Error(1)
}

func (m *MockRemote) InvalidateCache(patterns ...string) {
	m.Called(patterns)
}

var testIdentity = models.Identity{ID: "u1", Role: "gestionnaire", OrganizationID: "org-1", Email: "gestion@flotte.sn"}

func newTestManager(t *testing.T, clock clockwork.Clock) (*Manager, *MockRemote, *kv.MemoryStore) {
	t.Helper()
	remote := &MockRemote{}
	storage := kv.NewMemoryStore()
	return NewManager(remote, storage, WithClock(clock)), remote, storage
}

func storeSession(t *testing.T, storage kv.Store, token string, identity models.Identity) {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, storage.Set(ctx, KeyCredential, token))
	require.NoError(t, kv.SetJSON(ctx, storage, KeyIdentity, identity))
}

func TestIsAuthError(t *testing.T) {
	tests := []struct {
		err  error
		want bool
	}{
		{&graphql.ProtocolError{Message: "Not authenticated"}, true},
		{&graphql.ProtocolError{Message: "You are not authorized to view this"}, true},
		{&graphql.ProtocolError{Message: "token expired"}, true},
		{&graphql.TransportError{StatusCode: http.StatusUnauthorized}, true},
		{&graphql.TransportError{StatusCode: http.StatusBadGateway}, false},
		{&graphql.ProtocolError{Message: "vehicle not found"}, false},
		{errors.New("dial tcp: connection refused"), false},
		{nil, false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, IsAuthError(tt.err), "%v", tt.err)
	}
}

func TestRestore(t *testing.T) {
	ctx := context.Background()

	t.Run("both halves", func(t *testing.T) {
		m, _, storage := newTestManager(t, clockwork.NewFakeClock())
		storeSession(t, storage, "tok", testIdentity)

		require.NoError(t, m.Restore(ctx))
		assert.False(t, m.Restoring())
		assert.True(t, m.Active())
		identity, ok := m.Identity()
		require.True(t, ok)
		assert.Equal(t, testIdentity, identity)
		token, err := m.Credential(ctx)
		require.NoError(t, err)
		assert.Equal(t, "tok", token)
	})

	t.Run("credential without identity", func(t *testing.T) {
		m, _, storage := newTestManager(t, clockwork.NewFakeClock())
		require.NoError(t, storage.Set(ctx, KeyCredential, "tok"))

		require.NoError(t, m.Restore(ctx))
		assert.False(t, m.Active())
	})

	t.Run("unreadable identity", func(t *testing.T) {
		m, _, storage := newTestManager(t, clockwork.NewFakeClock())
		require.NoError(t, storage.Set(ctx, KeyCredential, "tok"))
		require.NoError(t, storage.Set(ctx, KeyIdentity, "{"))

		require.NoError(t, m.Restore(ctx))
		assert.False(t, m.Active())
	})
}

func TestSignIn(t *testing.T) {
	ctx := context.Background()
	m, remote, storage := newTestManager(t, clockwork.NewFakeClock())
	remote.On("Request", operations.SignIn, graphql.Variables{"email": "gestion@flotte.sn", "motDePasse": "secret"}).
		Return(json.RawMessage(`{"connexion":{"token":"tok-1","utilisateur":{"id":"u1","role":"gestionnaire","organisationId":"org-1","email":"gestion@flotte.sn"}}}`), nil)

	identity, err := m.SignIn(ctx, "gestion@flotte.sn", "secret")
	require.NoError(t, err)
	assert.Equal(t, testIdentity, identity)
	assert.True(t, m.Active())

	token, ok, err := storage.Get(ctx, KeyCredential)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "tok-1", token)

	stored, err := m.StoredCredential().Credential(ctx)
	require.NoError(t, err)
	assert.Equal(t, "tok-1", stored)

	var persisted models.Identity
	found, err := kv.GetJSON(ctx, storage, KeyIdentity, &persisted)
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, testIdentity, persisted)
}

func TestSignInRejected(t *testing.T) {
	m, remote, storage := newTestManager(t, clockwork.NewFakeClock())
	remote.On("Request", operations.SignIn, mock.Anything).Return(nil, &graphql.ProtocolError{Message: "invalid credentials", Count: 1})

	_, err := m.SignIn(context.Background(), "gestion@flotte.sn", "wrong")
	assert.Equal(t, "invalid credentials", graphql.ErrorMessage(err))
	assert.False(t, m.Active())
	_, ok, _ := storage.Get(context.Background(), KeyCredential)
	assert.False(t, ok)
}

func TestUpdateIdentity(t *testing.T) {
	ctx := context.Background()
	m, _, storage := newTestManager(t, clockwork.NewFakeClock())
	assert.ErrorIs(t, m.UpdateIdentity(ctx, testIdentity), ErrNoSession)

	storeSession(t, storage, "tok", testIdentity)
	require.NoError(t, m.Restore(ctx))

	renamed := testIdentity
	renamed.LastName = "Fall"
	require.NoError(t, m.UpdateIdentity(ctx, renamed))
	identity, _ := m.Identity()
	assert.Equal(t, "Fall", identity.LastName)

	var persisted models.Identity
	_, err := kv.GetJSON(ctx, storage, KeyIdentity, &persisted)
	require.NoError(t, err)
	assert.Equal(t, "Fall", persisted.LastName)
}

func TestSignOutClearsLocallyThenNotifiesServer(t *testing.T) {
	ctx := context.Background()
	m, remote, storage := newTestManager(t, clockwork.NewFakeClock())
	storeSession(t, storage, "tok", testIdentity)
	require.NoError(t, m.Restore(ctx))

	release := make(chan struct{})
	remote.On("InvalidateCache", []string(nil)).Return()
	remote.On("Request", operations.SignOut, graphql.Variables(nil)).
		Run(func(mock.Arguments) { <-release }).
		Return(nil, errors.New("network down"))

	var reasons []error
	m.OnSignOut(func(reason error) { reasons = append(reasons, reason) })

	require.NoError(t, m.SignOut(ctx))

	// The local phase is complete while the server call is still blocked.
	assert.False(t, m.Active())
	_, ok, _ := storage.Get(ctx, KeyCredential)
	assert.False(t, ok)
	_, ok, _ = storage.Get(ctx, KeyIdentity)
	assert.False(t, ok)
	assert.Equal(t, []error{nil}, reasons)
	remote.AssertCalled(t, "InvalidateCache", []string(nil))

	close(release)
	m.Wait()
	remote.AssertExpectations(t)
}

func TestSignOutWithoutSessionSkipsServer(t *testing.T) {
	m, remote, _ := newTestManager(t, clockwork.NewFakeClock())
	remote.On("InvalidateCache", []string(nil)).Return()

	require.NoError(t, m.SignOut(context.Background()))
	m.Wait()
	remote.AssertNotCalled(t, "Request", mock.Anything, mock.Anything)
}

func TestForcedLogoutClearsEverything(t *testing.T) {
	ctx := context.Background()
	m, remote, storage := newTestManager(t, clockwork.NewFakeClock())
	storeSession(t, storage, "tok", testIdentity)
	require.NoError(t, m.Restore(ctx))

	domain := store.New(nil, storage)
	require.NoError(t, kv.SetJSON(ctx, storage, store.KeyDrivers, []models.Driver{{ID: "1"}}))
	require.NoError(t, kv.SetJSON(ctx, storage, store.KeyVehicles, []models.Vehicle{{ID: "7"}}))
	require.NoError(t, kv.SetJSON(ctx, storage, store.KeyReports, []models.Report{{ID: "5"}}))
	require.NoError(t, domain.Load(ctx))
	m.Register(domain)

	remote.On("Request", operations.Me, graphql.Variables{"id": "u1"}).
		Return(nil, &graphql.ProtocolError{Message: "Not authenticated", Count: 1})
	remote.On("InvalidateCache", []string(nil)).Return()

	var reason error
	m.OnSignOut(func(r error) { reason = r })

	err := m.Check(ctx)
	assert.True(t, IsAuthError(err))
	assert.Equal(t, err, reason)

	assert.False(t, m.Active())
	token, _ := m.Credential(ctx)
	assert.Empty(t, token)
	_, ok := m.Identity()
	assert.False(t, ok)

	assert.Empty(t, domain.Drivers())
	assert.Empty(t, domain.Vehicles())
	assert.Empty(t, domain.Reports())
	for _, key := range append(store.Keys(), KeyCredential, KeyIdentity) {
		_, ok, err := storage.Get(ctx, key)
		require.NoError(t, err)
		assert.False(t, ok, key)
	}
	remote.AssertCalled(t, "InvalidateCache", []string(nil))
	remote.AssertNotCalled(t, "Request", operations.SignOut, mock.Anything)
}

func TestCheck(t *testing.T) {
	ctx := context.Background()

	t.Run("no session", func(t *testing.T) {
		m, remote, _ := newTestManager(t, clockwork.NewFakeClock())
		assert.NoError(t, m.Check(ctx))
		remote.AssertNotCalled(t, "Request", mock.Anything, mock.Anything)
	})

	t.Run("other errors are ignored", func(t *testing.T) {
		m, remote, storage := newTestManager(t, clockwork.NewFakeClock())
		storeSession(t, storage, "tok", testIdentity)
		require.NoError(t, m.Restore(ctx))
		remote.On("Request", operations.Me, mock.Anything).Return(nil, &graphql.TransportError{StatusCode: http.StatusBadGateway})

		assert.NoError(t, m.Check(ctx))
		assert.True(t, m.Active())
	})

	t.Run("stored credential removed", func(t *testing.T) {
		m, remote, storage := newTestManager(t, clockwork.NewFakeClock())
		storeSession(t, storage, "tok", testIdentity)
		require.NoError(t, m.Restore(ctx))
		require.NoError(t, storage.Remove(ctx, KeyCredential))
		remote.On("InvalidateCache", []string(nil)).Return()

		assert.ErrorIs(t, m.Check(ctx), ErrCredentialRemoved)
		assert.False(t, m.Active())
		remote.AssertNotCalled(t, "Request", mock.Anything, mock.Anything)
	})

	t.Run("expired token", func(t *testing.T) {
		token, err := jwt.NewJWTUtil("secret", "1h").GenerateToken("u1", testIdentity.Email, testIdentity.Role, testIdentity.OrganizationID)
		require.NoError(t, err)

		m, remote, storage := newTestManager(t, clockwork.NewFakeClockAt(time.Now().Add(2*time.Hour)))
		storeSession(t, storage, token, testIdentity)
		require.NoError(t, m.Restore(ctx))
		remote.On("InvalidateCache", []string(nil)).Return()

		assert.ErrorIs(t, m.Check(ctx), ErrCredentialExpired)
		assert.False(t, m.Active())
	})

	t.Run("skipped while restoring", func(t *testing.T) {
		m, remote, storage := newTestManager(t, clockwork.NewFakeClock())
		storeSession(t, storage, "tok", testIdentity)
		require.NoError(t, m.Restore(ctx))
		require.NoError(t, storage.Remove(ctx, KeyCredential))

		m.restoring.Store(true)
		assert.NoError(t, m.Check(ctx))
		assert.True(t, m.Active())
		remote.AssertNotCalled(t, "InvalidateCache", mock.Anything)
	})

	t.Run("failed clearing is reported", func(t *testing.T) {
		m, remote, storage := newTestManager(t, clockwork.NewFakeClock())
		storeSession(t, storage, "tok", testIdentity)
		require.NoError(t, m.Restore(ctx))
		require.NoError(t, storage.Remove(ctx, KeyCredential))
		remote.On("InvalidateCache", []string(nil)).Return()

		errDisk := errors.New("disk full")
		var order []string
		m.Register(ClearerFunc(func(context.Context) error {
			order = append(order, "first")
			return errDisk
		}))
		m.Register(ClearerFunc(func(context.Context) error {
			order = append(order, "second")
			return nil
		}))

		err := m.Check(ctx)
		assert.ErrorIs(t, err, ErrCredentialRemoved)
		assert.ErrorIs(t, err, errDisk)
		assert.Equal(t, []string{"first", "second"}, order)
		assert.False(t, m.Active())
	})

	t.Run("valid token", func(t *testing.T) {
		token, err := jwt.NewJWTUtil("secret", "1h").GenerateToken("u1", testIdentity.Email, testIdentity.Role, testIdentity.OrganizationID)
		require.NoError(t, err)

		m, remote, storage := newTestManager(t, clockwork.NewFakeClockAt(time.Now()))
		storeSession(t, storage, token, testIdentity)
		require.NoError(t, m.Restore(ctx))
		remote.On("Request", operations.Me, graphql.Variables{"id": "u1"}).
			Return(json.RawMessage(`{"utilisateur":{"id":"u1","role":"gestionnaire","organisationId":"org-1","email":"gestion@flotte.sn"}}`), nil)

		assert.NoError(t, m.Check(ctx))
		assert.True(t, m.Active())
	})
}

func TestMonitorChecksOnIdentityChangeAndInterval(t *testing.T) {
	ctx := context.Background()
	clock := clockwork.NewFakeClock()
	m, remote, storage := newTestManager(t, clock)
	storeSession(t, storage, "tok", testIdentity)
	require.NoError(t, m.Restore(ctx))

	checks := make(chan struct{}, 10)
	remote.On("Request", operations.Me, mock.Anything).
		Run(func(mock.Arguments) { checks <- struct{}{} }).
		Return(json.RawMessage(`{"utilisateur":{"id":"u1"}}`), nil)

	monitor := NewMonitor(m, DefaultCheckInterval)
	go monitor.Start()
	defer monitor.Stop()

	wait := func() {
		select {
		case <-checks:
		case <-time.After(2 * time.Second):
			t.Fatal("expected a session check")
		}
	}

	// Restore changed the identity.
	wait()

	clock.Advance(DefaultCheckInterval)
	wait()

	require.NoError(t, m.UpdateIdentity(ctx, testIdentity))
	wait()
}
