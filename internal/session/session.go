// Package session persists the signed-in credential and identity and forces
// a clean logout when the server stops accepting them.
package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"fleet-sync/internal/models"
	"fleet-sync/internal/operations"
	"fleet-sync/pkg/graphql"
	"fleet-sync/pkg/jwt"
	"fleet-sync/pkg/kv"

	"github.com/golang/glog"
	"github.com/jonboulle/clockwork"
)

const (
	KeyCredential = "session.credential"
	KeyIdentity   = "session.identity"
)

var (
	ErrNoSession         = errors.New("no active session")
	ErrCredentialRemoved = errors.New("stored credential was removed")
	ErrCredentialExpired = errors.New("credential expired")
)

const signOutTimeout = 10 * time.Second

// authErrorMarkers are matched case-insensitively against server error messages.
var authErrorMarkers = []string{"not authenticated", "authorized", "expired"}

// IsAuthError reports whether err means the server no longer accepts the credential.
func IsAuthError(err error) bool {
	if err == nil {
		return false
	}
	var terr *graphql.TransportError
	if errors.As(err, &terr) && terr.StatusCode == http.StatusUnauthorized {
		return true
	}
	msg := strings.ToLower(graphql.ErrorMessage(err))
	for _, marker := range authErrorMarkers {
		if strings.Contains(msg, marker) {
			return true
		}
	}
	return false
}

// Remote is the part of *graphql.Client the session calls.
type Remote interface {
	Request(ctx context.Context, op string, vars graphql.Variables) (json.RawMessage, error)
	InvalidateCache(patterns ...string)
}

// Clearer is state derived from the session that must go when it ends.
type Clearer interface {
	Reset(ctx context.Context) error
}

type ClearerFunc func(ctx context.Context) error

func (f ClearerFunc) Reset(ctx context.Context) error {
	return f(ctx)
}

type Manager struct {
	remote  Remote
	storage kv.Store
	clock   clockwork.Clock

	mu         sync.RWMutex
	credential string
	identity   *models.Identity

	restoring atomic.Bool
	// identityChanged wakes the monitor; one pending signal is enough.
	identityChanged chan struct{}

	clearersMu sync.Mutex
	clearers   []Clearer

	listenersMu sync.Mutex
	listeners   []func(reason error)

	pending sync.WaitGroup
}

type Option func(*Manager)

func WithClock(clock clockwork.Clock) Option {
	return func(m *Manager) { m.clock = clock }
}

func NewManager(remote Remote, storage kv.Store, opts ...Option) *Manager {
	m := &Manager{
		remote:          remote,
		storage:         storage,
		clock:           clockwork.NewRealClock(),
		identityChanged: make(chan struct{}, 1),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Register adds state to clear on sign-out. Clearers run in registration order.
func (m *Manager) Register(c Clearer) {
	m.clearersMu.Lock()
	m.clearers = append(m.clearers, c)
	m.clearersMu.Unlock()
}

// OnSignOut registers fn to run after every sign-out. reason is nil when the
// user signed out, otherwise the error that forced it.
func (m *Manager) OnSignOut(fn func(reason error)) {
	m.listenersMu.Lock()
	m.listeners = append(m.listeners, fn)
	m.listenersMu.Unlock()
}

// Credential returns the in-memory credential; it implements graphql.CredentialSource.
func (m *Manager) Credential(context.Context) (string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.credential, nil
}

// StoredCredential reads the credential from storage on every call.
func (m *Manager) StoredCredential() graphql.CredentialSource {
	return graphql.CredentialFunc(func(ctx context.Context) (string, error) {
		token, _, err := m.storage.Get(ctx, KeyCredential)
		return token, err
	})
}

func (m *Manager) Identity() (models.Identity, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.identity == nil {
		return models.Identity{}, false
	}
	return *m.identity, true
}

func (m *Manager) Active() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.credential != "" && m.identity != nil
}

// Restoring reports whether Restore is in progress; route guards should wait.
func (m *Manager) Restoring() bool {
	return m.restoring.Load()
}

// Restore loads the persisted session. A missing half leaves no session.
func (m *Manager) Restore(ctx context.Context) error {
	m.restoring.Store(true)
	defer m.restoring.Store(false)

	token, hasToken, err := m.storage.Get(ctx, KeyCredential)
	if err != nil {
		return fmt.Errorf("failed to read credential: %w", err)
	}
	var identity models.Identity
	hasIdentity, err := kv.GetJSON(ctx, m.storage, KeyIdentity, &identity)
	if err != nil {
		glog.Warningf("session: discarding unreadable identity: %v", err)
		hasIdentity = false
	}
	if !hasToken || token == "" || !hasIdentity {
		glog.Infof("session: no stored session")
		return nil
	}

	m.set(token, &identity)
	glog.Infof("session: restored session for %s", identity.Email)
	return nil
}

func (m *Manager) SignIn(ctx context.Context, email, password string) (models.Identity, error) {
	data, err := m.remote.Request(ctx, operations.SignIn, graphql.Variables{"email": email, "motDePasse": password})
	if err != nil {
		return models.Identity{}, err
	}
	auth, err := graphql.Field[operations.AuthPayload](data, operations.FieldConnexion)
	if err != nil {
		return models.Identity{}, err
	}
	if auth.Token == "" {
		return models.Identity{}, fmt.Errorf("%w: empty token", graphql.ErrShapeMismatch)
	}

	if err := m.storage.Set(ctx, KeyCredential, auth.Token); err != nil {
		return models.Identity{}, fmt.Errorf("failed to persist credential: %w", err)
	}
	if err := kv.SetJSON(ctx, m.storage, KeyIdentity, auth.Identity); err != nil {
		return models.Identity{}, fmt.Errorf("failed to persist identity: %w", err)
	}
	m.set(auth.Token, &auth.Identity)
	glog.Infof("session: signed in as %s", auth.Identity.Email)
	return auth.Identity, nil
}

// UpdateIdentity replaces the stored identity, e.g. after a profile edit.
func (m *Manager) UpdateIdentity(ctx context.Context, identity models.Identity) error {
	m.mu.RLock()
	token := m.credential
	m.mu.RUnlock()
	if token == "" {
		return ErrNoSession
	}
	if err := kv.SetJSON(ctx, m.storage, KeyIdentity, identity); err != nil {
		return fmt.Errorf("failed to persist identity: %w", err)
	}
	m.set(token, &identity)
	return nil
}

func (m *Manager) set(token string, identity *models.Identity) {
	m.mu.Lock()
	m.credential = token
	m.identity = identity
	m.mu.Unlock()

	select {
	case m.identityChanged <- struct{}{}:
	default:
	}
}

// SignOut clears every local trace of the session before it returns, then
// tells the server in the background.
func (m *Manager) SignOut(ctx context.Context) error {
	token, err := m.end(ctx, nil)
	if token == "" {
		return err
	}

	m.pending.Add(1)
	go func() {
		defer m.pending.Done()
		notifyCtx, cancel := context.WithTimeout(graphql.ContextWithCredential(context.Background(), token), signOutTimeout)
		defer cancel()
		if _, err := m.remote.Request(notifyCtx, operations.SignOut, nil); err != nil {
			glog.Warningf("session: logout notification failed: %v", err)
		}
	}()
	return err
}

// Wait blocks until background logout notifications have finished.
func (m *Manager) Wait() {
	m.pending.Wait()
}

// ForceSignOut ends the session locally because of reason, without telling the server.
func (m *Manager) ForceSignOut(ctx context.Context, reason error) error {
	glog.Warningf("session: forcing sign-out: %v", reason)
	_, err := m.end(ctx, reason)
	return err
}

// forceSignOut ends the session for reason and returns reason joined with
// any failure of the local phase.
func (m *Manager) forceSignOut(ctx context.Context, reason error) error {
	if err := m.ForceSignOut(ctx, reason); err != nil {
		glog.Errorf("session: local sign-out incomplete: %v", err)
		return errors.Join(reason, err)
	}
	return reason
}

// end runs the local sign-out phase and returns the credential that was active.
func (m *Manager) end(ctx context.Context, reason error) (string, error) {
	m.mu.Lock()
	token := m.credential
	m.credential = ""
	m.identity = nil
	m.mu.Unlock()

	var errs []error
	if err := m.storage.Remove(ctx, KeyCredential, KeyIdentity); err != nil {
		glog.Errorf("session: failed to remove stored session: %v", err)
		errs = append(errs, err)
	}

	m.clearersMu.Lock()
	clearers := append([]Clearer(nil), m.clearers...)
	m.clearersMu.Unlock()
	for _, c := range clearers {
		if err := c.Reset(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	m.remote.InvalidateCache()

	m.listenersMu.Lock()
	listeners := append(([]func(error))(nil), m.listeners...)
	m.listenersMu.Unlock()
	for _, fn := range listeners {
		fn(reason)
	}
	return token, errors.Join(errs...)
}

// Check validates the active session once. It returns the error that forced a
// sign-out, or nil when the session is still valid or could not be checked.
func (m *Manager) Check(ctx context.Context) error {
	if m.Restoring() {
		return nil
	}
	identity, ok := m.Identity()
	if !ok {
		return nil
	}

	token, found, err := m.storage.Get(ctx, KeyCredential)
	if err != nil {
		glog.Warningf("session: failed to read stored credential: %v", err)
		return nil
	}
	if !found || token == "" {
		return m.forceSignOut(ctx, ErrCredentialRemoved)
	}
	if exp, ok := jwt.ExpiresAt(token); ok && !m.clock.Now().Before(exp) {
		return m.forceSignOut(ctx, ErrCredentialExpired)
	}

	data, err := m.remote.Request(ctx, operations.Me, graphql.Variables{"id": identity.ID})
	if err != nil {
		if IsAuthError(err) {
			return m.forceSignOut(ctx, err)
		}
		glog.Warningf("session: validity check failed: %v", err)
		return nil
	}
	if _, err := graphql.Field[models.Identity](data, operations.FieldUtilisateur); err != nil {
		glog.Warningf("session: unexpected identity payload: %v", err)
	}
	return nil
}
