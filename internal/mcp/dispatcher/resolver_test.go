package dispatcher

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/teemow/mcpbridge/internal/backendauth"
	"github.com/teemow/mcpbridge/internal/session"
)

// fakeValidator knows a fixed set of tokens. A token whose expiry is within
// refreshWindow of now needs refresh; refreshes maps old to new tokens.
type fakeValidator struct {
	mu        sync.Mutex
	tokens    map[string]time.Time
	users     map[string]*backendauth.User
	refreshes map[string]string

	validated []string
	refreshed []string
}

const refreshWindow = 5 * time.Minute

func newFakeValidator() *fakeValidator {
	return &fakeValidator{
		tokens:    make(map[string]time.Time),
		users:     make(map[string]*backendauth.User),
		refreshes: make(map[string]string),
	}
}

func (f *fakeValidator) add(token string, expiresAt time.Time, user *backendauth.User) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.tokens[token] = expiresAt
	f.users[token] = user
}

func (f *fakeValidator) Validate(_ context.Context, token string) backendauth.ValidationResult {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.validated = append(f.validated, token)

	exp, ok := f.tokens[token]
	if !ok {
		return backendauth.ValidationResult{}
	}
	return backendauth.ValidationResult{
		Valid: true,
		Session: &backendauth.BackendSession{
			User:    f.users[token],
			Session: backendauth.SessionInfo{ExpiresAt: backendauth.Timestamp{Time: exp}},
		},
		NeedsRefresh: backendauth.NeedsRefresh(exp, time.Now(), refreshWindow),
	}
}

func (f *fakeValidator) Refresh(_ context.Context, token string) (string, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.refreshed = append(f.refreshed, token)

	newToken, ok := f.refreshes[token]
	return newToken, ok
}

var jane = &backendauth.User{ID: "user-1", Email: "jane@example.com", Name: "Jane"}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testAuthURL(id string) string {
	return "https://mcp.example.com/?mcp_auth_required=true&mcp_session_id=" + id
}

func newTestResolver(t *testing.T, v Validator) (*Resolver, *session.MemoryStore) {
	t.Helper()

	store := session.NewMemoryStore(session.WithLogger(discardLogger()))
	t.Cleanup(func() { _ = store.Close() })

	r, err := NewResolver(ResolverConfig{
		Store:     store,
		Validator: v,
		AuthURL:   testAuthURL,
		Logger:    discardLogger(),
	})
	require.NoError(t, err)
	return r, store
}

func TestNewResolver_Validation(t *testing.T) {
	store := session.NewMemoryStore()
	defer store.Close()

	_, err := NewResolver(ResolverConfig{Validator: newFakeValidator(), AuthURL: testAuthURL})
	assert.Error(t, err)

	_, err = NewResolver(ResolverConfig{Store: store, AuthURL: testAuthURL})
	assert.Error(t, err)

	_, err = NewResolver(ResolverConfig{Store: store, Validator: newFakeValidator()})
	assert.Error(t, err)
}

func TestResolver_NoSession(t *testing.T) {
	v := newFakeValidator()
	r, store := newTestResolver(t, v)

	res, err := r.Resolve(context.Background(), "mcp_new")
	require.NoError(t, err)

	assert.Equal(t, StateUnauthenticated, res.State)
	assert.Equal(t, testAuthURL("mcp_new"), res.AuthURL)
	assert.Empty(t, res.Token)
	assert.Empty(t, v.validated)
	assert.Zero(t, store.Len())
}

func TestResolver_ValidSession(t *testing.T) {
	v := newFakeValidator()
	v.add("tok-1", time.Now().Add(time.Hour), jane)
	r, store := newTestResolver(t, v)

	require.NoError(t, store.Set(context.Background(), "mcp_1", "tok-1", "user-1", time.Now().Add(time.Hour)))

	res, err := r.Resolve(context.Background(), "mcp_1")
	require.NoError(t, err)

	assert.Equal(t, StateAuthenticated, res.State)
	assert.Equal(t, "tok-1", res.Token)
	assert.Equal(t, jane, res.User)
	assert.Empty(t, res.AuthURL)
	assert.False(t, res.Refreshed)
	assert.Empty(t, v.refreshed)
}

func TestResolver_InvalidTokenDeletesSession(t *testing.T) {
	v := newFakeValidator()
	r, store := newTestResolver(t, v)

	require.NoError(t, store.Set(context.Background(), "mcp_1", "tok-revoked", "user-1", time.Now().Add(time.Hour)))

	res, err := r.Resolve(context.Background(), "mcp_1")
	require.NoError(t, err)

	assert.Equal(t, StateUnauthenticated, res.State)
	assert.Equal(t, testAuthURL("mcp_1"), res.AuthURL)

	_, err = store.Get(context.Background(), "mcp_1")
	assert.ErrorIs(t, err, session.ErrNotFound)
}

func TestResolver_RefreshSuccess(t *testing.T) {
	newExpiry := time.Now().Add(24 * time.Hour).Truncate(time.Second)

	v := newFakeValidator()
	v.add("tok-old", time.Now().Add(3*time.Minute), jane)
	v.add("tok-new", newExpiry, jane)
	v.refreshes["tok-old"] = "tok-new"
	r, store := newTestResolver(t, v)

	require.NoError(t, store.Set(context.Background(), "mcp_1", "tok-old", "user-1", time.Now().Add(3*time.Minute)))

	res, err := r.Resolve(context.Background(), "mcp_1")
	require.NoError(t, err)

	assert.Equal(t, StateAuthenticated, res.State)
	assert.Equal(t, "tok-new", res.Token)
	assert.True(t, res.Refreshed)

	s, err := store.Get(context.Background(), "mcp_1")
	require.NoError(t, err)
	assert.Equal(t, "tok-new", s.AuthSessionToken)
	assert.True(t, s.ExpiresAt.Equal(newExpiry))
}

func TestResolver_RefreshWithoutReportedExpiryUsesDefaultTTL(t *testing.T) {
	v := newFakeValidator()
	v.add("tok-old", time.Now().Add(time.Minute), jane)
	v.refreshes["tok-old"] = "tok-unknown-to-validator"
	r, store := newTestResolver(t, v)

	require.NoError(t, store.Set(context.Background(), "mcp_1", "tok-old", "user-1", time.Now().Add(time.Minute)))

	res, err := r.Resolve(context.Background(), "mcp_1")
	require.NoError(t, err)
	assert.Equal(t, "tok-unknown-to-validator", res.Token)

	s, err := store.Get(context.Background(), "mcp_1")
	require.NoError(t, err)
	assert.WithinDuration(t, time.Now().Add(session.DefaultTTL), s.ExpiresAt, time.Minute)
}

func TestResolver_RefreshFailureKeepsValidToken(t *testing.T) {
	oldExpiry := time.Now().Add(3 * time.Minute)

	v := newFakeValidator()
	v.add("tok-old", oldExpiry, jane)
	r, store := newTestResolver(t, v)

	require.NoError(t, store.Set(context.Background(), "mcp_1", "tok-old", "user-1", oldExpiry))

	res, err := r.Resolve(context.Background(), "mcp_1")
	require.NoError(t, err)

	assert.Equal(t, StateAuthenticated, res.State)
	assert.Equal(t, "tok-old", res.Token)
	assert.False(t, res.Refreshed)
	assert.Equal(t, []string{"tok-old"}, v.refreshed)

	s, err := store.Get(context.Background(), "mcp_1")
	require.NoError(t, err)
	assert.Equal(t, "tok-old", s.AuthSessionToken)
}

type failingStore struct {
	session.Store
}

func (failingStore) Get(context.Context, string) (*session.Session, error) {
	return nil, errors.New("connection refused")
}

func TestResolver_StoreFailure(t *testing.T) {
	r, err := NewResolver(ResolverConfig{
		Store:     failingStore{},
		Validator: newFakeValidator(),
		AuthURL:   testAuthURL,
		Logger:    discardLogger(),
	})
	require.NoError(t, err)

	_, err = r.Resolve(context.Background(), "mcp_1")
	assert.ErrorContains(t, err, "connection refused")
}

func TestResolver_Status(t *testing.T) {
	v := newFakeValidator()
	v.add("tok-1", time.Now().Add(time.Hour), jane)
	r, store := newTestResolver(t, v)

	require.NoError(t, store.Set(context.Background(), "mcp_1", "tok-1", "user-1", time.Now().Add(time.Hour)))

	user, err := r.Status(context.Background(), "mcp_1")
	require.NoError(t, err)
	assert.Equal(t, jane, user)

	user, err = r.Status(context.Background(), "mcp_other")
	require.NoError(t, err)
	assert.Nil(t, user)
}
