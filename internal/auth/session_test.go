package auth

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wanderlustcms/api/internal/clock"
)

// memorySessionStore is a SessionStore for tests. It mirrors the real
// store's overwrite-by-account semantics.
type memorySessionStore struct {
	mu     sync.Mutex
	tokens map[uuid.UUID]storedToken
}

type storedToken struct {
	value     string
	expiresAt time.Time
}

func newMemorySessionStore() *memorySessionStore {
	return &memorySessionStore{tokens: make(map[uuid.UUID]storedToken)}
}

func (s *memorySessionStore) SaveRefreshToken(_ context.Context, accountID uuid.UUID, token string, expiresAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tokens[accountID] = storedToken{value: token, expiresAt: expiresAt}
	return nil
}

func (s *memorySessionStore) ClearRefreshToken(_ context.Context, accountID uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.tokens, accountID)
	return nil
}

func (s *memorySessionStore) lookup(token string) (uuid.UUID, storedToken, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, st := range s.tokens {
		if st.value == token {
			return id, st, true
		}
	}
	return uuid.Nil, storedToken{}, false
}

func newTestSessionManager(t *testing.T) (*SessionManager, *memorySessionStore, *clock.Fake) {
	t.Helper()

	clk := clock.NewFake(time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC))
	issuer, err := NewIssuer(testJWTConfig(), clk)
	require.NoError(t, err)

	store := newMemorySessionStore()
	return NewSessionManager(issuer, store, 7*24*time.Hour, clk), store, clk
}

func TestSessionManager_CreateOrRotateSession(t *testing.T) {
	manager, store, clk := newTestSessionManager(t)
	sub := testSubject()

	session, err := manager.CreateOrRotateSession(context.Background(), sub)
	require.NoError(t, err)
	assert.NotEmpty(t, session.AccessToken)
	assert.NotEmpty(t, session.RefreshToken)
	assert.Equal(t, clk.Now().Add(time.Hour).Unix(), session.ExpiresAt.Unix())

	id, st, ok := store.lookup(session.RefreshToken)
	require.True(t, ok, "refresh token must be persisted")
	assert.Equal(t, sub.ID, id)
	assert.Equal(t, clk.Now().Add(7*24*time.Hour), st.expiresAt)
}

func TestSessionManager_RotationInvalidatesPrevious(t *testing.T) {
	manager, store, _ := newTestSessionManager(t)
	sub := testSubject()
	ctx := context.Background()

	first, err := manager.CreateOrRotateSession(ctx, sub)
	require.NoError(t, err)

	second, err := manager.CreateOrRotateSession(ctx, sub)
	require.NoError(t, err)
	assert.NotEqual(t, first.RefreshToken, second.RefreshToken)

	// The old value no longer resolves; only the latest does.
	_, _, ok := store.lookup(first.RefreshToken)
	assert.False(t, ok, "rotated-out refresh token must be gone")
	_, _, ok = store.lookup(second.RefreshToken)
	assert.True(t, ok)
}

func TestSessionManager_RefreshTokenValid(t *testing.T) {
	manager, _, clk := newTestSessionManager(t)

	assert.False(t, manager.RefreshTokenValid(time.Time{}), "zero expiry means no stored token")
	assert.True(t, manager.RefreshTokenValid(clk.Now().Add(time.Hour)))

	expiry := clk.Now().Add(time.Hour)
	clk.Advance(2 * time.Hour)
	assert.False(t, manager.RefreshTokenValid(expiry), "past expiry must fail closed")
}

func TestSessionManager_InvalidateSession(t *testing.T) {
	manager, store, _ := newTestSessionManager(t)
	sub := testSubject()
	ctx := context.Background()

	session, err := manager.CreateOrRotateSession(ctx, sub)
	require.NoError(t, err)

	require.NoError(t, manager.InvalidateSession(ctx, sub.ID))

	_, _, ok := store.lookup(session.RefreshToken)
	assert.False(t, ok)
}
