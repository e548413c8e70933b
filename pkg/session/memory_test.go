package session

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/piewared/authcore/internal/testutil"
	acerr "github.com/piewared/authcore/pkg/errors"
)

func memoryTestAuthSession(now time.Time) *AuthSession {
	return &AuthSession{
		ID:           "auth-1",
		Provider:     "test",
		State:        "state-1",
		Nonce:        "nonce-1",
		CodeVerifier: "verifier-1",
		ReturnTo:     "/dashboard",
		Fingerprint:  "fp-1",
		CreatedAt:    now,
		ExpiresAt:    now.Add(10 * time.Minute),
	}
}

func memoryTestUserSession(now time.Time) *UserSession {
	return &UserSession{
		ID:             "user-sess-1",
		UserID:         "user-1",
		Provider:       "test",
		Email:          "ada@example.com",
		Fingerprint:    "fp-1",
		CreatedAt:      now,
		LastActivityAt: now,
		LastRotatedAt:  now,
		ExpiresAt:      now.Add(time.Hour),
	}
}

func TestMemoryStore_AuthSessionLifecycle(t *testing.T) {
	store := NewMemoryStore()
	defer func() { _ = store.Close() }()
	ctx := context.Background()
	now := time.Now()

	s := memoryTestAuthSession(now)
	require.NoError(t, store.PutAuth(ctx, s))

	got, err := store.GetAuth(ctx, "auth-1")
	require.NoError(t, err)
	assert.Equal(t, s.State, got.State)
	assert.Equal(t, s.CodeVerifier, got.CodeVerifier)

	require.NoError(t, store.DeleteAuth(ctx, "auth-1"))
	_, err = store.GetAuth(ctx, "auth-1")
	testutil.RequireErrorCode(t, err, acerr.CodeSessionNotFound)

	// Deleting a missing session is a no-op.
	assert.NoError(t, store.DeleteAuth(ctx, "auth-1"))
}

func TestMemoryStore_ExpiredEntriesNotReturned(t *testing.T) {
	clock := time.Now()
	store := NewMemoryStore(WithMemoryClock(func() time.Time { return clock }))
	defer func() { _ = store.Close() }()
	ctx := context.Background()

	require.NoError(t, store.PutAuth(ctx, memoryTestAuthSession(clock)))
	require.NoError(t, store.PutUser(ctx, memoryTestUserSession(clock)))

	clock = clock.Add(2 * time.Hour)

	_, err := store.GetAuth(ctx, "auth-1")
	testutil.AssertErrorCode(t, err, acerr.CodeSessionNotFound)
	_, err = store.GetUser(ctx, "user-sess-1")
	testutil.AssertErrorCode(t, err, acerr.CodeSessionNotFound)
}

func TestMemoryStore_Sweep(t *testing.T) {
	clock := time.Now()
	store := NewMemoryStore(WithMemoryClock(func() time.Time { return clock }))
	defer func() { _ = store.Close() }()
	ctx := context.Background()

	require.NoError(t, store.PutAuth(ctx, memoryTestAuthSession(clock)))
	clock = clock.Add(2 * time.Hour)
	store.sweep()

	store.mu.RLock()
	defer store.mu.RUnlock()
	assert.Empty(t, store.auth)
}

func TestMemoryStore_Rotate(t *testing.T) {
	clock := time.Now()
	store := NewMemoryStore(WithMemoryClock(func() time.Time { return clock }))
	defer func() { _ = store.Close() }()
	ctx := context.Background()

	require.NoError(t, store.PutUser(ctx, memoryTestUserSession(clock)))

	rotated, err := store.Rotate(ctx, "user-sess-1", "user-sess-2")
	require.NoError(t, err)
	assert.Equal(t, "user-sess-2", rotated.ID)
	assert.Equal(t, "user-1", rotated.UserID)
	assert.Equal(t, clock, rotated.LastRotatedAt)

	// New ID resolves.
	got, err := store.GetUser(ctx, "user-sess-2")
	require.NoError(t, err)
	assert.Equal(t, "user-sess-2", got.ID)

	// Old ID still resolves inside the grace window.
	_, err = store.GetUser(ctx, "user-sess-1")
	assert.NoError(t, err)

	// After the grace window the old ID is gone.
	clock = clock.Add(rotationGrace + time.Second)
	_, err = store.GetUser(ctx, "user-sess-1")
	testutil.RequireErrorCode(t, err, acerr.CodeSessionNotFound)
}

func TestMemoryStore_RotateMissingSession(t *testing.T) {
	store := NewMemoryStore()
	defer func() { _ = store.Close() }()

	_, err := store.Rotate(context.Background(), "missing", "new-id")
	testutil.RequireErrorCode(t, err, acerr.CodeSessionNotFound)
}

func TestMemoryStore_CopySemantics(t *testing.T) {
	store := NewMemoryStore()
	defer func() { _ = store.Close() }()
	ctx := context.Background()
	now := time.Now()

	s := memoryTestUserSession(now)
	require.NoError(t, store.PutUser(ctx, s))

	// Mutating the returned session must not affect the stored copy.
	got, err := store.GetUser(ctx, s.ID)
	require.NoError(t, err)
	got.Email = "mallory@example.com"

	again, err := store.GetUser(ctx, s.ID)
	require.NoError(t, err)
	assert.Equal(t, "ada@example.com", again.Email)
}
