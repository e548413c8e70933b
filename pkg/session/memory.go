package session

import (
	"context"
	"sync"
	"time"

	acerr "github.com/piewared/authcore/pkg/errors"
)

// janitorInterval is how often the in-memory store sweeps expired entries.
const janitorInterval = 30 * time.Second

// MemoryStore is an in-process Store for development and tests. Entries
// are checked for expiry on read and swept by a background janitor.
type MemoryStore struct {
	mu    sync.RWMutex
	auth  map[string]*memoryEntry[AuthSession]
	users map[string]*memoryEntry[UserSession]
	now   func() time.Time
	stop  chan struct{}
	once  sync.Once
}

type memoryEntry[T any] struct {
	value     T
	expiresAt time.Time
}

// MemoryStoreOption customizes a MemoryStore.
type MemoryStoreOption func(*MemoryStore)

// WithMemoryClock overrides the store clock. Used in tests.
func WithMemoryClock(now func() time.Time) MemoryStoreOption {
	return func(m *MemoryStore) { m.now = now }
}

// NewMemoryStore creates an in-memory session store and starts its
// expiry janitor. Call Close to stop the janitor.
func NewMemoryStore(opts ...MemoryStoreOption) *MemoryStore {
	m := &MemoryStore{
		auth:  make(map[string]*memoryEntry[AuthSession]),
		users: make(map[string]*memoryEntry[UserSession]),
		now:   time.Now,
		stop:  make(chan struct{}),
	}
	for _, opt := range opts {
		opt(m)
	}
	go m.janitor()
	return m
}

// Close stops the background janitor.
func (m *MemoryStore) Close() error {
	m.once.Do(func() { close(m.stop) })
	return nil
}

func (m *MemoryStore) janitor() {
	ticker := time.NewTicker(janitorInterval)
	defer ticker.Stop()
	for {
		select {
		case <-m.stop:
			return
		case <-ticker.C:
			m.sweep()
		}
	}
}

func (m *MemoryStore) sweep() {
	now := m.now()
	m.mu.Lock()
	defer m.mu.Unlock()
	for id, e := range m.auth {
		if !now.Before(e.expiresAt) {
			delete(m.auth, id)
		}
	}
	for id, e := range m.users {
		if !now.Before(e.expiresAt) {
			delete(m.users, id)
		}
	}
}

// PutAuth stores an auth session until its ExpiresAt.
func (m *MemoryStore) PutAuth(_ context.Context, s *AuthSession) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.auth[s.ID] = &memoryEntry[AuthSession]{value: *s, expiresAt: s.ExpiresAt}
	return nil
}

// GetAuth fetches an auth session by ID.
func (m *MemoryStore) GetAuth(_ context.Context, id string) (*AuthSession, error) {
	m.mu.RLock()
	e, ok := m.auth[id]
	m.mu.RUnlock()
	if !ok || !m.now().Before(e.expiresAt) {
		return nil, acerr.SessionNotFound()
	}
	s := e.value
	return &s, nil
}

// DeleteAuth removes an auth session.
func (m *MemoryStore) DeleteAuth(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.auth, id)
	return nil
}

// PutUser stores a user session until its ExpiresAt.
func (m *MemoryStore) PutUser(_ context.Context, s *UserSession) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.users[s.ID] = &memoryEntry[UserSession]{value: *s, expiresAt: s.ExpiresAt}
	return nil
}

// GetUser fetches a user session by ID.
func (m *MemoryStore) GetUser(_ context.Context, id string) (*UserSession, error) {
	m.mu.RLock()
	e, ok := m.users[id]
	m.mu.RUnlock()
	if !ok || !m.now().Before(e.expiresAt) {
		return nil, acerr.SessionNotFound()
	}
	s := e.value
	return &s, nil
}

// DeleteUser removes a user session.
func (m *MemoryStore) DeleteUser(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.users, id)
	return nil
}

// Rotate re-keys the session under newID, leaving the old entry readable
// for a short grace window.
func (m *MemoryStore) Rotate(_ context.Context, oldID, newID string) (*UserSession, error) {
	now := m.now()

	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.users[oldID]
	if !ok || !now.Before(e.expiresAt) {
		return nil, acerr.SessionNotFound()
	}

	rotated := e.value
	rotated.ID = newID
	rotated.LastRotatedAt = now
	m.users[newID] = &memoryEntry[UserSession]{value: rotated, expiresAt: rotated.ExpiresAt}

	// Retire the old ID after the grace window instead of deleting it.
	m.users[oldID] = &memoryEntry[UserSession]{value: e.value, expiresAt: now.Add(rotationGrace)}

	out := rotated
	return &out, nil
}
