package identity

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	acerr "github.com/piewared/authcore/pkg/errors"
)

// MemoryStore is an in-process Store for development and tests. It
// enforces the same (issuer, subject) uniqueness the PostgreSQL schema
// does.
type MemoryStore struct {
	mu         sync.RWMutex
	users      map[uuid.UUID]*User
	identities map[string]*UserIdentity // "issuer|subject" -> identity
}

// NewMemoryStore creates an empty in-memory identity store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		users:      make(map[uuid.UUID]*User),
		identities: make(map[string]*UserIdentity),
	}
}

func identityKey(issuer, subject string) string {
	return issuer + "|" + subject
}

// FindBySubject returns the user linked to the (issuer, subject) pair.
func (m *MemoryStore) FindBySubject(_ context.Context, issuer, subject string) (*User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	link, ok := m.identities[identityKey(issuer, subject)]
	if !ok {
		return nil, acerr.New(acerr.CodeNotFoundUser,
			fmt.Sprintf("no user for subject at issuer %q", issuer))
	}
	u := *m.users[link.UserID]
	return &u, nil
}

// FindByID returns the user with the given ID.
func (m *MemoryStore) FindByID(_ context.Context, id uuid.UUID) (*User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	u, ok := m.users[id]
	if !ok {
		return nil, acerr.New(acerr.CodeNotFoundUser, fmt.Sprintf("user %s not found", id))
	}
	out := *u
	return &out, nil
}

// Create inserts the user and its identity link atomically.
func (m *MemoryStore) Create(_ context.Context, user *User, identity *UserIdentity) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := identityKey(identity.Issuer, identity.Subject)
	if _, exists := m.identities[key]; exists {
		return acerr.New(acerr.CodeConflictAlreadyExists, "identity already linked to a user")
	}

	u := *user
	link := *identity
	m.users[u.ID] = &u
	m.identities[key] = &link
	return nil
}

// UpdateDisplay refreshes the user's email and display name.
func (m *MemoryStore) UpdateDisplay(_ context.Context, id uuid.UUID, email, name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	u, ok := m.users[id]
	if !ok {
		return acerr.New(acerr.CodeNotFoundUser, fmt.Sprintf("user %s not found", id))
	}
	u.Email = email
	u.Name = name
	u.UpdatedAt = time.Now()
	return nil
}
