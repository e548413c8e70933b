package session

import (
	"context"
	"time"
)

const (
	authKeyPrefix = "auth:"
	userKeyPrefix = "user:"

	// rotationGrace is how long a rotated-out session ID keeps resolving,
	// covering requests already in flight when rotation happened.
	rotationGrace = 5 * time.Second
)

// Store persists auth and user sessions. Implementations return a
// session-not-found error for missing or expired entries; callers never
// see expired sessions.
type Store interface {
	// PutAuth stores an auth session under its ID until its ExpiresAt.
	PutAuth(ctx context.Context, s *AuthSession) error

	// GetAuth fetches an auth session by ID.
	GetAuth(ctx context.Context, id string) (*AuthSession, error)

	// DeleteAuth removes an auth session. Deleting a missing session is
	// not an error.
	DeleteAuth(ctx context.Context, id string) error

	// PutUser stores a user session under its ID until its ExpiresAt.
	PutUser(ctx context.Context, s *UserSession) error

	// GetUser fetches a user session by ID.
	GetUser(ctx context.Context, id string) (*UserSession, error)

	// DeleteUser removes a user session. Deleting a missing session is
	// not an error.
	DeleteUser(ctx context.Context, id string) error

	// Rotate replaces the session's ID with newID. The copy under the new
	// ID is written before the old entry is retired, and the old ID keeps
	// resolving for a short grace window so concurrent requests carrying
	// it do not fail mid-rotation.
	Rotate(ctx context.Context, oldID, newID string) (*UserSession, error)
}

func authKey(id string) string { return authKeyPrefix + id }
func userKey(id string) string { return userKeyPrefix + id }
