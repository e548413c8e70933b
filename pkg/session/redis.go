package session

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	redisclient "github.com/piewared/authcore/pkg/clients/redis"
	acerr "github.com/piewared/authcore/pkg/errors"
)

// RedisStore persists sessions in Redis with TTLs derived from each
// session's ExpiresAt. It is the production Store implementation.
type RedisStore struct {
	client *redisclient.Client
	now    func() time.Time
}

// RedisStoreOption customizes a RedisStore.
type RedisStoreOption func(*RedisStore)

// WithRedisClock overrides the store clock. Used in tests.
func WithRedisClock(now func() time.Time) RedisStoreOption {
	return func(r *RedisStore) { r.now = now }
}

// NewRedisStore creates a Redis-backed session store.
func NewRedisStore(client *redisclient.Client, opts ...RedisStoreOption) *RedisStore {
	r := &RedisStore{client: client, now: time.Now}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// PutAuth stores an auth session with a TTL running to its ExpiresAt.
func (r *RedisStore) PutAuth(ctx context.Context, s *AuthSession) error {
	return r.put(ctx, authKey(s.ID), s, s.ExpiresAt)
}

// GetAuth fetches an auth session by ID.
func (r *RedisStore) GetAuth(ctx context.Context, id string) (*AuthSession, error) {
	var s AuthSession
	if err := r.get(ctx, authKey(id), &s); err != nil {
		return nil, err
	}
	return &s, nil
}

// DeleteAuth removes an auth session.
func (r *RedisStore) DeleteAuth(ctx context.Context, id string) error {
	_, err := r.client.Del(ctx, authKey(id))
	return err
}

// PutUser stores a user session with a TTL running to its ExpiresAt.
func (r *RedisStore) PutUser(ctx context.Context, s *UserSession) error {
	return r.put(ctx, userKey(s.ID), s, s.ExpiresAt)
}

// GetUser fetches a user session by ID.
func (r *RedisStore) GetUser(ctx context.Context, id string) (*UserSession, error) {
	var s UserSession
	if err := r.get(ctx, userKey(id), &s); err != nil {
		return nil, err
	}
	return &s, nil
}

// DeleteUser removes a user session.
func (r *RedisStore) DeleteUser(ctx context.Context, id string) error {
	_, err := r.client.Del(ctx, userKey(id))
	return err
}

// Rotate writes the session under newID before shortening the old key's
// TTL to the grace window.
func (r *RedisStore) Rotate(ctx context.Context, oldID, newID string) (*UserSession, error) {
	current, err := r.GetUser(ctx, oldID)
	if err != nil {
		return nil, err
	}

	rotated := *current
	rotated.ID = newID
	rotated.LastRotatedAt = r.now()

	if err := r.PutUser(ctx, &rotated); err != nil {
		return nil, err
	}
	if _, err := r.client.Expire(ctx, userKey(oldID), rotationGrace); err != nil {
		return nil, err
	}
	return &rotated, nil
}

func (r *RedisStore) put(ctx context.Context, key string, v any, expiresAt time.Time) error {
	ttl := expiresAt.Sub(r.now())
	if ttl <= 0 {
		return acerr.Validation("session is already expired")
	}
	payload, err := json.Marshal(v)
	if err != nil {
		return acerr.Wrap(err, acerr.CodeInternal, "failed to marshal session")
	}
	return r.client.Set(ctx, key, payload, ttl)
}

func (r *RedisStore) get(ctx context.Context, key string, out any) error {
	payload, err := r.client.Get(ctx, key)
	if err != nil {
		if acerr.IsNotFound(err) {
			return acerr.SessionNotFound()
		}
		return err
	}
	if err := json.Unmarshal([]byte(payload), out); err != nil {
		return acerr.Wrap(err, acerr.CodeInternal,
			fmt.Sprintf("failed to unmarshal session %q", key))
	}
	return nil
}
