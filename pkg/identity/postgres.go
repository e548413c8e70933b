package identity

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	pgclient "github.com/piewared/authcore/pkg/clients/postgres"
	acerr "github.com/piewared/authcore/pkg/errors"
)

// Schema is the DDL for the identity tables. Applied by Migrate; kept as
// a constant so deployments using external migration tooling can lift it
// verbatim.
const Schema = `
CREATE TABLE IF NOT EXISTS users (
    id         UUID PRIMARY KEY,
    email      TEXT NOT NULL DEFAULT '',
    name       TEXT NOT NULL DEFAULT '',
    created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
    updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS user_identities (
    id         UUID PRIMARY KEY,
    user_id    UUID NOT NULL REFERENCES users (id) ON DELETE CASCADE,
    issuer     TEXT NOT NULL,
    subject    TEXT NOT NULL,
    created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
    CONSTRAINT user_identities_issuer_subject_key UNIQUE (issuer, subject)
);

CREATE INDEX IF NOT EXISTS user_identities_user_id_idx ON user_identities (user_id);
`

// PostgresStore persists users and identities in PostgreSQL. It is the
// production Store implementation.
type PostgresStore struct {
	client *pgclient.Client
}

// NewPostgresStore creates a PostgreSQL-backed identity store.
func NewPostgresStore(client *pgclient.Client) *PostgresStore {
	return &PostgresStore{client: client}
}

// Migrate applies the identity schema. Idempotent.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	if _, err := s.client.Exec(ctx, Schema); err != nil {
		return acerr.Wrap(err, acerr.CodeInternalDatabase, "failed to apply identity schema")
	}
	return nil
}

// FindBySubject returns the user linked to the (issuer, subject) pair.
func (s *PostgresStore) FindBySubject(ctx context.Context, issuer, subject string) (*User, error) {
	const query = `
		SELECT u.id, u.email, u.name, u.created_at, u.updated_at
		FROM users u
		JOIN user_identities ui ON ui.user_id = u.id
		WHERE ui.issuer = $1 AND ui.subject = $2`

	var u User
	row := s.client.QueryRow(ctx, query, issuer, subject)
	if err := row.Scan(&u.ID, &u.Email, &u.Name, &u.CreatedAt, &u.UpdatedAt); err != nil {
		return nil, mapScanError(err, fmt.Sprintf("no user for subject at issuer %q", issuer))
	}
	return &u, nil
}

// FindByID returns the user with the given ID.
func (s *PostgresStore) FindByID(ctx context.Context, id uuid.UUID) (*User, error) {
	const query = `
		SELECT id, email, name, created_at, updated_at
		FROM users
		WHERE id = $1`

	var u User
	row := s.client.QueryRow(ctx, query, id)
	if err := row.Scan(&u.ID, &u.Email, &u.Name, &u.CreatedAt, &u.UpdatedAt); err != nil {
		return nil, mapScanError(err, fmt.Sprintf("user %s not found", id))
	}
	return &u, nil
}

// Create inserts the user and its identity link in one transaction. A
// duplicate (issuer, subject) pair rolls back and surfaces as an
// already-exists conflict.
func (s *PostgresStore) Create(ctx context.Context, user *User, identity *UserIdentity) error {
	tx, err := s.client.Begin(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	const insertUser = `
		INSERT INTO users (id, email, name, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5)`
	if _, err := tx.Exec(ctx, insertUser,
		user.ID, user.Email, user.Name, user.CreatedAt, user.UpdatedAt); err != nil {
		return mapExecError(err)
	}

	const insertIdentity = `
		INSERT INTO user_identities (id, user_id, issuer, subject, created_at)
		VALUES ($1, $2, $3, $4, $5)`
	if _, err := tx.Exec(ctx, insertIdentity,
		identity.ID, identity.UserID, identity.Issuer, identity.Subject, identity.CreatedAt); err != nil {
		return mapExecError(err)
	}

	if err := tx.Commit(ctx); err != nil {
		return mapExecError(err)
	}
	return nil
}

// UpdateDisplay refreshes the user's email and display name.
func (s *PostgresStore) UpdateDisplay(ctx context.Context, id uuid.UUID, email, name string) error {
	const query = `
		UPDATE users
		SET email = $2, name = $3, updated_at = $4
		WHERE id = $1`

	tag, err := s.client.Exec(ctx, query, id, email, name, time.Now())
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return acerr.New(acerr.CodeNotFoundUser, fmt.Sprintf("user %s not found", id))
	}
	return nil
}

func mapScanError(err error, msg string) error {
	if acerr.IsNotFound(err) || errors.Is(err, pgx.ErrNoRows) {
		return acerr.New(acerr.CodeNotFoundUser, msg)
	}
	return acerr.Wrap(err, acerr.CodeInternalDatabase, "identity query failed")
}

func mapExecError(err error) error {
	if pgclient.IsUniqueViolation(err) {
		return acerr.New(acerr.CodeConflictAlreadyExists, "identity already linked to a user")
	}
	if _, ok := acerr.AsError(err); ok {
		return err
	}
	return acerr.Wrap(err, acerr.CodeInternalDatabase, "identity write failed")
}
