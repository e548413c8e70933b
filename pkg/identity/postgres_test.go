package identity

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	pgclient "github.com/piewared/authcore/pkg/clients/postgres"
	"github.com/piewared/authcore/internal/testutil"
	acerr "github.com/piewared/authcore/pkg/errors"
)

func newMockStore(t *testing.T) (*PostgresStore, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	t.Cleanup(mock.Close)
	client := pgclient.NewFromPool(mock, &pgclient.Config{Database: "testdb"})
	return NewPostgresStore(client), mock
}

func TestPostgresStore_FindBySubject(t *testing.T) {
	store, mock := newMockStore(t)

	userID := uuid.New()
	now := time.Now()
	rows := pgxmock.NewRows([]string{"id", "email", "name", "created_at", "updated_at"}).
		AddRow(userID, "ada@example.com", "Ada Lovelace", now, now)
	mock.ExpectQuery("SELECT u.id, u.email, u.name").
		WithArgs("https://issuer.test", "subject-1").
		WillReturnRows(rows)

	user, err := store.FindBySubject(context.Background(), "https://issuer.test", "subject-1")
	require.NoError(t, err)
	assert.Equal(t, userID, user.ID)
	assert.Equal(t, "ada@example.com", user.Email)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_FindBySubject_NotFound(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectQuery("SELECT u.id, u.email, u.name").
		WithArgs("https://issuer.test", "missing").
		WillReturnError(pgx.ErrNoRows)

	_, err := store.FindBySubject(context.Background(), "https://issuer.test", "missing")
	testutil.RequireErrorCode(t, err, acerr.CodeNotFoundUser)
}

func TestPostgresStore_FindByID(t *testing.T) {
	store, mock := newMockStore(t)

	userID := uuid.New()
	now := time.Now()
	rows := pgxmock.NewRows([]string{"id", "email", "name", "created_at", "updated_at"}).
		AddRow(userID, "ada@example.com", "Ada Lovelace", now, now)
	mock.ExpectQuery("SELECT id, email, name").
		WithArgs(userID).
		WillReturnRows(rows)

	user, err := store.FindByID(context.Background(), userID)
	require.NoError(t, err)
	assert.Equal(t, userID, user.ID)
}

func TestPostgresStore_Create(t *testing.T) {
	store, mock := newMockStore(t)

	now := time.Now()
	user := &User{ID: uuid.New(), Email: "ada@example.com", Name: "Ada Lovelace", CreatedAt: now, UpdatedAt: now}
	link := &UserIdentity{ID: uuid.New(), UserID: user.ID, Issuer: "https://issuer.test", Subject: "subject-1", CreatedAt: now}

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO users").
		WithArgs(user.ID, user.Email, user.Name, user.CreatedAt, user.UpdatedAt).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectExec("INSERT INTO user_identities").
		WithArgs(link.ID, link.UserID, link.Issuer, link.Subject, link.CreatedAt).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectCommit()
	mock.ExpectRollback()

	require.NoError(t, store.Create(context.Background(), user, link))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_Create_DuplicateIdentity(t *testing.T) {
	store, mock := newMockStore(t)

	now := time.Now()
	user := &User{ID: uuid.New(), CreatedAt: now, UpdatedAt: now}
	link := &UserIdentity{ID: uuid.New(), UserID: user.ID, Issuer: "https://issuer.test", Subject: "subject-1", CreatedAt: now}

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO users").
		WithArgs(user.ID, user.Email, user.Name, user.CreatedAt, user.UpdatedAt).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectExec("INSERT INTO user_identities").
		WithArgs(link.ID, link.UserID, link.Issuer, link.Subject, link.CreatedAt).
		WillReturnError(&pgconn.PgError{Code: "23505", ConstraintName: "user_identities_issuer_subject_key"})
	mock.ExpectRollback()

	err := store.Create(context.Background(), user, link)
	testutil.RequireErrorCode(t, err, acerr.CodeConflictAlreadyExists)
}

func TestPostgresStore_UpdateDisplay(t *testing.T) {
	store, mock := newMockStore(t)

	userID := uuid.New()
	mock.ExpectExec("UPDATE users").
		WithArgs(userID, "new@example.com", "New Name", pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))

	require.NoError(t, store.UpdateDisplay(context.Background(), userID, "new@example.com", "New Name"))
}

func TestPostgresStore_UpdateDisplay_NotFound(t *testing.T) {
	store, mock := newMockStore(t)

	userID := uuid.New()
	mock.ExpectExec("UPDATE users").
		WithArgs(userID, "new@example.com", "New Name", pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))

	err := store.UpdateDisplay(context.Background(), userID, "new@example.com", "New Name")
	testutil.RequireErrorCode(t, err, acerr.CodeNotFoundUser)
}
