package identity

import (
	"context"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/piewared/authcore/internal/testutil"
	acerr "github.com/piewared/authcore/pkg/errors"
)

func identityTestClaims() Claims {
	return Claims{
		Issuer:  "https://issuer.test",
		Subject: "subject-1",
		Email:   "ada@example.com",
		Name:    "Ada Lovelace",
	}
}

func TestProvisioner_FirstLoginCreatesUser(t *testing.T) {
	store := NewMemoryStore()
	p := NewProvisioner(store)

	user, err := p.Provision(context.Background(), identityTestClaims())
	require.NoError(t, err)
	assert.NotEqual(t, uuid.Nil, user.ID)
	assert.Equal(t, "ada@example.com", user.Email)
	assert.Equal(t, "Ada Lovelace", user.Name)

	// The identity link resolves to the same account.
	found, err := store.FindBySubject(context.Background(), "https://issuer.test", "subject-1")
	require.NoError(t, err)
	assert.Equal(t, user.ID, found.ID)
}

func TestProvisioner_RepeatLoginReturnsSameUser(t *testing.T) {
	p := NewProvisioner(NewMemoryStore())
	ctx := context.Background()

	first, err := p.Provision(ctx, identityTestClaims())
	require.NoError(t, err)

	second, err := p.Provision(ctx, identityTestClaims())
	require.NoError(t, err)
	assert.Equal(t, first.ID, second.ID)
}

func TestProvisioner_RefreshesChangedDisplayFields(t *testing.T) {
	store := NewMemoryStore()
	p := NewProvisioner(store)
	ctx := context.Background()

	first, err := p.Provision(ctx, identityTestClaims())
	require.NoError(t, err)

	changed := identityTestClaims()
	changed.Email = "ada.lovelace@example.com"
	changed.Name = "Ada King"

	second, err := p.Provision(ctx, changed)
	require.NoError(t, err)
	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, "ada.lovelace@example.com", second.Email)
	assert.Equal(t, "Ada King", second.Name)

	stored, err := store.FindByID(ctx, first.ID)
	require.NoError(t, err)
	assert.Equal(t, "ada.lovelace@example.com", stored.Email)
}

func TestProvisioner_EmptyClaimFieldsDoNotClobber(t *testing.T) {
	store := NewMemoryStore()
	p := NewProvisioner(store)
	ctx := context.Background()

	first, err := p.Provision(ctx, identityTestClaims())
	require.NoError(t, err)

	sparse := identityTestClaims()
	sparse.Email = ""
	sparse.Name = ""

	second, err := p.Provision(ctx, sparse)
	require.NoError(t, err)
	assert.Equal(t, first.Email, second.Email)
	assert.Equal(t, first.Name, second.Name)
}

func TestProvisioner_MissingIssuerOrSubject(t *testing.T) {
	p := NewProvisioner(NewMemoryStore())

	_, err := p.Provision(context.Background(), Claims{Subject: "subject-1"})
	require.Error(t, err)
	assert.True(t, acerr.IsValidation(err))

	_, err = p.Provision(context.Background(), Claims{Issuer: "https://issuer.test"})
	require.Error(t, err)
	assert.True(t, acerr.IsValidation(err))
}

func TestProvisioner_DistinctSubjectsGetDistinctUsers(t *testing.T) {
	p := NewProvisioner(NewMemoryStore())
	ctx := context.Background()

	a, err := p.Provision(ctx, identityTestClaims())
	require.NoError(t, err)

	other := identityTestClaims()
	other.Subject = "subject-2"
	b, err := p.Provision(ctx, other)
	require.NoError(t, err)

	assert.NotEqual(t, a.ID, b.ID)
}

func TestProvisioner_ConcurrentFirstLoginsConverge(t *testing.T) {
	p := NewProvisioner(NewMemoryStore())
	ctx := context.Background()

	const logins = 16
	var wg sync.WaitGroup
	users := make([]*User, logins)
	errs := make([]error, logins)
	for i := 0; i < logins; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			users[i], errs[i] = p.Provision(ctx, identityTestClaims())
		}(i)
	}
	wg.Wait()

	require.NoError(t, errs[0])
	for i := 1; i < logins; i++ {
		require.NoError(t, errs[i])
		assert.Equal(t, users[0].ID, users[i].ID)
	}
}

func TestMemoryStore_CreateDuplicateConflicts(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	user := &User{ID: uuid.New()}
	link := &UserIdentity{ID: uuid.New(), UserID: user.ID, Issuer: "https://issuer.test", Subject: "subject-1"}
	require.NoError(t, store.Create(ctx, user, link))

	dup := &UserIdentity{ID: uuid.New(), UserID: uuid.New(), Issuer: "https://issuer.test", Subject: "subject-1"}
	err := store.Create(ctx, &User{ID: dup.UserID}, dup)
	testutil.RequireErrorCode(t, err, acerr.CodeConflictAlreadyExists)
}

func TestMemoryStore_FindByID_NotFound(t *testing.T) {
	store := NewMemoryStore()

	_, err := store.FindByID(context.Background(), uuid.New())
	testutil.RequireErrorCode(t, err, acerr.CodeNotFoundUser)
}
