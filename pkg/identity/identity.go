// Package identity maps verified provider identities onto local user
// accounts, provisioning them just in time on first login.
package identity

import (
	"context"
	"time"

	"github.com/google/uuid"

	acerr "github.com/piewared/authcore/pkg/errors"
)

// User is a local account. A user can hold identities from several
// providers.
type User struct {
	ID        uuid.UUID `json:"id"`
	Email     string    `json:"email"`
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// UserIdentity links a provider (issuer, subject) pair to a local user.
// The pair is unique across the system.
type UserIdentity struct {
	ID        uuid.UUID `json:"id"`
	UserID    uuid.UUID `json:"user_id"`
	Issuer    string    `json:"issuer"`
	Subject   string    `json:"subject"`
	CreatedAt time.Time `json:"created_at"`
}

// Store persists users and their provider identities.
type Store interface {
	// FindBySubject returns the user linked to the (issuer, subject)
	// pair, or a not-found error.
	FindBySubject(ctx context.Context, issuer, subject string) (*User, error)

	// FindByID returns the user with the given ID.
	FindByID(ctx context.Context, id uuid.UUID) (*User, error)

	// Create atomically inserts the user and its identity link. A
	// concurrent insert of the same (issuer, subject) surfaces as an
	// already-exists conflict.
	Create(ctx context.Context, user *User, identity *UserIdentity) error

	// UpdateDisplay refreshes the user's email and display name.
	UpdateDisplay(ctx context.Context, id uuid.UUID, email, name string) error
}

// Claims carries the identity fields the provisioner reads from a
// verified, normalized token.
type Claims struct {
	Issuer  string
	Subject string
	Email   string
	Name    string
}

// Provisioner resolves verified claims to a local user, creating the
// account on first login.
type Provisioner struct {
	store Store
	now   func() time.Time
}

// NewProvisioner creates a Provisioner backed by the given store.
func NewProvisioner(store Store) *Provisioner {
	return &Provisioner{store: store, now: time.Now}
}

// Provision returns the local user for the claims. An existing user gets
// its display fields refreshed when they changed upstream. A first login
// creates the user and identity link; when a concurrent login for the
// same subject wins the insert race, the winning row is read back so both
// logins resolve to the same user.
func (p *Provisioner) Provision(ctx context.Context, claims Claims) (*User, error) {
	if claims.Issuer == "" || claims.Subject == "" {
		return nil, acerr.Validation("claims must carry issuer and subject")
	}

	user, err := p.store.FindBySubject(ctx, claims.Issuer, claims.Subject)
	if err == nil {
		return p.refreshDisplay(ctx, user, claims)
	}
	if !acerr.IsNotFound(err) {
		return nil, err
	}

	now := p.now()
	newUser := &User{
		ID:        uuid.New(),
		Email:     claims.Email,
		Name:      claims.Name,
		CreatedAt: now,
		UpdatedAt: now,
	}
	link := &UserIdentity{
		ID:        uuid.New(),
		UserID:    newUser.ID,
		Issuer:    claims.Issuer,
		Subject:   claims.Subject,
		CreatedAt: now,
	}

	err = p.store.Create(ctx, newUser, link)
	if err == nil {
		return newUser, nil
	}
	if !acerr.HasCode(err, acerr.CodeConflictAlreadyExists) {
		return nil, err
	}

	// Lost the insert race; the winning row holds the account.
	return p.store.FindBySubject(ctx, claims.Issuer, claims.Subject)
}

// Lookup returns the user with the given ID string. A malformed ID is a
// not-found, not a validation failure, so stale session records do not
// leak internals.
func (p *Provisioner) Lookup(ctx context.Context, id string) (*User, error) {
	parsed, err := uuid.Parse(id)
	if err != nil {
		return nil, acerr.New(acerr.CodeNotFoundUser, "user not found")
	}
	return p.store.FindByID(ctx, parsed)
}

func (p *Provisioner) refreshDisplay(ctx context.Context, user *User, claims Claims) (*User, error) {
	if user.Email == claims.Email && user.Name == claims.Name {
		return user, nil
	}
	if claims.Email == "" && claims.Name == "" {
		return user, nil
	}

	email := claims.Email
	if email == "" {
		email = user.Email
	}
	name := claims.Name
	if name == "" {
		name = user.Name
	}
	if email == user.Email && name == user.Name {
		return user, nil
	}

	if err := p.store.UpdateDisplay(ctx, user.ID, email, name); err != nil {
		return nil, err
	}
	user.Email = email
	user.Name = name
	user.UpdatedAt = p.now()
	return user, nil
}
