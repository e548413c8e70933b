// Package flow orchestrates the backend-for-frontend login lifecycle:
// authorization-code initiation with PKCE, the provider callback, session
// resolution with rotation, token refresh and logout. The browser only
// ever holds opaque session cookies; provider tokens stay server-side.
package flow

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	acerr "github.com/piewared/authcore/pkg/errors"
	"github.com/piewared/authcore/pkg/identity"
	"github.com/piewared/authcore/pkg/oidc"
	"github.com/piewared/authcore/pkg/session"
)

// tracerName is the OpenTelemetry instrumentation scope name for this
// package, following the Go module path convention.
const tracerName = "github.com/piewared/authcore/pkg/flow"

// Config tunes the login flow.
type Config struct {
	// CookieDomain scopes the session cookies. Empty means host-only.
	CookieDomain string `yaml:"cookie_domain" env:"COOKIE_DOMAIN"`

	// SecureCookies marks cookies Secure. Disable only for local
	// development over plain HTTP.
	SecureCookies bool `yaml:"secure_cookies" env:"SECURE_COOKIES" envDefault:"true"`

	// AuthSessionTTL bounds an in-flight login attempt.
	AuthSessionTTL time.Duration `yaml:"auth_session_ttl" env:"AUTH_SESSION_TTL" envDefault:"10m"`

	// UserSessionTTL is the absolute lifetime of a user session.
	UserSessionTTL time.Duration `yaml:"user_session_ttl" env:"USER_SESSION_TTL" envDefault:"1h"`

	// RotationInterval is how often a session ID is rotated on use.
	RotationInterval time.Duration `yaml:"rotation_interval" env:"ROTATION_INTERVAL" envDefault:"30m"`

	// AllowedOrigins are the origins accepted on state-changing requests.
	AllowedOrigins []string `yaml:"allowed_origins" env:"ALLOWED_ORIGINS"`

	// EnableFingerprinting turns browser fingerprint binding on.
	EnableFingerprinting bool `yaml:"enable_fingerprinting" env:"ENABLE_FINGERPRINTING" envDefault:"true"`

	// DefaultReturnTo is where a login lands when no explicit target was
	// requested.
	DefaultReturnTo string `yaml:"default_return_to" env:"DEFAULT_RETURN_TO" envDefault:"/"`
}

// Validate checks the configuration and applies defaults.
func (c *Config) Validate() error {
	if c.AuthSessionTTL <= 0 {
		c.AuthSessionTTL = 10 * time.Minute
	}
	if c.UserSessionTTL <= 0 {
		c.UserSessionTTL = time.Hour
	}
	if c.RotationInterval <= 0 {
		c.RotationInterval = 30 * time.Minute
	}
	if c.DefaultReturnTo == "" {
		c.DefaultReturnTo = "/"
	}
	if !safeReturnTo(c.DefaultReturnTo) {
		return acerr.Validation("default_return_to must be a rooted local path")
	}
	return nil
}

// Controller drives the login lifecycle. It is stateless; all session
// state lives in the Store, so any number of instances can serve the same
// deployment.
type Controller struct {
	registry    *oidc.Registry
	verifier    *oidc.Verifier
	store       session.Store
	users       *identity.Provisioner
	csrf        *session.CSRFService
	fingerprint *session.Fingerprinter
	cipher      *session.TokenCipher
	cfg         Config
	tracer      trace.Tracer
	now         func() time.Time
}

// ControllerOption customizes a Controller.
type ControllerOption func(*Controller)

// WithClock overrides the controller clock. Used in tests.
func WithClock(now func() time.Time) ControllerOption {
	return func(c *Controller) { c.now = now }
}

// NewController wires the flow components together.
func NewController(
	registry *oidc.Registry,
	verifier *oidc.Verifier,
	store session.Store,
	users *identity.Provisioner,
	csrf *session.CSRFService,
	cipher *session.TokenCipher,
	cfg Config,
	opts ...ControllerOption,
) (*Controller, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	c := &Controller{
		registry:    registry,
		verifier:    verifier,
		store:       store,
		users:       users,
		csrf:        csrf,
		fingerprint: &session.Fingerprinter{Enabled: cfg.EnableFingerprinting},
		cipher:      cipher,
		cfg:         cfg,
		tracer:      otel.Tracer(tracerName),
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// LoginRedirect is the outcome of BeginLogin: send the browser to URL
// with Cookie set.
type LoginRedirect struct {
	URL    string
	Cookie *http.Cookie
}

// BeginLogin starts an authorization-code login with the named provider.
// It mints the state, nonce and PKCE verifier, persists them in a fresh
// auth session bound to the browser fingerprint, and returns the provider
// redirect.
func (c *Controller) BeginLogin(ctx context.Context, r *http.Request, providerName, returnTo string) (*LoginRedirect, error) {
	ctx, span := c.tracer.Start(ctx, "flow.BeginLogin",
		trace.WithAttributes(attribute.String("auth.provider", providerName)))
	defer span.End()

	provider, err := c.registry.Get(providerName)
	if err != nil {
		return nil, spanErr(span, err)
	}

	if !safeReturnTo(returnTo) {
		returnTo = c.cfg.DefaultReturnTo
	}

	id, err := randomToken()
	if err != nil {
		return nil, spanErr(span, acerr.Wrap(err, acerr.CodeInternal, "failed to mint session id"))
	}
	state, err := randomToken()
	if err != nil {
		return nil, spanErr(span, acerr.Wrap(err, acerr.CodeInternal, "failed to mint state"))
	}
	nonce, err := randomToken()
	if err != nil {
		return nil, spanErr(span, acerr.Wrap(err, acerr.CodeInternal, "failed to mint nonce"))
	}
	verifier, err := randomToken()
	if err != nil {
		return nil, spanErr(span, acerr.Wrap(err, acerr.CodeInternal, "failed to mint code verifier"))
	}

	now := c.now()
	auth := &session.AuthSession{
		ID:           id,
		Provider:     providerName,
		State:        state,
		Nonce:        nonce,
		CodeVerifier: verifier,
		ReturnTo:     returnTo,
		Fingerprint:  c.fingerprint.Compute(r),
		CreatedAt:    now,
		ExpiresAt:    now.Add(c.cfg.AuthSessionTTL),
	}
	if err := c.store.PutAuth(ctx, auth); err != nil {
		return nil, spanErr(span, err)
	}

	return &LoginRedirect{
		URL:    provider.AuthCodeURL(state, nonce, pkceChallenge(verifier)),
		Cookie: c.newAuthCookie(id, c.cfg.AuthSessionTTL),
	}, nil
}

// CallbackResult is the outcome of a successful provider callback.
type CallbackResult struct {
	User            *identity.User
	SessionCookie   *http.Cookie
	ClearAuthCookie *http.Cookie
	CSRFToken       string
	ReturnTo        string
}

// HandleCallback completes the login after the provider redirects back.
// The auth session referenced by the browser cookie is validated (expiry,
// single use, state, fingerprint) before the code is exchanged; the ID
// token's nonce must match the one minted at initiation. On success the
// user is provisioned and a user session is created; the auth session is
// consumed either way.
func (c *Controller) HandleCallback(ctx context.Context, r *http.Request, code, state string) (*CallbackResult, error) {
	ctx, span := c.tracer.Start(ctx, "flow.HandleCallback")
	defer span.End()

	cookie, err := r.Cookie(AuthCookieName)
	if err != nil || cookie.Value == "" {
		return nil, spanErr(span, acerr.New(acerr.CodeAuthSessionExpired, "no login attempt in progress"))
	}

	auth, err := c.store.GetAuth(ctx, cookie.Value)
	if err != nil {
		if acerr.HasCode(err, acerr.CodeSessionNotFound) {
			return nil, spanErr(span, acerr.New(acerr.CodeAuthSessionExpired, "login attempt expired"))
		}
		return nil, spanErr(span, err)
	}

	now := c.now()
	if auth.Expired(now) {
		_ = c.store.DeleteAuth(ctx, auth.ID)
		return nil, spanErr(span, acerr.New(acerr.CodeAuthSessionExpired, "login attempt expired"))
	}
	if auth.Used {
		// A replayed callback consumes the session permanently.
		_ = c.store.DeleteAuth(ctx, auth.ID)
		return nil, spanErr(span, acerr.New(acerr.CodeAuthSessionReused, "login attempt already completed"))
	}
	if state == "" || state != auth.State {
		return nil, spanErr(span, acerr.New(acerr.CodeAuthStateMismatch, "state parameter does not match login attempt"))
	}
	if !c.fingerprint.Matches(auth.Fingerprint, r) {
		_ = c.store.DeleteAuth(ctx, auth.ID)
		return nil, spanErr(span, acerr.New(acerr.CodeFingerprintMismatch, "browser fingerprint changed during login"))
	}

	// Mark the attempt consumed before the exchange so a concurrent
	// callback with the same code cannot complete twice.
	auth.Used = true
	if err := c.store.PutAuth(ctx, auth); err != nil {
		return nil, spanErr(span, err)
	}

	provider, err := c.registry.Get(auth.Provider)
	if err != nil {
		return nil, spanErr(span, err)
	}
	pcfg := provider.Config()

	tokens, err := provider.Exchange(ctx, code, auth.CodeVerifier)
	if err != nil {
		return nil, spanErr(span, err)
	}

	claims, err := c.verifier.Verify(ctx, tokens.IDToken, oidc.VerifyParams{
		Issuer:            pcfg.IssuerURL,
		Audiences:         pcfg.Audiences,
		AllowedAlgorithms: pcfg.AllowedAlgorithms,
		ClockSkew:         pcfg.ClockSkew,
		Nonce:             auth.Nonce,
	})
	if err != nil {
		return nil, spanErr(span, err)
	}

	normalizer := &oidc.Normalizer{ClientID: pcfg.ClientID}
	normalized := normalizer.Normalize(claims.Raw)

	user, err := c.users.Provision(ctx, identity.Claims{
		Issuer:  claims.Issuer,
		Subject: claims.Subject,
		Email:   normalized.Email,
		Name:    normalized.Name,
	})
	if err != nil {
		return nil, spanErr(span, err)
	}
	span.SetAttributes(attribute.String("auth.user_id", user.ID.String()))

	sessionID, err := randomToken()
	if err != nil {
		return nil, spanErr(span, acerr.Wrap(err, acerr.CodeInternal, "failed to mint session id"))
	}

	encryptedRefresh := ""
	if c.cipher != nil && tokens.RefreshToken != "" {
		encryptedRefresh, err = c.cipher.Encrypt(tokens.RefreshToken)
		if err != nil {
			return nil, spanErr(span, err)
		}
	}

	userSession := &session.UserSession{
		ID:                     sessionID,
		UserID:                 user.ID.String(),
		Provider:               auth.Provider,
		Email:                  user.Email,
		Fingerprint:            c.fingerprint.Compute(r),
		RefreshTokenCiphertext: encryptedRefresh,
		AccessTokenExpiresAt:   tokens.Expiry,
		CreatedAt:              now,
		LastActivityAt:         now,
		LastRotatedAt:          now,
		ExpiresAt:              now.Add(c.cfg.UserSessionTTL),
	}
	if err := c.store.PutUser(ctx, userSession); err != nil {
		return nil, spanErr(span, err)
	}

	return &CallbackResult{
		User:            user,
		SessionCookie:   c.newSessionCookie(sessionID, c.cfg.UserSessionTTL),
		ClearAuthCookie: c.clearCookie(AuthCookieName),
		CSRFToken:       c.csrf.Issue(sessionID),
		ReturnTo:        auth.ReturnTo,
	}, nil
}

// State is the resolved authentication state of a request.
type State struct {
	User    *identity.User
	Session *session.UserSession

	// SetCookie is non-nil when the session ID was rotated and the
	// browser needs the replacement cookie.
	SetCookie *http.Cookie

	// CSRFToken is reissued alongside a rotation so the frontend keeps a
	// token bound to the live session ID.
	CSRFToken string
}

// CurrentState resolves the session cookie to the authenticated user. It
// slides the activity timestamp, rotates the session ID when the rotation
// interval has elapsed, and destroys the session on a fingerprint
// mismatch.
func (c *Controller) CurrentState(ctx context.Context, r *http.Request) (*State, error) {
	ctx, span := c.tracer.Start(ctx, "flow.CurrentState")
	defer span.End()

	cookie, err := r.Cookie(SessionCookieName)
	if err != nil || cookie.Value == "" {
		return nil, spanErr(span, acerr.Unauthorized("no session"))
	}

	sess, err := c.store.GetUser(ctx, cookie.Value)
	if err != nil {
		return nil, spanErr(span, err)
	}

	now := c.now()
	if sess.Expired(now) {
		_ = c.store.DeleteUser(ctx, sess.ID)
		return nil, spanErr(span, acerr.SessionNotFound())
	}
	if !c.fingerprint.Matches(sess.Fingerprint, r) {
		_ = c.store.DeleteUser(ctx, sess.ID)
		return nil, spanErr(span, acerr.New(acerr.CodeFingerprintMismatch, "browser fingerprint does not match session"))
	}

	account, err := c.users.Lookup(ctx, sess.UserID)
	if err != nil {
		return nil, spanErr(span, err)
	}

	state := &State{User: account, Session: sess}

	if now.Sub(sess.LastRotatedAt) >= c.cfg.RotationInterval {
		newID, err := randomToken()
		if err != nil {
			return nil, spanErr(span, acerr.Wrap(err, acerr.CodeInternal, "failed to mint session id"))
		}
		rotated, err := c.store.Rotate(ctx, sess.ID, newID)
		if err != nil {
			return nil, spanErr(span, err)
		}
		sess = rotated
		state.Session = rotated
		state.SetCookie = c.newSessionCookie(newID, time.Until(rotated.ExpiresAt))
		state.CSRFToken = c.csrf.Issue(newID)
	}

	sess.LastActivityAt = now
	if err := c.store.PutUser(ctx, sess); err != nil {
		return nil, spanErr(span, err)
	}

	return state, nil
}

// RefreshResult is the outcome of a token refresh.
type RefreshResult struct {
	Session   *session.UserSession
	SetCookie *http.Cookie
	CSRFToken string

	// Reauthenticate is set when the provider rejected the refresh token
	// and the user must log in again. The session itself survives so the
	// frontend can route to login without losing state.
	Reauthenticate bool
}

// Refresh renews the upstream access token with the stored refresh token
// and rotates the session ID. A provider rejection does not destroy the
// session; it is signalled through Reauthenticate.
func (c *Controller) Refresh(ctx context.Context, r *http.Request) (*RefreshResult, error) {
	ctx, span := c.tracer.Start(ctx, "flow.Refresh")
	defer span.End()

	cookie, err := r.Cookie(SessionCookieName)
	if err != nil || cookie.Value == "" {
		return nil, spanErr(span, acerr.Unauthorized("no session"))
	}

	sess, err := c.store.GetUser(ctx, cookie.Value)
	if err != nil {
		return nil, spanErr(span, err)
	}
	if !c.fingerprint.Matches(sess.Fingerprint, r) {
		_ = c.store.DeleteUser(ctx, sess.ID)
		return nil, spanErr(span, acerr.New(acerr.CodeFingerprintMismatch, "browser fingerprint does not match session"))
	}

	if sess.RefreshTokenCiphertext == "" || c.cipher == nil {
		return &RefreshResult{Session: sess, Reauthenticate: true}, nil
	}

	refreshToken, err := c.cipher.Decrypt(sess.RefreshTokenCiphertext)
	if err != nil {
		return nil, spanErr(span, err)
	}

	provider, err := c.registry.Get(sess.Provider)
	if err != nil {
		return nil, spanErr(span, err)
	}

	tokens, err := provider.RefreshGrant(ctx, refreshToken)
	if err != nil {
		if acerr.HasCode(err, acerr.CodeProviderExchange) {
			return &RefreshResult{Session: sess, Reauthenticate: true}, nil
		}
		return nil, spanErr(span, err)
	}

	if tokens.RefreshToken != "" && tokens.RefreshToken != refreshToken {
		sess.RefreshTokenCiphertext, err = c.cipher.Encrypt(tokens.RefreshToken)
		if err != nil {
			return nil, spanErr(span, err)
		}
	}
	sess.AccessTokenExpiresAt = tokens.Expiry
	sess.LastActivityAt = c.now()
	if err := c.store.PutUser(ctx, sess); err != nil {
		return nil, spanErr(span, err)
	}

	newID, err := randomToken()
	if err != nil {
		return nil, spanErr(span, acerr.Wrap(err, acerr.CodeInternal, "failed to mint session id"))
	}
	rotated, err := c.store.Rotate(ctx, sess.ID, newID)
	if err != nil {
		return nil, spanErr(span, err)
	}

	return &RefreshResult{
		Session:   rotated,
		SetCookie: c.newSessionCookie(newID, time.Until(rotated.ExpiresAt)),
		CSRFToken: c.csrf.Issue(newID),
	}, nil
}

// LogoutResult is the outcome of a logout.
type LogoutResult struct {
	ClearSessionCookie *http.Cookie
}

// Logout destroys the user session. The request must carry an allow-listed
// Origin and a CSRF token bound to the session. When no session cookie is
// present a dummy CSRF verification still runs so the response does not
// reveal whether a session existed.
func (c *Controller) Logout(ctx context.Context, r *http.Request, csrfToken string) (*LogoutResult, error) {
	ctx, span := c.tracer.Start(ctx, "flow.Logout")
	defer span.End()

	if err := c.checkOrigin(r); err != nil {
		return nil, spanErr(span, err)
	}

	cookie, err := r.Cookie(SessionCookieName)
	if err != nil || cookie.Value == "" {
		// Equalize timing and response shape with the invalid-token path.
		_ = c.csrf.Verify("missing", csrfToken)
		return nil, spanErr(span, acerr.New(acerr.CodeCsrfTokenInvalid, "CSRF token verification failed"))
	}

	if err := c.csrf.Verify(cookie.Value, csrfToken); err != nil {
		return nil, spanErr(span, err)
	}

	if err := c.store.DeleteUser(ctx, cookie.Value); err != nil {
		return nil, spanErr(span, err)
	}

	return &LogoutResult{ClearSessionCookie: c.clearCookie(SessionCookieName)}, nil
}

// checkOrigin enforces the origin allow-list on state-changing requests.
// A request with no Origin header (same-origin navigation, non-browser
// client) passes; a present Origin must be allow-listed.
func (c *Controller) checkOrigin(r *http.Request) error {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return nil
	}
	for _, allowed := range c.cfg.AllowedOrigins {
		if origin == allowed {
			return nil
		}
	}
	return acerr.New(acerr.CodeOriginNotAllowed,
		fmt.Sprintf("origin %q is not allowed", origin))
}

func spanErr(span trace.Span, err error) error {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	return err
}
