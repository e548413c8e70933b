package oidc

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"golang.org/x/oauth2"

	acerr "github.com/piewared/authcore/pkg/errors"
)

// HTTPClient abstracts *http.Client for testing.
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

// ProviderConfig holds the configuration for a single upstream OIDC provider.
// Endpoints left empty are resolved at startup via OIDC discovery on the
// issuer URL.
type ProviderConfig struct {
	// Name is the short identifier used to select the provider at login
	// (e.g. "google", "keycloak").
	Name string `yaml:"name" env:"NAME" required:"true"`

	// IssuerURL is the expected value of the iss claim in tokens minted by
	// this provider, and the base URL for OIDC discovery.
	IssuerURL string `yaml:"issuer_url" env:"ISSUER_URL" required:"true"`

	ClientID     string `yaml:"client_id" env:"CLIENT_ID" required:"true"`
	ClientSecret Secret `yaml:"client_secret" env:"CLIENT_SECRET"`

	// RedirectURL is the callback URL registered with the provider.
	RedirectURL string `yaml:"redirect_url" env:"REDIRECT_URL" required:"true"`

	// Explicit endpoints. When empty they are filled from the provider's
	// discovery document.
	AuthorizationEndpoint string `yaml:"authorization_endpoint" env:"AUTHORIZATION_ENDPOINT"`
	TokenEndpoint         string `yaml:"token_endpoint" env:"TOKEN_ENDPOINT"`
	JWKSEndpoint          string `yaml:"jwks_endpoint" env:"JWKS_ENDPOINT"`
	UserInfoEndpoint      string `yaml:"userinfo_endpoint" env:"USERINFO_ENDPOINT"`
	EndSessionEndpoint    string `yaml:"end_session_endpoint" env:"END_SESSION_ENDPOINT"`

	// Scopes requested during authorization. "openid" is always included.
	Scopes []string `yaml:"scopes" env:"SCOPES" envDefault:"openid,email,profile"`

	// AllowedAlgorithms is the signature algorithm allow-list for ID tokens.
	AllowedAlgorithms []string `yaml:"allowed_algorithms" env:"ALLOWED_ALGORITHMS" envDefault:"RS256,ES256"`

	// Audiences are the acceptable aud values. Defaults to the client ID.
	Audiences []string `yaml:"audiences" env:"AUDIENCES"`

	// ClockSkew is the tolerance applied to time-based claim checks.
	ClockSkew time.Duration `yaml:"clock_skew" env:"CLOCK_SKEW" envDefault:"60s"`

	// HTTPTimeout bounds outbound calls to the provider.
	HTTPTimeout time.Duration `yaml:"http_timeout" env:"HTTP_TIMEOUT" envDefault:"10s"`
}

// Validate checks the provider configuration and applies defaults.
func (c *ProviderConfig) Validate() error {
	if c.Name == "" {
		return acerr.Validation("provider name is required")
	}
	if c.IssuerURL == "" {
		return acerr.Validation("issuer_url is required")
	}
	if c.ClientID == "" {
		return acerr.Validation("client_id is required")
	}
	if c.RedirectURL == "" {
		return acerr.Validation("redirect_url is required")
	}
	if len(c.AllowedAlgorithms) == 0 {
		c.AllowedAlgorithms = []string{"RS256", "ES256"}
	}
	for _, alg := range c.AllowedAlgorithms {
		if alg == "none" {
			return acerr.Validation("algorithm \"none\" is not permitted in allowed_algorithms")
		}
	}
	if len(c.Audiences) == 0 {
		c.Audiences = []string{c.ClientID}
	}
	if len(c.Scopes) == 0 {
		c.Scopes = []string{"openid", "email", "profile"}
	}
	if !containsScope(c.Scopes, "openid") {
		c.Scopes = append([]string{"openid"}, c.Scopes...)
	}
	if c.ClockSkew <= 0 {
		c.ClockSkew = 60 * time.Second
	}
	if c.HTTPTimeout <= 0 {
		c.HTTPTimeout = 10 * time.Second
	}
	return nil
}

func containsScope(scopes []string, want string) bool {
	for _, s := range scopes {
		if s == want {
			return true
		}
	}
	return false
}

// TokenSet holds the tokens returned by the provider's token endpoint.
type TokenSet struct {
	AccessToken  string
	RefreshToken string
	IDToken      string
	Expiry       time.Time
}

// Provider performs the OAuth2/OIDC protocol exchanges with a single
// configured upstream provider.
type Provider struct {
	cfg        ProviderConfig
	oauth      oauth2.Config
	httpClient HTTPClient
}

// NewProvider builds a Provider from configuration, resolving any missing
// endpoints through OIDC discovery.
func NewProvider(ctx context.Context, cfg ProviderConfig, httpClient HTTPClient) (*Provider, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: cfg.HTTPTimeout}
	}

	if cfg.AuthorizationEndpoint == "" || cfg.TokenEndpoint == "" || cfg.JWKSEndpoint == "" {
		doc, err := fetchDiscovery(ctx, cfg.IssuerURL, httpClient)
		if err != nil {
			return nil, acerr.Wrap(err, acerr.CodeUnavailableDependency,
				fmt.Sprintf("OIDC discovery failed for provider %q", cfg.Name))
		}
		if cfg.AuthorizationEndpoint == "" {
			cfg.AuthorizationEndpoint = doc.AuthorizationEndpoint
		}
		if cfg.TokenEndpoint == "" {
			cfg.TokenEndpoint = doc.TokenEndpoint
		}
		if cfg.JWKSEndpoint == "" {
			cfg.JWKSEndpoint = doc.JWKSURI
		}
		if cfg.UserInfoEndpoint == "" {
			cfg.UserInfoEndpoint = doc.UserInfoEndpoint
		}
		if cfg.EndSessionEndpoint == "" {
			cfg.EndSessionEndpoint = doc.EndSessionEndpoint
		}
	}

	return &Provider{
		cfg: cfg,
		oauth: oauth2.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret.Value(),
			RedirectURL:  cfg.RedirectURL,
			Scopes:       cfg.Scopes,
			Endpoint: oauth2.Endpoint{
				AuthURL:  cfg.AuthorizationEndpoint,
				TokenURL: cfg.TokenEndpoint,
			},
		},
		httpClient: httpClient,
	}, nil
}

// Name returns the provider's configured short name.
func (p *Provider) Name() string { return p.cfg.Name }

// Config returns a copy of the validated provider configuration.
func (p *Provider) Config() ProviderConfig { return p.cfg }

// AuthCodeURL builds the authorization redirect URL carrying the state,
// nonce and PKCE S256 challenge.
func (p *Provider) AuthCodeURL(state, nonce, codeChallenge string) string {
	return p.oauth.AuthCodeURL(state,
		oauth2.SetAuthURLParam("nonce", nonce),
		oauth2.SetAuthURLParam("code_challenge", codeChallenge),
		oauth2.SetAuthURLParam("code_challenge_method", "S256"),
	)
}

// Exchange redeems the authorization code at the token endpoint, sending
// the PKCE code verifier. The raw id_token is extracted from the response.
func (p *Provider) Exchange(ctx context.Context, code, codeVerifier string) (*TokenSet, error) {
	ctx = p.withHTTPClient(ctx)

	tok, err := p.oauth.Exchange(ctx, code,
		oauth2.SetAuthURLParam("code_verifier", codeVerifier),
	)
	if err != nil {
		return nil, acerr.Wrap(err, acerr.CodeProviderExchange,
			fmt.Sprintf("token exchange with provider %q failed", p.cfg.Name))
	}

	idToken, _ := tok.Extra("id_token").(string)
	if idToken == "" {
		return nil, acerr.New(acerr.CodeProviderExchange,
			fmt.Sprintf("provider %q returned no id_token", p.cfg.Name))
	}

	return &TokenSet{
		AccessToken:  tok.AccessToken,
		RefreshToken: tok.RefreshToken,
		IDToken:      idToken,
		Expiry:       tok.Expiry,
	}, nil
}

// RefreshGrant exchanges a refresh token for a new token set. Providers
// that rotate refresh tokens return the replacement in the result.
func (p *Provider) RefreshGrant(ctx context.Context, refreshToken string) (*TokenSet, error) {
	ctx = p.withHTTPClient(ctx)

	src := p.oauth.TokenSource(ctx, &oauth2.Token{RefreshToken: refreshToken})
	tok, err := src.Token()
	if err != nil {
		return nil, acerr.Wrap(err, acerr.CodeProviderExchange,
			fmt.Sprintf("refresh grant with provider %q failed", p.cfg.Name))
	}

	idToken, _ := tok.Extra("id_token").(string)

	out := &TokenSet{
		AccessToken:  tok.AccessToken,
		RefreshToken: tok.RefreshToken,
		IDToken:      idToken,
		Expiry:       tok.Expiry,
	}
	if out.RefreshToken == "" {
		out.RefreshToken = refreshToken
	}
	return out, nil
}

// FetchUserInfo calls the provider's userinfo endpoint with the given
// access token and returns the raw claim map.
func (p *Provider) FetchUserInfo(ctx context.Context, accessToken string) (map[string]any, error) {
	if p.cfg.UserInfoEndpoint == "" {
		return nil, acerr.New(acerr.CodeInternalConfiguration,
			fmt.Sprintf("provider %q has no userinfo endpoint", p.cfg.Name))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.cfg.UserInfoEndpoint, nil)
	if err != nil {
		return nil, acerr.Wrap(err, acerr.CodeInternal, "failed to create userinfo request")
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return nil, acerr.Wrap(err, acerr.CodeUnavailableDependency,
			fmt.Sprintf("userinfo request to provider %q failed", p.cfg.Name))
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return nil, acerr.New(acerr.CodeUnavailableDependency,
			fmt.Sprintf("userinfo endpoint returned status %d", resp.StatusCode))
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxDiscoveryResponseSize))
	if err != nil {
		return nil, acerr.Wrap(err, acerr.CodeUnavailableDependency, "failed to read userinfo response")
	}

	var claims map[string]any
	if err := json.Unmarshal(body, &claims); err != nil {
		return nil, acerr.Wrap(err, acerr.CodeUnavailableDependency, "failed to parse userinfo JSON")
	}
	return claims, nil
}

// withHTTPClient makes the oauth2 package use our injected HTTP client.
func (p *Provider) withHTTPClient(ctx context.Context) context.Context {
	if hc, ok := p.httpClient.(*http.Client); ok {
		return context.WithValue(ctx, oauth2.HTTPClient, hc)
	}
	return context.WithValue(ctx, oauth2.HTTPClient, &http.Client{
		Transport: roundTripperFunc(func(req *http.Request) (*http.Response, error) {
			return p.httpClient.Do(req)
		}),
		Timeout: p.cfg.HTTPTimeout,
	})
}

type roundTripperFunc func(*http.Request) (*http.Response, error)

func (f roundTripperFunc) RoundTrip(req *http.Request) (*http.Response, error) { return f(req) }

// Registry holds the set of configured providers keyed by name.
type Registry struct {
	providers map[string]*Provider
}

// NewRegistry builds providers for every configuration and returns the
// populated registry. Duplicate provider names are rejected.
func NewRegistry(ctx context.Context, configs []ProviderConfig, httpClient HTTPClient) (*Registry, error) {
	r := &Registry{providers: make(map[string]*Provider, len(configs))}
	for _, cfg := range configs {
		if _, exists := r.providers[cfg.Name]; exists {
			return nil, acerr.Validation(fmt.Sprintf("duplicate provider name %q", cfg.Name))
		}
		p, err := NewProvider(ctx, cfg, httpClient)
		if err != nil {
			return nil, err
		}
		r.providers[p.Name()] = p
	}
	return r, nil
}

// Get returns the provider registered under name.
func (r *Registry) Get(name string) (*Provider, error) {
	p, ok := r.providers[name]
	if !ok {
		return nil, acerr.Validation(fmt.Sprintf("unknown provider %q", name))
	}
	return p, nil
}

// Names returns the registered provider names.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.providers))
	for name := range r.providers {
		names = append(names, name)
	}
	return names
}
