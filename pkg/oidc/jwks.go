package oidc

import (
	"context"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rsa"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"math/big"
	"net/http"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	acerr "github.com/piewared/authcore/pkg/errors"
)

// defaultFreshness is how long a cached JWKS snapshot is served without
// triggering a background refresh.
const defaultFreshness = 15 * time.Minute

// keySnapshot stores fetched JWKS keys and the time they were fetched.
type keySnapshot struct {
	keys      map[string]any // kid -> *rsa.PublicKey or *ecdsa.PublicKey
	fetchedAt time.Time
}

// KeyCache caches JSON Web Key Sets fetched from OIDC providers, keyed by
// issuer. Concurrent fetches for the same issuer are coalesced into a
// single upstream request. Stale snapshots are refreshed in the
// background; a snapshot is only discarded once a replacement has been
// fetched successfully, so transient provider outages do not invalidate
// keys that were previously served.
type KeyCache struct {
	mu        sync.RWMutex
	entries   map[string]*keySnapshot
	urls      map[string]string // issuer -> JWKS URL
	freshness time.Duration
	client    HTTPClient
	group     singleflight.Group
	now       func() time.Time
}

// KeyCacheOption customizes a KeyCache.
type KeyCacheOption func(*KeyCache)

// WithFreshness sets how long a snapshot is served before a background
// refresh is scheduled.
func WithFreshness(d time.Duration) KeyCacheOption {
	return func(c *KeyCache) { c.freshness = d }
}

// WithClock overrides the cache clock. Used in tests.
func WithClock(now func() time.Time) KeyCacheOption {
	return func(c *KeyCache) { c.now = now }
}

// NewKeyCache creates a JWKS key cache using the given HTTP client for
// upstream fetches.
func NewKeyCache(client HTTPClient, opts ...KeyCacheOption) *KeyCache {
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	c := &KeyCache{
		entries:   make(map[string]*keySnapshot),
		urls:      make(map[string]string),
		freshness: defaultFreshness,
		client:    client,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// RegisterIssuer associates an issuer with its JWKS endpoint. Keys for an
// unregistered issuer cannot be resolved.
func (c *KeyCache) RegisterIssuer(issuer, jwksURL string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.urls[issuer] = jwksURL
}

// GetKey returns the public key with the given kid for the issuer. If the
// kid is absent from the cached snapshot the set is refetched once to
// handle key rotation. Fetch failures with no usable cached key return a
// JWKS-unavailable error; verification against such a result fails closed.
func (c *KeyCache) GetKey(ctx context.Context, issuer, kid string) (any, error) {
	c.mu.RLock()
	jwksURL, registered := c.urls[issuer]
	snap, cached := c.entries[issuer]
	c.mu.RUnlock()

	if !registered {
		return nil, acerr.New(acerr.CodeInternalConfiguration,
			fmt.Sprintf("no JWKS endpoint registered for issuer %q", issuer))
	}

	if cached {
		if key, ok := snap.keys[kid]; ok {
			if c.now().Sub(snap.fetchedAt) > c.freshness {
				c.refreshAsync(issuer, jwksURL)
			}
			return key, nil
		}
	}

	// Cache miss or unknown kid (possible rotation): fetch synchronously,
	// coalescing concurrent callers.
	snap, err := c.refresh(ctx, issuer, jwksURL)
	if err != nil {
		return nil, err
	}

	key, ok := snap.keys[kid]
	if !ok {
		return nil, acerr.New(acerr.CodeNotFound,
			fmt.Sprintf("key %q not found in JWKS for issuer %q", kid, issuer))
	}
	return key, nil
}

// refresh fetches the JWKS for issuer, coalescing concurrent calls into a
// single upstream request.
func (c *KeyCache) refresh(ctx context.Context, issuer, jwksURL string) (*keySnapshot, error) {
	v, err, _ := c.group.Do(issuer, func() (any, error) {
		keys, err := c.fetchJWKS(ctx, jwksURL)
		if err != nil {
			return nil, acerr.Wrap(err, acerr.CodeJWKSUnavailable,
				fmt.Sprintf("failed to fetch JWKS for issuer %q", issuer))
		}
		snap := &keySnapshot{keys: keys, fetchedAt: c.now()}
		c.mu.Lock()
		c.entries[issuer] = snap
		c.mu.Unlock()
		return snap, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*keySnapshot), nil
}

// refreshAsync schedules a background refresh for a stale snapshot. The
// caller keeps serving the current snapshot.
func (c *KeyCache) refreshAsync(issuer, jwksURL string) {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_, _, _ = c.group.Do(issuer, func() (any, error) {
			keys, err := c.fetchJWKS(ctx, jwksURL)
			if err != nil {
				return nil, err
			}
			snap := &keySnapshot{keys: keys, fetchedAt: c.now()}
			c.mu.Lock()
			c.entries[issuer] = snap
			c.mu.Unlock()
			return snap, nil
		})
	}()
}

// jwk represents a single key in a JWKS document.
type jwk struct {
	Kty string `json:"kty"`
	Kid string `json:"kid"`
	Use string `json:"use"`
	N   string `json:"n"`
	E   string `json:"e"`
	Crv string `json:"crv"`
	X   string `json:"x"`
	Y   string `json:"y"`
}

// fetchJWKS fetches and parses a JWKS document. Supports RSA and EC
// (P-256, P-384, P-521) key types.
//
// The response body is limited to 1 MB to prevent resource exhaustion.
func (c *KeyCache) fetchJWKS(ctx context.Context, jwksURL string) (map[string]any, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, jwksURL, nil)
	if err != nil {
		return nil, fmt.Errorf("oidc: failed to create JWKS request: %w", err)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("oidc: JWKS request failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("oidc: JWKS endpoint returned status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxDiscoveryResponseSize))
	if err != nil {
		return nil, fmt.Errorf("oidc: failed to read JWKS response: %w", err)
	}

	var doc struct {
		Keys []jwk `json:"keys"`
	}
	if err := json.Unmarshal(body, &doc); err != nil {
		return nil, fmt.Errorf("oidc: failed to parse JWKS JSON: %w", err)
	}

	keys := make(map[string]any, len(doc.Keys))
	for _, k := range doc.Keys {
		if k.Kid == "" {
			continue
		}
		if k.Use != "" && k.Use != "sig" {
			continue
		}
		switch k.Kty {
		case "RSA":
			pubKey, err := parseRSAPublicKey(k.N, k.E)
			if err != nil {
				continue // Skip malformed keys.
			}
			keys[k.Kid] = pubKey
		case "EC":
			pubKey, err := parseECPublicKey(k.Crv, k.X, k.Y)
			if err != nil {
				continue // Skip malformed keys.
			}
			keys[k.Kid] = pubKey
		}
	}
	if len(keys) == 0 {
		return nil, fmt.Errorf("oidc: JWKS document contained no usable keys")
	}
	return keys, nil
}

// parseRSAPublicKey constructs an *rsa.PublicKey from base64url-encoded
// modulus (n) and exponent (e) values.
func parseRSAPublicKey(nBase64, eBase64 string) (*rsa.PublicKey, error) {
	nBytes, err := base64.RawURLEncoding.DecodeString(nBase64)
	if err != nil {
		return nil, fmt.Errorf("oidc: failed to decode RSA modulus: %w", err)
	}
	eBytes, err := base64.RawURLEncoding.DecodeString(eBase64)
	if err != nil {
		return nil, fmt.Errorf("oidc: failed to decode RSA exponent: %w", err)
	}

	e := 0
	for _, b := range eBytes {
		e = e<<8 | int(b)
	}
	return &rsa.PublicKey{
		N: new(big.Int).SetBytes(nBytes),
		E: e,
	}, nil
}

// parseECPublicKey constructs an *ecdsa.PublicKey from a curve name and
// base64url-encoded x and y coordinates.
func parseECPublicKey(crv, xBase64, yBase64 string) (*ecdsa.PublicKey, error) {
	var curve elliptic.Curve
	switch crv {
	case "P-256":
		curve = elliptic.P256()
	case "P-384":
		curve = elliptic.P384()
	case "P-521":
		curve = elliptic.P521()
	default:
		return nil, fmt.Errorf("oidc: unsupported EC curve %q", crv)
	}

	xBytes, err := base64.RawURLEncoding.DecodeString(xBase64)
	if err != nil {
		return nil, fmt.Errorf("oidc: failed to decode EC x coordinate: %w", err)
	}
	yBytes, err := base64.RawURLEncoding.DecodeString(yBase64)
	if err != nil {
		return nil, fmt.Errorf("oidc: failed to decode EC y coordinate: %w", err)
	}

	return &ecdsa.PublicKey{
		Curve: curve,
		X:     new(big.Int).SetBytes(xBytes),
		Y:     new(big.Int).SetBytes(yBytes),
	}, nil
}
