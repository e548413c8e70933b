package oidc

import (
	"context"
	"crypto/rsa"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	acerr "github.com/piewared/authcore/pkg/errors"
)

func TestKeyCache_GetKey(t *testing.T) {
	key := oidcTestGenerateRSAKey(t)

	var hits int
	srv := oidcTestJWKSServer(t, map[string]*rsa.PrivateKey{"key-1": key}, &hits)

	cache := NewKeyCache(srv.Client())
	cache.RegisterIssuer("https://issuer.test", srv.URL)

	got, err := cache.GetKey(context.Background(), "https://issuer.test", "key-1")
	require.NoError(t, err)
	pub, ok := got.(*rsa.PublicKey)
	require.True(t, ok)
	assert.Equal(t, key.PublicKey.N, pub.N)
	assert.Equal(t, 1, hits)

	// Second lookup is served from cache.
	_, err = cache.GetKey(context.Background(), "https://issuer.test", "key-1")
	require.NoError(t, err)
	assert.Equal(t, 1, hits)
}

func TestKeyCache_UnregisteredIssuer(t *testing.T) {
	cache := NewKeyCache(http.DefaultClient)

	_, err := cache.GetKey(context.Background(), "https://unknown.test", "key-1")
	require.Error(t, err)
	assert.Equal(t, acerr.CodeInternalConfiguration, acerr.GetCode(err))
}

func TestKeyCache_UnknownKidTriggersRefetch(t *testing.T) {
	oldKey := oidcTestGenerateRSAKey(t)
	newKey := oidcTestGenerateRSAKey(t)

	var mu sync.Mutex
	rotated := false
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		defer mu.Unlock()
		keys := map[string]*rsa.PrivateKey{"key-old": oldKey}
		if rotated {
			keys = map[string]*rsa.PrivateKey{"key-new": newKey}
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write(oidcTestJWKSJSON(t, keys))
	}))
	defer srv.Close()

	cache := NewKeyCache(srv.Client())
	cache.RegisterIssuer("https://issuer.test", srv.URL)

	_, err := cache.GetKey(context.Background(), "https://issuer.test", "key-old")
	require.NoError(t, err)

	mu.Lock()
	rotated = true
	mu.Unlock()

	// A kid absent from the cached snapshot forces a synchronous refetch.
	got, err := cache.GetKey(context.Background(), "https://issuer.test", "key-new")
	require.NoError(t, err)
	pub := got.(*rsa.PublicKey)
	assert.Equal(t, newKey.PublicKey.N, pub.N)
}

func TestKeyCache_KidMissingAfterRefetch(t *testing.T) {
	key := oidcTestGenerateRSAKey(t)
	srv := oidcTestJWKSServer(t, map[string]*rsa.PrivateKey{"key-1": key}, nil)

	cache := NewKeyCache(srv.Client())
	cache.RegisterIssuer("https://issuer.test", srv.URL)

	_, err := cache.GetKey(context.Background(), "https://issuer.test", "no-such-kid")
	require.Error(t, err)
	assert.Equal(t, acerr.CodeNotFound, acerr.GetCode(err))
}

func TestKeyCache_FetchFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	cache := NewKeyCache(srv.Client())
	cache.RegisterIssuer("https://issuer.test", srv.URL)

	_, err := cache.GetKey(context.Background(), "https://issuer.test", "key-1")
	require.Error(t, err)
	assert.Equal(t, acerr.CodeJWKSUnavailable, acerr.GetCode(err))
}

func TestKeyCache_ConcurrentFetchesCoalesce(t *testing.T) {
	key := oidcTestGenerateRSAKey(t)
	body := oidcTestJWKSJSON(t, map[string]*rsa.PrivateKey{"key-1": key})

	var hits atomic.Int64
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		<-release
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write(body)
	}))
	defer srv.Close()

	cache := NewKeyCache(srv.Client())
	cache.RegisterIssuer("https://issuer.test", srv.URL)

	const callers = 8
	var wg sync.WaitGroup
	errs := make([]error, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = cache.GetKey(context.Background(), "https://issuer.test", "key-1")
		}(i)
	}

	// Let the goroutines pile up on the in-flight fetch, then release it.
	time.Sleep(100 * time.Millisecond)
	close(release)
	wg.Wait()

	for i := 0; i < callers; i++ {
		assert.NoError(t, errs[i])
	}
	assert.Equal(t, int64(1), hits.Load())
}

func TestKeyCache_StaleSnapshotServedDuringRefresh(t *testing.T) {
	key := oidcTestGenerateRSAKey(t)

	var hits atomic.Int64
	body := oidcTestJWKSJSON(t, map[string]*rsa.PrivateKey{"key-1": key})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write(body)
	}))
	defer srv.Close()

	clock := time.Now()
	cache := NewKeyCache(srv.Client(),
		WithFreshness(time.Minute),
		WithClock(func() time.Time { return clock }),
	)
	cache.RegisterIssuer("https://issuer.test", srv.URL)

	_, err := cache.GetKey(context.Background(), "https://issuer.test", "key-1")
	require.NoError(t, err)
	require.Equal(t, int64(1), hits.Load())

	// Past the freshness window the cached key is still returned while a
	// background refresh runs.
	clock = clock.Add(2 * time.Minute)
	got, err := cache.GetKey(context.Background(), "https://issuer.test", "key-1")
	require.NoError(t, err)
	assert.NotNil(t, got)

	assert.Eventually(t, func() bool { return hits.Load() >= 2 },
		2*time.Second, 10*time.Millisecond)
}

func TestParseRSAPublicKey_Invalid(t *testing.T) {
	_, err := parseRSAPublicKey("!!not-base64!!", "AQAB")
	assert.Error(t, err)
}

func TestParseECPublicKey_UnsupportedCurve(t *testing.T) {
	_, err := parseECPublicKey("P-999", "AA", "AA")
	assert.Error(t, err)
}
