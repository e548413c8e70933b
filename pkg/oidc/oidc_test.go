package oidc

import (
	"crypto/rand"
	"crypto/rsa"
	"encoding/base64"
	"encoding/json"
	"math/big"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/require"
)

// oidcTestGenerateRSAKey generates a 2048-bit RSA key for signing test
// tokens.
func oidcTestGenerateRSAKey(t *testing.T) *rsa.PrivateKey {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	return key
}

// oidcTestSignToken signs the given claims as an RS256 token with the
// given kid.
func oidcTestSignToken(t *testing.T, key *rsa.PrivateKey, kid string, claims jwt.MapClaims) string {
	t.Helper()
	tok := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
	tok.Header["kid"] = kid
	signed, err := tok.SignedString(key)
	require.NoError(t, err)
	return signed
}

// oidcTestJWKSJSON renders a JWKS document exposing the public halves of
// the given keys.
func oidcTestJWKSJSON(t *testing.T, keys map[string]*rsa.PrivateKey) []byte {
	t.Helper()
	type jwkOut struct {
		Kty string `json:"kty"`
		Kid string `json:"kid"`
		Use string `json:"use"`
		N   string `json:"n"`
		E   string `json:"e"`
	}
	doc := struct {
		Keys []jwkOut `json:"keys"`
	}{}
	for kid, key := range keys {
		doc.Keys = append(doc.Keys, jwkOut{
			Kty: "RSA",
			Kid: kid,
			Use: "sig",
			N:   base64.RawURLEncoding.EncodeToString(key.PublicKey.N.Bytes()),
			E:   base64.RawURLEncoding.EncodeToString(big.NewInt(int64(key.PublicKey.E)).Bytes()),
		})
	}
	body, err := json.Marshal(doc)
	require.NoError(t, err)
	return body
}

// oidcTestJWKSServer serves the JWKS for the given keys and counts the
// requests it receives through hits.
func oidcTestJWKSServer(t *testing.T, keys map[string]*rsa.PrivateKey, hits *int) *httptest.Server {
	t.Helper()
	body := oidcTestJWKSJSON(t, keys)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if hits != nil {
			*hits++
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write(body)
	}))
	t.Cleanup(srv.Close)
	return srv
}
