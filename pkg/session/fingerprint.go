package session

import (
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"net/http"
	"strings"
)

// Fingerprinter derives a stable hash of the browser characteristics a
// session was established with. A later request whose fingerprint differs
// is treated as a possible stolen session cookie.
type Fingerprinter struct {
	// Enabled gates fingerprint enforcement. When false, Matches always
	// succeeds.
	Enabled bool
}

// Compute hashes the request's User-Agent, Accept-Language and
// Accept-Encoding headers. Absent headers hash as the empty string, so
// the fingerprint is always defined.
func (f *Fingerprinter) Compute(r *http.Request) string {
	parts := []string{
		r.Header.Get("User-Agent"),
		r.Header.Get("Accept-Language"),
		r.Header.Get("Accept-Encoding"),
	}
	sum := sha256.Sum256([]byte(strings.Join(parts, "|")))
	return hex.EncodeToString(sum[:])
}

// Matches reports whether the request's fingerprint equals the stored
// one. Comparison is constant time.
func (f *Fingerprinter) Matches(stored string, r *http.Request) bool {
	if !f.Enabled {
		return true
	}
	current := f.Compute(r)
	return subtle.ConstantTimeCompare([]byte(stored), []byte(current)) == 1
}
