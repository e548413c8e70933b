package session

import (
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFingerprinter_Compute(t *testing.T) {
	f := &Fingerprinter{Enabled: true}

	r1 := httptest.NewRequest("GET", "/", nil)
	r1.Header.Set("User-Agent", "Mozilla/5.0")
	r1.Header.Set("Accept-Language", "en-US")
	r1.Header.Set("Accept-Encoding", "gzip")

	r2 := httptest.NewRequest("GET", "/", nil)
	r2.Header.Set("User-Agent", "Mozilla/5.0")
	r2.Header.Set("Accept-Language", "en-US")
	r2.Header.Set("Accept-Encoding", "gzip")

	assert.Equal(t, f.Compute(r1), f.Compute(r2))
	assert.Len(t, f.Compute(r1), 64)
}

func TestFingerprinter_HeaderChangeChangesFingerprint(t *testing.T) {
	f := &Fingerprinter{Enabled: true}

	r1 := httptest.NewRequest("GET", "/", nil)
	r1.Header.Set("User-Agent", "Mozilla/5.0")

	r2 := httptest.NewRequest("GET", "/", nil)
	r2.Header.Set("User-Agent", "curl/8.0")

	assert.NotEqual(t, f.Compute(r1), f.Compute(r2))
}

func TestFingerprinter_MissingHeaders(t *testing.T) {
	f := &Fingerprinter{Enabled: true}
	r := httptest.NewRequest("GET", "/", nil)
	r.Header.Del("User-Agent")

	// Absent headers still produce a defined fingerprint.
	assert.Len(t, f.Compute(r), 64)
}

func TestFingerprinter_Matches(t *testing.T) {
	f := &Fingerprinter{Enabled: true}

	r := httptest.NewRequest("GET", "/", nil)
	r.Header.Set("User-Agent", "Mozilla/5.0")
	stored := f.Compute(r)

	assert.True(t, f.Matches(stored, r))

	r.Header.Set("User-Agent", "curl/8.0")
	assert.False(t, f.Matches(stored, r))
}

func TestFingerprinter_DisabledAlwaysMatches(t *testing.T) {
	f := &Fingerprinter{Enabled: false}
	r := httptest.NewRequest("GET", "/", nil)
	assert.True(t, f.Matches("anything", r))
}
