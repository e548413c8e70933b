package session

import (
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"
	"time"

	acerr "github.com/piewared/authcore/pkg/errors"
)

// defaultCSRFMaxAgeHours is how many hour buckets back a CSRF token is
// still accepted.
const defaultCSRFMaxAgeHours = 12

// CSRFService issues and verifies double-submit CSRF tokens bound to a
// session ID. A token is the current hour bucket joined with an HMAC of
// the session ID and that bucket, so tokens are stateless to verify and
// expire on their own without storage.
type CSRFService struct {
	secret    []byte
	maxAgeHrs int
	now       func() time.Time
}

// CSRFOption customizes a CSRFService.
type CSRFOption func(*CSRFService)

// WithCSRFMaxAge sets how many hours a token stays valid.
func WithCSRFMaxAge(hours int) CSRFOption {
	return func(s *CSRFService) { s.maxAgeHrs = hours }
}

// WithCSRFClock overrides the service clock. Used in tests.
func WithCSRFClock(now func() time.Time) CSRFOption {
	return func(s *CSRFService) { s.now = now }
}

// NewCSRFService creates a CSRF token service. The secret must be at
// least 32 bytes.
func NewCSRFService(secret []byte, opts ...CSRFOption) (*CSRFService, error) {
	if len(secret) < 32 {
		return nil, acerr.Validation("CSRF secret must be at least 32 bytes")
	}
	s := &CSRFService{
		secret:    secret,
		maxAgeHrs: defaultCSRFMaxAgeHours,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Issue returns a fresh token bound to sessionID for the current hour
// bucket.
func (s *CSRFService) Issue(sessionID string) string {
	bucket := s.now().UTC().Unix() / 3600
	return s.tokenFor(sessionID, bucket)
}

// Verify checks that the token was issued for sessionID within the
// acceptance window. Each candidate bucket's expected token is recomputed
// and compared in constant time; a mismatch for every bucket is an
// invalid-token error.
func (s *CSRFService) Verify(sessionID, token string) error {
	if token == "" {
		return acerr.New(acerr.CodeCsrfTokenMissing, "CSRF token is missing")
	}

	dot := strings.IndexByte(token, '.')
	if dot <= 0 {
		return acerr.New(acerr.CodeCsrfTokenInvalid, "CSRF token is malformed")
	}
	claimed, err := strconv.ParseInt(token[:dot], 10, 64)
	if err != nil {
		return acerr.New(acerr.CodeCsrfTokenInvalid, "CSRF token is malformed")
	}

	current := s.now().UTC().Unix() / 3600
	if claimed > current || claimed < current-int64(s.maxAgeHrs) {
		return acerr.New(acerr.CodeCsrfTokenInvalid, "CSRF token is outside the acceptance window")
	}

	for bucket := current; bucket >= current-int64(s.maxAgeHrs); bucket-- {
		expected := s.tokenFor(sessionID, bucket)
		if subtle.ConstantTimeCompare([]byte(expected), []byte(token)) == 1 {
			return nil
		}
	}
	return acerr.New(acerr.CodeCsrfTokenInvalid, "CSRF token verification failed")
}

func (s *CSRFService) tokenFor(sessionID string, bucket int64) string {
	mac := hmac.New(sha256.New, s.secret)
	mac.Write([]byte(sessionID + ":" + strconv.FormatInt(bucket, 10)))
	return fmt.Sprintf("%d.%s", bucket, hex.EncodeToString(mac.Sum(nil)))
}
