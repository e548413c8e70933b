// Package session holds the ephemeral login state and persistent user
// sessions for the authentication flow, plus the CSRF and browser
// fingerprint services bound to them.
package session

import "time"

// AuthSession is the ephemeral state of one in-flight login attempt. It is
// created at login initiation, consumed exactly once at the callback, and
// never reused.
type AuthSession struct {
	ID           string    `json:"id"`
	Provider     string    `json:"provider"`
	State        string    `json:"state"`
	Nonce        string    `json:"nonce"`
	CodeVerifier string    `json:"code_verifier"`
	ReturnTo     string    `json:"return_to"`
	Fingerprint  string    `json:"fingerprint"`
	Used         bool      `json:"used"`
	CreatedAt    time.Time `json:"created_at"`
	ExpiresAt    time.Time `json:"expires_at"`
}

// Expired reports whether the login attempt has outlived its window.
func (s *AuthSession) Expired(now time.Time) bool {
	return !now.Before(s.ExpiresAt)
}

// UserSession is the persistent server-side session of an authenticated
// user. The browser only ever holds its opaque ID; tokens stay on the
// server, with the refresh token stored encrypted.
type UserSession struct {
	ID                     string    `json:"id"`
	UserID                 string    `json:"user_id"`
	Provider               string    `json:"provider"`
	Email                  string    `json:"email"`
	Fingerprint            string    `json:"fingerprint"`
	RefreshTokenCiphertext string    `json:"refresh_token_ciphertext,omitempty"`
	AccessTokenExpiresAt   time.Time `json:"access_token_expires_at"`
	CreatedAt              time.Time `json:"created_at"`
	LastActivityAt         time.Time `json:"last_activity_at"`
	LastRotatedAt          time.Time `json:"last_rotated_at"`
	ExpiresAt              time.Time `json:"expires_at"`
}

// Expired reports whether the session has passed its absolute expiry.
func (s *UserSession) Expired(now time.Time) bool {
	return !now.Before(s.ExpiresAt)
}
