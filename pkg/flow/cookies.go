package flow

import (
	"net/http"
	"strings"
	"time"
)

const (
	// AuthCookieName carries the ephemeral auth session ID between login
	// initiation and the provider callback.
	AuthCookieName = "auth_session_id"

	// SessionCookieName carries the persistent user session ID.
	SessionCookieName = "user_session_id"
)

// newAuthCookie builds the short-lived cookie for an in-flight login.
func (c *Controller) newAuthCookie(id string, ttl time.Duration) *http.Cookie {
	return &http.Cookie{
		Name:     AuthCookieName,
		Value:    id,
		Path:     "/",
		Domain:   c.cfg.CookieDomain,
		MaxAge:   int(ttl.Seconds()),
		HttpOnly: true,
		Secure:   c.cfg.SecureCookies,
		SameSite: http.SameSiteLaxMode,
	}
}

// newSessionCookie builds the persistent user session cookie.
func (c *Controller) newSessionCookie(id string, ttl time.Duration) *http.Cookie {
	return &http.Cookie{
		Name:     SessionCookieName,
		Value:    id,
		Path:     "/",
		Domain:   c.cfg.CookieDomain,
		MaxAge:   int(ttl.Seconds()),
		HttpOnly: true,
		Secure:   c.cfg.SecureCookies,
		SameSite: http.SameSiteLaxMode,
	}
}

// clearCookie builds an expired cookie that removes name from the
// browser.
func (c *Controller) clearCookie(name string) *http.Cookie {
	return &http.Cookie{
		Name:     name,
		Value:    "",
		Path:     "/",
		Domain:   c.cfg.CookieDomain,
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   c.cfg.SecureCookies,
		SameSite: http.SameSiteLaxMode,
	}
}

// safeReturnTo reports whether path is a safe local redirect target: it
// must be a rooted path and not a protocol-relative or absolute URL.
func safeReturnTo(path string) bool {
	if path == "" {
		return false
	}
	if !strings.HasPrefix(path, "/") {
		return false
	}
	if strings.HasPrefix(path, "//") {
		return false
	}
	if strings.Contains(path, "\\") {
		return false
	}
	return true
}
