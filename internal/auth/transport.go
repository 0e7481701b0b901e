package auth

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/gorilla/securecookie"

	"github.com/volcanicminds/volcanic-backend/internal/config"
)

// Transport extracts the raw credential string from a request, either from
// the Authorization header or from a signed cookie, depending on the
// configured auth transport mode.
type Transport struct {
	mode       config.AuthTransport
	cookieName string
	codec      *securecookie.SecureCookie
}

// NewTransport builds the extractor for the configured mode. Cookie mode
// requires the securecookie hash key; bearer mode needs nothing.
func NewTransport(cfg config.AuthConfig) (*Transport, error) {
	t := &Transport{mode: cfg.Transport, cookieName: cfg.CookieName}
	if cfg.Transport == config.AuthTransportCookie {
		if cfg.CookieHashKey == "" {
			return nil, fmt.Errorf("cookie transport requires a hash key")
		}
		t.codec = securecookie.New([]byte(cfg.CookieHashKey), nil)
	}
	return t, nil
}

// Extract returns the raw credential and whether one was supplied. A present
// but malformed value counts as not supplied; the caller then proceeds as the
// public role and lets RBAC decide.
func (t *Transport) Extract(r *http.Request) (string, bool) {
	if t.mode == config.AuthTransportCookie {
		cookie, err := r.Cookie(t.cookieName)
		if err != nil || cookie.Value == "" {
			return "", false
		}
		var raw string
		if err := t.codec.Decode(t.cookieName, cookie.Value, &raw); err != nil {
			return "", false
		}
		return raw, raw != ""
	}

	header := r.Header.Get("Authorization")
	prefix, token, found := strings.Cut(header, " ")
	if !found || prefix != "Bearer" || token == "" {
		return "", false
	}
	return token, true
}

// EncodeCookie signs a credential for cookie transport. Returns an error in
// bearer mode, where no cookie codec exists.
func (t *Transport) EncodeCookie(raw string) (*http.Cookie, error) {
	if t.codec == nil {
		return nil, fmt.Errorf("cookie transport not configured")
	}
	encoded, err := t.codec.Encode(t.cookieName, raw)
	if err != nil {
		return nil, fmt.Errorf("encode auth cookie: %w", err)
	}
	return &http.Cookie{
		Name:     t.cookieName,
		Value:    encoded,
		Path:     "/",
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	}, nil
}

// ClearCookie produces an expired cookie for logout in cookie mode.
func (t *Transport) ClearCookie() *http.Cookie {
	return &http.Cookie{
		Name:     t.cookieName,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	}
}
