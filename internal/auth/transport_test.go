package auth

import (
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/volcanicminds/volcanic-backend/internal/config"
)

func TestBearerTransport(t *testing.T) {
	transport, err := NewTransport(config.AuthConfig{Transport: config.AuthTransportBearer})
	require.NoError(t, err)

	t.Run("extracts bearer token", func(t *testing.T) {
		r := httptest.NewRequest("GET", "/me", nil)
		r.Header.Set("Authorization", "Bearer abc123")

		raw, ok := transport.Extract(r)
		assert.True(t, ok)
		assert.Equal(t, "abc123", raw)
	})

	t.Run("missing header is not supplied", func(t *testing.T) {
		r := httptest.NewRequest("GET", "/me", nil)
		_, ok := transport.Extract(r)
		assert.False(t, ok)
	})

	t.Run("wrong scheme is not supplied", func(t *testing.T) {
		r := httptest.NewRequest("GET", "/me", nil)
		r.Header.Set("Authorization", "Basic dXNlcjpwYXNz")
		_, ok := transport.Extract(r)
		assert.False(t, ok)
	})

	t.Run("encode cookie fails in bearer mode", func(t *testing.T) {
		_, err := transport.EncodeCookie("abc123")
		assert.Error(t, err)
	})
}

func TestCookieTransport(t *testing.T) {
	cfg := config.AuthConfig{
		Transport:     config.AuthTransportCookie,
		CookieName:    "auth_token",
		CookieHashKey: "0123456789abcdef0123456789abcdef",
	}
	transport, err := NewTransport(cfg)
	require.NoError(t, err)

	t.Run("round trip", func(t *testing.T) {
		cookie, err := transport.EncodeCookie("abc123")
		require.NoError(t, err)
		assert.True(t, cookie.HttpOnly)

		r := httptest.NewRequest("GET", "/me", nil)
		r.AddCookie(cookie)

		raw, ok := transport.Extract(r)
		assert.True(t, ok)
		assert.Equal(t, "abc123", raw)
	})

	t.Run("tampered cookie is not supplied", func(t *testing.T) {
		cookie, err := transport.EncodeCookie("abc123")
		require.NoError(t, err)
		cookie.Value = "x" + cookie.Value

		r := httptest.NewRequest("GET", "/me", nil)
		r.AddCookie(cookie)

		_, ok := transport.Extract(r)
		assert.False(t, ok)
	})

	t.Run("clear cookie expires immediately", func(t *testing.T) {
		cookie := transport.ClearCookie()
		assert.Equal(t, "auth_token", cookie.Name)
		assert.Negative(t, cookie.MaxAge)
	})

	t.Run("missing hash key is rejected", func(t *testing.T) {
		_, err := NewTransport(config.AuthConfig{Transport: config.AuthTransportCookie})
		assert.Error(t, err)
	})
}
