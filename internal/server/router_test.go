package server

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/volcanicminds/volcanic-backend/internal/auth"
	"github.com/volcanicminds/volcanic-backend/internal/config"
	vmiddleware "github.com/volcanicminds/volcanic-backend/internal/middleware"
	"github.com/volcanicminds/volcanic-backend/internal/rbac"
	"github.com/volcanicminds/volcanic-backend/internal/roles"
)

func routerFixture(t *testing.T, routes []Route) (RouterOptions, *countingSessions) {
	t.Helper()
	cfg := &config.Config{
		Auth: config.AuthConfig{
			Enabled:    true,
			Secret:     testSecret,
			Transport:  config.AuthTransportBearer,
			TokenTTL:   time.Hour,
			PreAuthTTL: 5 * time.Minute,
		},
		MultiTenant: config.MultiTenantConfig{DefaultSchema: "public"},
	}
	registry, err := roles.NewRegistry()
	require.NoError(t, err)
	enforcer, err := rbac.NewEnforcer(registry)
	require.NoError(t, err)
	transport, err := auth.NewTransport(cfg.Auth)
	require.NoError(t, err)

	sessions := &countingSessions{}
	return RouterOptions{
		Cfg: cfg,
		Deps: vmiddleware.SecurityDependencies{
			Cfg:       cfg,
			Verifier:  auth.NewVerifier(cfg.Auth.Secret),
			Transport: transport,
			Sessions:  sessions,
			Users:     new(MockUserRepository),
			Tokens:    new(MockTokenRepository),
			Enforcer:  enforcer,
		},
		Enforcer: enforcer,
		Routes:   routes,
	}, sessions
}

func TestNewRouterServesDeclaredRoutes(t *testing.T) {
	routes := []Route{
		{Method: http.MethodGet, Path: "/ping", Handler: func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusNoContent)
		}},
	}
	opts, sessions := routerFixture(t, routes)
	r, err := NewRouter(opts)
	require.NoError(t, err)

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/ping", nil))

	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, int64(1), sessions.acquired.Load())
	assert.Equal(t, int64(1), sessions.released.Load())
}

func TestNewRouterHealthAndMetrics(t *testing.T) {
	opts, sessions := routerFixture(t, nil)
	r, err := NewRouter(opts)
	require.NoError(t, err)

	t.Run("health answers without a session", func(t *testing.T) {
		rec := httptest.NewRecorder()
		r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, "OK", rec.Body.String())
		assert.Zero(t, sessions.acquired.Load())
	})

	t.Run("metrics is exposed", func(t *testing.T) {
		rec := httptest.NewRecorder()
		r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Contains(t, rec.Body.String(), "volcanic_requests_total")
	})
}

func TestNewRouterRejectsUnknownRole(t *testing.T) {
	routes := []Route{
		{Method: http.MethodGet, Path: "/x", Roles: []string{"nonexistent"}, Handler: func(w http.ResponseWriter, r *http.Request) {}},
	}
	opts, _ := routerFixture(t, routes)
	_, err := NewRouter(opts)
	assert.Error(t, err)
}

func TestNewRouterRawBody(t *testing.T) {
	var captured []byte
	routes := []Route{
		{Method: http.MethodPost, Path: "/hooks", RawBody: true, Handler: func(w http.ResponseWriter, r *http.Request) {
			captured = RawBodyFrom(r.Context())
			w.WriteHeader(http.StatusOK)
		}},
	}
	opts, _ := routerFixture(t, routes)
	r, err := NewRouter(opts)
	require.NoError(t, err)

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/hooks", nil)
	req.Body = http.NoBody
	r.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, captured)

	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/hooks", strings.NewReader(`{"event":"ping"}`)))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, `{"event":"ping"}`, string(captured))
}
