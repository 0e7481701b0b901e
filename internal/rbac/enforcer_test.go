package rbac

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/volcanicminds/volcanic-backend/internal/roles"
)

func newTestEnforcer(t *testing.T, extra ...string) *Enforcer {
	t.Helper()
	registry, err := roles.NewRegistry(extra...)
	require.NoError(t, err)
	e, err := NewEnforcer(registry)
	require.NoError(t, err)
	return e
}

func TestRequirementPublic(t *testing.T) {
	assert.True(t, Requirement{}.Public())
	assert.True(t, Requirement{Roles: []string{"public"}}.Public())
	assert.True(t, Requirement{Roles: []string{"admin", "public"}}.Public())
	assert.False(t, Requirement{Roles: []string{"admin"}}.Public())
}

func TestEnforcerAllowORSemantics(t *testing.T) {
	e := newTestEnforcer(t)
	route := RouteID("GET", "/reports")
	require.NoError(t, e.Load(route, Requirement{Roles: []string{"admin", "backoffice"}}, false))

	t.Run("any declared role suffices", func(t *testing.T) {
		ok, err := e.Allow(route, []string{"backoffice"})
		require.NoError(t, err)
		assert.True(t, ok)

		ok, err = e.Allow(route, []string{"admin"})
		require.NoError(t, err)
		assert.True(t, ok)
	})

	t.Run("one matching role among many suffices", func(t *testing.T) {
		ok, err := e.Allow(route, []string{"public", "backoffice"})
		require.NoError(t, err)
		assert.True(t, ok)
	})

	t.Run("no matching role denies", func(t *testing.T) {
		ok, err := e.Allow(route, []string{"public"})
		require.NoError(t, err)
		assert.False(t, ok)
	})

	t.Run("empty role set never satisfies a non-public requirement", func(t *testing.T) {
		ok, err := e.Allow(route, nil)
		require.NoError(t, err)
		assert.False(t, ok)
	})
}

func TestEnforcerRouteIsolation(t *testing.T) {
	e := newTestEnforcer(t)
	reports := RouteID("GET", "/reports")
	tenants := RouteID("GET", "/tenants")
	require.NoError(t, e.Load(reports, Requirement{Roles: []string{"backoffice"}}, false))
	require.NoError(t, e.Load(tenants, Requirement{Roles: []string{"admin"}}, false))

	ok, err := e.Allow(tenants, []string{"backoffice"})
	require.NoError(t, err)
	assert.False(t, ok, "a grant on one route must not leak to another")
}

func TestEnforcerAdminImplicit(t *testing.T) {
	t.Run("off by default", func(t *testing.T) {
		e := newTestEnforcer(t)
		route := RouteID("GET", "/reports")
		require.NoError(t, e.Load(route, Requirement{Roles: []string{"backoffice"}}, false))

		ok, err := e.Allow(route, []string{"admin"})
		require.NoError(t, err)
		assert.False(t, ok)
	})

	t.Run("appends admin when enabled", func(t *testing.T) {
		e := newTestEnforcer(t)
		route := RouteID("GET", "/reports")
		require.NoError(t, e.Load(route, Requirement{Roles: []string{"backoffice"}}, true))

		ok, err := e.Allow(route, []string{"admin"})
		require.NoError(t, err)
		assert.True(t, ok)
	})
}

func TestEnforcerLoad(t *testing.T) {
	t.Run("unknown role is a startup error", func(t *testing.T) {
		e := newTestEnforcer(t)
		err := e.Load(RouteID("GET", "/x"), Requirement{Roles: []string{"nonexistent"}}, false)
		assert.Error(t, err)
	})

	t.Run("custom registered roles load", func(t *testing.T) {
		e := newTestEnforcer(t, "auditor")
		route := RouteID("GET", "/audit")
		require.NoError(t, e.Load(route, Requirement{Roles: []string{"auditor"}}, false))

		ok, err := e.Allow(route, []string{"auditor"})
		require.NoError(t, err)
		assert.True(t, ok)
	})

	t.Run("public requirements load nothing", func(t *testing.T) {
		e := newTestEnforcer(t)
		require.NoError(t, e.Load(RouteID("GET", "/open"), Requirement{}, true))
	})
}
