package bunx

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidSchemaName(t *testing.T) {
	valid := []string{"public", "acme", "tenant_42", "T1", "a"}
	for _, name := range valid {
		assert.True(t, ValidSchemaName(name), name)
	}

	invalid := []string{
		"",
		"acme-prod",
		`acme"; DROP SCHEMA public; --`,
		"acme prod",
		"acme.prod",
	}
	for _, name := range invalid {
		assert.False(t, ValidSchemaName(name), name)
	}
}

func TestSessionLifecycle(t *testing.T) {
	db, err := NewDB(":memory:", 1)
	require.NoError(t, err)
	defer Close(db)

	pool := NewPool(db)
	ctx := context.Background()

	session, err := pool.Acquire(ctx, "tenant_a")
	require.NoError(t, err)
	assert.Equal(t, "tenant_a", session.Schema())

	// The session is a live query target.
	var one int
	require.NoError(t, session.DB().NewRaw("SELECT 1").Scan(ctx, &one))
	assert.Equal(t, 1, one)

	require.NoError(t, session.Release())

	// Release is idempotent.
	assert.NoError(t, session.Release())
}

func TestSchemaIsolationSupport(t *testing.T) {
	db, err := NewDB(":memory:", 1)
	require.NoError(t, err)
	defer Close(db)

	pool := NewPool(db)
	ctx := context.Background()

	assert.False(t, pool.SupportsSchemaIsolation())

	// On this dialect the schema argument cannot confine the session: data
	// written through one tenant session is visible through another. That is
	// why serve refuses to start multi-tenant on anything but PostgreSQL.
	a, err := pool.Acquire(ctx, "tenant_a")
	require.NoError(t, err)
	_, err = a.DB().NewRaw("CREATE TABLE notes (body TEXT)").Exec(ctx)
	require.NoError(t, err)
	_, err = a.DB().NewRaw("INSERT INTO notes (body) VALUES ('hello')").Exec(ctx)
	require.NoError(t, err)
	require.NoError(t, a.Release())

	b, err := pool.Acquire(ctx, "tenant_b")
	require.NoError(t, err)
	defer func() { require.NoError(t, b.Release()) }()

	var body string
	require.NoError(t, b.DB().NewRaw("SELECT body FROM notes").Scan(ctx, &body))
	assert.Equal(t, "hello", body)
}

func TestDetectDatabaseType(t *testing.T) {
	assert.Equal(t, DatabaseTypePostgreSQL, DetectDatabaseType("postgres://u:p@localhost/db"))
	assert.Equal(t, DatabaseTypePostgreSQL, DetectDatabaseType("postgresql://u:p@localhost/db"))
	assert.Equal(t, DatabaseTypeSQLite, DetectDatabaseType(":memory:"))
	assert.Equal(t, DatabaseTypeSQLite, DetectDatabaseType("file:test.db"))
}
