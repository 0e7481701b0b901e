package bunx

import (
	"context"
	"fmt"
	"regexp"
	"sync"
	"time"

	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect"
)

// schemaIdentifier is the allow-list for schema names interpolated into the
// search_path directive. A tenant record failing this check is treated as
// hostile, never quoted around.
var schemaIdentifier = regexp.MustCompile(`^[A-Za-z0-9_]+$`)

// ErrInvalidSchema is returned when a schema name fails the allow-list check.
var ErrInvalidSchema = fmt.Errorf("schema name contains characters outside [A-Za-z0-9_]")

// ErrSchemaIsolationUnsupported is returned at startup when tenant schema
// switching is requested on a dialect without search_path support.
var ErrSchemaIsolationUnsupported = fmt.Errorf("schema isolation requires the PostgreSQL dialect")

// ValidSchemaName reports whether a name passes the schema allow-list. Exposed
// so tenant provisioning can reject a bad schema name at write time instead of
// at first request.
func ValidSchemaName(name string) bool {
	return schemaIdentifier.MatchString(name)
}

// Session is a database connection exclusively owned by one in-flight request.
// The tenant schema, when set, applies to this connection only; Release
// returns the connection to the shared pool exactly once.
type Session struct {
	conn    bun.Conn
	pg      bool
	schema  string
	release sync.Once
}

// Pool hands out request-scoped sessions from a shared *bun.DB.
// Acquisition and release are safe under arbitrary concurrency; everything
// in between belongs to a single request goroutine.
type Pool struct {
	db *bun.DB
}

// NewPool wraps a shared database handle.
func NewPool(db *bun.DB) *Pool {
	return &Pool{db: db}
}

// SupportsSchemaIsolation reports whether sessions from this pool can be
// confined to a schema. Only the PostgreSQL dialect has search_path; on any
// other dialect every tenant would share one set of tables, so multi-tenant
// mode must refuse to start rather than serve without isolation.
func (p *Pool) SupportsSchemaIsolation() bool {
	return p.db.Dialect().Name() == dialect.PG
}

// Acquire takes a dedicated connection from the pool and, on PostgreSQL,
// scopes the given schema to that connection via a search_path directive.
// Passing an empty schema skips the switch. The caller owns the returned
// session and must call Release on every exit path.
func (p *Pool) Acquire(ctx context.Context, schema string) (*Session, error) {
	conn, err := p.db.Conn(ctx)
	if err != nil {
		return nil, fmt.Errorf("acquire connection: %w", err)
	}

	s := &Session{
		conn:   conn,
		pg:     p.db.Dialect().Name() == dialect.PG,
		schema: schema,
	}

	if schema != "" && s.pg {
		if !schemaIdentifier.MatchString(schema) {
			_ = conn.Close()
			return nil, ErrInvalidSchema
		}
		// Session-level directive: affects this connection only, never the pool.
		stmt := fmt.Sprintf(`SET search_path TO "%s", "public"`, schema)
		if _, err := conn.ExecContext(ctx, stmt); err != nil {
			_ = conn.Close()
			return nil, fmt.Errorf("switch schema %s: %w", schema, err)
		}
	}

	return s, nil
}

// DB exposes the session as a bun query target. The returned value must not
// outlive the session.
func (s *Session) DB() bun.IDB {
	return s.conn
}

// Schema returns the schema applied to this session, if any.
func (s *Session) Schema() string {
	return s.schema
}

// Release resets the search_path and returns the connection to the pool.
// Safe to call multiple times; only the first call has effect. The reset is
// best effort with its own deadline so a hung connection cannot wedge the
// request teardown.
func (s *Session) Release() error {
	var err error
	s.release.Do(func() {
		if s.schema != "" && s.pg {
			ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			_, _ = s.conn.ExecContext(ctx, "SET search_path TO DEFAULT")
			cancel()
		}
		err = s.conn.Close()
	})
	return err
}
