package auth

import (
	"context"

	"github.com/uptrace/bun"

	"github.com/volcanicminds/volcanic-backend/internal/db/models"
	"github.com/volcanicminds/volcanic-backend/internal/roles"
)

// SubjectKind differentiates the two principal types behind a credential.
type SubjectKind string

const (
	// SubjectUser is a human principal.
	SubjectUser SubjectKind = "user"
	// SubjectToken is a machine principal (API token).
	SubjectToken SubjectKind = "token"
)

// Subject is the resolved principal behind a request: exactly one of User or
// Token is set, matching Kind.
type Subject struct {
	Kind  SubjectKind
	User  *models.User
	Token *models.APIToken
}

// ExternalID returns the rotatable identifier embedded in credentials.
func (s *Subject) ExternalID() string {
	switch {
	case s == nil:
		return ""
	case s.Kind == SubjectUser && s.User != nil:
		return s.User.ExternalID
	case s.Kind == SubjectToken && s.Token != nil:
		return s.Token.ExternalID
	}
	return ""
}

// Identity returns a human-readable actor label for audit logs.
func (s *Subject) Identity() string {
	switch {
	case s == nil:
		return "anonymous"
	case s.Kind == SubjectUser && s.User != nil:
		return s.User.Email
	case s.Kind == SubjectToken && s.Token != nil:
		return "token:" + s.Token.Name
	}
	return "anonymous"
}

// Session is the request-scoped database session the pipeline binds to the
// security context. Satisfied by *bunx.Session.
type Session interface {
	DB() bun.IDB
	Release() error
}

// SecurityContext carries the per-request security state through the pipeline
// and into the handler. It replaces ambient request decoration with one
// explicit struct: created fresh for every request, torn down (session
// released) when the request completes, whatever the outcome.
type SecurityContext struct {
	// Tenant is the resolved tenant, nil in single-tenant mode or for routes
	// that opted out of tenant context. Immutable once set.
	Tenant *models.Tenant

	// Session is the request-owned database session, nil when the pipeline
	// did not open one.
	Session Session

	// Credential is the decoded bearer credential, nil for anonymous requests.
	Credential *Credential

	// Subject is the resolved principal, nil for anonymous requests.
	Subject *Subject

	roleCodes []string
}

// Roles returns the normalized role codes of the subject. Before resolution
// (or for anonymous requests) it reports only the public role.
func (sc *SecurityContext) Roles() []string {
	if sc == nil || len(sc.roleCodes) == 0 {
		return []string{roles.Public}
	}
	return sc.roleCodes
}

// HasRole reports whether the subject holds the given role code.
func (sc *SecurityContext) HasRole(code string) bool {
	for _, c := range sc.Roles() {
		if c == code {
			return true
		}
	}
	return false
}

// BindSubject attaches the resolved subject and normalizes its stored role
// shape into flat codes. Called at most once per request, after standing
// checks pass; downstream consumers never re-normalize.
func (sc *SecurityContext) BindSubject(subject *Subject) {
	sc.Subject = subject

	var stored models.RoleList
	switch {
	case subject == nil:
		stored = nil
	case subject.Kind == SubjectUser && subject.User != nil:
		stored = subject.User.Roles
	case subject.Kind == SubjectToken && subject.Token != nil:
		stored = subject.Token.Roles
	}

	raw := make([]any, len(stored))
	for i, code := range stored {
		raw[i] = code
	}
	sc.roleCodes = roles.Normalize(raw)
}

// RestrictToPublic collapses the subject's effective roles to the public
// floor. Applied to pre-auth credentials: the holder is identified but has
// not proven the second factor, so none of its stored roles may count yet.
func (sc *SecurityContext) RestrictToPublic() {
	sc.roleCodes = []string{roles.Public}
}

// ActorIdentity returns the audit label for the current actor.
func (sc *SecurityContext) ActorIdentity() string {
	if sc == nil || sc.Subject == nil {
		return "anonymous"
	}
	return sc.Subject.Identity()
}

// DB returns the request-scoped query target, or nil when no session is open.
func (sc *SecurityContext) DB() bun.IDB {
	if sc == nil || sc.Session == nil {
		return nil
	}
	return sc.Session.DB()
}

type securityContextKey struct{}

// WithSecurityContext stores the security context on the request context.
func WithSecurityContext(ctx context.Context, sc *SecurityContext) context.Context {
	return context.WithValue(ctx, securityContextKey{}, sc)
}

// SecurityContextFrom retrieves the security context from the request context.
func SecurityContextFrom(ctx context.Context) (*SecurityContext, bool) {
	sc, ok := ctx.Value(securityContextKey{}).(*SecurityContext)
	return sc, ok
}
