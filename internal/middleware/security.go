package middleware

import (
	"context"
	"errors"
	"log"
	"net/http"

	"github.com/volcanicminds/volcanic-backend/internal/apierror"
	"github.com/volcanicminds/volcanic-backend/internal/auth"
	"github.com/volcanicminds/volcanic-backend/internal/config"
	"github.com/volcanicminds/volcanic-backend/internal/db/bunx"
	"github.com/volcanicminds/volcanic-backend/internal/rbac"
	"github.com/volcanicminds/volcanic-backend/internal/repository"
	"github.com/volcanicminds/volcanic-backend/internal/tenant"
)

// SessionSource hands out request-scoped database sessions. Satisfied by
// PoolSource in production; tests inject counting fakes.
type SessionSource interface {
	Acquire(ctx context.Context, schema string) (auth.Session, error)
}

// Authorizer answers the RBAC decision for a route and a set of role codes.
// Satisfied by *rbac.Enforcer.
type Authorizer interface {
	Allow(routeID string, subjectRoles []string) (bool, error)
}

// PoolSource adapts bunx.Pool to the SessionSource interface.
type PoolSource struct {
	pool *bunx.Pool
}

// NewPoolSource wraps a connection pool.
func NewPoolSource(pool *bunx.Pool) *PoolSource {
	return &PoolSource{pool: pool}
}

// Acquire takes a schema-switched session from the pool.
func (p *PoolSource) Acquire(ctx context.Context, schema string) (auth.Session, error) {
	return p.pool.Acquire(ctx, schema)
}

// SecurityDependencies bundles the collaborators of the request pipeline.
type SecurityDependencies struct {
	Cfg       *config.Config
	Verifier  *auth.Verifier
	Transport *auth.Transport
	Resolver  *tenant.Resolver // nil when multi-tenancy is disabled
	Sessions  SessionSource
	Users     repository.UserRepository
	Tokens    repository.TokenRepository
	Enforcer  Authorizer
}

// Security builds the per-route pipeline middleware. Stages run in a fixed
// order for every request: tenant resolution, session acquisition with schema
// switch, credential verification, MFA gate, subject resolution, RBAC. Every
// stage fails closed; an ambiguous state is a rejection, never an allow.
//
// The session acquired here is owned by this single request and released by
// the deferred call on every exit path: normal completion, pipeline
// rejection, handler panic, or client disconnect.
func Security(deps SecurityDependencies, routeID string, requirement rbac.Requirement) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			sc := &auth.SecurityContext{}
			r = r.WithContext(auth.WithSecurityContext(r.Context(), sc))
			ctx := r.Context()

			// Stage 1: tenant resolution.
			schema := deps.Cfg.MultiTenant.DefaultSchema
			if deps.Cfg.MultiTenant.Enabled && !requirement.TenantContextOptOut {
				if deps.Resolver == nil {
					log.Printf("security: multi-tenant enabled but no tenant resolver wired for %s %s", r.Method, r.URL.Path)
					apierror.Write(w, http.StatusInternalServerError, apierror.CodeInternal, "tenant resolution unavailable")
					return
				}
				resolved, err := deps.Resolver.Resolve(ctx, r)
				if err != nil {
					rejectTenant(w, r, err)
					return
				}
				sc.Tenant = resolved
				schema = resolved.SchemaName
			}

			// Stage 2: request-scoped session with the schema applied to this
			// connection only.
			session, err := deps.Sessions.Acquire(ctx, schema)
			if err != nil {
				log.Printf("security: anonymous %s %s rejected: session acquire: %v", r.Method, r.URL.Path, err)
				apierror.Write(w, http.StatusInternalServerError, apierror.CodeInternal, "database session unavailable")
				return
			}
			sc.Session = session
			defer func() {
				if err := session.Release(); err != nil {
					log.Printf("security: release session for %s %s: %v", r.Method, r.URL.Path, err)
				}
			}()

			// Embedded auth can be disabled wholesale; everything then runs as
			// the public role with no role checks.
			if !deps.Cfg.Auth.Enabled {
				next.ServeHTTP(w, r)
				return
			}

			// Stage 3: credential verification.
			if raw, supplied := deps.Transport.Extract(r); supplied {
				cred, err := deps.Verifier.Verify(raw)
				if err != nil {
					// An unverifiable credential is fatal only for routes that
					// require a role; public routes still serve anonymously.
					if !requirement.Public() {
						reject(w, r, sc, http.StatusUnauthorized, apierror.CodeUnauthorized, "invalid or expired token")
						return
					}
				} else {
					sc.Credential = cred

					// Stage 4: tenant binding check.
					if sc.Tenant != nil && cred.TenantID != "" && cred.TenantID != sc.Tenant.ID {
						reject(w, r, sc, http.StatusForbidden, apierror.CodeTenantMismatch, "token does not belong to this tenant")
						return
					}

					// Stage 5: MFA gate. A pre-auth credential is confined to
					// the setup/verify endpoints and must never reach RBAC.
					if cred.IsPreAuth() && !auth.MFAAllowed(r.URL.Path) {
						reject(w, r, sc, http.StatusForbidden, apierror.CodeMFARequired, "MFA verification or setup required to access this resource")
						return
					}

					// Stage 6: subject resolution, user provider first.
					if !resolveSubject(w, r, deps, sc, cred.Subject) {
						return
					}

					// A pre-auth holder is identified but unproven; its stored
					// roles must not count until the second factor clears.
					if cred.IsPreAuth() {
						sc.RestrictToPublic()
					}
				}
			}

			// Stage 7: RBAC against the route's declared requirement.
			if !requirement.Public() {
				allowed, err := deps.Enforcer.Allow(routeID, sc.Roles())
				if err != nil {
					log.Printf("security: %s %s %s rejected: rbac: %v", sc.ActorIdentity(), r.Method, r.URL.Path, err)
					apierror.Write(w, http.StatusInternalServerError, apierror.CodeInternal, "authorization unavailable")
					return
				}
				if !allowed {
					reject(w, r, sc, http.StatusForbidden, apierror.CodeForbidden, "authorization denied")
					return
				}
			}

			next.ServeHTTP(w, r)
		})
	}
}

// resolveSubject looks up the credential's subject, user provider first, then
// token provider. Exactly one of user, token, or a rejection results. Returns
// false when the request was rejected.
func resolveSubject(w http.ResponseWriter, r *http.Request, deps SecurityDependencies, sc *auth.SecurityContext, externalID string) bool {
	ctx := r.Context()
	db := sc.DB()

	user, err := deps.Users.GetByExternalID(ctx, db, externalID)
	switch {
	case err == nil:
		if !deps.Users.IsValid(user) {
			reject(w, r, sc, http.StatusForbidden, apierror.CodeUserNotValid, "user is not valid or blocked")
			return false
		}
		sc.BindSubject(&auth.Subject{Kind: auth.SubjectUser, User: user})
		return true
	case !errors.Is(err, repository.ErrNotFound):
		log.Printf("security: %s %s rejected: user lookup: %v", r.Method, r.URL.Path, err)
		apierror.Write(w, http.StatusInternalServerError, apierror.CodeInternal, "subject resolution failed")
		return false
	}

	token, err := deps.Tokens.GetByExternalID(ctx, db, externalID)
	switch {
	case err == nil:
		if !deps.Tokens.IsValid(token) {
			reject(w, r, sc, http.StatusForbidden, apierror.CodeTokenNotValid, "token is not valid or blocked")
			return false
		}
		sc.BindSubject(&auth.Subject{Kind: auth.SubjectToken, Token: token})
		if err := deps.Tokens.TouchLastUsed(ctx, db, token.ID); err != nil {
			// Audit timestamp only; the request proceeds.
			log.Printf("security: touch token %s: %v", token.ID, err)
		}
		return true
	case !errors.Is(err, repository.ErrNotFound):
		log.Printf("security: %s %s rejected: token lookup: %v", r.Method, r.URL.Path, err)
		apierror.Write(w, http.StatusInternalServerError, apierror.CodeInternal, "subject resolution failed")
		return false
	}

	// A dangling credential (deleted account) must not degrade to anonymous.
	reject(w, r, sc, http.StatusNotFound, apierror.CodeSubjectNotFound, "subject not found")
	return false
}

// rejectTenant maps tenant resolution failures onto the error taxonomy.
func rejectTenant(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, tenant.ErrMissing):
		log.Printf("security: anonymous %s %s rejected: %s", r.Method, r.URL.Path, apierror.CodeTenantMissing)
		apierror.Write(w, http.StatusBadRequest, apierror.CodeTenantMissing, "tenant identifier is required")
	case errors.Is(err, tenant.ErrNotFound):
		log.Printf("security: anonymous %s %s rejected: %s", r.Method, r.URL.Path, apierror.CodeTenantNotFound)
		apierror.Write(w, http.StatusNotFound, apierror.CodeTenantNotFound, "tenant not found")
	case errors.Is(err, tenant.ErrInactive):
		log.Printf("security: anonymous %s %s rejected: %s", r.Method, r.URL.Path, apierror.CodeTenantInactive)
		apierror.Write(w, http.StatusForbidden, apierror.CodeTenantInactive, "tenant is not active")
	default:
		log.Printf("security: anonymous %s %s rejected: tenant resolution: %v", r.Method, r.URL.Path, err)
		apierror.Write(w, http.StatusInternalServerError, apierror.CodeInternal, "tenant resolution failed")
	}
}

// reject writes a rejection and logs the acting identity with the attempted
// method and path for audit.
func reject(w http.ResponseWriter, r *http.Request, sc *auth.SecurityContext, status int, code, message string) {
	log.Printf("security: %s %s %s rejected: %s", sc.ActorIdentity(), r.Method, r.URL.Path, code)
	apierror.Write(w, status, code, message)
}
