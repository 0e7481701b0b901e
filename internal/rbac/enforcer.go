// Package rbac decides whether a subject's role set satisfies the role
// requirement a route declared at registration time. Policies are loaded once
// at startup from the route table and are read-only afterwards.
package rbac

import (
	_ "embed"
	"fmt"

	"github.com/casbin/casbin/v2"
	"github.com/casbin/casbin/v2/model"

	"github.com/volcanicminds/volcanic-backend/internal/roles"
)

//go:embed model.conf
var casbinModelContent string

// Requirement is the statically declared security contract of one route.
// Read-only at request time.
type Requirement struct {
	// Roles lists the role codes that may call the route. OR semantics:
	// holding any one of them is sufficient. Empty means public.
	Roles []string

	// TenantContextOptOut binds the route to the default schema instead of
	// running tenant resolution.
	TenantContextOptOut bool

	// RawBody asks the server to keep the unparsed request body available.
	RawBody bool
}

// Public reports whether the requirement places no restriction: either no
// roles were declared or the public role is among them.
func (r Requirement) Public() bool {
	if len(r.Roles) == 0 {
		return true
	}
	for _, code := range r.Roles {
		if code == roles.Public {
			return true
		}
	}
	return false
}

// RouteID names a route for policy purposes, e.g. "GET /tenants".
func RouteID(method, path string) string {
	return method + " " + path
}

// Enforcer answers allow/deny for (route, subject roles) pairs over a casbin
// enforcer with an embedded model. Safe for concurrent use; no writer exists
// after Load.
type Enforcer struct {
	enforcer casbin.IEnforcer
	registry *roles.Registry
}

// NewEnforcer creates an empty enforcer bound to the role registry.
func NewEnforcer(registry *roles.Registry) (*Enforcer, error) {
	m, err := model.NewModelFromString(casbinModelContent)
	if err != nil {
		return nil, fmt.Errorf("parse casbin model: %w", err)
	}

	enforcer, err := casbin.NewSyncedEnforcer(m)
	if err != nil {
		return nil, fmt.Errorf("create casbin enforcer: %w", err)
	}

	return &Enforcer{enforcer: enforcer, registry: registry}, nil
}

// Load installs the policy rows for one route requirement. Unknown role codes
// are a startup error, not a request-time surprise. When adminImplicit is set
// the admin role is appended to every non-public requirement (configurable
// authoring convenience, not an invariant).
func (e *Enforcer) Load(routeID string, req Requirement, adminImplicit bool) error {
	if req.Public() {
		return nil
	}

	codes := append([]string(nil), req.Roles...)
	if adminImplicit {
		codes = append(codes, roles.Admin)
	}

	for _, code := range codes {
		if !e.registry.Known(code) {
			return fmt.Errorf("route %s requires unknown role %q", routeID, code)
		}
		if _, err := e.enforcer.AddPolicy(rolePrefix+code, routeID); err != nil {
			return fmt.Errorf("add policy for %s: %w", routeID, err)
		}
	}
	return nil
}

// Allow implements the OR semantics over the subject's role codes: the route
// is allowed iff any held role appears in its requirement. An empty role list
// never satisfies a non-public requirement.
func (e *Enforcer) Allow(routeID string, subjectRoles []string) (bool, error) {
	for _, code := range subjectRoles {
		if code == roles.Public {
			// public grants nothing beyond public routes, which never reach
			// this enforcer.
			continue
		}
		ok, err := e.enforcer.Enforce(rolePrefix+code, routeID)
		if err != nil {
			return false, fmt.Errorf("enforce %s on %s: %w", code, routeID, err)
		}
		if ok {
			return true, nil
		}
	}
	return false, nil
}

// rolePrefix namespaces role identifiers inside the policy store.
const rolePrefix = "role:"
