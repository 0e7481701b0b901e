// Package server assembles the HTTP surface: the route table, the per-route
// security pipeline, and the built-in auth and tenant administration
// endpoints.
package server

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/volcanicminds/volcanic-backend/internal/config"
	vmiddleware "github.com/volcanicminds/volcanic-backend/internal/middleware"
	"github.com/volcanicminds/volcanic-backend/internal/observability"
	"github.com/volcanicminds/volcanic-backend/internal/rbac"
)

// Route declares one endpoint and its security contract. The contract is
// fixed at registration time; nothing at request time can widen it.
type Route struct {
	Method  string
	Path    string
	Handler http.HandlerFunc

	// Roles lists the role codes allowed to call the route, OR semantics.
	// Empty (or containing "public") means the route is public.
	Roles []string

	// TenantContextOptOut binds the route to the default schema instead of
	// resolving a tenant. Used by routes operating on shared tables.
	TenantContextOptOut bool

	// RawBody keeps a copy of the unparsed request body available to the
	// handler, e.g. for webhook signature checks.
	RawBody bool
}

// RouterOptions controls the construction of the HTTP router.
type RouterOptions struct {
	Cfg      *config.Config
	Deps     vmiddleware.SecurityDependencies
	Enforcer *rbac.Enforcer
	Routes   []Route

	CORSOptions    *cors.Options
	HealthHandler  http.HandlerFunc
	MetricsHandler http.Handler
	ExtraRoutes    func(chi.Router)
}

// DefaultCORSOptions returns the shared development CORS policy.
func DefaultCORSOptions() cors.Options {
	return cors.Options{
		AllowedOrigins: []string{
			"http://localhost:5173",
			"http://127.0.0.1:5173",
		},
		AllowedMethods: []string{
			http.MethodGet, http.MethodPost, http.MethodPut,
			http.MethodPatch, http.MethodDelete, http.MethodOptions,
		},
		AllowedHeaders: []string{
			"Content-Type",
			"Authorization",
			"X-Tenant-Id",
		},
		AllowCredentials: true,
		MaxAge:           300,
	}
}

func defaultHealthHandler(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

// NewRouter assembles a chi.Router with shared middleware and every declared
// route mounted behind its own security pipeline instance. Policy loading
// errors (e.g. a route requiring an unknown role) abort construction: a
// misdeclared route table must never start serving.
func NewRouter(opts RouterOptions) (chi.Router, error) {
	r := chi.NewRouter()

	// Baseline middleware shared across entrypoints.
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(observability.MetricsMiddleware)

	corsCfg := DefaultCORSOptions()
	if opts.CORSOptions != nil {
		corsCfg = *opts.CORSOptions
	}
	r.Use(cors.Handler(corsCfg))

	// Liveness and metrics sit outside the security pipeline: they must
	// answer even when the database is unreachable.
	health := opts.HealthHandler
	if health == nil {
		health = defaultHealthHandler
	}
	r.Get("/health", health)

	metrics := opts.MetricsHandler
	if metrics == nil {
		metrics = promhttp.Handler()
	}
	r.Method(http.MethodGet, "/metrics", metrics)

	for _, route := range opts.Routes {
		requirement := rbac.Requirement{
			Roles:               route.Roles,
			TenantContextOptOut: route.TenantContextOptOut,
			RawBody:             route.RawBody,
		}
		routeID := rbac.RouteID(route.Method, route.Path)

		if err := opts.Enforcer.Load(routeID, requirement, opts.Cfg.AdminImplicitlyAllowed); err != nil {
			return nil, err
		}

		handler := http.Handler(route.Handler)
		if route.RawBody {
			handler = captureRawBody(handler)
		}
		r.With(vmiddleware.Security(opts.Deps, routeID, requirement)).
			Method(route.Method, route.Path, handler)
	}

	if opts.ExtraRoutes != nil {
		opts.ExtraRoutes(r)
	}

	return r, nil
}
