// Package tenant derives the tenant a request belongs to and loads its
// metadata. Resolution runs once per request, before anything touches the
// database, and the resolved record is immutable for the request's lifetime.
package tenant

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/hashicorp/golang-lru/v2/expirable"

	"github.com/volcanicminds/volcanic-backend/internal/config"
	"github.com/volcanicminds/volcanic-backend/internal/db/models"
	"github.com/volcanicminds/volcanic-backend/internal/repository"
)

var (
	// ErrMissing means the request carried no tenant identifier.
	ErrMissing = errors.New("tenant identifier missing")
	// ErrNotFound means the slug matched no tenant record.
	ErrNotFound = errors.New("tenant not found")
	// ErrInactive means the tenant exists but is suspended or archived.
	ErrInactive = errors.New("tenant is not active")
)

// Resolver turns a raw request into a validated tenant record using the
// configured extraction strategy. Lookups are fronted by a TTL-bounded LRU;
// correctness never depends on the cache, it only absorbs hot slugs.
type Resolver struct {
	cfg     config.MultiTenantConfig
	tenants repository.TenantRepository
	cache   *expirable.LRU[string, models.Tenant]
}

// NewResolver builds a resolver over the tenant repository.
func NewResolver(cfg config.MultiTenantConfig, tenants repository.TenantRepository) *Resolver {
	r := &Resolver{cfg: cfg, tenants: tenants}
	if cfg.CacheSize > 0 {
		r.cache = expirable.NewLRU[string, models.Tenant](cfg.CacheSize, nil, cfg.CacheTTL)
	}
	return r
}

// ExtractSlug pulls the tenant slug from the request according to the
// configured strategy. Returns "" when the request carries none.
func (r *Resolver) ExtractSlug(req *http.Request) string {
	switch r.cfg.Resolver {
	case config.ResolverSubdomain:
		host := req.Host
		if h, _, found := strings.Cut(host, ":"); found {
			host = h
		}
		parts := strings.Split(host, ".")
		if len(parts) >= 2 && parts[0] != "www" {
			return parts[0]
		}
		return ""
	case config.ResolverQuery:
		return req.URL.Query().Get(r.cfg.QueryKey)
	default: // header
		return req.Header.Get(r.cfg.HeaderKey)
	}
}

// Resolve extracts the slug and loads the tenant, enforcing its status.
// The returned record is a copy: callers can hold it for the whole request
// without observing concurrent cache refreshes.
func (r *Resolver) Resolve(ctx context.Context, req *http.Request) (*models.Tenant, error) {
	slug := r.ExtractSlug(req)
	if slug == "" {
		return nil, ErrMissing
	}

	tenant, err := r.lookup(ctx, slug)
	if err != nil {
		return nil, err
	}
	if !tenant.IsActive() {
		return nil, fmt.Errorf("tenant %s: %w", slug, ErrInactive)
	}
	return tenant, nil
}

func (r *Resolver) lookup(ctx context.Context, slug string) (*models.Tenant, error) {
	if r.cache != nil {
		if cached, ok := r.cache.Get(slug); ok {
			copied := cached
			return &copied, nil
		}
	}

	tenant, err := r.tenants.GetBySlug(ctx, slug)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, fmt.Errorf("tenant %s: %w", slug, ErrNotFound)
		}
		return nil, fmt.Errorf("resolve tenant %s: %w", slug, err)
	}

	if r.cache != nil {
		r.cache.Add(slug, *tenant)
	}
	copied := *tenant
	return &copied, nil
}
