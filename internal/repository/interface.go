package repository

import (
	"context"

	"github.com/uptrace/bun"

	"github.com/volcanicminds/volcanic-backend/internal/db/models"
)

// Queries against users and API tokens take an explicit bun.IDB because they
// must run on the request-scoped session: in multi-tenant mode that session
// is switched to the tenant's schema, and running subject lookups anywhere
// else would read the wrong tenant's tables.

// UserRepository exposes persistence operations for human principals.
type UserRepository interface {
	Create(ctx context.Context, db bun.IDB, user *models.User) error
	GetByID(ctx context.Context, db bun.IDB, id string) (*models.User, error)
	GetByExternalID(ctx context.Context, db bun.IDB, externalID string) (*models.User, error)
	GetByEmail(ctx context.Context, db bun.IDB, email string) (*models.User, error)
	FindFirstByRole(ctx context.Context, db bun.IDB, role string) (*models.User, error)
	List(ctx context.Context, db bun.IDB) ([]models.User, error)
	Update(ctx context.Context, db bun.IDB, user *models.User) error
	// RotateExternalID assigns a fresh external identifier, invalidating all
	// previously issued credentials for the user.
	RotateExternalID(ctx context.Context, db bun.IDB, id string, externalID string) error
	// IsValid reports whether the user is in good standing (not blocked,
	// confirmed). Pure check, no I/O.
	IsValid(user *models.User) bool
}

// TokenRepository exposes persistence operations for machine principals.
type TokenRepository interface {
	Create(ctx context.Context, db bun.IDB, token *models.APIToken) error
	GetByID(ctx context.Context, db bun.IDB, id string) (*models.APIToken, error)
	GetByExternalID(ctx context.Context, db bun.IDB, externalID string) (*models.APIToken, error)
	List(ctx context.Context, db bun.IDB) ([]models.APIToken, error)
	Update(ctx context.Context, db bun.IDB, token *models.APIToken) error
	TouchLastUsed(ctx context.Context, db bun.IDB, id string) error
	// IsValid reports whether the token is in good standing (not blocked).
	IsValid(token *models.APIToken) bool
}

// TenantRepository exposes persistence operations for tenants. Tenants live
// in the shared default schema, so this repository owns its database handle.
type TenantRepository interface {
	Create(ctx context.Context, tenant *models.Tenant) error
	GetByID(ctx context.Context, id string) (*models.Tenant, error)
	GetBySlug(ctx context.Context, slug string) (*models.Tenant, error)
	// GetActiveByRef resolves an impersonation target by slug or id,
	// restricted to active tenants.
	GetActiveByRef(ctx context.Context, slug, id string) (*models.Tenant, error)
	List(ctx context.Context) ([]models.Tenant, error)
	Update(ctx context.Context, tenant *models.Tenant) error
	Archive(ctx context.Context, id string) error
	Restore(ctx context.Context, id string) (*models.Tenant, error)
}
