package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/uptrace/bun"

	"github.com/volcanicminds/volcanic-backend/internal/db/models"
)

// BunTenantRepository implements TenantRepository using Bun ORM. Tenant rows
// live in the shared default schema, so this repository queries the pool
// directly instead of a request session.
type BunTenantRepository struct {
	db *bun.DB
}

// NewBunTenantRepository creates a new Bun-based tenant repository
func NewBunTenantRepository(db *bun.DB) *BunTenantRepository {
	return &BunTenantRepository{db: db}
}

// Create inserts a new tenant
func (r *BunTenantRepository) Create(ctx context.Context, tenant *models.Tenant) error {
	_, err := r.db.NewInsert().
		Model(tenant).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("create tenant: %w", err)
	}
	return nil
}

// GetByID retrieves a tenant by primary key
func (r *BunTenantRepository) GetByID(ctx context.Context, id string) (*models.Tenant, error) {
	tenant := new(models.Tenant)
	err := r.db.NewSelect().
		Model(tenant).
		Where("id = ?", id).
		Scan(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("tenant %s: %w", id, ErrNotFound)
		}
		return nil, fmt.Errorf("get tenant by ID: %w", err)
	}
	return tenant, nil
}

// GetBySlug retrieves a tenant by its slug
func (r *BunTenantRepository) GetBySlug(ctx context.Context, slug string) (*models.Tenant, error) {
	tenant := new(models.Tenant)
	err := r.db.NewSelect().
		Model(tenant).
		Where("slug = ?", slug).
		Scan(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("tenant %s: %w", slug, ErrNotFound)
		}
		return nil, fmt.Errorf("get tenant by slug: %w", err)
	}
	return tenant, nil
}

// GetActiveByRef resolves a tenant by slug or id, restricted to active ones.
func (r *BunTenantRepository) GetActiveByRef(ctx context.Context, slug, id string) (*models.Tenant, error) {
	if slug == "" && id == "" {
		return nil, fmt.Errorf("tenant reference: %w", ErrNotFound)
	}
	tenant := new(models.Tenant)
	q := r.db.NewSelect().
		Model(tenant).
		Where("status = ?", models.TenantActive)
	if slug != "" {
		q = q.Where("slug = ?", slug)
	} else {
		q = q.Where("id = ?", id)
	}
	if err := q.Scan(ctx); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("active tenant: %w", ErrNotFound)
		}
		return nil, fmt.Errorf("get active tenant: %w", err)
	}
	return tenant, nil
}

// List returns all tenants ordered by slug
func (r *BunTenantRepository) List(ctx context.Context) ([]models.Tenant, error) {
	var tenants []models.Tenant
	err := r.db.NewSelect().
		Model(&tenants).
		OrderExpr("slug ASC").
		Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("list tenants: %w", err)
	}
	return tenants, nil
}

// Update updates an existing tenant
func (r *BunTenantRepository) Update(ctx context.Context, tenant *models.Tenant) error {
	tenant.UpdatedAt = time.Now()
	result, err := r.db.NewUpdate().
		Model(tenant).
		WherePK().
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("update tenant: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("update tenant rows affected: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("tenant %s: %w", tenant.ID, ErrNotFound)
	}
	return nil
}

// Archive marks a tenant as archived. Archived tenants fail resolution with
// TENANT_INACTIVE but keep their schema for later restore.
func (r *BunTenantRepository) Archive(ctx context.Context, id string) error {
	now := time.Now()
	result, err := r.db.NewUpdate().
		Model((*models.Tenant)(nil)).
		Set("status = ?", models.TenantArchived).
		Set("archived_at = ?", now).
		Set("updated_at = ?", now).
		Where("id = ?", id).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("archive tenant: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("archive tenant rows affected: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("tenant %s: %w", id, ErrNotFound)
	}
	return nil
}

// Restore re-activates an archived tenant and returns the fresh record.
func (r *BunTenantRepository) Restore(ctx context.Context, id string) (*models.Tenant, error) {
	result, err := r.db.NewUpdate().
		Model((*models.Tenant)(nil)).
		Set("status = ?", models.TenantActive).
		Set("archived_at = NULL").
		Set("updated_at = ?", time.Now()).
		Where("id = ?", id).
		Exec(ctx)
	if err != nil {
		return nil, fmt.Errorf("restore tenant: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("restore tenant rows affected: %w", err)
	}
	if rows == 0 {
		return nil, fmt.Errorf("tenant %s: %w", id, ErrNotFound)
	}
	return r.GetByID(ctx, id)
}
