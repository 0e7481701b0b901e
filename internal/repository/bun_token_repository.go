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

// BunTokenRepository implements TokenRepository using Bun ORM. Stateless like
// BunUserRepository; calls run on the request session.
type BunTokenRepository struct{}

// NewBunTokenRepository creates a new Bun-based API token repository
func NewBunTokenRepository() *BunTokenRepository {
	return &BunTokenRepository{}
}

// Create inserts a new API token
func (r *BunTokenRepository) Create(ctx context.Context, db bun.IDB, token *models.APIToken) error {
	_, err := db.NewInsert().
		Model(token).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("create api token: %w", err)
	}
	return nil
}

// GetByID retrieves an API token by primary key
func (r *BunTokenRepository) GetByID(ctx context.Context, db bun.IDB, id string) (*models.APIToken, error) {
	token := new(models.APIToken)
	err := db.NewSelect().
		Model(token).
		Where("id = ?", id).
		Scan(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("api token %s: %w", id, ErrNotFound)
		}
		return nil, fmt.Errorf("get api token by ID: %w", err)
	}
	return token, nil
}

// GetByExternalID retrieves an API token by the identifier embedded in credentials
func (r *BunTokenRepository) GetByExternalID(ctx context.Context, db bun.IDB, externalID string) (*models.APIToken, error) {
	token := new(models.APIToken)
	err := db.NewSelect().
		Model(token).
		Where("external_id = ?", externalID).
		Scan(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("api token with external id %s: %w", externalID, ErrNotFound)
		}
		return nil, fmt.Errorf("get api token by external ID: %w", err)
	}
	return token, nil
}

// List returns every API token in the session's schema ordered by name.
func (r *BunTokenRepository) List(ctx context.Context, db bun.IDB) ([]models.APIToken, error) {
	var tokens []models.APIToken
	err := db.NewSelect().
		Model(&tokens).
		OrderExpr("name ASC").
		Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("list api tokens: %w", err)
	}
	return tokens, nil
}

// Update updates an existing API token
func (r *BunTokenRepository) Update(ctx context.Context, db bun.IDB, token *models.APIToken) error {
	result, err := db.NewUpdate().
		Model(token).
		WherePK().
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("update api token: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("update api token rows affected: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("api token %s: %w", token.ID, ErrNotFound)
	}
	return nil
}

// TouchLastUsed records token activity for audit purposes
func (r *BunTokenRepository) TouchLastUsed(ctx context.Context, db bun.IDB, id string) error {
	_, err := db.NewUpdate().
		Model((*models.APIToken)(nil)).
		Set("last_used_at = ?", time.Now()).
		Where("id = ?", id).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("touch api token: %w", err)
	}
	return nil
}

// IsValid reports the token's standing.
func (r *BunTokenRepository) IsValid(token *models.APIToken) bool {
	return token != nil && !token.Blocked
}
