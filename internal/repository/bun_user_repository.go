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

// BunUserRepository implements UserRepository using Bun ORM. It is stateless:
// every call runs on the caller-supplied session so queries land in the
// schema that session is switched to.
type BunUserRepository struct{}

// NewBunUserRepository creates a new Bun-based user repository
func NewBunUserRepository() *BunUserRepository {
	return &BunUserRepository{}
}

// Create inserts a new user
func (r *BunUserRepository) Create(ctx context.Context, db bun.IDB, user *models.User) error {
	_, err := db.NewInsert().
		Model(user).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("create user: %w", err)
	}
	return nil
}

// GetByID retrieves a user by primary key
func (r *BunUserRepository) GetByID(ctx context.Context, db bun.IDB, id string) (*models.User, error) {
	user := new(models.User)
	err := db.NewSelect().
		Model(user).
		Where("id = ?", id).
		Scan(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("user %s: %w", id, ErrNotFound)
		}
		return nil, fmt.Errorf("get user by ID: %w", err)
	}
	return user, nil
}

// GetByExternalID retrieves a user by the identifier embedded in credentials
func (r *BunUserRepository) GetByExternalID(ctx context.Context, db bun.IDB, externalID string) (*models.User, error) {
	user := new(models.User)
	err := db.NewSelect().
		Model(user).
		Where("external_id = ?", externalID).
		Scan(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("user with external id %s: %w", externalID, ErrNotFound)
		}
		return nil, fmt.Errorf("get user by external ID: %w", err)
	}
	return user, nil
}

// GetByEmail retrieves a user by email
func (r *BunUserRepository) GetByEmail(ctx context.Context, db bun.IDB, email string) (*models.User, error) {
	user := new(models.User)
	err := db.NewSelect().
		Model(user).
		Where("email = ?", email).
		Scan(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("user with email %s: %w", email, ErrNotFound)
		}
		return nil, fmt.Errorf("get user by email: %w", err)
	}
	return user, nil
}

// FindFirstByRole retrieves the first unblocked user holding a role code.
// Used by the impersonation issuer when the target is given as a role.
func (r *BunUserRepository) FindFirstByRole(ctx context.Context, db bun.IDB, role string) (*models.User, error) {
	user := new(models.User)
	err := db.NewSelect().
		Model(user).
		Where("blocked = ?", false).
		// Roles are stored as a JSON array of quoted codes; a substring match
		// on the quoted code works on both the Postgres and SQLite dialects.
		Where("CAST(roles AS TEXT) LIKE ?", "%\""+role+"\"%").
		OrderExpr("created_at ASC").
		Limit(1).
		Scan(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("user with role %s: %w", role, ErrNotFound)
		}
		return nil, fmt.Errorf("find user by role: %w", err)
	}
	return user, nil
}

// List returns every user in the session's schema ordered by email.
func (r *BunUserRepository) List(ctx context.Context, db bun.IDB) ([]models.User, error) {
	var users []models.User
	err := db.NewSelect().
		Model(&users).
		OrderExpr("email ASC").
		Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("list users: %w", err)
	}
	return users, nil
}

// Update updates an existing user
func (r *BunUserRepository) Update(ctx context.Context, db bun.IDB, user *models.User) error {
	user.UpdatedAt = time.Now()
	result, err := db.NewUpdate().
		Model(user).
		WherePK().
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("update user: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("update user rows affected: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("user %s: %w", user.ID, ErrNotFound)
	}
	return nil
}

// RotateExternalID assigns a new external identifier to a user. Every
// credential minted against the old value stops resolving immediately.
func (r *BunUserRepository) RotateExternalID(ctx context.Context, db bun.IDB, id string, externalID string) error {
	result, err := db.NewUpdate().
		Model((*models.User)(nil)).
		Set("external_id = ?", externalID).
		Set("updated_at = ?", time.Now()).
		Where("id = ?", id).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("rotate external id: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("rotate external id rows affected: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("user %s: %w", id, ErrNotFound)
	}
	return nil
}

// IsValid reports the user's standing: blocked or unconfirmed users must be
// rejected, never silently treated as anonymous.
func (r *BunUserRepository) IsValid(user *models.User) bool {
	return user != nil && !user.Blocked && user.Confirmed
}
