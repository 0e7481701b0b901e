package models

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"

	"github.com/uptrace/bun"
)

// TenantStatus enumerates the lifecycle states of a tenant.
type TenantStatus string

const (
	TenantActive    TenantStatus = "active"
	TenantSuspended TenantStatus = "suspended"
	TenantArchived  TenantStatus = "archived"
)

// Tenant represents an isolated logical customer, mapped 1:1 to a database
// schema. Tenants live in the shared (default) schema; the request pipeline
// resolves one per request and never mutates it.
type Tenant struct {
	bun.BaseModel `bun:"table:tenants,alias:t"`

	ID         string       `bun:"id,pk,type:uuid,default:gen_random_uuid()" json:"id"`
	Slug       string       `bun:"slug,notnull,unique" json:"slug"`
	Name       string       `bun:"name" json:"name"`
	SchemaName string       `bun:"schema_name,notnull" json:"schemaName"`
	Status     TenantStatus `bun:"status,notnull,default:'active'" json:"status"`
	CreatedAt  time.Time    `bun:"created_at,notnull,default:current_timestamp" json:"createdAt"`
	UpdatedAt  time.Time    `bun:"updated_at,notnull,default:current_timestamp" json:"updatedAt"`
	ArchivedAt *time.Time   `bun:"archived_at" json:"archivedAt,omitempty"`
}

// IsActive reports whether the tenant may serve requests.
func (t *Tenant) IsActive() bool {
	return t != nil && t.Status == TenantActive
}

// RoleList stores role codes as a JSON column so the same model works on the
// Postgres and SQLite dialects.
type RoleList []string

// Scan implements sql.Scanner for reading from database
func (rl *RoleList) Scan(value any) error {
	if value == nil {
		*rl = nil
		return nil
	}
	var bytes []byte
	switch v := value.(type) {
	case []byte:
		bytes = v
	case string:
		bytes = []byte(v)
	default:
		return fmt.Errorf("failed to scan RoleList: expected []byte or string, got %T", value)
	}
	return json.Unmarshal(bytes, rl)
}

// Value implements driver.Valuer for writing to database
func (rl RoleList) Value() (driver.Value, error) {
	if rl == nil {
		return "[]", nil
	}
	bytes, err := json.Marshal(rl)
	if err != nil {
		return nil, err
	}
	return string(bytes), nil
}

// User represents a human principal living in a tenant schema.
//
// ExternalID is the identifier embedded in issued credentials. It is
// independent of the primary key and rotatable: rotating it invalidates every
// previously issued credential for this user.
type User struct {
	bun.BaseModel `bun:"table:users,alias:u"`

	ID           string     `bun:"id,pk,type:uuid,default:gen_random_uuid()" json:"id"`
	ExternalID   string     `bun:"external_id,notnull,unique" json:"externalId"`
	Email        string     `bun:"email,notnull,unique" json:"email"`
	Name         string     `bun:"name" json:"name"`
	PasswordHash string     `bun:"password_hash" json:"-"`
	Roles        RoleList   `bun:"roles,type:jsonb,notnull,default:'[]'" json:"roles"`
	Blocked      bool       `bun:"blocked,notnull,default:false" json:"blocked"`
	Confirmed    bool       `bun:"confirmed,notnull,default:false" json:"confirmed"`
	MFAEnabled   bool       `bun:"mfa_enabled,notnull,default:false" json:"mfaEnabled"`
	MFASecret    string     `bun:"mfa_secret" json:"-"`
	TenantID     string     `bun:"tenant_id,type:uuid,nullzero" json:"tenantId,omitempty"`
	CreatedAt    time.Time  `bun:"created_at,notnull,default:current_timestamp" json:"createdAt"`
	UpdatedAt    time.Time  `bun:"updated_at,notnull,default:current_timestamp" json:"updatedAt"`
	LastLoginAt  *time.Time `bun:"last_login_at" json:"lastLoginAt,omitempty"`
}

// APIToken represents a non-interactive machine credential (e.g., CI/CD
// pipeline). Like users, its ExternalID is the rotatable value embedded in
// issued credentials.
type APIToken struct {
	bun.BaseModel `bun:"table:api_tokens,alias:at"`

	ID         string    `bun:"id,pk,type:uuid,default:gen_random_uuid()" json:"id"`
	ExternalID string    `bun:"external_id,notnull,unique" json:"externalId"`
	Name       string    `bun:"name,notnull" json:"name"`
	Roles      RoleList  `bun:"roles,type:jsonb,notnull,default:'[]'" json:"roles"`
	Blocked    bool      `bun:"blocked,notnull,default:false" json:"blocked"`
	CreatedAt  time.Time `bun:"created_at,notnull,default:current_timestamp" json:"createdAt"`
	LastUsedAt time.Time `bun:"last_used_at" json:"lastUsedAt"`
}
