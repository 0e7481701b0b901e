package server

import (
	"context"
	"errors"
	"log"
	"net/http"
	"regexp"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/hashicorp/go-bexpr"
	"github.com/uptrace/bun"

	"github.com/volcanicminds/volcanic-backend/internal/apierror"
	"github.com/volcanicminds/volcanic-backend/internal/auth"
	"github.com/volcanicminds/volcanic-backend/internal/db/bunx"
	"github.com/volcanicminds/volcanic-backend/internal/db/models"
	"github.com/volcanicminds/volcanic-backend/internal/repository"
)

// tenantSlug is the allow-list for tenant slugs. Slugs reach hostnames and
// headers, so they stay lowercase.
var tenantSlug = regexp.MustCompile(`^[a-z0-9_]+$`)

// ListTenants returns all tenants, optionally narrowed by a boolean filter
// expression over slug, name, and status, e.g. `status == "active"`.
func (h *Handlers) ListTenants(w http.ResponseWriter, r *http.Request) {
	tenants, err := h.Tenants.List(r.Context())
	if err != nil {
		log.Printf("tenants: list: %v", err)
		apierror.Write(w, http.StatusInternalServerError, apierror.CodeInternal, "tenant listing failed")
		return
	}

	if filter := r.URL.Query().Get("filter"); filter != "" {
		eval, err := bexpr.CreateEvaluator(filter)
		if err != nil {
			badRequest(w, "invalid filter expression")
			return
		}
		matched := tenants[:0]
		for _, t := range tenants {
			ok, err := eval.Evaluate(map[string]any{
				"slug":   t.Slug,
				"name":   t.Name,
				"status": string(t.Status),
			})
			if err == nil && ok {
				matched = append(matched, t)
			}
		}
		tenants = matched
	}

	writeJSON(w, http.StatusOK, map[string]any{"tenants": tenants, "count": len(tenants)})
}

type createTenantRequest struct {
	Slug       string `json:"slug"`
	Name       string `json:"name"`
	SchemaName string `json:"schemaName"`
}

// CreateTenant registers a tenant record. The schema name defaults to the
// slug and is validated against the same allow-list the session layer
// enforces, so a tenant row can never smuggle a hostile search_path value.
func (h *Handlers) CreateTenant(w http.ResponseWriter, r *http.Request) {
	var req createTenantRequest
	if err := decodeJSON(r, &req); err != nil {
		badRequest(w, "invalid tenant payload")
		return
	}
	if !tenantSlug.MatchString(req.Slug) {
		badRequest(w, "slug must match [a-z0-9_]+")
		return
	}
	if req.SchemaName == "" {
		req.SchemaName = req.Slug
	}
	if !bunx.ValidSchemaName(req.SchemaName) {
		badRequest(w, "schema name must match [A-Za-z0-9_]+")
		return
	}

	now := time.Now()
	tenant := &models.Tenant{
		ID:         uuid.NewString(),
		Slug:       req.Slug,
		Name:       req.Name,
		SchemaName: req.SchemaName,
		Status:     models.TenantActive,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if err := h.Tenants.Create(r.Context(), tenant); err != nil {
		log.Printf("tenants: create %s: %v", req.Slug, err)
		apierror.Write(w, http.StatusInternalServerError, apierror.CodeInternal, "tenant creation failed")
		return
	}

	log.Printf("tenants: created %s (schema %s)", tenant.Slug, tenant.SchemaName)
	writeJSON(w, http.StatusCreated, tenant)
}

// GetTenant returns one tenant by id.
func (h *Handlers) GetTenant(w http.ResponseWriter, r *http.Request) {
	tenant, ok := h.loadTenant(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, tenant)
}

type updateTenantRequest struct {
	Name *string `json:"name"`
}

// UpdateTenant patches mutable tenant fields. Slug and schema are fixed at
// creation; renaming a schema under live sessions is not supported.
func (h *Handlers) UpdateTenant(w http.ResponseWriter, r *http.Request) {
	tenant, ok := h.loadTenant(w, r)
	if !ok {
		return
	}

	var req updateTenantRequest
	if err := decodeJSON(r, &req); err != nil {
		badRequest(w, "invalid tenant payload")
		return
	}
	if req.Name != nil {
		tenant.Name = *req.Name
	}
	tenant.UpdatedAt = time.Now()

	if err := h.Tenants.Update(r.Context(), tenant); err != nil {
		log.Printf("tenants: update %s: %v", tenant.Slug, err)
		apierror.Write(w, http.StatusInternalServerError, apierror.CodeInternal, "tenant update failed")
		return
	}
	writeJSON(w, http.StatusOK, tenant)
}

// ArchiveTenant soft-deletes a tenant. Archived tenants fail resolution with
// TENANT_INACTIVE; their schema and data stay untouched for restore.
func (h *Handlers) ArchiveTenant(w http.ResponseWriter, r *http.Request) {
	tenant, ok := h.loadTenant(w, r)
	if !ok {
		return
	}
	if err := h.Tenants.Archive(r.Context(), tenant.ID); err != nil {
		log.Printf("tenants: archive %s: %v", tenant.Slug, err)
		apierror.Write(w, http.StatusInternalServerError, apierror.CodeInternal, "tenant archive failed")
		return
	}
	log.Printf("tenants: archived %s", tenant.Slug)
	writeJSON(w, http.StatusOK, map[string]string{"id": tenant.ID, "status": string(models.TenantArchived)})
}

// RestoreTenant reactivates an archived tenant.
func (h *Handlers) RestoreTenant(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "tenantID")
	tenant, err := h.Tenants.Restore(r.Context(), id)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			apierror.Write(w, http.StatusNotFound, apierror.CodeTenantNotFound, "tenant not found")
			return
		}
		log.Printf("tenants: restore %s: %v", id, err)
		apierror.Write(w, http.StatusInternalServerError, apierror.CodeInternal, "tenant restore failed")
		return
	}
	log.Printf("tenants: restored %s", tenant.Slug)
	writeJSON(w, http.StatusOK, tenant)
}

func (h *Handlers) loadTenant(w http.ResponseWriter, r *http.Request) (*models.Tenant, bool) {
	id := chi.URLParam(r, "tenantID")
	tenant, err := h.Tenants.GetByID(r.Context(), id)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			apierror.Write(w, http.StatusNotFound, apierror.CodeTenantNotFound, "tenant not found")
			return nil, false
		}
		log.Printf("tenants: load %s: %v", id, err)
		apierror.Write(w, http.StatusInternalServerError, apierror.CodeInternal, "tenant lookup failed")
		return nil, false
	}
	return tenant, true
}

type impersonateRequest struct {
	TenantSlug string `json:"tenantSlug"`
	TenantID   string `json:"tenantId"`
	UserID     string `json:"userId"`
	UserEmail  string `json:"userEmail"`
	Role       string `json:"role"`
}

type impersonateResponse struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expiresAt"`
	User      struct {
		ID    string          `json:"id"`
		Email string          `json:"email"`
		Roles models.RoleList `json:"roles"`
	} `json:"user"`
	Tenant struct {
		ID   string `json:"id"`
		Slug string `json:"slug"`
	} `json:"tenant"`
}

// Impersonate mints a credential for a user of another tenant. Allowed for
// admins of the system tenant against any active tenant, and for admins of a
// tenant against their own tenant. The target user is looked up on a
// separate session switched to the target schema; that session never leaks
// past this handler.
func (h *Handlers) Impersonate(w http.ResponseWriter, r *http.Request) {
	sc, _ := auth.SecurityContextFrom(r.Context())
	ctx := r.Context()

	if !h.Cfg.MultiTenant.Enabled {
		apierror.Write(w, http.StatusNotImplemented, apierror.CodeInternal, "impersonation requires multi-tenant mode")
		return
	}

	var req impersonateRequest
	if err := decodeJSON(r, &req); err != nil {
		badRequest(w, "invalid impersonation payload")
		return
	}
	if req.TenantSlug == "" && req.TenantID == "" {
		badRequest(w, "target tenant is required")
		return
	}
	if req.UserID == "" && req.UserEmail == "" && req.Role == "" {
		badRequest(w, "target user id, email, or role is required")
		return
	}

	target, err := h.Tenants.GetActiveByRef(ctx, req.TenantSlug, req.TenantID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			apierror.Write(w, http.StatusNotFound, apierror.CodeTenantNotFound, "target tenant not found or not active")
			return
		}
		log.Printf("impersonate: resolve target tenant: %v", err)
		apierror.Write(w, http.StatusInternalServerError, apierror.CodeInternal, "impersonation failed")
		return
	}

	// Cross-tenant grants are reserved for the system tenant's admins.
	callerSystem := sc.Tenant != nil && sc.Tenant.Slug == h.Cfg.MultiTenant.SystemTenantSlug
	sameTenant := sc.Tenant != nil && sc.Tenant.ID == target.ID
	if !callerSystem && !sameTenant {
		log.Printf("impersonate: %s denied for tenant %s", sc.ActorIdentity(), target.Slug)
		apierror.Write(w, http.StatusForbidden, apierror.CodeForbidden, "impersonation outside your tenant requires system tenant admin")
		return
	}

	session, err := h.Sessions.Acquire(ctx, target.SchemaName)
	if err != nil {
		log.Printf("impersonate: acquire session for schema %s: %v", target.SchemaName, err)
		apierror.Write(w, http.StatusInternalServerError, apierror.CodeInternal, "impersonation failed")
		return
	}
	defer func() {
		if err := session.Release(); err != nil {
			log.Printf("impersonate: release session for schema %s: %v", target.SchemaName, err)
		}
	}()

	user, err := h.findImpersonationTarget(ctx, session.DB(), req)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			apierror.Write(w, http.StatusNotFound, apierror.CodeSubjectNotFound, "target user not found")
			return
		}
		log.Printf("impersonate: resolve target user in %s: %v", target.Slug, err)
		apierror.Write(w, http.StatusInternalServerError, apierror.CodeInternal, "impersonation failed")
		return
	}
	if user.Blocked {
		apierror.Write(w, http.StatusForbidden, apierror.CodeUserNotValid, "target user is blocked")
		return
	}

	token, expiresAt, err := h.Issuer.IssueImpersonation(user.ExternalID, target.ID, user.Roles, sc.ActorIdentity())
	if err != nil {
		log.Printf("impersonate: issue credential: %v", err)
		apierror.Write(w, http.StatusInternalServerError, apierror.CodeInternal, "impersonation failed")
		return
	}

	log.Printf("impersonate: %s acting as %s in tenant %s", sc.ActorIdentity(), user.Email, target.Slug)

	resp := impersonateResponse{Token: token, ExpiresAt: expiresAt}
	resp.User.ID = user.ID
	resp.User.Email = user.Email
	resp.User.Roles = user.Roles
	resp.Tenant.ID = target.ID
	resp.Tenant.Slug = target.Slug
	writeJSON(w, http.StatusOK, resp)
}

func (h *Handlers) findImpersonationTarget(ctx context.Context, db bun.IDB, req impersonateRequest) (*models.User, error) {
	switch {
	case req.UserID != "":
		return h.Users.GetByID(ctx, db, req.UserID)
	case req.UserEmail != "":
		return h.Users.GetByEmail(ctx, db, req.UserEmail)
	default:
		return h.Users.FindFirstByRole(ctx, db, req.Role)
	}
}
