package server

import (
	"errors"
	"fmt"
	"log"
	"net/http"
	"net/url"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/volcanicminds/volcanic-backend/internal/apierror"
	"github.com/volcanicminds/volcanic-backend/internal/auth"
	"github.com/volcanicminds/volcanic-backend/internal/config"
	vmiddleware "github.com/volcanicminds/volcanic-backend/internal/middleware"
	"github.com/volcanicminds/volcanic-backend/internal/repository"
	"github.com/volcanicminds/volcanic-backend/internal/roles"
)

// otpIssuer labels enrolled accounts in authenticator apps.
const otpIssuer = "volcanic"

// Handlers owns the built-in endpoints: login, the MFA flow, logout, the
// identity probe, and tenant administration. Every handler runs behind the
// security pipeline and reads its state from the request's security context.
type Handlers struct {
	Cfg       *config.Config
	Issuer    *auth.Issuer
	Transport *auth.Transport
	Users     repository.UserRepository
	Tokens    repository.TokenRepository
	Tenants   repository.TenantRepository

	// Sessions opens additional schema-bound sessions outside the request's
	// own. Only impersonation needs one: the target user lives in the target
	// tenant's schema, not the caller's.
	Sessions vmiddleware.SessionSource
}

// Routes returns the built-in route table. Tenant administration opts out of
// tenant context because tenants live in the shared schema; everything else
// runs inside the caller's tenant.
func (h *Handlers) Routes() []Route {
	return []Route{
		{Method: http.MethodPost, Path: "/auth/login", Handler: h.Login},
		{Method: http.MethodPost, Path: "/auth/mfa/setup", Handler: h.MFASetup},
		{Method: http.MethodPost, Path: "/auth/mfa/enable", Handler: h.MFAEnable},
		{Method: http.MethodPost, Path: "/auth/mfa/verify", Handler: h.MFAVerify},
		{Method: http.MethodPost, Path: "/auth/change-password", Handler: h.ChangePassword},
		{Method: http.MethodPost, Path: "/auth/logout", Handler: h.Logout},
		{Method: http.MethodGet, Path: "/me", Handler: h.Me},

		// Subject administration runs inside tenant context: an admin manages
		// the users and API tokens of the tenant the request resolved to.
		{Method: http.MethodGet, Path: "/users", Handler: h.ListUsers, Roles: []string{roles.Admin}},
		{Method: http.MethodGet, Path: "/users/{userID}", Handler: h.GetUser, Roles: []string{roles.Admin}},
		{Method: http.MethodPatch, Path: "/users/{userID}", Handler: h.UpdateUser, Roles: []string{roles.Admin}},
		{Method: http.MethodGet, Path: "/tokens", Handler: h.ListTokens, Roles: []string{roles.Admin}},
		{Method: http.MethodPost, Path: "/tokens", Handler: h.CreateToken, Roles: []string{roles.Admin}},
		{Method: http.MethodPatch, Path: "/tokens/{tokenID}", Handler: h.UpdateToken, Roles: []string{roles.Admin}},

		{Method: http.MethodGet, Path: "/tenants", Handler: h.ListTenants, Roles: []string{roles.Admin}, TenantContextOptOut: true},
		{Method: http.MethodPost, Path: "/tenants", Handler: h.CreateTenant, Roles: []string{roles.Admin}, TenantContextOptOut: true},
		{Method: http.MethodGet, Path: "/tenants/{tenantID}", Handler: h.GetTenant, Roles: []string{roles.Admin}, TenantContextOptOut: true},
		{Method: http.MethodPatch, Path: "/tenants/{tenantID}", Handler: h.UpdateTenant, Roles: []string{roles.Admin}, TenantContextOptOut: true},
		{Method: http.MethodDelete, Path: "/tenants/{tenantID}", Handler: h.ArchiveTenant, Roles: []string{roles.Admin}, TenantContextOptOut: true},
		{Method: http.MethodPost, Path: "/tenants/{tenantID}/restore", Handler: h.RestoreTenant, Roles: []string{roles.Admin}, TenantContextOptOut: true},

		// Impersonation keeps tenant context: the caller's own tenant decides
		// whether a cross-tenant grant is allowed.
		{Method: http.MethodPost, Path: "/tenants/impersonate", Handler: h.Impersonate, Roles: []string{roles.Admin}},
	}
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type credentialResponse struct {
	Token       string    `json:"token"`
	ExpiresAt   time.Time `json:"expiresAt"`
	MFARequired bool      `json:"mfaRequired,omitempty"`
}

// Login verifies email and password against the tenant's user table and
// issues a credential. Accounts with MFA enabled get a short-lived pre-auth
// credential instead; the full one is minted by MFAVerify.
func (h *Handlers) Login(w http.ResponseWriter, r *http.Request) {
	sc, _ := auth.SecurityContextFrom(r.Context())
	ctx := r.Context()

	var req loginRequest
	if err := decodeJSON(r, &req); err != nil {
		badRequest(w, "invalid login payload")
		return
	}
	if req.Email == "" || req.Password == "" {
		badRequest(w, "email and password are required")
		return
	}

	user, err := h.Users.GetByEmail(ctx, sc.DB(), req.Email)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			apierror.Write(w, http.StatusUnauthorized, apierror.CodeInvalidCredential, "invalid email or password")
			return
		}
		log.Printf("login: lookup %s: %v", req.Email, err)
		apierror.Write(w, http.StatusInternalServerError, apierror.CodeInternal, "login failed")
		return
	}

	if bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(req.Password)) != nil {
		apierror.Write(w, http.StatusUnauthorized, apierror.CodeInvalidCredential, "invalid email or password")
		return
	}
	if !h.Users.IsValid(user) {
		apierror.Write(w, http.StatusForbidden, apierror.CodeUserNotValid, "user is not valid or blocked")
		return
	}

	tenantID := ""
	if sc.Tenant != nil {
		tenantID = sc.Tenant.ID
	}

	if user.MFAEnabled {
		token, expiresAt, err := h.Issuer.IssuePreAuth(user.ExternalID, tenantID)
		if err != nil {
			log.Printf("login: issue pre-auth for %s: %v", user.Email, err)
			apierror.Write(w, http.StatusInternalServerError, apierror.CodeInternal, "login failed")
			return
		}
		h.sendCredential(w, credentialResponse{Token: token, ExpiresAt: expiresAt, MFARequired: true}, token)
		return
	}

	token, expiresAt, err := h.Issuer.IssueFull(user.ExternalID, tenantID, user.Roles)
	if err != nil {
		log.Printf("login: issue credential for %s: %v", user.Email, err)
		apierror.Write(w, http.StatusInternalServerError, apierror.CodeInternal, "login failed")
		return
	}

	now := time.Now()
	user.LastLoginAt = &now
	if err := h.Users.Update(ctx, sc.DB(), user); err != nil {
		// Audit timestamp only; the login succeeds regardless.
		log.Printf("login: update last login for %s: %v", user.Email, err)
	}

	log.Printf("login: %s authenticated", user.Email)
	h.sendCredential(w, credentialResponse{Token: token, ExpiresAt: expiresAt}, token)
}

// sendCredential writes the credential response and, in cookie transport,
// also sets the signed cookie.
func (h *Handlers) sendCredential(w http.ResponseWriter, resp credentialResponse, raw string) {
	if h.Cfg.Auth.Transport == config.AuthTransportCookie {
		cookie, err := h.Transport.EncodeCookie(raw)
		if err != nil {
			log.Printf("login: encode cookie: %v", err)
			apierror.Write(w, http.StatusInternalServerError, apierror.CodeInternal, "login failed")
			return
		}
		http.SetCookie(w, cookie)
	}
	writeJSON(w, http.StatusOK, resp)
}

// requireUser returns the resolved human subject, writing the rejection when
// the request is anonymous or machine-authenticated.
func requireUser(w http.ResponseWriter, sc *auth.SecurityContext) bool {
	if sc == nil || sc.Subject == nil {
		apierror.Write(w, http.StatusUnauthorized, apierror.CodeUnauthorized, "authentication required")
		return false
	}
	if sc.Subject.Kind != auth.SubjectUser || sc.Subject.User == nil {
		apierror.Write(w, http.StatusForbidden, apierror.CodeForbidden, "only users can manage their account")
		return false
	}
	return true
}

type mfaSetupResponse struct {
	Secret     string `json:"secret"`
	OTPAuthURL string `json:"otpauthUrl"`
}

// MFASetup generates and stores a fresh TOTP secret for the caller. The
// account stays on single-factor login until MFAEnable proves possession of
// the secret. Reachable with a pre-auth credential.
func (h *Handlers) MFASetup(w http.ResponseWriter, r *http.Request) {
	sc, _ := auth.SecurityContextFrom(r.Context())
	if !requireUser(w, sc) {
		return
	}
	user := sc.Subject.User

	secret, err := auth.NewMFASecret()
	if err != nil {
		log.Printf("mfa setup: %s: %v", user.Email, err)
		apierror.Write(w, http.StatusInternalServerError, apierror.CodeInternal, "MFA setup failed")
		return
	}

	user.MFASecret = secret
	user.MFAEnabled = false
	if err := h.Users.Update(r.Context(), sc.DB(), user); err != nil {
		log.Printf("mfa setup: store secret for %s: %v", user.Email, err)
		apierror.Write(w, http.StatusInternalServerError, apierror.CodeInternal, "MFA setup failed")
		return
	}

	otpURL := fmt.Sprintf("otpauth://totp/%s:%s?secret=%s&issuer=%s",
		otpIssuer, url.QueryEscape(user.Email), secret, otpIssuer)
	writeJSON(w, http.StatusOK, mfaSetupResponse{Secret: secret, OTPAuthURL: otpURL})
}

type mfaCodeRequest struct {
	Code string `json:"code"`
}

// MFAEnable turns MFA on after the caller proves possession of the secret
// minted by MFASetup, and issues a full credential so the session continues
// uninterrupted.
func (h *Handlers) MFAEnable(w http.ResponseWriter, r *http.Request) {
	sc, _ := auth.SecurityContextFrom(r.Context())
	if !requireUser(w, sc) {
		return
	}
	user := sc.Subject.User

	var req mfaCodeRequest
	if err := decodeJSON(r, &req); err != nil {
		badRequest(w, "invalid MFA payload")
		return
	}
	if user.MFASecret == "" {
		badRequest(w, "MFA setup has not been started")
		return
	}
	if !auth.VerifyTOTP(user.MFASecret, req.Code, time.Now()) {
		apierror.Write(w, http.StatusUnauthorized, apierror.CodeInvalidCredential, "invalid MFA code")
		return
	}

	user.MFAEnabled = true
	if err := h.Users.Update(r.Context(), sc.DB(), user); err != nil {
		log.Printf("mfa enable: %s: %v", user.Email, err)
		apierror.Write(w, http.StatusInternalServerError, apierror.CodeInternal, "MFA enable failed")
		return
	}

	log.Printf("mfa: %s enabled", user.Email)
	h.issueAfterMFA(w, sc)
}

// MFAVerify exchanges a pre-auth credential for a full one after checking the
// second factor.
func (h *Handlers) MFAVerify(w http.ResponseWriter, r *http.Request) {
	sc, _ := auth.SecurityContextFrom(r.Context())
	if !requireUser(w, sc) {
		return
	}
	user := sc.Subject.User

	var req mfaCodeRequest
	if err := decodeJSON(r, &req); err != nil {
		badRequest(w, "invalid MFA payload")
		return
	}
	if !user.MFAEnabled || user.MFASecret == "" {
		badRequest(w, "MFA is not enabled for this account")
		return
	}
	if !auth.VerifyTOTP(user.MFASecret, req.Code, time.Now()) {
		apierror.Write(w, http.StatusUnauthorized, apierror.CodeInvalidCredential, "invalid MFA code")
		return
	}

	log.Printf("mfa: %s verified", user.Email)
	h.issueAfterMFA(w, sc)
}

func (h *Handlers) issueAfterMFA(w http.ResponseWriter, sc *auth.SecurityContext) {
	user := sc.Subject.User
	tenantID := ""
	if sc.Tenant != nil {
		tenantID = sc.Tenant.ID
	}
	token, expiresAt, err := h.Issuer.IssueFull(user.ExternalID, tenantID, user.Roles)
	if err != nil {
		log.Printf("mfa: issue credential for %s: %v", user.Email, err)
		apierror.Write(w, http.StatusInternalServerError, apierror.CodeInternal, "credential issuance failed")
		return
	}
	h.sendCredential(w, credentialResponse{Token: token, ExpiresAt: expiresAt}, token)
}

type changePasswordRequest struct {
	OldPassword string `json:"oldPassword"`
	NewPassword string `json:"newPassword"`
}

// ChangePassword verifies the current password, stores the new hash, and
// rotates the external identifier so every previously issued credential stops
// resolving. Responds with a fresh credential so the current session
// continues uninterrupted.
func (h *Handlers) ChangePassword(w http.ResponseWriter, r *http.Request) {
	sc, _ := auth.SecurityContextFrom(r.Context())
	if !requireUser(w, sc) {
		return
	}
	user := sc.Subject.User
	ctx := r.Context()

	var req changePasswordRequest
	if err := decodeJSON(r, &req); err != nil {
		badRequest(w, "invalid password payload")
		return
	}
	if req.OldPassword == "" || req.NewPassword == "" {
		badRequest(w, "oldPassword and newPassword are required")
		return
	}

	if bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(req.OldPassword)) != nil {
		apierror.Write(w, http.StatusUnauthorized, apierror.CodeInvalidCredential, "invalid password")
		return
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(req.NewPassword), bcrypt.DefaultCost)
	if err != nil {
		log.Printf("change password: hash for %s: %v", user.Email, err)
		apierror.Write(w, http.StatusInternalServerError, apierror.CodeInternal, "password change failed")
		return
	}
	user.PasswordHash = string(hash)
	if err := h.Users.Update(ctx, sc.DB(), user); err != nil {
		log.Printf("change password: store hash for %s: %v", user.Email, err)
		apierror.Write(w, http.StatusInternalServerError, apierror.CodeInternal, "password change failed")
		return
	}

	// Kill every outstanding credential for this account.
	fresh, err := auth.NewExternalID()
	if err != nil {
		log.Printf("change password: new external id for %s: %v", user.Email, err)
		apierror.Write(w, http.StatusInternalServerError, apierror.CodeInternal, "password change failed")
		return
	}
	if err := h.Users.RotateExternalID(ctx, sc.DB(), user.ID, fresh); err != nil {
		log.Printf("change password: rotate external id for %s: %v", user.Email, err)
		apierror.Write(w, http.StatusInternalServerError, apierror.CodeInternal, "password change failed")
		return
	}
	user.ExternalID = fresh

	tenantID := ""
	if sc.Tenant != nil {
		tenantID = sc.Tenant.ID
	}
	token, expiresAt, err := h.Issuer.IssueFull(fresh, tenantID, user.Roles)
	if err != nil {
		log.Printf("change password: issue credential for %s: %v", user.Email, err)
		apierror.Write(w, http.StatusInternalServerError, apierror.CodeInternal, "password change failed")
		return
	}

	log.Printf("auth: %s changed password", user.Email)
	h.sendCredential(w, credentialResponse{Token: token, ExpiresAt: expiresAt}, token)
}

// Logout clears the auth cookie in cookie transport. Bearer credentials are
// stateless; clients drop them, and rotating the user's external id is the
// server-side kill switch.
func (h *Handlers) Logout(w http.ResponseWriter, r *http.Request) {
	sc, _ := auth.SecurityContextFrom(r.Context())
	if h.Cfg.Auth.Transport == config.AuthTransportCookie {
		http.SetCookie(w, h.Transport.ClearCookie())
	}
	if sc != nil && sc.Subject != nil {
		log.Printf("logout: %s", sc.ActorIdentity())
	}
	writeJSON(w, http.StatusOK, map[string]string{"message": "logged out"})
}

type meResponse struct {
	Authenticated bool           `json:"authenticated"`
	Kind          string         `json:"kind,omitempty"`
	ID            string         `json:"id,omitempty"`
	Email         string         `json:"email,omitempty"`
	Name          string         `json:"name,omitempty"`
	Roles         []string       `json:"roles"`
	Tenant        *meTenant      `json:"tenant,omitempty"`
	Impersonator  string         `json:"impersonator,omitempty"`
	ExpiresAt     *time.Time     `json:"expiresAt,omitempty"`
}

type meTenant struct {
	ID   string `json:"id"`
	Slug string `json:"slug"`
}

// Me reports the caller's resolved identity, roles, and tenant. Public:
// anonymous callers get the public role back, which makes the endpoint a
// cheap probe for clients checking whether their credential still works.
func (h *Handlers) Me(w http.ResponseWriter, r *http.Request) {
	sc, _ := auth.SecurityContextFrom(r.Context())

	resp := meResponse{Roles: sc.Roles()}
	if sc.Tenant != nil {
		resp.Tenant = &meTenant{ID: sc.Tenant.ID, Slug: sc.Tenant.Slug}
	}
	if sc.Credential != nil {
		resp.Impersonator = sc.Credential.Impersonator
		if !sc.Credential.ExpiresAt.IsZero() {
			expires := sc.Credential.ExpiresAt
			resp.ExpiresAt = &expires
		}
	}
	if sc.Subject != nil {
		resp.Authenticated = true
		resp.Kind = string(sc.Subject.Kind)
		switch {
		case sc.Subject.User != nil:
			resp.ID = sc.Subject.User.ID
			resp.Email = sc.Subject.User.Email
			resp.Name = sc.Subject.User.Name
		case sc.Subject.Token != nil:
			resp.ID = sc.Subject.Token.ID
			resp.Name = sc.Subject.Token.Name
		}
	}

	writeJSON(w, http.StatusOK, resp)
}
