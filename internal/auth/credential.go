package auth

import "time"

// Scope restricts what an issued credential may be used for.
type Scope string

// ScopePreAuthMFA marks the deliberately weak credential issued mid-login
// while the second factor is still pending. It must never satisfy a role
// check; the pipeline confines it to the MFA allow-list.
const ScopePreAuthMFA Scope = "pre-auth-mfa"

// Credential is the decoded payload of a verified bearer token.
type Credential struct {
	// Subject is the external identifier of the user or API token.
	Subject string `mapstructure:"sub"`
	// TenantID binds the credential to a tenant; empty in single-tenant mode.
	TenantID string `mapstructure:"tid"`
	// Scope is empty for a full credential, ScopePreAuthMFA otherwise.
	Scope Scope `mapstructure:"scope"`
	// Roles carries the role codes granted at issuance time. Authorization
	// always re-resolves roles from storage; this field is informational.
	Roles []string `mapstructure:"roles"`
	// Impersonator records the acting admin when the credential was minted by
	// the impersonation issuer. Audit only.
	Impersonator string `mapstructure:"impersonator"`
	// JTI uniquely identifies this credential.
	JTI string `mapstructure:"jti"`

	IssuedAt  time.Time `mapstructure:"-"`
	ExpiresAt time.Time `mapstructure:"-"`
}

// IsPreAuth reports whether this credential is restricted to the MFA
// setup/verify flow.
func (c *Credential) IsPreAuth() bool {
	return c != nil && c.Scope == ScopePreAuthMFA
}
