package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/mitchellh/mapstructure"
)

// ErrInvalidCredential is returned for any bearer value that fails signature,
// expiry, or shape validation. Callers must not distinguish further; the
// pipeline maps it to a single rejection code.
var ErrInvalidCredential = errors.New("invalid credential")

// Verifier validates and decodes bearer credentials. It is a pure function of
// the raw string and the signing secret: no I/O, no side effects, safe for
// concurrent use.
type Verifier struct {
	secret []byte
}

// NewVerifier creates a verifier for HS256 credentials signed with secret.
func NewVerifier(secret string) *Verifier {
	return &Verifier{secret: []byte(secret)}
}

// Verify checks signature and expiry and returns the decoded credential.
// Scope is reported, never enforced; confining pre-auth credentials is the
// MFA gate's job.
func (v *Verifier) Verify(raw string) (*Credential, error) {
	tok, err := jwt.Parse(raw, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %s", t.Method.Alg())
		}
		return v.secret, nil
	}, jwt.WithValidMethods([]string{"HS256"}))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidCredential, err)
	}
	if !tok.Valid {
		return nil, ErrInvalidCredential
	}

	claims, ok := tok.Claims.(jwt.MapClaims)
	if !ok {
		return nil, fmt.Errorf("%w: unexpected claims shape", ErrInvalidCredential)
	}

	cred := new(Credential)
	if err := mapstructure.WeakDecode(map[string]any(claims), cred); err != nil {
		return nil, fmt.Errorf("%w: decode claims: %v", ErrInvalidCredential, err)
	}
	if cred.Subject == "" {
		return nil, fmt.Errorf("%w: missing subject", ErrInvalidCredential)
	}

	if iat, err := claims.GetIssuedAt(); err == nil && iat != nil {
		cred.IssuedAt = iat.Time
	}
	if exp, err := claims.GetExpirationTime(); err == nil && exp != nil {
		cred.ExpiresAt = exp.Time
	}

	return cred, nil
}

// Issuer mints credentials signed with the shared secret.
type Issuer struct {
	secret     []byte
	tokenTTL   time.Duration
	preAuthTTL time.Duration
	now        func() time.Time
}

// NewIssuer creates an issuer. tokenTTL applies to full credentials,
// preAuthTTL to the restricted pre-auth kind.
func NewIssuer(secret string, tokenTTL, preAuthTTL time.Duration) *Issuer {
	return &Issuer{
		secret:     []byte(secret),
		tokenTTL:   tokenTTL,
		preAuthTTL: preAuthTTL,
		now:        time.Now,
	}
}

// IssueFull mints a normal access credential for a subject.
func (i *Issuer) IssueFull(subject, tenantID string, roleCodes []string) (string, time.Time, error) {
	return i.sign(subject, tenantID, roleCodes, "", "", i.tokenTTL)
}

// IssuePreAuth mints the restricted credential handed out mid-login while the
// second factor is pending.
func (i *Issuer) IssuePreAuth(subject, tenantID string) (string, time.Time, error) {
	return i.sign(subject, tenantID, nil, ScopePreAuthMFA, "", i.preAuthTTL)
}

// IssueImpersonation mints a full credential for a target subject on behalf of
// an acting admin, recorded in the impersonator claim.
func (i *Issuer) IssueImpersonation(subject, tenantID string, roleCodes []string, impersonator string) (string, time.Time, error) {
	return i.sign(subject, tenantID, roleCodes, "", impersonator, i.tokenTTL)
}

func (i *Issuer) sign(subject, tenantID string, roleCodes []string, scope Scope, impersonator string, ttl time.Duration) (string, time.Time, error) {
	now := i.now()
	expiresAt := now.Add(ttl)

	claims := jwt.MapClaims{
		"sub": subject,
		"jti": uuid.NewString(),
		"iat": now.Unix(),
		"exp": expiresAt.Unix(),
	}
	if tenantID != "" {
		claims["tid"] = tenantID
	}
	if scope != "" {
		claims["scope"] = string(scope)
	}
	if len(roleCodes) > 0 {
		claims["roles"] = roleCodes
	}
	if impersonator != "" {
		claims["impersonator"] = impersonator
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(i.secret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("sign credential: %w", err)
	}
	return signed, expiresAt, nil
}
