package auth

import "strings"

// mfaAllowList names the only endpoints reachable with a pre-auth credential:
// finishing MFA setup/verification and bailing out via logout. Matched by
// suffix so mounted prefixes keep working.
var mfaAllowList = []string{
	"/auth/mfa/setup",
	"/auth/mfa/enable",
	"/auth/mfa/verify",
	"/auth/logout",
}

// MFAAllowed reports whether a path may be reached while holding a pre-auth
// credential. Everything else is blocked before RBAC runs: a subject that has
// not proven the second factor must never reach role-based authorization.
func MFAAllowed(path string) bool {
	for _, suffix := range mfaAllowList {
		if strings.HasSuffix(path, suffix) {
			return true
		}
	}
	return false
}
