package auth

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha1"
	"crypto/subtle"
	"encoding/base32"
	"encoding/binary"
	"fmt"
	"time"
)

// TOTP parameters: RFC 6238 defaults, compatible with common authenticator apps.
const (
	totpPeriod = 30 * time.Second
	totpDigits = 6
	totpSkew   = 1 // accepted steps on each side of now
)

var totpEncoding = base32.StdEncoding.WithPadding(base32.NoPadding)

// NewMFASecret generates a fresh base32 TOTP secret.
func NewMFASecret() (string, error) {
	buf := make([]byte, 20)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generate mfa secret: %w", err)
	}
	return totpEncoding.EncodeToString(buf), nil
}

// TOTPCode computes the code for a secret at the given time.
func TOTPCode(secret string, at time.Time) (string, error) {
	key, err := totpEncoding.DecodeString(secret)
	if err != nil {
		return "", fmt.Errorf("decode mfa secret: %w", err)
	}
	counter := uint64(at.Unix()) / uint64(totpPeriod.Seconds())
	return hotpCode(key, counter), nil
}

// VerifyTOTP checks a submitted code against the secret, tolerating one step
// of clock skew on either side.
func VerifyTOTP(secret, code string, at time.Time) bool {
	if len(code) != totpDigits {
		return false
	}
	for step := -totpSkew; step <= totpSkew; step++ {
		candidate, err := TOTPCode(secret, at.Add(time.Duration(step)*totpPeriod))
		if err != nil {
			return false
		}
		if subtle.ConstantTimeCompare([]byte(candidate), []byte(code)) == 1 {
			return true
		}
	}
	return false
}

// hotpCode implements RFC 4226 dynamic truncation over HMAC-SHA1.
func hotpCode(key []byte, counter uint64) string {
	var msg [8]byte
	binary.BigEndian.PutUint64(msg[:], counter)

	mac := hmac.New(sha1.New, key)
	mac.Write(msg[:])
	sum := mac.Sum(nil)

	offset := sum[len(sum)-1] & 0x0f
	value := binary.BigEndian.Uint32(sum[offset:offset+4]) & 0x7fffffff

	return fmt.Sprintf("%06d", value%1000000)
}
