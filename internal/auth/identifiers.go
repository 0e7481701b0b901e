package auth

import (
	"crypto/rand"
	"fmt"

	"github.com/btcsuite/btcutil/base58"
)

// NewExternalID generates a fresh external identifier for a subject. External
// IDs are the values embedded in issued credentials; assigning a new one
// invalidates every outstanding credential for that subject, which is the
// framework's "terminate all sessions" mechanism.
func NewExternalID() (string, error) {
	buf := make([]byte, 16)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generate external id: %w", err)
	}
	return base58.Encode(buf), nil
}
