package certificate

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"strings"
)

const codeRandomBytes = 8

// newCode builds a certificate code like CERT-9F2A01BC44D07E13.
// Uniqueness is enforced by the store; the issuer retries on collision.
func newCode() (string, error) {
	b := make([]byte, codeRandomBytes)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("can't read random bytes: %w", err)
	}

	return "CERT-" + strings.ToUpper(hex.EncodeToString(b)), nil
}
