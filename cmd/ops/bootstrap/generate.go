package main

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
)

// tokenByteLength gives 64 hex characters, well above the ADMIN_TOKEN and
// ANALYTICS_SALT minimum lengths.
const tokenByteLength = 32

// GenerateSecureToken returns a hex-encoded random token. Generated values
// are never shown to the operator.
func GenerateSecureToken() (string, error) {
	buf := make([]byte, tokenByteLength)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generating secure token: %w", err)
	}
	return hex.EncodeToString(buf), nil
}
