// Package signature verifies HMAC-signed webhook bodies.
package signature

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

// Header carries the body signature, formatted "sha256=<hex>". The prefix is optional.
const Header = "X-Webhook-Signature"

const prefix = "sha256="

// Sign returns the header value for body under secret.
func Sign(secret string, body []byte) string {
	return prefix + hex.EncodeToString(compute(secret, body))
}

// Verify recomputes the HMAC over body and compares it to the provided header
// value in constant time.
func Verify(secret string, body []byte, provided string) bool {
	provided = strings.TrimSpace(provided)
	if len(provided) >= len(prefix) && strings.EqualFold(provided[:len(prefix)], prefix) {
		provided = provided[len(prefix):]
	}
	got, err := hex.DecodeString(provided)
	if err != nil || len(got) == 0 {
		return false
	}
	return hmac.Equal(got, compute(secret, body))
}

func compute(secret string, body []byte) []byte {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return mac.Sum(nil)
}
