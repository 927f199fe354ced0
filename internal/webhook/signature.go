package webhook

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
)

// signaturePrefix prefixes the hex digest in the signature header, in the
// style used by most webhook providers.
const signaturePrefix = "sha256="

// Sign computes the HMAC-SHA256 signature of payload using the
// subscription's secret, encoded as "sha256=<hex>".
func Sign(payload []byte, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(payload) //nolint:errcheck // hash writes never fail
	return signaturePrefix + hex.EncodeToString(mac.Sum(nil))
}

// Verify checks a received signature against the exact received payload
// bytes. The comparison is constant-time to avoid timing side-channels; a
// mismatch means a wrong secret or tampering, never a transient condition.
//
// This is the receiver-side half of the contract; it lives here so
// subscribers written in Go can share the implementation and so the signer
// and verifier are tested against each other.
func Verify(payload []byte, secret, signature string) bool {
	if !strings.HasPrefix(signature, signaturePrefix) {
		return false
	}
	expected := Sign(payload, secret)
	return hmac.Equal([]byte(expected), []byte(signature))
}

// GenerateSecret returns a cryptographically random 256-bit hex secret for
// subscriptions created without one.
func GenerateSecret() (string, error) {
	b := make([]byte, 32) //nolint:mnd // 256-bit secret
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("generating webhook secret: %w", err)
	}
	return hex.EncodeToString(b), nil
}
