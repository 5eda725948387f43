package server

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

const (
	SignaturePrefix = "sha256="
	BearerPrefix    = "Bearer "
)

// Sign returns the X-Hub-Signature-256 value GitHub sends for payload.
func Sign(payload []byte, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(payload)
	return SignaturePrefix + hex.EncodeToString(mac.Sum(nil))
}

// VerifySignature verifies the HMAC-SHA256 signature from GitHub webhook
func VerifySignature(payload []byte, signature, secret string) bool {
	if signature == "" || secret == "" {
		return false
	}

	// Signature format: "sha256=<hex_digest>"
	if !strings.HasPrefix(signature, SignaturePrefix) {
		return false
	}

	// Constant-time comparison to prevent timing attacks
	return hmac.Equal([]byte(Sign(payload, secret)), []byte(signature))
}

// VerifyBearer checks an Authorization header against the target secret.
// Targets without a secret accept any request.
func VerifyBearer(header, secret string) bool {
	if secret == "" {
		return true
	}
	if !strings.HasPrefix(header, BearerPrefix) {
		return false
	}
	token := strings.TrimPrefix(header, BearerPrefix)
	return hmac.Equal([]byte(token), []byte(secret))
}
