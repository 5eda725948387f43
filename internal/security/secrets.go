package security

import (
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"math"
	"strings"
)

const (
	// MinSecretLength is the minimum length of a target secret, used both as
	// the bearer token of /deploy and as the GitHub webhook key.
	MinSecretLength = 48

	// MinEntropy is the minimum Shannon entropy, in bits per character.
	MinEntropy = 3.5

	secretBytes = 36 // 48 base64 characters
)

var (
	ErrSecretTooShort    = errors.New("secret too short")
	ErrPlaceholderSecret = errors.New("secret is a placeholder")
	ErrLowEntropySecret  = errors.New("secret has insufficient entropy")
)

// Values and fragments found in sample targets files and docs.
var (
	placeholderSecrets = map[string]bool{
		"replace-with-secret":                   true,
		"github-webhook-password":               true,
		"gitdeployer-secret":                    true,
		"topsecret":                             true,
		"secret":                                true,
		"password":                              true,
		"changeme":                              true,
		"your-webhook-secret-min-48-chars-long": true,
	}
	placeholderFragments = []string{"replace", "changeme", "topsecret", "password", "gitdeployer"}
)

// ValidateSecret checks a target secret. The returned error wraps one of
// ErrSecretTooShort, ErrPlaceholderSecret or ErrLowEntropySecret.
func ValidateSecret(secret string) error {
	lower := strings.ToLower(secret)
	if placeholderSecrets[lower] {
		return fmt.Errorf("%w: %q, run 'gitdeployer gen-secret' for a real one", ErrPlaceholderSecret, secret)
	}

	if len(secret) < MinSecretLength {
		return fmt.Errorf("%w: minimum %d characters, got %d", ErrSecretTooShort, MinSecretLength, len(secret))
	}

	for _, fragment := range placeholderFragments {
		if strings.Contains(lower, fragment) {
			return fmt.Errorf("%w: contains %q", ErrPlaceholderSecret, fragment)
		}
	}

	if entropy := calculateEntropy(secret); entropy < MinEntropy {
		return fmt.Errorf("%w: %.2f < %.2f", ErrLowEntropySecret, entropy, MinEntropy)
	}

	return nil
}

// GenerateSecret returns a random URL-safe secret of MinSecretLength
// characters, usable in a targets file and as a GitHub webhook secret.
func GenerateSecret() (string, error) {
	buf := make([]byte, secretBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("failed to generate random secret: %w", err)
	}
	return base64.URLEncoding.EncodeToString(buf), nil
}

// calculateEntropy returns the Shannon entropy of s in bits per character.
func calculateEntropy(s string) float64 {
	if s == "" {
		return 0
	}

	freq := make(map[rune]int)
	n := 0
	for _, c := range s {
		freq[c]++
		n++
	}

	var entropy float64
	for _, count := range freq {
		p := float64(count) / float64(n)
		entropy -= p * math.Log2(p)
	}
	return entropy
}
