package security

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidateSecret(t *testing.T) {
	tests := []struct {
		name    string
		secret  string
		wantErr error
	}{
		{"generated style", "kJ8mN2pQ5tR7vX1zB4cE6gH9jL3nP8qS2uW5yA7bD0fG3hK6", nil},
		{"url-safe base64", "Zq1-x_9Lr0c2VnT7bH4eYw8uKs3JmPa6Df5GhNo-RtUiWl_E", nil},
		{"exactly minimum length", "abcdefghij1234567890ABCDEFGHIJ!@#$%^&*()KLMNOPQR", nil},

		{"empty", "", ErrSecretTooShort},
		{"one short of minimum", "abcdefghij1234567890ABCDEFGHIJ!@#$%^&*()KLMNOPQ", ErrSecretTooShort},
		{"32 characters", "kJ8mN2pQ5tR7vX1zB4cE6gH9jL3nP8qS", ErrSecretTooShort},

		{"sample targets file value", "gitdeployer-secret", ErrPlaceholderSecret},
		{"sample value uppercase", "GITDEPLOYER-SECRET", ErrPlaceholderSecret},
		{"docs value", "your-webhook-secret-min-48-chars-long", ErrPlaceholderSecret},
		{"short placeholder", "changeme", ErrPlaceholderSecret},
		{"padded sample value", "gitdeployer-secret-for-site1-x8Kq2mZ7pLw4Nv9Rt3Yh", ErrPlaceholderSecret},
		{"padded replace", "replace-with-secret-for-site1-x8Kq2mZ7pLw4Nv9Rt3Y", ErrPlaceholderSecret},
		{"contains password", "site1-deploy-password-x8Kq2mZ7pLw4Nv9Rt3YhQ5vB1n", ErrPlaceholderSecret},

		{"one repeated character", strings.Repeat("s", MinSecretLength), ErrLowEntropySecret},
		{"repeated site id", strings.Repeat("site1", 10), ErrLowEntropySecret},
		{"digits only", "123456789012345678901234567890123456789012345678", ErrLowEntropySecret},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateSecret(tt.secret)
			if tt.wantErr == nil {
				assert.NoError(t, err)
				return
			}
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}
}

func TestValidateSecret_PlaceholderMentionsGenSecret(t *testing.T) {
	err := ValidateSecret("gitdeployer-secret")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "gen-secret")
}

func TestGenerateSecret(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 50; i++ {
		secret, err := GenerateSecret()
		require.NoError(t, err)

		assert.Len(t, secret, MinSecretLength)
		assert.NoError(t, ValidateSecret(secret))
		assert.NotContains(t, secret, "+", "must be URL-safe for use in headers and YAML")
		assert.NotContains(t, secret, "/")

		assert.False(t, seen[secret], "duplicate secret generated")
		seen[secret] = true
	}
}

func TestCalculateEntropy(t *testing.T) {
	tests := []struct {
		input    string
		min, max float64
	}{
		{"", 0, 0},
		{"sssssss", 0, 0},
		{"s1s1s1s1", 1, 1},
		{"abcdefghij", 3.3, 3.4},
		{"kJ8mN2pQ5tR7vX1zB4cE6gH9jL3nP8qS", 4.0, 6.0},
		{"ééé", 0, 0},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			entropy := calculateEntropy(tt.input)
			assert.GreaterOrEqual(t, entropy, tt.min)
			assert.LessOrEqual(t, entropy, tt.max)
		})
	}
}

func BenchmarkValidateSecret(b *testing.B) {
	secret := "kJ8mN2pQ5tR7vX1zB4cE6gH9jL3nP8qS2uW5yA7bD0fG3hK6"
	for i := 0; i < b.N; i++ {
		_ = ValidateSecret(secret)
	}
}
