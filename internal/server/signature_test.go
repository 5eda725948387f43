package server

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestVerifySignature(t *testing.T) {
	payload := []byte(`{"ref":"refs/heads/main"}`)

	testCases := []struct {
		name      string
		signature string
		secret    string
		want      bool
	}{
		{"valid", Sign(payload, testSecret), testSecret, true},
		{"signed with another secret", Sign(payload, "another-secret-at-least-32-chars-long"), testSecret, false},
		{"signed other payload", Sign([]byte(`{"ref":"refs/heads/develop"}`), testSecret), testSecret, false},
		{"missing header", "", testSecret, false},
		{"no prefix", "abc123def456", testSecret, false},
		{"sha1 prefix", "sha1=abc123def456", testSecret, false},
		{"no equals", "sha256abc123def456", testSecret, false},
		{"empty after prefix", "sha256=", testSecret, false},
		{"uppercase hex", "sha256=" + "ABCDEF", testSecret, false},
		{"target without secret", Sign(payload, ""), "", false},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, VerifySignature(payload, tc.signature, tc.secret))
		})
	}
}

func TestVerifyBearer(t *testing.T) {
	testCases := []struct {
		name   string
		header string
		secret string
		want   bool
	}{
		{"valid token", "Bearer " + testSecret, testSecret, true},
		{"wrong token", "Bearer wrong", testSecret, false},
		{"token prefix only", "Bearer " + testSecret[:10], testSecret, false},
		{"missing header", "", testSecret, false},
		{"basic auth", "Basic " + testSecret, testSecret, false},
		{"no secret configured", "", "", true},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, VerifyBearer(tc.header, tc.secret), "header %q", tc.header)
		})
	}
}
