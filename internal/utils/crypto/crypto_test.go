package crypto

import (
	"strings"
	"testing"
)

func TestEncryptDecryptRoundTrip(t *testing.T) {
	tests := []struct {
		name      string
		secret    string
		plaintext string
	}{
		{"short secret", "dev-secret", "sk-abc123"},
		{"exact 32 byte secret", strings.Repeat("k", 32), "api-key-value"},
		{"long secret truncated", strings.Repeat("x", 48), "another-key"},
		{"empty plaintext", "dev-secret", ""},
		{"unicode plaintext", "dev-secret", "clé-secrète-日本語"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			encrypted, err := EncryptString(tt.secret, tt.plaintext)
			if err != nil {
				t.Fatalf("EncryptString() error = %v", err)
			}
			if encrypted == tt.plaintext && tt.plaintext != "" {
				t.Error("ciphertext equals plaintext")
			}

			decrypted, err := DecryptString(tt.secret, encrypted)
			if err != nil {
				t.Fatalf("DecryptString() error = %v", err)
			}
			if decrypted != tt.plaintext {
				t.Errorf("round trip = %q, want %q", decrypted, tt.plaintext)
			}
		})
	}
}

func TestEncryptStringEmptySecret(t *testing.T) {
	if _, err := EncryptString("", "data"); err == nil {
		t.Error("expected error for empty secret")
	}
}

func TestDecryptStringErrors(t *testing.T) {
	tests := []struct {
		name       string
		secret     string
		ciphertext string
	}{
		{"empty secret", "", "aGVsbG8="},
		{"invalid base64", "dev-secret", "%%%not-base64%%%"},
		{"too short", "dev-secret", "aGk="},
		{"wrong key", "other-secret", mustEncrypt(t, "dev-secret", "payload")},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := DecryptString(tt.secret, tt.ciphertext); err == nil {
				t.Error("expected error, got nil")
			}
		})
	}
}

func mustEncrypt(t *testing.T, secret, plaintext string) string {
	t.Helper()
	out, err := EncryptString(secret, plaintext)
	if err != nil {
		t.Fatalf("EncryptString() error = %v", err)
	}
	return out
}
