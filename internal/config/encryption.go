package config

import (
	"fmt"
	"os"
	"strings"
)

// Bounds for EncryptionKDFLogN; envelopes outside them are rejected on decrypt too.
const (
	MinKDFLogN = 10
	MaxKDFLogN = 20
)

// ResolveSecret expands a password reference given on the command line or in the
// environment. "env:NAME" reads the named variable, "file:/path" reads the file
// (trailing newline stripped); anything else is returned as-is.
func ResolveSecret(raw string) (string, error) {
	value := strings.TrimSpace(raw)
	switch {
	case strings.HasPrefix(value, "env:"):
		name := strings.TrimPrefix(value, "env:")
		secret, ok := os.LookupEnv(name)
		if !ok {
			return "", fmt.Errorf("secret variable %s is not set", name)
		}
		return secret, nil
	case strings.HasPrefix(value, "file:"):
		path := strings.TrimPrefix(value, "file:")
		data, err := os.ReadFile(path)
		if err != nil {
			return "", fmt.Errorf("read secret file: %w", err)
		}
		return strings.TrimRight(string(data), "\r\n"), nil
	default:
		return raw, nil
	}
}

// ValidateEncryption checks the cipher and key-derivation settings.
func (c *Config) ValidateEncryption() error {
	if c.EncryptionKDFLogN < MinKDFLogN || c.EncryptionKDFLogN > MaxKDFLogN {
		return fmt.Errorf("encryption kdf cost must be between %d and %d, got %d", MinKDFLogN, MaxKDFLogN, c.EncryptionKDFLogN)
	}
	if strings.TrimSpace(c.EncryptionCipher) == "" {
		return fmt.Errorf("encryption cipher is empty")
	}
	return nil
}
