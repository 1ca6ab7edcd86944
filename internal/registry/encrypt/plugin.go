package encrypt

import (
	"context"
	"fmt"

	"github.com/chirino/companion-service/internal/config"
)

// Provider is the SPI for pluggable AEAD ciphers. Providers only seal and open;
// key derivation and the MSEH envelope are handled by the dataencryption package.
type Provider interface {
	// ID returns the provider identifier written into the MSEH header (e.g. "aesgcm").
	ID() string

	// NonceSize returns the nonce length Seal and Open expect.
	NonceSize() int

	// Seal encrypts and authenticates plaintext with a 32-byte key.
	Seal(key, nonce, plaintext []byte) ([]byte, error)

	// Open authenticates and decrypts ciphertext produced by Seal.
	Open(key, nonce, ciphertext []byte) ([]byte, error)
}

// Plugin bundles a provider name with its loader function.
type Plugin struct {
	Name   string
	Loader func(ctx context.Context, cfg *config.Config) (Provider, error)
}

var plugins []Plugin

// Register adds an encryption provider plugin.
func Register(p Plugin) {
	plugins = append(plugins, p)
}

// Names returns all registered provider names.
func Names() []string {
	names := make([]string, len(plugins))
	for i, p := range plugins {
		names[i] = p.Name
	}
	return names
}

// Select returns the Plugin for the given name.
func Select(name string) (Plugin, error) {
	for _, p := range plugins {
		if p.Name == name {
			return p, nil
		}
	}
	return Plugin{}, fmt.Errorf("unknown encryption provider %q; registered: %v", name, Names())
}
