// Package xchacha registers the "xchacha" XChaCha20-Poly1305 encryption provider.
// Its 24-byte nonce is safe to draw at random for any number of envelopes.
package xchacha

import (
	"context"
	"fmt"

	"github.com/chirino/companion-service/internal/config"
	"github.com/chirino/companion-service/internal/registry/encrypt"
	"golang.org/x/crypto/chacha20poly1305"
)

// ID is the provider identifier written into MSEH headers.
const ID = "xchacha"

func init() {
	encrypt.Register(encrypt.Plugin{
		Name: ID,
		Loader: func(_ context.Context, _ *config.Config) (encrypt.Provider, error) {
			return Provider{}, nil
		},
	})
}

// Provider seals with XChaCha20-Poly1305.
type Provider struct{}

func (Provider) ID() string { return ID }

func (Provider) NonceSize() int { return chacha20poly1305.NonceSizeX }

func (Provider) Seal(key, nonce, plaintext []byte) ([]byte, error) {
	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return nil, fmt.Errorf("xchacha: %w", err)
	}
	if len(nonce) != aead.NonceSize() {
		return nil, fmt.Errorf("xchacha: nonce must be %d bytes, got %d", aead.NonceSize(), len(nonce))
	}
	return aead.Seal(nil, nonce, plaintext, nil), nil
}

func (Provider) Open(key, nonce, ciphertext []byte) ([]byte, error) {
	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return nil, fmt.Errorf("xchacha: %w", err)
	}
	if len(nonce) != aead.NonceSize() {
		return nil, fmt.Errorf("xchacha: nonce must be %d bytes, got %d", aead.NonceSize(), len(nonce))
	}
	plain, err := aead.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return nil, fmt.Errorf("xchacha: open: %w", err)
	}
	return plain, nil
}
