// Package aesgcm registers the "aesgcm" AES-256-GCM encryption provider.
package aesgcm

import (
	"context"
	"crypto/aes"
	"crypto/cipher"
	"fmt"

	"github.com/chirino/companion-service/internal/config"
	"github.com/chirino/companion-service/internal/registry/encrypt"
)

// ID is the provider identifier written into MSEH headers.
const ID = "aesgcm"

func init() {
	encrypt.Register(encrypt.Plugin{
		Name: ID,
		Loader: func(_ context.Context, _ *config.Config) (encrypt.Provider, error) {
			return Provider{}, nil
		},
	})
}

// Provider seals with AES-256-GCM and a 12-byte nonce.
type Provider struct{}

func (Provider) ID() string { return ID }

func (Provider) NonceSize() int { return 12 }

// Seal encrypts plaintext; the GCM tag is appended to the returned ciphertext.
func (Provider) Seal(key, nonce, plaintext []byte) ([]byte, error) {
	gcm, err := newGCM(key)
	if err != nil {
		return nil, err
	}
	if len(nonce) != gcm.NonceSize() {
		return nil, fmt.Errorf("aesgcm: nonce must be %d bytes, got %d", gcm.NonceSize(), len(nonce))
	}
	return gcm.Seal(nil, nonce, plaintext, nil), nil
}

// Open decrypts ciphertext (with appended GCM tag).
func (Provider) Open(key, nonce, ciphertext []byte) ([]byte, error) {
	gcm, err := newGCM(key)
	if err != nil {
		return nil, err
	}
	if len(nonce) != gcm.NonceSize() {
		return nil, fmt.Errorf("aesgcm: nonce must be %d bytes, got %d", gcm.NonceSize(), len(nonce))
	}
	plain, err := gcm.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return nil, fmt.Errorf("aesgcm: open: %w", err)
	}
	return plain, nil
}

func newGCM(key []byte) (cipher.AEAD, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("aesgcm: AES cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("aesgcm: GCM: %w", err)
	}
	return gcm, nil
}
