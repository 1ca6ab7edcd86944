package dataencryption

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"errors"
	"fmt"
	"sync"

	"github.com/chirino/companion-service/internal/config"
	"github.com/chirino/companion-service/internal/registry/cache"
	"github.com/chirino/companion-service/internal/registry/encrypt"
	"golang.org/x/crypto/scrypt"
)

const (
	envelopeVersion = 1
	saltSize        = 16
	derivedKeySize  = 32
)

// ErrDecryption is matched by every *DecryptionError via errors.Is.
var ErrDecryption = errors.New("decryption failed")

// ErrKeyRequired is returned by Encrypt when called with an empty key.
var ErrKeyRequired = errors.New("encryption key required")

// DecryptionError reports a wrong key or a malformed envelope.
type DecryptionError struct {
	Reason string
	Err    error
}

func (e *DecryptionError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("decryption failed: %s: %v", e.Reason, e.Err)
	}
	return "decryption failed: " + e.Reason
}

func (e *DecryptionError) Unwrap() error { return e.Err }

func (e *DecryptionError) Is(target error) bool { return target == ErrDecryption }

type contextKey struct{}

// WithContext returns a new context carrying the given Service.
func WithContext(ctx context.Context, svc *Service) context.Context {
	return context.WithValue(ctx, contextKey{}, svc)
}

// FromContext retrieves the Service from the context. Returns nil if none was set.
func FromContext(ctx context.Context) *Service {
	svc, _ := ctx.Value(contextKey{}).(*Service)
	return svc
}

// Service seals profile documents with a password. The primary provider is used for
// new envelopes; every registered provider is available for decryption, routed by the
// MSEH ProviderID field.
type Service struct {
	primary encrypt.Provider
	byID    map[string]encrypt.Provider
	logN    uint32
	keys    cache.KeyCache

	// pepper keys the HMAC used for cache ids so no plain password digest is kept.
	pepper []byte

	mu        sync.Mutex
	sealSalts map[string][]byte
}

// New constructs a Service from every registered provider. cfg.EncryptionCipher
// selects the primary. The derived-key cache is taken from ctx when present.
func New(ctx context.Context, cfg *config.Config) (*Service, error) {
	if err := cfg.ValidateEncryption(); err != nil {
		return nil, err
	}
	svc := &Service{
		byID:      make(map[string]encrypt.Provider),
		logN:      uint32(cfg.EncryptionKDFLogN),
		keys:      cache.KeyCacheFromContext(ctx),
		pepper:    make([]byte, 32),
		sealSalts: make(map[string][]byte),
	}
	if _, err := rand.Read(svc.pepper); err != nil {
		return nil, fmt.Errorf("dataencryption: pepper: %w", err)
	}
	for _, name := range encrypt.Names() {
		plugin, err := encrypt.Select(name)
		if err != nil {
			return nil, err
		}
		provider, err := plugin.Loader(ctx, cfg)
		if err != nil {
			return nil, fmt.Errorf("encryption provider %q: %w", name, err)
		}
		svc.byID[provider.ID()] = provider
		if name == cfg.EncryptionCipher {
			svc.primary = provider
		}
	}
	if svc.primary == nil {
		return nil, fmt.Errorf("encryption cipher %q is not registered; registered: %v", cfg.EncryptionCipher, encrypt.Names())
	}
	return svc, nil
}

// PrimaryID returns the provider used for new envelopes.
func (s *Service) PrimaryID() string { return s.primary.ID() }

// IsEncrypted reports whether content is an armored MSEH envelope.
func IsEncrypted(content []byte) bool { return IsArmored(content) }

// IsEncrypted reports whether content is an armored MSEH envelope.
func (s *Service) IsEncrypted(content []byte) bool { return IsArmored(content) }

// Encrypt seals plaintext under key and returns an armored envelope.
func (s *Service) Encrypt(plaintext []byte, key string) ([]byte, error) {
	if key == "" {
		return nil, ErrKeyRequired
	}
	salt, err := s.sealSalt(key)
	if err != nil {
		return nil, err
	}
	dk, err := s.derive(key, salt, s.logN)
	if err != nil {
		return nil, err
	}
	nonce := make([]byte, s.primary.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return nil, fmt.Errorf("dataencryption: nonce: %w", err)
	}
	ciphertext, err := s.primary.Seal(dk, nonce, plaintext)
	if err != nil {
		return nil, err
	}

	var buf bytes.Buffer
	err = WriteHeader(&buf, Header{
		Version:    envelopeVersion,
		ProviderID: s.primary.ID(),
		Nonce:      nonce,
		Salt:       salt,
		KDFLogN:    s.logN,
	})
	if err != nil {
		return nil, fmt.Errorf("dataencryption: writing header: %w", err)
	}
	buf.Write(ciphertext)
	return Armor(buf.Bytes()), nil
}

// Decrypt opens an armored envelope with key. Every failure is a *DecryptionError.
func (s *Service) Decrypt(content []byte, key string) ([]byte, error) {
	if key == "" {
		return nil, &DecryptionError{Reason: "no key supplied"}
	}
	raw, err := Dearmor(content)
	if err != nil {
		return nil, &DecryptionError{Reason: "malformed envelope", Err: err}
	}
	r := bytes.NewReader(raw)
	h, hasMagic, err := ReadHeader(r)
	if !hasMagic {
		return nil, &DecryptionError{Reason: "missing MSEH magic"}
	}
	if err != nil {
		return nil, &DecryptionError{Reason: "malformed header", Err: err}
	}
	if h.Version != envelopeVersion {
		return nil, &DecryptionError{Reason: fmt.Sprintf("unsupported envelope version %d", h.Version)}
	}
	provider, ok := s.byID[h.ProviderID]
	if !ok {
		return nil, &DecryptionError{Reason: fmt.Sprintf("unknown provider %q", h.ProviderID)}
	}
	if len(h.Salt) == 0 || h.KDFLogN < config.MinKDFLogN || h.KDFLogN > config.MaxKDFLogN {
		return nil, &DecryptionError{Reason: "invalid key derivation parameters"}
	}
	dk, err := s.derive(key, h.Salt, h.KDFLogN)
	if err != nil {
		return nil, &DecryptionError{Reason: "key derivation", Err: err}
	}
	ciphertext := raw[len(raw)-r.Len():]
	plain, err := provider.Open(dk, h.Nonce, ciphertext)
	if err != nil {
		return nil, &DecryptionError{Reason: "wrong key or corrupted envelope", Err: err}
	}
	return plain, nil
}

// sealSalt returns the salt used for all envelopes this process seals under key.
func (s *Service) sealSalt(key string) ([]byte, error) {
	id := s.fingerprint([]byte(key), nil, 0)
	s.mu.Lock()
	defer s.mu.Unlock()
	if salt, ok := s.sealSalts[id]; ok {
		return salt, nil
	}
	salt := make([]byte, saltSize)
	if _, err := rand.Read(salt); err != nil {
		return nil, fmt.Errorf("dataencryption: salt: %w", err)
	}
	s.sealSalts[id] = salt
	return salt, nil
}

func (s *Service) derive(key string, salt []byte, logN uint32) ([]byte, error) {
	id := s.fingerprint([]byte(key), salt, logN)
	if s.keys != nil && s.keys.Available() {
		if dk, ok := s.keys.Get(id); ok {
			return dk, nil
		}
	}
	dk, err := scrypt.Key([]byte(key), salt, 1<<logN, 8, 1, derivedKeySize)
	if err != nil {
		return nil, fmt.Errorf("dataencryption: scrypt: %w", err)
	}
	if s.keys != nil && s.keys.Available() {
		s.keys.Set(id, dk)
	}
	return dk, nil
}

func (s *Service) fingerprint(key, salt []byte, logN uint32) string {
	mac := hmac.New(sha256.New, s.pepper)
	var n [4]byte
	binary.BigEndian.PutUint32(n[:], logN)
	mac.Write(n[:])
	mac.Write([]byte{byte(len(salt))})
	mac.Write(salt)
	mac.Write(key)
	return hex.EncodeToString(mac.Sum(nil))
}
