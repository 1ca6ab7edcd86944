package dataencryption_test

import (
	"bytes"
	"context"
	"errors"
	"testing"

	"github.com/chirino/companion-service/internal/config"
	"github.com/chirino/companion-service/internal/dataencryption"
	"github.com/chirino/companion-service/internal/plugin/cache/local"
	_ "github.com/chirino/companion-service/internal/plugin/encrypt/aesgcm"
	_ "github.com/chirino/companion-service/internal/plugin/encrypt/xchacha"
	registrycache "github.com/chirino/companion-service/internal/registry/cache"
	"github.com/stretchr/testify/require"
)

func newService(t *testing.T, cipher string) *dataencryption.Service {
	t.Helper()
	cfg := config.DefaultConfig()
	cfg.EncryptionCipher = cipher
	cfg.EncryptionKDFLogN = config.MinKDFLogN
	svc, err := dataencryption.New(context.Background(), &cfg)
	require.NoError(t, err)
	return svc
}

func TestEncryptDecrypt(t *testing.T) {
	for _, cipher := range []string{"aesgcm", "xchacha"} {
		t.Run(cipher, func(t *testing.T) {
			svc := newService(t, cipher)
			plain := []byte(`{"version":"2.0","type":"user","payload":{"user":{"name":"Sam"}}}`)

			env, err := svc.Encrypt(plain, "hunter2")
			require.NoError(t, err)
			require.True(t, dataencryption.IsEncrypted(env))
			require.False(t, bytes.Contains(env, []byte("Sam")))

			got, err := svc.Decrypt(env, "hunter2")
			require.NoError(t, err)
			require.Equal(t, plain, got)
		})
	}
}

func TestDecryptWrongKey(t *testing.T) {
	svc := newService(t, "aesgcm")
	env, err := svc.Encrypt([]byte("secret"), "right")
	require.NoError(t, err)

	_, err = svc.Decrypt(env, "wrong")
	require.Error(t, err)
	require.True(t, errors.Is(err, dataencryption.ErrDecryption))
	var de *dataencryption.DecryptionError
	require.True(t, errors.As(err, &de))
}

func TestDecryptMalformed(t *testing.T) {
	svc := newService(t, "aesgcm")
	for _, content := range [][]byte{
		[]byte(`{"plain":"json"}`),
		[]byte("MSEH1:not-base64!!"),
		dataencryption.Armor([]byte("XXXXpayload")),
		dataencryption.Armor([]byte{0x4D, 0x53, 0x45, 0x48, 0x7F}),
	} {
		_, err := svc.Decrypt(content, "key")
		require.ErrorIs(t, err, dataencryption.ErrDecryption, string(content))
	}

	_, err := svc.Decrypt(dataencryption.Armor([]byte("MSEH")), "")
	require.ErrorIs(t, err, dataencryption.ErrDecryption)
}

func TestEncryptRequiresKey(t *testing.T) {
	svc := newService(t, "aesgcm")
	_, err := svc.Encrypt([]byte("x"), "")
	require.ErrorIs(t, err, dataencryption.ErrKeyRequired)
}

// TestDecryptRoutesByProvider verifies envelopes sealed by one primary open under another.
func TestDecryptRoutesByProvider(t *testing.T) {
	env, err := newService(t, "xchacha").Encrypt([]byte("hello"), "pw")
	require.NoError(t, err)

	got, err := newService(t, "aesgcm").Decrypt(env, "pw")
	require.NoError(t, err)
	require.Equal(t, []byte("hello"), got)
}

func TestEnvelopesUseFreshNonces(t *testing.T) {
	svc := newService(t, "aesgcm")
	a, err := svc.Encrypt([]byte("same"), "pw")
	require.NoError(t, err)
	b, err := svc.Encrypt([]byte("same"), "pw")
	require.NoError(t, err)
	require.NotEqual(t, a, b)
}

// countingCache records how many derived keys were stored.
type countingCache struct {
	registrycache.KeyCache
	sets int
}

func (c *countingCache) Set(id string, key []byte) {
	c.sets++
	c.KeyCache.Set(id, key)
}

func TestDerivedKeysAreCached(t *testing.T) {
	inner, err := local.New(64)
	require.NoError(t, err)
	kc := &countingCache{KeyCache: inner}
	ctx := registrycache.WithKeyCacheContext(context.Background(), kc)

	cfg := config.DefaultConfig()
	cfg.EncryptionKDFLogN = config.MinKDFLogN
	svc, err := dataencryption.New(ctx, &cfg)
	require.NoError(t, err)

	env, err := svc.Encrypt([]byte("cached"), "pw")
	require.NoError(t, err)
	_, err = svc.Encrypt([]byte("cached again"), "pw")
	require.NoError(t, err)
	require.Equal(t, 1, kc.sets)

	_, err = svc.Decrypt(env, "pw")
	require.NoError(t, err)
	require.Equal(t, 1, kc.sets, "decrypt should reuse the sealing key")

	_, err = svc.Decrypt(env, "other")
	require.Error(t, err)
	require.Equal(t, 2, kc.sets)
}

func TestNewRejectsUnknownCipher(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.EncryptionCipher = "rot13"
	_, err := dataencryption.New(context.Background(), &cfg)
	require.Error(t, err)
}
