package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestResolveSecret_EnvAndFile(t *testing.T) {
	t.Setenv("COMPANION_TEST_SECRET", "hunter2")
	secret, err := ResolveSecret("env:COMPANION_TEST_SECRET")
	require.NoError(t, err)
	require.Equal(t, "hunter2", secret)

	path := filepath.Join(t.TempDir(), "pw")
	require.NoError(t, os.WriteFile(path, []byte("from-file\n"), 0o600))
	secret, err = ResolveSecret("file:" + path)
	require.NoError(t, err)
	require.Equal(t, "from-file", secret)

	secret, err = ResolveSecret("literal")
	require.NoError(t, err)
	require.Equal(t, "literal", secret)
}

func TestResolveSecret_MissingEnv(t *testing.T) {
	_, err := ResolveSecret("env:COMPANION_TEST_DOES_NOT_EXIST")
	require.Error(t, err)
}

func TestValidateEncryption(t *testing.T) {
	cfg := DefaultConfig()
	require.NoError(t, cfg.ValidateEncryption())

	cfg.EncryptionKDFLogN = 4
	require.Error(t, cfg.ValidateEncryption())

	cfg = DefaultConfig()
	cfg.EncryptionCipher = " "
	require.Error(t, cfg.ValidateEncryption())
}
