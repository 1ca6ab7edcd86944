package aesgcm

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSealOpen(t *testing.T) {
	key := bytes.Repeat([]byte{7}, 32)
	nonce := bytes.Repeat([]byte{1}, Provider{}.NonceSize())

	sealed, err := Provider{}.Seal(key, nonce, []byte(`{"name":"nova"}`))
	require.NoError(t, err)
	require.NotContains(t, string(sealed), "nova")

	plain, err := Provider{}.Open(key, nonce, sealed)
	require.NoError(t, err)
	require.Equal(t, `{"name":"nova"}`, string(plain))

	sealed[0] ^= 0xff
	_, err = Provider{}.Open(key, nonce, sealed)
	require.Error(t, err)
}

func TestRejectsBadInputs(t *testing.T) {
	key := bytes.Repeat([]byte{7}, 32)

	_, err := Provider{}.Seal(key, []byte("short"), []byte("x"))
	require.ErrorContains(t, err, "nonce must be 12 bytes")

	_, err = Provider{}.Seal([]byte("tiny"), make([]byte, 12), []byte("x"))
	require.Error(t, err)
}
