package local

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestKeyCache_SetGetClear(t *testing.T) {
	c, err := New(16)
	require.NoError(t, err)
	require.True(t, c.Available())

	_, ok := c.Get("missing")
	require.False(t, ok)

	c.Set("digest", []byte("0123456789abcdef0123456789abcdef"))
	got, ok := c.Get("digest")
	require.True(t, ok)
	require.Equal(t, []byte("0123456789abcdef0123456789abcdef"), got)

	c.Clear()
	_, ok = c.Get("digest")
	require.False(t, ok)
}
