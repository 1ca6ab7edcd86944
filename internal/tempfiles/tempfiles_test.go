package tempfiles

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestWriteAtomic(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "profiles")

	require.NoError(t, WriteAtomic(dir, "nova.json", []byte("one")))
	require.NoError(t, WriteAtomic(dir, "nova.json", []byte("two")))

	data, err := os.ReadFile(filepath.Join(dir, "nova.json"))
	require.NoError(t, err)
	require.Equal(t, "two", string(data))

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, entries, 1, "no temp files may be left behind")
}

func TestStageIsInvisibleUntilCommit(t *testing.T) {
	dir := t.TempDir()
	dst := filepath.Join(dir, "astra.json")

	tmp, err := Stage(dir, "astra.json", []byte("staged"))
	require.NoError(t, err)
	require.True(t, IsTemp(filepath.Base(tmp)))
	_, err = os.Stat(dst)
	require.True(t, os.IsNotExist(err))

	require.NoError(t, Commit(tmp, dst))
	data, err := os.ReadFile(dst)
	require.NoError(t, err)
	require.Equal(t, "staged", string(data))
	_, err = os.Stat(tmp)
	require.True(t, os.IsNotExist(err))
}

func TestDiscard(t *testing.T) {
	dir := t.TempDir()
	tmp, err := Stage(dir, "x.json", []byte("x"))
	require.NoError(t, err)

	Discard(tmp)
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Empty(t, entries)
}

func TestIsTemp(t *testing.T) {
	require.True(t, IsTemp(".nova.json.tmp-123"))
	require.False(t, IsTemp("nova.json"))
	require.False(t, IsTemp("nova.tmp-notes.json"))
}
