package tempfiles

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// TempMarker appears in the name of every file staged by Stage; directory scans skip
// names containing it.
const TempMarker = ".tmp-"

// Create makes a temp file in the provided directory, creating the directory if needed.
func Create(dir string, pattern string) (*os.File, error) {
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("create temp dir %q: %w", dir, err)
	}
	f, err := os.CreateTemp(dir, pattern)
	if err != nil {
		return nil, fmt.Errorf("create temp file: %w", err)
	}
	return f, nil
}

// IsTemp reports whether name is a file staged by Stage.
func IsTemp(name string) bool {
	return strings.HasPrefix(name, ".") && strings.Contains(name, TempMarker)
}

// Stage writes data to a synced temp file next to dir/name and returns its path. The
// file becomes visible under name only when Commit renames it.
func Stage(dir, name string, data []byte) (string, error) {
	f, err := Create(dir, "."+name+TempMarker+"*")
	if err != nil {
		return "", err
	}
	tmp := f.Name()
	if _, err := f.Write(data); err != nil {
		_ = f.Close()
		_ = os.Remove(tmp)
		return "", fmt.Errorf("write temp file: %w", err)
	}
	if err := f.Sync(); err != nil {
		_ = f.Close()
		_ = os.Remove(tmp)
		return "", fmt.Errorf("sync temp file: %w", err)
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(tmp)
		return "", fmt.Errorf("close temp file: %w", err)
	}
	return tmp, nil
}

// Commit atomically replaces dst with the staged file tmp.
func Commit(tmp, dst string) error {
	if err := os.Rename(tmp, dst); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("rename %s: %w", filepath.Base(dst), err)
	}
	return nil
}

// Discard removes staged files that will not be committed.
func Discard(tmps ...string) {
	for _, tmp := range tmps {
		_ = os.Remove(tmp)
	}
}

// WriteAtomic replaces dir/name with data so readers observe either the old or the
// new content, never a partial write.
func WriteAtomic(dir, name string, data []byte) error {
	tmp, err := Stage(dir, name, data)
	if err != nil {
		return err
	}
	return Commit(tmp, filepath.Join(dir, name))
}
