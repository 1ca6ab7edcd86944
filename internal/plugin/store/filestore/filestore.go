// Package filestore implements the profile store over a directory of JSON documents,
// with read-only fallback to the legacy key=value text format.
package filestore

import (
	"context"
	"crypto/sha256"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"sync"

	"github.com/chirino/companion-service/internal/codec"
	"github.com/chirino/companion-service/internal/config"
	"github.com/chirino/companion-service/internal/dataencryption"
	"github.com/chirino/companion-service/internal/model"
	registrymigrate "github.com/chirino/companion-service/internal/registry/migrate"
	registrystore "github.com/chirino/companion-service/internal/registry/store"
	"github.com/chirino/companion-service/internal/tempfiles"
)

const (
	jsonExt = ".json"
	txtExt  = ".txt"

	userDocName        = "user-profile"
	legacyActiveMarker = "active-character"
	legacyUserSettings = "user-settings"
	avatarSuffix       = "_avatar"
)

var reservedNames = map[string]bool{
	userDocName:        true,
	legacyActiveMarker: true,
	legacyUserSettings: true,
}

var validName = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9 _.-]{0,127}$`)

func init() {
	registrystore.Register(registrystore.Plugin{
		Name: "file",
		Loader: func(ctx context.Context) (registrystore.ProfileStore, error) {
			cfg := config.FromContext(ctx)
			cipher := dataencryption.FromContext(ctx)
			if cipher == nil {
				return nil, fmt.Errorf("file store: no encryption service in context")
			}
			return New(cfg.DataDir, cfg.PublicProfileNames(), cipher)
		},
	})
	registrymigrate.Register(registrymigrate.Plugin{Order: 100, Migrator: &legacyMigrator{}})
	registrymigrate.Register(registrymigrate.Plugin{Order: 200, Migrator: &seedMigrator{}})
}

// Store keeps one file per document in dir. Writes are serialized within the process
// and land via temp-file + rename; concurrent writers in other processes are
// last-writer-wins.
type Store struct {
	dir         string
	public      map[string]bool
	publicNames []string
	cipher      *dataencryption.Service

	mu sync.Mutex

	writtenMu sync.Mutex
	written   map[string][32]byte
}

// New creates a store rooted at dir, creating the directory if needed.
func New(dir string, publicNames []string, cipher *dataencryption.Service) (*Store, error) {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("file store: resolve %q: %w", dir, err)
	}
	if err := os.MkdirAll(abs, 0o700); err != nil {
		return nil, fmt.Errorf("file store: create %q: %w", abs, err)
	}
	s := &Store{
		dir:     abs,
		public:  make(map[string]bool, len(publicNames)),
		cipher:  cipher,
		written: make(map[string][32]byte),
	}
	for _, name := range publicNames {
		if !s.public[name] {
			s.public[name] = true
			s.publicNames = append(s.publicNames, name)
		}
	}
	return s, nil
}

// Dir returns the absolute storage directory.
func (s *Store) Dir() string { return s.dir }

// IsPublicProfile reports whether name is exempt from encryption.
func (s *Store) IsPublicProfile(name string) bool { return s.public[name] }

func (s *Store) defaultProfileName() string {
	if len(s.publicNames) > 0 {
		return s.publicNames[0]
	}
	return "default"
}

func (s *Store) path(name, ext string) string {
	return filepath.Join(s.dir, name+ext)
}

func validateName(name string) error {
	switch {
	case name == "":
		return &registrystore.ValidationError{Field: "name", Message: "must not be empty"}
	case !validName.MatchString(name) || strings.Contains(name, ".."):
		return &registrystore.ValidationError{Field: "name", Message: fmt.Sprintf("invalid profile name %q", name)}
	case reservedNames[name] || strings.HasSuffix(name, avatarSuffix):
		return &registrystore.ValidationError{Field: "name", Message: fmt.Sprintf("%q is reserved", name)}
	}
	return nil
}

// ListProfiles returns the sorted, de-duplicated names of all character documents in
// either format.
func (s *Store) ListProfiles(ctx context.Context) ([]string, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, fmt.Errorf("list profiles: %w", err)
	}
	seen := make(map[string]bool)
	names := []string{}
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		fileName := e.Name()
		if strings.HasPrefix(fileName, ".") || tempfiles.IsTemp(fileName) {
			continue
		}
		ext := filepath.Ext(fileName)
		if ext != jsonExt && ext != txtExt {
			continue
		}
		name := strings.TrimSuffix(fileName, ext)
		if reservedNames[name] || strings.HasSuffix(name, avatarSuffix) || seen[name] {
			continue
		}
		seen[name] = true
		names = append(names, name)
	}
	sort.Strings(names)
	return names, nil
}

// readFile returns the file content, or nil when it does not exist.
func readFile(path string) ([]byte, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", filepath.Base(path), err)
	}
	return data, nil
}

// openDocument returns the plaintext of a canonical file. decErr is set when the file
// is encrypted and cannot be opened with key.
func (s *Store) openDocument(raw []byte, key string) (plain []byte, decErr error) {
	if !dataencryption.IsEncrypted(raw) {
		return raw, nil
	}
	if key == "" {
		return nil, &registrystore.DecryptionError{Reason: "document is encrypted and no key was supplied"}
	}
	plain, err := s.cipher.Decrypt(raw, key)
	if err != nil {
		return nil, err
	}
	return plain, nil
}

// sealDocument encodes doc and encrypts it when encrypt is true.
func (s *Store) sealDocument(doc *model.Document, key string, encrypt bool) ([]byte, error) {
	data, err := codec.Encode(doc)
	if err != nil {
		return nil, err
	}
	if encrypt && key != "" {
		return s.cipher.Encrypt(data, key)
	}
	return data, nil
}

// writeDocument atomically replaces name.json.
func (s *Store) writeDocument(name string, data []byte) error {
	if err := tempfiles.WriteAtomic(s.dir, name+jsonExt, data); err != nil {
		return fmt.Errorf("write %s: %w", name, err)
	}
	s.remember(s.path(name, jsonExt), data)
	return nil
}

func (s *Store) remember(path string, data []byte) {
	s.writtenMu.Lock()
	s.written[path] = sha256.Sum256(data)
	s.writtenMu.Unlock()
}

func (s *Store) forget(path string) {
	s.writtenMu.Lock()
	delete(s.written, path)
	s.writtenMu.Unlock()
}

// OwnsCurrentContent reports whether path holds exactly the bytes this store last
// wrote to it.
func (s *Store) OwnsCurrentContent(path string) bool {
	abs, err := filepath.Abs(path)
	if err != nil {
		return false
	}
	s.writtenMu.Lock()
	sum, ok := s.written[abs]
	s.writtenMu.Unlock()
	if !ok {
		return false
	}
	data, err := os.ReadFile(abs)
	if err != nil {
		return false
	}
	return sha256.Sum256(data) == sum
}

var _ registrystore.ProfileStore = (*Store)(nil)
