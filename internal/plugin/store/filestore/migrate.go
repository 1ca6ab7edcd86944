package filestore

import (
	"context"
	"fmt"

	"github.com/charmbracelet/log"
	"github.com/chirino/companion-service/internal/codec"
	"github.com/chirino/companion-service/internal/config"
	"github.com/chirino/companion-service/internal/dataencryption"
	"github.com/chirino/companion-service/internal/model"
	registrystore "github.com/chirino/companion-service/internal/registry/store"
)

type legacyMigrator struct{}

type seedMigrator struct{}

func (m *legacyMigrator) Name() string { return "file-legacy-profiles" }

// Migrate writes canonical documents for legacy text profiles. The key, when the
// caller put one on the context, encrypts private documents.
func (m *legacyMigrator) Migrate(ctx context.Context) error {
	s, err := migrationStore(ctx, m.Name())
	if s == nil || err != nil {
		return err
	}
	migrated, err := s.MigrateLegacy(ctx, registrystore.KeyFromContext(ctx))
	if err != nil {
		return err
	}
	log.Info("Migrated legacy documents", "count", len(migrated), "names", migrated)
	return nil
}

func (m *seedMigrator) Name() string { return "file-seed-public-profiles" }

// Migrate writes a default character for every public name that has no document yet,
// so a fresh data directory can serve its first session.
func (m *seedMigrator) Migrate(ctx context.Context) error {
	s, err := migrationStore(ctx, m.Name())
	if s == nil || err != nil {
		return err
	}
	seeded, err := s.SeedPublicProfiles(ctx)
	if err != nil {
		return err
	}
	if len(seeded) > 0 {
		log.Info("Seeded public profiles", "names", seeded)
	}
	return nil
}

// migrationStore opens the configured data directory, or returns nil when another
// datastore is configured.
func migrationStore(ctx context.Context, name string) (*Store, error) {
	cfg := config.FromContext(ctx)
	if cfg == nil {
		return nil, fmt.Errorf("migration %s: no config in context", name)
	}
	if cfg.DatastoreType != "" && cfg.DatastoreType != "file" {
		return nil, nil // skip if not using the file store
	}
	log.Info("Running migration", "name", name, "dir", cfg.DataDir)
	cipher := dataencryption.FromContext(ctx)
	if cipher == nil {
		var err error
		if cipher, err = dataencryption.New(ctx, cfg); err != nil {
			return nil, err
		}
	}
	return New(cfg.DataDir, cfg.PublicProfileNames(), cipher)
}

// SeedPublicProfiles writes default characters for public names with neither a
// canonical nor a legacy document.
func (s *Store) SeedPublicProfiles(ctx context.Context) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	seeded := []string{}
	for _, name := range s.publicNames {
		if err := ctx.Err(); err != nil {
			return seeded, err
		}
		exists, err := s.hasDocument(name)
		if err != nil {
			return seeded, err
		}
		if exists {
			continue
		}
		if err := s.writeCharacter(name, model.DefaultCharacterPayload(name), ""); err != nil {
			return seeded, err
		}
		seeded = append(seeded, name)
	}
	return seeded, nil
}

func (s *Store) hasDocument(name string) (bool, error) {
	for _, ext := range []string{jsonExt, txtExt} {
		raw, err := readFile(s.path(name, ext))
		if err != nil {
			return false, err
		}
		if raw != nil {
			return true, nil
		}
	}
	return false, nil
}

// MigrateLegacy converts legacy text documents that have no canonical counterpart.
// The legacy files stay in place; canonical documents take precedence on read.
func (s *Store) MigrateLegacy(ctx context.Context, key string) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	names, err := s.ListProfiles(ctx)
	if err != nil {
		return nil, err
	}
	migrated := []string{}
	for _, name := range names {
		if err := ctx.Err(); err != nil {
			return migrated, err
		}
		if raw, err := readFile(s.path(name, jsonExt)); err != nil {
			return migrated, err
		} else if raw != nil {
			continue
		}
		text, err := readFile(s.path(name, txtExt))
		if err != nil {
			return migrated, err
		}
		if text == nil {
			continue
		}
		if err := s.writeCharacter(name, codec.LegacyCharacter(name, string(text)), key); err != nil {
			return migrated, err
		}
		migrated = append(migrated, name)
	}

	raw, err := readFile(s.path(userDocName, jsonExt))
	if err != nil {
		return migrated, err
	}
	if raw == nil {
		res, err := s.loadUser(key)
		if err != nil {
			return migrated, err
		}
		active, err := s.legacyActiveProfile()
		if err != nil {
			return migrated, err
		}
		if res.payload != nil || active != "" {
			payload := res.payload
			if payload == nil {
				payload = model.DefaultUserPayload()
			}
			if settings := payload.Map("settings"); settings != nil && active != "" {
				if cur, _ := settings[model.DefaultCharacterSetting].(string); cur == "" {
					settings[model.DefaultCharacterSetting] = active
				}
			}
			data, err := s.sealDocument(model.NewDocument(model.DocumentUser, payload), key, true)
			if err != nil {
				return migrated, err
			}
			if err := s.writeDocument(userDocName, data); err != nil {
				return migrated, err
			}
			migrated = append(migrated, userDocName)
		}
	}
	return migrated, nil
}
