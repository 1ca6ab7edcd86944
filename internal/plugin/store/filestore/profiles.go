package filestore

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/charmbracelet/log"
	"github.com/chirino/companion-service/internal/codec"
	"github.com/chirino/companion-service/internal/model"
	registrystore "github.com/chirino/companion-service/internal/registry/store"
	"github.com/google/uuid"
)

// loaded is a resolved document. payload is nil when no document exists. decErr is
// set when a canonical file exists but is encrypted and could not be opened.
type loaded struct {
	payload model.Payload
	decErr  error
}

// loadCharacter resolves a character document: canonical JSON first, then the legacy
// text file.
func (s *Store) loadCharacter(name, key string) (loaded, error) {
	var res loaded
	raw, err := readFile(s.path(name, jsonExt))
	if err != nil {
		return res, err
	}
	if raw != nil {
		plain, derr := s.openDocument(raw, key)
		if derr != nil {
			res.decErr = derr
		} else {
			doc, cerr := codec.Decode(plain, model.DocumentCharacter)
			if cerr == nil {
				res.payload = doc.Payload
				return res, nil
			}
			log.Warn("Ignoring non-canonical profile document", "name", name, "err", cerr)
		}
	}

	text, err := readFile(s.path(name, txtExt))
	if err != nil {
		return res, err
	}
	if text != nil {
		res.payload = codec.LegacyCharacter(name, string(text))
	}
	return res, nil
}

// GetProfile returns the character payload for name.
func (s *Store) GetProfile(ctx context.Context, name string, key string) (model.Payload, error) {
	if err := validateName(name); err != nil {
		return nil, err
	}
	if s.public[name] {
		key = ""
	}
	res, err := s.loadCharacter(name, key)
	if err != nil {
		return nil, err
	}
	if res.payload == nil {
		return nil, &registrystore.NotFoundError{Resource: "profile", ID: name, Cause: res.decErr}
	}
	if res.decErr != nil {
		log.Warn("Encrypted profile unreadable, serving legacy copy", "name", name, "err", res.decErr)
	}
	return res.payload, nil
}

// loadForWrite returns the current payload of name for a read-merge-write, or nil
// when the profile does not exist yet. An encrypted file that key cannot open is an
// IntegrityRefusalError: overwriting it would lose its contents.
func (s *Store) loadForWrite(name, key string) (model.Payload, error) {
	res, err := s.loadCharacter(name, key)
	if err != nil {
		return nil, err
	}
	if res.decErr != nil {
		return nil, &registrystore.IntegrityRefusalError{Name: name, Err: res.decErr}
	}
	return res.payload, nil
}

func (s *Store) writeCharacter(name string, payload model.Payload, key string) error {
	data, err := s.sealDocument(model.NewDocument(model.DocumentCharacter, payload), key, !s.public[name])
	if err != nil {
		return err
	}
	return s.writeDocument(name, data)
}

// SaveProfile merges update into the stored character and writes it back, encrypted
// when name is private and key is set. Existing favorites are kept.
func (s *Store) SaveProfile(ctx context.Context, name string, update model.Payload, key string) (model.Payload, error) {
	if err := validateName(name); err != nil {
		return nil, err
	}
	if s.public[name] {
		key = ""
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, err := s.loadForWrite(name, key)
	if err != nil {
		return nil, err
	}
	if existing == nil {
		existing = model.DefaultCharacterPayload(name)
	}
	merged := codec.MergeCharacter(existing, update)
	if err := s.writeCharacter(name, merged, key); err != nil {
		return nil, err
	}
	log.Debug("Saved profile", "name", name, "encrypted", !s.public[name] && key != "")
	return merged, nil
}

// DeleteProfile removes every on-disk representation of name. Missing files are not
// an error.
func (s *Store) DeleteProfile(ctx context.Context, name string) error {
	if err := validateName(name); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	var errs []error
	for _, path := range []string{
		s.path(name, jsonExt),
		s.path(name, txtExt),
		s.path(name+avatarSuffix, txtExt),
	} {
		s.forget(path)
		if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
			errs = append(errs, err)
		}
	}
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("delete profile %s: %w", name, err)
	}
	log.Info("Deleted profile", "name", name)
	return nil
}

// GetFavorites returns the favorites of name in stored order.
func (s *Store) GetFavorites(ctx context.Context, name string, key string) ([]model.Favorite, error) {
	payload, err := s.GetProfile(ctx, name, key)
	if err != nil {
		return nil, err
	}
	return payload.Favorites()
}

// AddFavorite appends favorite to name. A missing id is assigned and a zero timestamp
// becomes the current time.
func (s *Store) AddFavorite(ctx context.Context, name string, favorite model.Favorite, key string) (*model.Favorite, error) {
	if err := validateName(name); err != nil {
		return nil, err
	}
	if favorite.Text == "" {
		return nil, &registrystore.ValidationError{Field: "text", Message: "must not be empty"}
	}
	if s.public[name] {
		key = ""
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	payload, err := s.loadForWrite(name, key)
	if err != nil {
		return nil, err
	}
	if payload == nil {
		return nil, &registrystore.NotFoundError{Resource: "profile", ID: name}
	}
	if favorite.ID == "" {
		favorite.ID = uuid.NewString()
	}
	if favorite.Timestamp.IsZero() {
		favorite.Timestamp = time.Now().UTC()
	}
	entries := payload.FavoriteEntries()
	for _, e := range entries {
		if model.FavoriteID(e) == favorite.ID {
			return nil, &registrystore.ValidationError{Field: "id", Message: fmt.Sprintf("favorite %s already exists", favorite.ID)}
		}
	}
	payload["favorites"] = append(append(make([]any, 0, len(entries)+1), entries...), favorite.Map())
	if err := s.writeCharacter(name, payload, key); err != nil {
		return nil, err
	}
	return &favorite, nil
}

// RemoveFavorite deletes the favorite with favoriteID from name.
func (s *Store) RemoveFavorite(ctx context.Context, name string, favoriteID string, key string) error {
	if err := validateName(name); err != nil {
		return err
	}
	if s.public[name] {
		key = ""
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	payload, err := s.loadForWrite(name, key)
	if err != nil {
		return err
	}
	if payload == nil {
		return &registrystore.NotFoundError{Resource: "profile", ID: name}
	}
	entries := payload.FavoriteEntries()
	kept := make([]any, 0, len(entries))
	for _, e := range entries {
		if model.FavoriteID(e) != favoriteID {
			kept = append(kept, e)
		}
	}
	if len(kept) == len(entries) {
		return &registrystore.NotFoundError{Resource: "favorite", ID: favoriteID}
	}
	payload["favorites"] = kept
	return s.writeCharacter(name, payload, key)
}
