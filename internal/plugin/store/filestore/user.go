package filestore

import (
	"context"
	"strings"
	"time"

	"github.com/charmbracelet/log"
	"github.com/chirino/companion-service/internal/codec"
	"github.com/chirino/companion-service/internal/model"
	registrystore "github.com/chirino/companion-service/internal/registry/store"
)

// loadUser resolves the singleton user document: canonical JSON first, then the
// legacy user-settings and active-character text files.
func (s *Store) loadUser(key string) (loaded, error) {
	var res loaded
	raw, err := readFile(s.path(userDocName, jsonExt))
	if err != nil {
		return res, err
	}
	if raw != nil {
		plain, derr := s.openDocument(raw, key)
		if derr != nil {
			res.decErr = derr
			return res, nil
		}
		doc, cerr := codec.Decode(plain, model.DocumentUser)
		if cerr == nil {
			res.payload = doc.Payload
			return res, nil
		}
		log.Warn("Ignoring non-canonical user document", "err", cerr)
	}

	text, err := readFile(s.path(legacyUserSettings, txtExt))
	if err != nil {
		return res, err
	}
	if text != nil {
		res.payload = codec.LegacyUser(string(text))
	}
	return res, nil
}

// legacyActiveProfile reads the legacy active-character marker.
func (s *Store) legacyActiveProfile() (string, error) {
	text, err := readFile(s.path(legacyActiveMarker, txtExt))
	if err != nil || text == nil {
		return "", err
	}
	content := strings.TrimSpace(string(text))
	if strings.Contains(content, "=") {
		fields := codec.ParseLegacy(content)
		for _, k := range []string{"activeCharacter", "character", "name"} {
			if v := strings.TrimSpace(fields[k]); v != "" {
				return v, nil
			}
		}
		return "", nil
	}
	first, _, _ := strings.Cut(content, "\n")
	return strings.TrimSpace(first), nil
}

// GetUserSettings returns the user document payload. An encrypted document read
// without a key is the expected pre-login state and yields the built-in defaults; read
// with the wrong key it is a *DecryptionError.
func (s *Store) GetUserSettings(ctx context.Context, key string) (model.Payload, error) {
	res, err := s.loadUser(key)
	if err != nil {
		return nil, err
	}
	if res.decErr != nil {
		if key != "" {
			return nil, res.decErr
		}
		return model.DefaultUserPayload(), nil
	}
	if res.payload == nil {
		return model.DefaultUserPayload(), nil
	}
	return res.payload, nil
}

// SaveUserSettings merges update into the user document and writes it back,
// encrypted when key is set.
func (s *Store) SaveUserSettings(ctx context.Context, update model.Payload, key string) (model.Payload, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.saveUserLocked(update, key)
}

func (s *Store) saveUserLocked(update model.Payload, key string) (model.Payload, error) {
	res, err := s.loadUser(key)
	if err != nil {
		return nil, err
	}
	if res.decErr != nil {
		return nil, &registrystore.IntegrityRefusalError{Name: userDocName, Err: res.decErr}
	}
	base := res.payload
	if base == nil {
		base = model.DefaultUserPayload()
	}
	merged := codec.MergeUser(base, update)
	data, err := s.sealDocument(model.NewDocument(model.DocumentUser, merged), key, true)
	if err != nil {
		return nil, err
	}
	if err := s.writeDocument(userDocName, data); err != nil {
		return nil, err
	}
	return merged, nil
}

// GetActiveProfile returns the selected character: settings.defaultCharacter, then
// the legacy marker file, then the first public profile.
func (s *Store) GetActiveProfile(ctx context.Context, key string) (string, error) {
	payload, err := s.GetUserSettings(ctx, key)
	if err != nil {
		return "", err
	}
	if settings := payload.Map("settings"); settings != nil {
		if name, _ := settings[model.DefaultCharacterSetting].(string); name != "" {
			return name, nil
		}
	}
	name, err := s.legacyActiveProfile()
	if err != nil {
		return "", err
	}
	if name != "" {
		return name, nil
	}
	return s.defaultProfileName(), nil
}

// SetActiveProfile records name as the selected character.
func (s *Store) SetActiveProfile(ctx context.Context, name string, key string) error {
	if err := validateName(name); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.saveUserLocked(model.Payload{
		"settings": map[string]any{model.DefaultCharacterSetting: name},
	}, key)
	return err
}

// GetConsent returns the stored consent, or nil when none was recorded.
func (s *Store) GetConsent(ctx context.Context, key string) (*model.Consent, error) {
	payload, err := s.GetUserSettings(ctx, key)
	if err != nil {
		return nil, err
	}
	consent, ok := payload.Consent()
	if !ok {
		return nil, nil
	}
	return consent, nil
}

// SaveConsent stores consent in the user document. Without a key the document is
// written in the clear; after login it is encrypted.
func (s *Store) SaveConsent(ctx context.Context, consent model.Consent, key string) error {
	if consent.Accepted && consent.AcceptedAt == nil {
		now := time.Now().UTC()
		consent.AcceptedAt = &now
	}
	update := model.Payload{}
	update.SetConsent(consent)

	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.saveUserLocked(update, key)
	return err
}
