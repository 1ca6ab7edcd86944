package store

import (
	"context"
	"fmt"

	"github.com/chirino/companion-service/internal/model"
)

// ReEncryptReport lists what a ReEncryptAllData run did, by document name.
type ReEncryptReport struct {
	Rewritten      []string `json:"rewritten"`
	AlreadyCurrent []string `json:"alreadyCurrent"`
	PlainUpgraded  []string `json:"plainUpgraded"`
}

// Total returns the number of documents written.
func (r *ReEncryptReport) Total() int {
	return len(r.Rewritten) + len(r.PlainUpgraded)
}

// ProfileStore is the data access interface for character and user documents. An
// empty key means "no key": private documents are then read and written in the clear
// where the operation allows it.
type ProfileStore interface {
	// Characters
	ListProfiles(ctx context.Context) ([]string, error)
	GetProfile(ctx context.Context, name string, key string) (model.Payload, error)
	SaveProfile(ctx context.Context, name string, update model.Payload, key string) (model.Payload, error)
	DeleteProfile(ctx context.Context, name string) error
	IsPublicProfile(name string) bool

	// User document
	GetUserSettings(ctx context.Context, key string) (model.Payload, error)
	SaveUserSettings(ctx context.Context, update model.Payload, key string) (model.Payload, error)
	GetActiveProfile(ctx context.Context, key string) (string, error)
	SetActiveProfile(ctx context.Context, name string, key string) error
	GetConsent(ctx context.Context, key string) (*model.Consent, error)
	SaveConsent(ctx context.Context, consent model.Consent, key string) error

	// Favorites
	GetFavorites(ctx context.Context, name string, key string) ([]model.Favorite, error)
	AddFavorite(ctx context.Context, name string, favorite model.Favorite, key string) (*model.Favorite, error)
	RemoveFavorite(ctx context.Context, name string, favoriteID string, key string) error

	// Password rotation
	ReEncryptAllData(ctx context.Context, oldKey, newKey string) (*ReEncryptReport, error)

	// OwnsCurrentContent reports whether the file at path holds exactly what this
	// store last wrote there.
	OwnsCurrentContent(path string) bool
}

type keyContextKey struct{}

// WithKey returns a context carrying the encryption key for background callers that
// have no request-scoped session.
func WithKey(ctx context.Context, key string) context.Context {
	return context.WithValue(ctx, keyContextKey{}, key)
}

// KeyFromContext returns the key set by WithKey, or "".
func KeyFromContext(ctx context.Context) string {
	key, _ := ctx.Value(keyContextKey{}).(string)
	return key
}

type storeContextKey struct{}

// WithContext returns a new context carrying the given ProfileStore.
func WithContext(ctx context.Context, s ProfileStore) context.Context {
	return context.WithValue(ctx, storeContextKey{}, s)
}

// FromContext retrieves the ProfileStore from the context. Returns nil if none was set.
func FromContext(ctx context.Context) ProfileStore {
	s, _ := ctx.Value(storeContextKey{}).(ProfileStore)
	return s
}

// Loader creates a ProfileStore from config.
type Loader func(ctx context.Context) (ProfileStore, error)

// Plugin represents a store plugin.
type Plugin struct {
	Name   string
	Loader Loader
}

var plugins []Plugin

// Register adds a store plugin.
func Register(p Plugin) {
	plugins = append(plugins, p)
}

// Names returns all registered store plugin names.
func Names() []string {
	names := make([]string, len(plugins))
	for i, p := range plugins {
		names[i] = p.Name
	}
	return names
}

// Select returns the loader for the named store plugin.
func Select(name string) (Loader, error) {
	for _, p := range plugins {
		if p.Name == name {
			return p.Loader, nil
		}
	}
	return nil, fmt.Errorf("unknown store %q; valid: %v", name, Names())
}
