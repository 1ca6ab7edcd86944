package metrics

import (
	"context"
	"time"

	"github.com/chirino/companion-service/internal/model"
	"github.com/chirino/companion-service/internal/registry/store"
	"github.com/chirino/companion-service/internal/security"
)

// Wrap returns a ProfileStore that records StoreLatency for every operation.
func Wrap(inner store.ProfileStore) store.ProfileStore {
	return &metricsStore{inner: inner}
}

type metricsStore struct {
	inner store.ProfileStore
}

func observe(op string, start time.Time) {
	security.ObserveStore(op, start)
}

func (m *metricsStore) ListProfiles(ctx context.Context) ([]string, error) {
	defer observe("list_profiles", time.Now())
	return m.inner.ListProfiles(ctx)
}

func (m *metricsStore) GetProfile(ctx context.Context, name string, key string) (model.Payload, error) {
	defer observe("get_profile", time.Now())
	return m.inner.GetProfile(ctx, name, key)
}

func (m *metricsStore) SaveProfile(ctx context.Context, name string, update model.Payload, key string) (model.Payload, error) {
	defer observe("save_profile", time.Now())
	return m.inner.SaveProfile(ctx, name, update, key)
}

func (m *metricsStore) DeleteProfile(ctx context.Context, name string) error {
	defer observe("delete_profile", time.Now())
	return m.inner.DeleteProfile(ctx, name)
}

func (m *metricsStore) IsPublicProfile(name string) bool {
	return m.inner.IsPublicProfile(name)
}

func (m *metricsStore) GetUserSettings(ctx context.Context, key string) (model.Payload, error) {
	defer observe("get_user_settings", time.Now())
	return m.inner.GetUserSettings(ctx, key)
}

func (m *metricsStore) SaveUserSettings(ctx context.Context, update model.Payload, key string) (model.Payload, error) {
	defer observe("save_user_settings", time.Now())
	return m.inner.SaveUserSettings(ctx, update, key)
}

func (m *metricsStore) GetActiveProfile(ctx context.Context, key string) (string, error) {
	defer observe("get_active_profile", time.Now())
	return m.inner.GetActiveProfile(ctx, key)
}

func (m *metricsStore) SetActiveProfile(ctx context.Context, name string, key string) error {
	defer observe("set_active_profile", time.Now())
	return m.inner.SetActiveProfile(ctx, name, key)
}

func (m *metricsStore) GetConsent(ctx context.Context, key string) (*model.Consent, error) {
	defer observe("get_consent", time.Now())
	return m.inner.GetConsent(ctx, key)
}

func (m *metricsStore) SaveConsent(ctx context.Context, consent model.Consent, key string) error {
	defer observe("save_consent", time.Now())
	return m.inner.SaveConsent(ctx, consent, key)
}

func (m *metricsStore) GetFavorites(ctx context.Context, name string, key string) ([]model.Favorite, error) {
	defer observe("get_favorites", time.Now())
	return m.inner.GetFavorites(ctx, name, key)
}

func (m *metricsStore) AddFavorite(ctx context.Context, name string, favorite model.Favorite, key string) (*model.Favorite, error) {
	defer observe("add_favorite", time.Now())
	return m.inner.AddFavorite(ctx, name, favorite, key)
}

func (m *metricsStore) RemoveFavorite(ctx context.Context, name string, favoriteID string, key string) error {
	defer observe("remove_favorite", time.Now())
	return m.inner.RemoveFavorite(ctx, name, favoriteID, key)
}

func (m *metricsStore) ReEncryptAllData(ctx context.Context, oldKey, newKey string) (*store.ReEncryptReport, error) {
	defer observe("reencrypt_all", time.Now())
	return m.inner.ReEncryptAllData(ctx, oldKey, newKey)
}

func (m *metricsStore) OwnsCurrentContent(path string) bool {
	return m.inner.OwnsCurrentContent(path)
}

var _ store.ProfileStore = (*metricsStore)(nil)
