package rekey

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/chirino/companion-service/internal/config"
	"github.com/chirino/companion-service/internal/dataencryption"
	"github.com/chirino/companion-service/internal/model"
	"github.com/chirino/companion-service/internal/plugin/store/filestore"
	registrystore "github.com/chirino/companion-service/internal/registry/store"
	"github.com/stretchr/testify/require"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := config.DefaultConfig()
	cfg.DataDir = t.TempDir()
	cfg.EncryptionKDFLogN = config.MinKDFLogN
	return &cfg
}

func seed(t *testing.T, cfg *config.Config, name, key string) (*filestore.Store, *dataencryption.Service) {
	t.Helper()
	cipher, err := dataencryption.New(config.WithContext(context.Background(), cfg), cfg)
	require.NoError(t, err)
	store, err := filestore.New(cfg.DataDir, cfg.PublicProfileNames(), cipher)
	require.NoError(t, err)
	_, err = store.SaveProfile(context.Background(), name, model.Payload{"characterName": name}, key)
	require.NoError(t, err)
	return store, cipher
}

func TestRunMovesProfilesToTheNewPassword(t *testing.T) {
	cfg := testConfig(t)
	store, _ := seed(t, cfg, "nova", "old")

	report, err := Run(context.Background(), cfg, "old", "new")
	require.NoError(t, err)
	require.Equal(t, []string{"nova"}, report.Rewritten)
	require.Empty(t, report.AlreadyCurrent)

	got, err := store.GetProfile(context.Background(), "nova", "new")
	require.NoError(t, err)
	require.Equal(t, "nova", got.String("characterName"))

	_, err = store.GetProfile(context.Background(), "nova", "old")
	require.Error(t, err)
}

func TestRunResumesAPartialRun(t *testing.T) {
	cfg := testConfig(t)
	seed(t, cfg, "nova", "old")
	_, cipher := seed(t, cfg, "orion", "old")

	// nova already made it across before the previous run stopped.
	path := filepath.Join(cfg.DataDir, "nova.json")
	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	plain, err := cipher.Decrypt(raw, "old")
	require.NoError(t, err)
	sealed, err := cipher.Encrypt(plain, "new")
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(path, sealed, 0o600))

	report, err := Run(context.Background(), cfg, "old", "new")
	require.NoError(t, err)
	require.Equal(t, []string{"orion"}, report.Rewritten)
	require.Equal(t, []string{"nova"}, report.AlreadyCurrent)
}

func TestRunRefusesUnknownKeys(t *testing.T) {
	cfg := testConfig(t)
	seed(t, cfg, "nova", "somebody-else")

	_, err := Run(context.Background(), cfg, "old", "new")
	var corrupted *registrystore.CorruptedProfileError
	require.ErrorAs(t, err, &corrupted)
	require.Equal(t, "nova", corrupted.Name)
}

func TestRunRejectsAnEmptyNewPassword(t *testing.T) {
	cfg := testConfig(t)

	_, err := Run(context.Background(), cfg, "old", "")
	var validation *registrystore.ValidationError
	require.ErrorAs(t, err, &validation)
}

func TestRunRejectsUnknownDatastore(t *testing.T) {
	cfg := testConfig(t)
	cfg.DatastoreType = "nope"

	_, err := Run(context.Background(), cfg, "old", "new")
	require.Error(t, err)
}
