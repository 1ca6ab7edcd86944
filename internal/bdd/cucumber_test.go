package bdd

import (
	"path/filepath"
	"testing"

	"github.com/chirino/companion-service/internal/testutil/cucumber"
	"github.com/stretchr/testify/require"

	_ "github.com/chirino/companion-service/internal/plugin/cache/local"
	_ "github.com/chirino/companion-service/internal/plugin/encrypt/aesgcm"
	_ "github.com/chirino/companion-service/internal/plugin/store/filestore"
)

// Each scenario starts its own server on a fresh data directory. gin's mode and the
// Prometheus registry are process-wide, so scenarios run one at a time.
func TestFeatures(t *testing.T) {
	features, err := filepath.Glob(filepath.Join("features", "*.feature"))
	require.NoError(t, err)
	require.NotEmpty(t, features, "no feature files in features/")
	cucumber.RunFeatures(t, features)
}
