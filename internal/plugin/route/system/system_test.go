package system

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	registryroute "github.com/chirino/companion-service/internal/registry/route"
	registrystore "github.com/chirino/companion-service/internal/registry/store"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"
)

// brokenStore fails every listing; the embedded interface panics on anything else.
type brokenStore struct {
	registrystore.ProfileStore
}

func (brokenStore) ListProfiles(context.Context) ([]string, error) {
	return nil, errors.New("disk gone")
}

type okStore struct {
	registrystore.ProfileStore
}

func (okStore) ListProfiles(context.Context) ([]string, error) {
	return []string{"default"}, nil
}

func get(t *testing.T, store registrystore.ProfileStore, path string) *httptest.ResponseRecorder {
	t.Helper()
	gin.SetMode(gin.TestMode)
	r := gin.New()
	require.NoError(t, MountRoutes(r, registryroute.Deps{Store: store}))
	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, path, nil))
	return w
}

func TestReadiness(t *testing.T) {
	MarkNotReady()
	t.Cleanup(MarkReady)

	w := get(t, okStore{}, "/ready")
	require.Equal(t, http.StatusServiceUnavailable, w.Code)

	MarkReady()
	w = get(t, okStore{}, "/ready")
	require.Equal(t, http.StatusOK, w.Code)

	w = get(t, brokenStore{}, "/ready")
	require.Equal(t, http.StatusServiceUnavailable, w.Code)
	require.Contains(t, w.Body.String(), "disk gone")
}

func TestHealthAndMetrics(t *testing.T) {
	w := get(t, nil, "/health")
	require.Equal(t, http.StatusOK, w.Code)
	require.JSONEq(t, `{"status":"ok"}`, w.Body.String())

	w = get(t, nil, "/metrics")
	require.Equal(t, http.StatusOK, w.Code)
}
