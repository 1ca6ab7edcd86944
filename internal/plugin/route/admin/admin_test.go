package admin_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/chirino/companion-service/internal/agent"
	"github.com/chirino/companion-service/internal/config"
	"github.com/chirino/companion-service/internal/dataencryption"
	_ "github.com/chirino/companion-service/internal/plugin/encrypt/aesgcm"
	"github.com/chirino/companion-service/internal/plugin/route/admin"
	"github.com/chirino/companion-service/internal/plugin/store/filestore"
	"github.com/chirino/companion-service/internal/session"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupAdmin(t *testing.T) (*gin.Engine, *session.Manager) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	cfg := config.DefaultConfig()
	cfg.DataDir = t.TempDir()
	cfg.EncryptionKDFLogN = config.MinKDFLogN
	ctx := config.WithContext(context.Background(), &cfg)
	cipher, err := dataencryption.New(ctx, &cfg)
	require.NoError(t, err)
	store, err := filestore.New(cfg.DataDir, cfg.PublicProfileNames(), cipher)
	require.NoError(t, err)
	_, err = store.SeedPublicProfiles(ctx)
	require.NoError(t, err)

	sessions := session.NewManager(agent.CompanionFactory(store), time.Hour)
	for _, id := range []string{"s2", "s1"} {
		_, err := sessions.GetOrCreateSession(ctx, id, "", "pw")
		require.NoError(t, err)
	}

	router := gin.New()
	admin.MountRoutes(router, sessions)
	return router, sessions
}

func do(router *gin.Engine, method, path string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func TestListSessions(t *testing.T) {
	router, _ := setupAdmin(t)

	w := do(router, http.MethodGet, "/admin/sessions")
	require.Equal(t, http.StatusOK, w.Code)
	var body struct {
		Data  []session.Info `json:"data"`
		Total int            `json:"total"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	require.Equal(t, 2, body.Total)
	require.Len(t, body.Data, 2)
	assert.Equal(t, "s1", body.Data[0].ID)
	assert.Equal(t, "default", body.Data[0].ActiveCharacter)

	w = do(router, http.MethodGet, "/admin/sessions?limit=1")
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	require.Len(t, body.Data, 1)
	require.Equal(t, 2, body.Total)
}

func TestGetAndDeleteSession(t *testing.T) {
	router, sessions := setupAdmin(t)

	w := do(router, http.MethodGet, "/admin/sessions/s1")
	require.Equal(t, http.StatusOK, w.Code)
	require.Contains(t, w.Body.String(), `"sessionId":"s1"`)

	sessions.MarkStarterShown("default")
	w = do(router, http.MethodDelete, "/admin/sessions/s1")
	require.Equal(t, http.StatusNoContent, w.Code)
	require.Equal(t, 1, sessions.Len())
	require.False(t, sessions.NeedsStarter("default"), "a plain delete keeps starter tracking")

	w = do(router, http.MethodDelete, "/admin/sessions/s2?logout=true")
	require.Equal(t, http.StatusNoContent, w.Code)
	require.True(t, sessions.NeedsStarter("default"))

	w = do(router, http.MethodDelete, "/admin/sessions/s2")
	require.Equal(t, http.StatusNotFound, w.Code)
	w = do(router, http.MethodGet, "/admin/sessions/s2")
	require.Equal(t, http.StatusNotFound, w.Code)
}

func TestReloadSessions(t *testing.T) {
	router, _ := setupAdmin(t)

	w := do(router, http.MethodPost, "/admin/sessions/s1/reload")
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	w = do(router, http.MethodPost, "/admin/sessions/ghost/reload")
	require.Equal(t, http.StatusNotFound, w.Code)

	w = do(router, http.MethodPost, "/admin/sessions/reload")
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	require.Contains(t, w.Body.String(), `"reloaded":2`)
}

func TestSweep(t *testing.T) {
	router, sessions := setupAdmin(t)

	w := do(router, http.MethodPost, "/admin/sweep")
	require.Equal(t, http.StatusOK, w.Code)
	require.JSONEq(t, `{"removed":[]}`, w.Body.String())

	w = do(router, http.MethodPost, "/admin/sweep?idleFor=bogus")
	require.Equal(t, http.StatusBadRequest, w.Code)

	time.Sleep(5 * time.Millisecond)
	w = do(router, http.MethodPost, "/admin/sweep?idleFor=1ms")
	require.Equal(t, http.StatusOK, w.Code)
	require.JSONEq(t, `{"removed":["s1","s2"]}`, w.Body.String())
	require.Equal(t, 0, sessions.Len())
}

func TestClearStarters(t *testing.T) {
	router, sessions := setupAdmin(t)
	sessions.MarkStarterShown("default")

	w := do(router, http.MethodPost, "/admin/starters/clear")
	require.Equal(t, http.StatusNoContent, w.Code)
	require.True(t, sessions.NeedsStarter("default"))
}
