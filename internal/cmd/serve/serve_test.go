package serve

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/chirino/companion-service/internal/config"
	"github.com/chirino/companion-service/internal/security"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"
)

func TestMaxBodySizeMiddleware_EnforcesLimit(t *testing.T) {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.Use(maxBodySizeMiddleware(4))
	router.POST("/v1/profiles", readBodyLengthHandler)

	req := httptest.NewRequest(http.MethodPost, "/v1/profiles", strings.NewReader("0123456789"))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)
}

func TestMaxBodySizeMiddleware_ZeroDisablesLimit(t *testing.T) {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.Use(maxBodySizeMiddleware(0))
	router.POST("/v1/profiles", readBodyLengthHandler)

	req := httptest.NewRequest(http.MethodPost, "/v1/profiles", strings.NewReader("0123456789"))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "10", rec.Body.String())
}

func readBodyLengthHandler(c *gin.Context) {
	n, err := io.Copy(io.Discard, c.Request.Body)
	if err != nil {
		c.Status(http.StatusRequestEntityTooLarge)
		return
	}
	c.String(http.StatusOK, "%d", n)
}

func TestStartServer(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Mode = config.ModeTesting
	cfg.DataDir = t.TempDir()
	cfg.EncryptionKDFLogN = config.MinKDFLogN
	cfg.Listener.Port = 0
	cfg.SessionSweepInterval = 0

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	srv, err := StartServer(config.WithContext(ctx, &cfg), &cfg)
	require.NoError(t, err)
	defer func() {
		shutdownCtx, done := context.WithTimeout(context.Background(), 5*time.Second)
		defer done()
		require.NoError(t, srv.Shutdown(shutdownCtx))
	}()

	base := fmt.Sprintf("http://127.0.0.1:%d", srv.Running.Port)
	client := &http.Client{Timeout: 5 * time.Second}

	resp, err := client.Get(base + "/ready")
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp, err = client.Post(base+"/v1/login", "application/json", strings.NewReader(`{"password":"pw"}`))
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.NotEmpty(t, resp.Header.Get(security.SessionHeader))

	var info map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&info))
	require.Equal(t, "default", info["activeCharacter"], "the seeded public character is loaded")
	require.Equal(t, 1, srv.Sessions.Len())
}

func TestStartServer_ManagementListenerCarriesAdmin(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Mode = config.ModeTesting
	cfg.DataDir = t.TempDir()
	cfg.EncryptionKDFLogN = config.MinKDFLogN
	cfg.Listener.Port = 0
	cfg.SessionSweepInterval = 0
	cfg.ManagementListenerEnabled = true
	cfg.ManagementListener.Port = 0
	cfg.AdminEndpoints = true

	srv, err := StartServer(config.WithContext(context.Background(), &cfg), &cfg)
	require.NoError(t, err)
	defer func() { require.NoError(t, srv.Shutdown(context.Background())) }()
	require.NotNil(t, srv.Management)

	client := &http.Client{Timeout: 5 * time.Second}
	status := func(port int, path string) int {
		resp, err := client.Get(fmt.Sprintf("http://127.0.0.1:%d%s", port, path))
		require.NoError(t, err)
		resp.Body.Close()
		return resp.StatusCode
	}

	require.Equal(t, http.StatusOK, status(srv.Management.Port, "/health"))
	require.Equal(t, http.StatusOK, status(srv.Management.Port, "/admin/sessions"))
	require.Equal(t, http.StatusNotFound, status(srv.Running.Port, "/admin/sessions"))
	require.Equal(t, http.StatusNotFound, status(srv.Running.Port, "/health"))
}

func TestSelfSignedCertificate(t *testing.T) {
	now := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	cert, err := selfSignedCertificate(now)
	require.NoError(t, err)
	require.NotNil(t, cert.Leaf)
	require.Equal(t, []string{"localhost"}, cert.Leaf.DNSNames)
	require.True(t, cert.Leaf.NotBefore.Before(now))
	require.True(t, cert.Leaf.NotAfter.After(now.Add(364*24*time.Hour)))
}
