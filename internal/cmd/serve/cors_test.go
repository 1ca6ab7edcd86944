package serve

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"
)

func corsRouter(origins string) *gin.Engine {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.Use(newCORSPolicy(origins).middleware())
	router.GET("/v1/characters", func(c *gin.Context) {
		c.Status(http.StatusOK)
	})
	return router
}

func preflight(router *gin.Engine, method, origin string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, "/v1/characters", nil)
	req.Header.Set("Origin", origin)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func TestCORSPolicy(t *testing.T) {
	require.True(t, newCORSPolicy("").allows("https://anything.example"))
	require.True(t, newCORSPolicy(" * ").allows("https://anything.example"))

	p := newCORSPolicy("https://app.example/, https://other.example")
	require.True(t, p.allows("https://app.example"))
	require.True(t, p.allows("https://other.example"))
	require.False(t, p.allows("https://evil.example"))
	require.False(t, p.allows(""))
}

func TestCORSAllowsConfiguredOrigin(t *testing.T) {
	rec := preflight(corsRouter("https://app.example"), http.MethodGet, "https://app.example")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "https://app.example", rec.Header().Get("Access-Control-Allow-Origin"))
}

func TestCORSExposesSessionHeader(t *testing.T) {
	router := corsRouter("https://app.example")

	rec := preflight(router, http.MethodOptions, "https://app.example")
	require.Equal(t, http.StatusNoContent, rec.Code)
	require.Contains(t, rec.Header().Get("Access-Control-Allow-Headers"), "X-Session-ID")
	require.Equal(t, "X-Session-ID", rec.Header().Get("Access-Control-Expose-Headers"))

	rec = preflight(router, http.MethodOptions, "https://evil.example")
	require.Equal(t, http.StatusNoContent, rec.Code)
	require.Empty(t, rec.Header().Get("Access-Control-Allow-Origin"))
}
