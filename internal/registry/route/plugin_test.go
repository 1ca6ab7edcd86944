package route

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"
)

func withPlugins(t *testing.T, ps ...Plugin) {
	t.Helper()
	saved := plugins
	plugins = nil
	for _, p := range ps {
		Register(p)
	}
	t.Cleanup(func() { plugins = saved })
}

func TestPluginsOrderedWithinType(t *testing.T) {
	noop := func(gin.IRouter, Deps) error { return nil }
	withPlugins(t,
		Plugin{Name: "profiles", Order: 20, Type: RouteTypeMain, Loader: noop},
		Plugin{Name: "system", Type: RouteTypeManagement, Loader: noop},
		Plugin{Name: "chat", Order: 10, Type: RouteTypeMain, Loader: noop},
		Plugin{Name: "beta", Order: 10, Type: RouteTypeMain, Loader: noop},
	)

	var names []string
	for _, p := range Plugins(RouteTypeMain) {
		names = append(names, p.Name)
	}
	require.Equal(t, []string{"beta", "chat", "profiles"}, names)
	require.Len(t, Plugins(RouteTypeManagement), 1)
	require.Empty(t, Plugins(RouteTypeAdmin))
}

func TestMountStopsAtFirstFailure(t *testing.T) {
	boom := errors.New("boom")
	called := false
	withPlugins(t,
		Plugin{Name: "ok", Order: 1, Loader: func(r gin.IRouter, _ Deps) error {
			r.GET("/ok", func(c *gin.Context) { c.Status(http.StatusOK) })
			return nil
		}},
		Plugin{Name: "broken", Order: 2, Loader: func(gin.IRouter, Deps) error { return boom }},
		Plugin{Name: "later", Order: 3, Loader: func(gin.IRouter, Deps) error {
			called = true
			return nil
		}},
	)

	gin.SetMode(gin.TestMode)
	r := gin.New()
	err := Mount(r, RouteTypeMain, Deps{})
	require.ErrorIs(t, err, boom)
	var mountErr *MountError
	require.ErrorAs(t, err, &mountErr)
	require.Equal(t, "broken", mountErr.Plugin)
	require.False(t, called)

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/ok", nil))
	require.Equal(t, http.StatusOK, w.Code)
}
