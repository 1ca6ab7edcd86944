package admin

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/charmbracelet/log"
	registryroute "github.com/chirino/companion-service/internal/registry/route"
	"github.com/chirino/companion-service/internal/session"
	"github.com/gin-gonic/gin"
)

func init() {
	registryroute.Register(registryroute.Plugin{
		Name: "admin",
		Type: registryroute.RouteTypeAdmin,
		Loader: func(r gin.IRouter, deps registryroute.Deps) error {
			if deps.Sessions == nil {
				return errors.New("admin routes need a session manager")
			}
			MountRoutes(r, deps.Sessions)
			return nil
		},
	})
}

// MountRoutes mounts the session administration API. It carries no authentication of
// its own and belongs on the management listener.
func MountRoutes(r gin.IRouter, sessions *session.Manager) {
	g := r.Group("/admin")

	// Sessions
	g.GET("/sessions", func(c *gin.Context) {
		adminListSessions(c, sessions)
	})
	g.GET("/sessions/:id", func(c *gin.Context) {
		adminGetSession(c, sessions)
	})
	g.DELETE("/sessions/:id", func(c *gin.Context) {
		adminDeleteSession(c, sessions)
	})
	g.POST("/sessions/:id/reload", func(c *gin.Context) {
		adminReloadSession(c, sessions)
	})
	g.POST("/sessions/reload", func(c *gin.Context) {
		adminReloadAll(c, sessions)
	})

	// Idle sweep and starter tracking
	g.POST("/sweep", func(c *gin.Context) {
		adminSweep(c, sessions)
	})
	g.POST("/starters/clear", func(c *gin.Context) {
		sessions.ClearAllStarterTracking()
		c.Status(http.StatusNoContent)
	})
}

func adminListSessions(c *gin.Context, sessions *session.Manager) {
	data := sessions.Snapshot()
	if limit := queryInt(c, "limit", 0); limit > 0 && limit < len(data) {
		data = data[:limit]
	}
	c.JSON(http.StatusOK, gin.H{"data": data, "total": sessions.Len()})
}

func adminGetSession(c *gin.Context, sessions *session.Manager) {
	info, ok := sessions.Info(c.Param("id"))
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "session not found"})
		return
	}
	c.JSON(http.StatusOK, info)
}

func adminDeleteSession(c *gin.Context, sessions *session.Manager) {
	id := c.Param("id")
	if _, ok := sessions.Get(id); !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "session not found"})
		return
	}
	if c.Query("logout") == "true" {
		sessions.Logout(id)
	} else {
		sessions.DeleteSession(id)
	}
	c.Status(http.StatusNoContent)
}

func adminReloadSession(c *gin.Context, sessions *session.Manager) {
	id := c.Param("id")
	if err := sessions.ReloadCharacterForSession(c.Request.Context(), id); err != nil {
		handleError(c, err)
		return
	}
	info, _ := sessions.Info(id)
	c.JSON(http.StatusOK, info)
}

func adminReloadAll(c *gin.Context, sessions *session.Manager) {
	if err := sessions.ReloadCharacterForAllSessions(c.Request.Context()); err != nil {
		handleError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"reloaded": sessions.Len()})
}

// adminSweep runs an idle sweep now. An optional "idleFor" duration (Go syntax, e.g.
// "10m") overrides the configured timeout for this run only.
func adminSweep(c *gin.Context, sessions *session.Manager) {
	now := time.Now()
	if raw := c.Query("idleFor"); raw != "" {
		d, err := time.ParseDuration(raw)
		if err != nil || d < 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "idleFor must be a non-negative duration"})
			return
		}
		// SweepIdle compares against the manager's own timeout; shift the clock so
		// sessions idle for at least d are past it.
		now = now.Add(sessions.IdleTimeout() - d)
	}
	removed := sessions.SweepIdle(now)
	if removed == nil {
		removed = []string{}
	}
	c.JSON(http.StatusOK, gin.H{"removed": removed})
}

func handleError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, session.ErrSessionNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
	case errors.Is(err, session.ErrInvalidSessionID):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	default:
		log.Error("Admin API error", "err", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal server error"})
	}
}

func queryInt(c *gin.Context, key string, def int) int {
	v := c.Query(key)
	if v == "" {
		return def
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return i
}
