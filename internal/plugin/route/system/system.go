// Package system serves liveness, readiness and Prometheus metrics.
package system

import (
	"net/http"
	"sync/atomic"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	registryroute "github.com/chirino/companion-service/internal/registry/route"
)

var ready atomic.Bool

// MarkReady signals that StartServer has finished and traffic may flow.
func MarkReady() {
	ready.Store(true)
}

// MarkNotReady flips readiness back, e.g. while draining on shutdown.
func MarkNotReady() {
	ready.Store(false)
}

func init() {
	registryroute.Register(registryroute.Plugin{
		Name:   "system",
		Order:  0,
		Type:   registryroute.RouteTypeManagement,
		Loader: MountRoutes,
	})
}

// MountRoutes mounts /health, /ready and /metrics.
func MountRoutes(r gin.IRouter, deps registryroute.Deps) error {
	r.GET("/health", func(c *gin.Context) {
		body := gin.H{"status": "ok"}
		if deps.Sessions != nil {
			body["sessions"] = deps.Sessions.Len()
		}
		c.JSON(http.StatusOK, body)
	})

	// Ready once initialized and the profile directory can be listed.
	r.GET("/ready", func(c *gin.Context) {
		if !ready.Load() {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "starting"})
			return
		}
		if deps.Store != nil {
			if _, err := deps.Store.ListProfiles(c.Request.Context()); err != nil {
				c.JSON(http.StatusServiceUnavailable, gin.H{"status": "store unavailable", "error": err.Error()})
				return
			}
		}
		c.JSON(http.StatusOK, gin.H{"status": "ready"})
	})

	r.GET("/metrics", gin.WrapH(promhttp.Handler()))
	return nil
}
