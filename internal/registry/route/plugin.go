package route

import (
	"sort"

	"github.com/chirino/companion-service/internal/config"
	registrystore "github.com/chirino/companion-service/internal/registry/store"
	"github.com/chirino/companion-service/internal/session"
	"github.com/gin-gonic/gin"
)

// Deps are the subsystems a route plugin may mount handlers over.
type Deps struct {
	Config   *config.Config
	Store    registrystore.ProfileStore
	Sessions *session.Manager
}

// RouterLoader mounts a plugin's routes.
type RouterLoader func(r gin.IRouter, deps Deps) error

// RouteType decides which listener a plugin's routes are mounted on.
type RouteType int

const (
	// RouteTypeMain routes are the public /v1 API.
	RouteTypeMain RouteType = iota
	// RouteTypeManagement routes (health, readiness, metrics) go on the management
	// listener, or on the main one when no management port is configured.
	RouteTypeManagement
	// RouteTypeAdmin routes follow management routes, and are mounted only when
	// admin endpoints are enabled.
	RouteTypeAdmin
)

// Plugin is a route plugin; Order fixes the mount sequence within its type.
type Plugin struct {
	Name   string
	Order  int
	Type   RouteType
	Loader RouterLoader
}

var plugins []Plugin

// Register adds a route plugin. Called from init() in plugin packages.
func Register(p Plugin) {
	plugins = append(plugins, p)
}

// Plugins returns the registered plugins of type t, ordered by Order then Name.
func Plugins(t RouteType) []Plugin {
	var out []Plugin
	for _, p := range plugins {
		if p.Type == t {
			out = append(out, p)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Order != out[j].Order {
			return out[i].Order < out[j].Order
		}
		return out[i].Name < out[j].Name
	})
	return out
}

// Mount runs every loader of type t against r, stopping at the first failure.
func Mount(r gin.IRouter, t RouteType, deps Deps) error {
	for _, p := range Plugins(t) {
		if err := p.Loader(r, deps); err != nil {
			return &MountError{Plugin: p.Name, Err: err}
		}
	}
	return nil
}

// MountError names the route plugin that failed to mount.
type MountError struct {
	Plugin string
	Err    error
}

func (e *MountError) Error() string {
	return "mount " + e.Plugin + " routes: " + e.Err.Error()
}

func (e *MountError) Unwrap() error { return e.Err }
