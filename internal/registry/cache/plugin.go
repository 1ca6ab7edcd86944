package cache

import (
	"context"
	"fmt"
)

type keyCacheKey struct{}

// WithKeyCacheContext returns a new context carrying the given KeyCache.
func WithKeyCacheContext(ctx context.Context, c KeyCache) context.Context {
	return context.WithValue(ctx, keyCacheKey{}, c)
}

// KeyCacheFromContext retrieves the KeyCache from the context.
// Returns nil if none was set.
func KeyCacheFromContext(ctx context.Context) KeyCache {
	c, _ := ctx.Value(keyCacheKey{}).(KeyCache)
	return c
}

// KeyCache holds derived encryption keys so the key-derivation function does not
// run on every envelope. Entries are addressed by an opaque digest, never by the
// password itself.
type KeyCache interface {
	Available() bool
	Get(id string) ([]byte, bool)
	Set(id string, key []byte)
	Clear()
}

// Loader creates a cache from config.
type Loader func(ctx context.Context) (KeyCache, error)

// Plugin represents a cache plugin.
type Plugin struct {
	Name   string
	Loader Loader
}

var plugins []Plugin

// Register adds a cache plugin.
func Register(p Plugin) {
	plugins = append(plugins, p)
}

// Names returns all registered cache plugin names.
func Names() []string {
	names := make([]string, len(plugins))
	for i, p := range plugins {
		names[i] = p.Name
	}
	return names
}

// Select returns the loader for the named cache plugin.
func Select(name string) (Loader, error) {
	for _, p := range plugins {
		if p.Name == name {
			return p.Loader, nil
		}
	}
	return nil, fmt.Errorf("unknown cache %q; valid: %v", name, Names())
}
