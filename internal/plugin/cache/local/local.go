// Package local registers the "local" in-process key cache backed by ristretto.
package local

import (
	"context"
	"fmt"

	"github.com/chirino/companion-service/internal/config"
	registrycache "github.com/chirino/companion-service/internal/registry/cache"
	"github.com/chirino/companion-service/internal/security"
	"github.com/dgraph-io/ristretto/v2"
)

const defaultMaxKeys = 1024

func init() {
	registrycache.Register(registrycache.Plugin{
		Name:   "local",
		Loader: load,
	})
}

func load(ctx context.Context) (registrycache.KeyCache, error) {
	maxKeys := int64(defaultMaxKeys)
	if cfg := config.FromContext(ctx); cfg != nil && cfg.CacheMaxKeys > 0 {
		maxKeys = cfg.CacheMaxKeys
	}
	return New(maxKeys)
}

// New creates a cache holding at most maxKeys derived keys.
func New(maxKeys int64) (registrycache.KeyCache, error) {
	c, err := ristretto.NewCache(&ristretto.Config[string, []byte]{
		NumCounters:        maxKeys * 10,
		MaxCost:            maxKeys,
		BufferItems:        64,
		// Cost is counted in keys, not bytes.
		IgnoreInternalCost: true,
	})
	if err != nil {
		return nil, fmt.Errorf("local cache: %w", err)
	}
	return &keyCache{cache: c}, nil
}

type keyCache struct {
	cache *ristretto.Cache[string, []byte]
}

func (k *keyCache) Available() bool { return true }

func (k *keyCache) Get(id string) ([]byte, bool) {
	v, ok := k.cache.Get(id)
	if ok {
		security.RecordCacheHit()
	} else {
		security.RecordCacheMiss()
	}
	return v, ok
}

// Set stores key and waits for the write buffer so a following Get observes it.
func (k *keyCache) Set(id string, key []byte) {
	k.cache.Set(id, key, 1)
	k.cache.Wait()
}

func (k *keyCache) Clear() {
	k.cache.Clear()
}

var _ registrycache.KeyCache = (*keyCache)(nil)
