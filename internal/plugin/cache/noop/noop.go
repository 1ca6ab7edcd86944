package noop

import (
	"context"

	"github.com/chirino/companion-service/internal/registry/cache"
)

func init() {
	cache.Register(cache.Plugin{
		Name: "none",
		Loader: func(ctx context.Context) (cache.KeyCache, error) {
			return New(), nil
		},
	})
}

// New returns a KeyCache that never stores anything.
func New() cache.KeyCache { return &noopKeyCache{} }

type noopKeyCache struct{}

func (n *noopKeyCache) Available() bool { return false }
func (n *noopKeyCache) Get(_ string) ([]byte, bool) { return nil, false }
func (n *noopKeyCache) Set(_ string, _ []byte) {}
func (n *noopKeyCache) Clear() {}

var _ cache.KeyCache = (*noopKeyCache)(nil)
