package agent

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/chirino/companion-service/internal/model"
	registrystore "github.com/chirino/companion-service/internal/registry/store"
)

// ErrNotLoaded is returned by Init when no character has been loaded.
var ErrNotLoaded = errors.New("character must be loaded before init")

// Companion is the default Agent: a store-backed character plus an in-memory history.
type Companion struct {
	loader *StoreLoader

	mu          sync.Mutex
	history     []Message
	initialized bool
}

// NewCompanion returns an uninitialized companion reading characters from store.
func NewCompanion(store registrystore.ProfileStore) *Companion {
	return &Companion{loader: NewStoreLoader(store)}
}

// CompanionFactory returns a Factory producing companions over store.
func CompanionFactory(store registrystore.ProfileStore) Factory {
	return func() Agent { return NewCompanion(store) }
}

func (c *Companion) Loader() CharacterLoader { return c.loader }

func (c *Companion) Init(ctx context.Context) error {
	if c.loader.State() != LoaderLoaded {
		return ErrNotLoaded
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.initialized = true
	c.history = nil
	return nil
}

// Initialized reports whether Init has completed.
func (c *Companion) Initialized() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.initialized
}

func (c *Companion) ClearHistory() {
	c.mu.Lock()
	c.history = nil
	c.mu.Unlock()
}

// ReloadCharacter re-reads the character of the last load, even when that load
// failed, so a profile that briefly disappears comes back as the same character.
func (c *Companion) ReloadCharacter(ctx context.Context) error {
	_, err := c.loader.LoadCharacter(ctx, c.loader.RequestedCharacterName())
	return err
}

func (c *Companion) History() []Message {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]Message, len(c.history))
	copy(out, c.history)
	return out
}

func (c *Companion) AppendMessage(m Message) {
	if m.Timestamp.IsZero() {
		m.Timestamp = time.Now().UTC()
	}
	c.mu.Lock()
	c.history = append(c.history, m)
	c.mu.Unlock()
}

func (c *Companion) Character() (model.Payload, bool) {
	return c.loader.Profile()
}

var _ Agent = (*Companion)(nil)
