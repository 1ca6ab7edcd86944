package agent

import (
	"context"
	"fmt"
	"sync"

	"github.com/chirino/companion-service/internal/model"
	registrystore "github.com/chirino/companion-service/internal/registry/store"
)

// LoaderState is the lifecycle of a StoreLoader's cached character.
type LoaderState int

const (
	// LoaderEmpty holds no character.
	LoaderEmpty LoaderState = iota
	// LoaderLoaded holds the profile of one character.
	LoaderLoaded
	// LoaderSwitching is entered at the start of every load; the previous profile has
	// already been dropped.
	LoaderSwitching
)

func (s LoaderState) String() string {
	switch s {
	case LoaderEmpty:
		return "empty"
	case LoaderLoaded:
		return "loaded"
	case LoaderSwitching:
		return "switching"
	}
	return fmt.Sprintf("LoaderState(%d)", int(s))
}

// StoreLoader loads characters from a ProfileStore with the session's key.
type StoreLoader struct {
	store registrystore.ProfileStore

	mu        sync.RWMutex
	key       string
	state     LoaderState
	name      string
	requested string
	profile   model.Payload
}

// NewStoreLoader returns an empty loader reading from store.
func NewStoreLoader(store registrystore.ProfileStore) *StoreLoader {
	return &StoreLoader{store: store}
}

func (l *StoreLoader) SetEncryptionKey(key string) {
	l.mu.Lock()
	l.key = key
	l.mu.Unlock()
}

// LoadCharacter switches to name. The cached profile is dropped before the store is
// read, so a failed load leaves the loader empty rather than holding the previous
// character.
func (l *StoreLoader) LoadCharacter(ctx context.Context, name string) (string, error) {
	l.mu.Lock()
	l.state, l.name, l.profile = LoaderSwitching, "", nil
	key := l.key
	l.mu.Unlock()

	var err error
	if name == "" {
		if name, err = l.store.GetActiveProfile(ctx, key); err != nil {
			l.reset()
			return "", fmt.Errorf("resolve active character: %w", err)
		}
	}
	l.mu.Lock()
	l.requested = name
	l.mu.Unlock()
	profile, err := l.store.GetProfile(ctx, name, key)
	if err != nil {
		l.reset()
		return "", fmt.Errorf("load character %s: %w", name, err)
	}

	l.mu.Lock()
	l.state, l.name, l.profile = LoaderLoaded, name, profile
	l.mu.Unlock()
	return name, nil
}

func (l *StoreLoader) reset() {
	l.mu.Lock()
	l.state, l.name, l.profile = LoaderEmpty, "", nil
	l.mu.Unlock()
}

// RequestedCharacterName returns the character of the last load, kept when that load
// failed.
func (l *StoreLoader) RequestedCharacterName() string {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.requested
}

func (l *StoreLoader) ActiveCharacterName() string {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.name
}

// State returns the loader's current state.
func (l *StoreLoader) State() LoaderState {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.state
}

// Profile returns the cached character; only a loaded loader has one.
func (l *StoreLoader) Profile() (model.Payload, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if l.state != LoaderLoaded {
		return nil, false
	}
	return l.profile, true
}
