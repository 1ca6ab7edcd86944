// Package session keeps one conversational agent per client session.
package session

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/chirino/companion-service/internal/agent"
	"github.com/chirino/companion-service/internal/security"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"
)

// State is the lifecycle state of a session record.
type State string

const (
	StateActive    State = "ACTIVE"
	StateExpired   State = "EXPIRED"
	StateLoggedOut State = "LOGGED_OUT"
)

var (
	// ErrInvalidSessionID is returned for an empty session id.
	ErrInvalidSessionID = errors.New("session id must not be empty")
	// ErrSessionNotFound is returned when an operation names an unknown session.
	ErrSessionNotFound = errors.New("session not found")
)

// reloadConcurrency bounds concurrent character reloads across sessions.
const reloadConcurrency = 8

// Record is the registry entry for one session.
type Record struct {
	ID              string
	Agent           agent.Agent
	ActiveCharacter string
	LastActivity    time.Time
	LastRequestID   string
	Key             string
	State           State

	// requested is the name last asked for, which differs from ActiveCharacter when
	// the loader substituted another character.
	requested string
}

// Info is a read-only view of a Record without the agent or key.
type Info struct {
	ID              string    `json:"sessionId"`
	ActiveCharacter string    `json:"activeCharacter"`
	LastActivity    time.Time `json:"lastActivity"`
	LastRequestID   string    `json:"lastRequestId,omitempty"`
	State           State     `json:"state"`
}

// Option configures a Manager.
type Option func(*Manager)

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) { m.now = now }
}

// WithStarterSet shares an existing starter set.
func WithStarterSet(s *StarterSet) Option {
	return func(m *Manager) { m.starters = s }
}

// Manager owns every live session. One RWMutex guards the whole registry so a
// character switch, which touches several fields of one record, is never observed
// half-applied. Traffic for a single session must be serialized by the caller.
type Manager struct {
	factory     agent.Factory
	idleTimeout time.Duration
	now         func() time.Time
	starters    *StarterSet

	mu       sync.RWMutex
	sessions map[string]*Record

	creating singleflight.Group
}

// NewManager builds a manager creating agents with factory. Sessions idle longer than
// idleTimeout are removed by SweepIdle.
func NewManager(factory agent.Factory, idleTimeout time.Duration, opts ...Option) *Manager {
	m := &Manager{
		factory:     factory,
		idleTimeout: idleTimeout,
		now:         time.Now,
		sessions:    make(map[string]*Record),
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.starters == nil {
		m.starters = NewStarterSet()
	}
	return m
}

// IdleTimeout returns the configured idle threshold.
func (m *Manager) IdleTimeout() time.Duration { return m.idleTimeout }

// GetOrCreateSession returns the agent for id, creating it on first use. A non-empty
// character different from the session's active one is loaded into the existing
// agent and its history is cleared. A load failure on creation registers nothing.
func (m *Manager) GetOrCreateSession(ctx context.Context, id, character, key string) (agent.Agent, error) {
	if id == "" {
		return nil, ErrInvalidSessionID
	}
	a, found, err := m.useExisting(ctx, id, character, key)
	if found || err != nil {
		return a, err
	}

	// Concurrent first requests for one id share a single creation.
	_, err, _ = m.creating.Do(id, func() (any, error) {
		return nil, m.create(ctx, id, character, key)
	})
	if err != nil {
		return nil, err
	}
	a, found, err = m.useExisting(ctx, id, character, key)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, fmt.Errorf("%w: %s", ErrSessionNotFound, id)
	}
	return a, nil
}

func (m *Manager) create(ctx context.Context, id, character, key string) error {
	m.mu.RLock()
	_, exists := m.sessions[id]
	m.mu.RUnlock()
	if exists {
		return nil
	}

	a := m.factory()
	loader := a.Loader()
	loader.SetEncryptionKey(key)
	loaded, err := loader.LoadCharacter(ctx, character)
	if err != nil {
		return err
	}
	m.checkLoaded(id, character, loaded, loader.ActiveCharacterName())
	if err := a.Init(ctx); err != nil {
		return fmt.Errorf("init agent: %w", err)
	}

	m.mu.Lock()
	m.sessions[id] = &Record{
		ID:              id,
		Agent:           a,
		ActiveCharacter: loader.ActiveCharacterName(),
		LastActivity:    m.now(),
		Key:             key,
		State:           StateActive,
		requested:       character,
	}
	n := len(m.sessions)
	m.mu.Unlock()

	security.RecordSessionEvent("created")
	security.SetSessionsActive(n)
	log.Info("Session created", "session", id, "character", loader.ActiveCharacterName())
	return nil
}

// useExisting touches the session and applies a character switch when requested.
func (m *Manager) useExisting(ctx context.Context, id, character, key string) (agent.Agent, bool, error) {
	m.mu.Lock()
	rec, ok := m.sessions[id]
	if !ok {
		m.mu.Unlock()
		return nil, false, nil
	}
	rec.LastActivity = m.now()
	if key != "" && key != rec.Key {
		rec.Key = key
		rec.Agent.Loader().SetEncryptionKey(key)
	}
	a, previous, requested := rec.Agent, rec.ActiveCharacter, rec.requested
	m.mu.Unlock()

	if character == "" || character == previous || character == requested {
		return a, true, nil
	}

	loader := a.Loader()
	loaded, err := loader.LoadCharacter(ctx, character)
	if err != nil {
		if _, rerr := loader.LoadCharacter(ctx, previous); rerr != nil {
			log.Error("Failed to restore character after failed switch", "session", id, "character", previous, "err", rerr)
		}
		return nil, true, err
	}
	m.checkLoaded(id, character, loaded, loader.ActiveCharacterName())

	m.mu.Lock()
	if cur, ok := m.sessions[id]; ok && cur == rec {
		a.ClearHistory()
		rec.ActiveCharacter = loader.ActiveCharacterName()
		rec.requested = character
		rec.LastActivity = m.now()
	}
	m.mu.Unlock()

	security.RecordSessionEvent("switched")
	log.Info("Session switched character", "session", id, "from", previous, "to", loader.ActiveCharacterName())
	return a, true, nil
}

// checkLoaded records a loader that reports a different character than requested.
// The session keeps whatever actually loaded.
func (m *Manager) checkLoaded(id, requested, loaded, active string) {
	if requested != "" && active != requested {
		security.RecordCharacterMismatch()
		log.Warn("Loaded character does not match request", "session", id, "requested", requested, "loaded", loaded, "active", active)
	}
}

// Get returns the agent for id and touches the session.
func (m *Manager) Get(id string) (agent.Agent, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.sessions[id]
	if !ok {
		return nil, false
	}
	rec.LastActivity = m.now()
	return rec.Agent, true
}

// Key returns the encryption key recorded for id.
func (m *Manager) Key(id string) (string, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	rec, ok := m.sessions[id]
	if !ok {
		return "", false
	}
	return rec.Key, true
}

// Info returns a snapshot of one session.
func (m *Manager) Info(id string) (Info, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	rec, ok := m.sessions[id]
	if !ok {
		return Info{}, false
	}
	return infoOf(rec), true
}

func infoOf(rec *Record) Info {
	return Info{
		ID:              rec.ID,
		ActiveCharacter: rec.ActiveCharacter,
		LastActivity:    rec.LastActivity,
		LastRequestID:   rec.LastRequestID,
		State:           rec.State,
	}
}

// DeleteSession removes id. Removing an unknown id is a no-op.
func (m *Manager) DeleteSession(id string) {
	if m.remove(id, StateLoggedOut) {
		security.RecordSessionEvent("logged_out")
		log.Info("Session deleted", "session", id)
	}
}

// Logout deletes the session and clears starter tracking.
func (m *Manager) Logout(id string) {
	m.DeleteSession(id)
	m.ClearAllStarterTracking()
}

func (m *Manager) remove(id string, final State) bool {
	m.mu.Lock()
	rec, ok := m.sessions[id]
	if ok {
		rec.State = final
		delete(m.sessions, id)
	}
	n := len(m.sessions)
	m.mu.Unlock()
	if ok {
		security.SetSessionsActive(n)
	}
	return ok
}

// RotateKey replaces oldKey with newKey on every session holding it and returns how
// many sessions changed.
func (m *Manager) RotateKey(oldKey, newKey string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, rec := range m.sessions {
		if rec.Key != oldKey {
			continue
		}
		rec.Key = newKey
		rec.Agent.Loader().SetEncryptionKey(newKey)
		n++
	}
	return n
}

// ReloadCharacterForSession re-reads the session's active character and clears its
// history.
func (m *Manager) ReloadCharacterForSession(ctx context.Context, id string) error {
	m.mu.RLock()
	rec, ok := m.sessions[id]
	m.mu.RUnlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrSessionNotFound, id)
	}
	a := rec.Agent
	if err := a.ReloadCharacter(ctx); err != nil {
		return fmt.Errorf("reload session %s: %w", id, err)
	}

	m.mu.Lock()
	a.ClearHistory()
	rec.ActiveCharacter = a.Loader().ActiveCharacterName()
	m.mu.Unlock()
	return nil
}

// ReloadCharacterForAllSessions reloads every session independently. Failures are
// logged and returned joined; they never stop other reloads.
func (m *Manager) ReloadCharacterForAllSessions(ctx context.Context) error {
	return m.reloadWhere(ctx, func(*Record) bool { return true })
}

// ReloadSessionsForCharacter reloads the sessions whose active character is name.
func (m *Manager) ReloadSessionsForCharacter(ctx context.Context, name string) error {
	return m.reloadWhere(ctx, func(rec *Record) bool { return rec.ActiveCharacter == name })
}

func (m *Manager) reloadWhere(ctx context.Context, match func(*Record) bool) error {
	m.mu.RLock()
	ids := make([]string, 0, len(m.sessions))
	for id, rec := range m.sessions {
		if match(rec) {
			ids = append(ids, id)
		}
	}
	m.mu.RUnlock()

	var (
		errsMu sync.Mutex
		errs   []error
	)
	var g errgroup.Group
	g.SetLimit(reloadConcurrency)
	for _, id := range ids {
		g.Go(func() error {
			if err := m.ReloadCharacterForSession(ctx, id); err != nil {
				log.Warn("Character reload failed", "session", id, "err", err)
				errsMu.Lock()
				errs = append(errs, err)
				errsMu.Unlock()
			}
			return nil
		})
	}
	_ = g.Wait()
	return errors.Join(errs...)
}

// SweepIdle expires sessions whose last activity is older than the idle timeout and
// returns their ids.
func (m *Manager) SweepIdle(now time.Time) []string {
	m.mu.Lock()
	var expired []string
	for id, rec := range m.sessions {
		if now.Sub(rec.LastActivity) > m.idleTimeout {
			rec.State = StateExpired
			delete(m.sessions, id)
			expired = append(expired, id)
		}
	}
	n := len(m.sessions)
	m.mu.Unlock()

	if len(expired) > 0 {
		sort.Strings(expired)
		security.SetSessionsActive(n)
		for range expired {
			security.RecordSessionEvent("expired")
		}
		log.Info("Expired idle sessions", "count", len(expired), "remaining", n)
	}
	return expired
}

// TrackRequestID records the latest request id seen for a session. The manager never
// drops requests on ordering; it always answers true ("process") and leaves discard
// decisions to the layer that serializes responses.
func (m *Manager) TrackRequestID(id, requestID string) bool {
	m.mu.Lock()
	if rec, ok := m.sessions[id]; ok {
		rec.LastRequestID = requestID
	}
	m.mu.Unlock()
	return true
}

// NeedsStarter reports whether name still has to show its introductory message.
func (m *Manager) NeedsStarter(name string) bool { return m.starters.NeedsStarter(name) }

// MarkStarterShown records that name showed its introductory message.
func (m *Manager) MarkStarterShown(name string) { m.starters.MarkShown(name) }

// ClearAllStarterTracking forgets every shown starter.
func (m *Manager) ClearAllStarterTracking() { m.starters.Clear() }

// Len returns the number of live sessions.
func (m *Manager) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}

// Snapshot returns every live session sorted by id.
func (m *Manager) Snapshot() []Info {
	m.mu.RLock()
	out := make([]Info, 0, len(m.sessions))
	for _, rec := range m.sessions {
		out = append(out, infoOf(rec))
	}
	m.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Reset drops every session and all starter tracking. Intended for tests.
func (m *Manager) Reset() {
	m.mu.Lock()
	clear(m.sessions)
	m.mu.Unlock()
	m.starters.Clear()
	security.SetSessionsActive(0)
}
