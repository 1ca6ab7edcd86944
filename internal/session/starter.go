package session

import "sync"

// StarterSet tracks which characters have already shown their introductory message.
// It is shared by every session in the process.
type StarterSet struct {
	mu    sync.Mutex
	shown map[string]bool
}

// NewStarterSet returns an empty set.
func NewStarterSet() *StarterSet {
	return &StarterSet{shown: make(map[string]bool)}
}

// NeedsStarter reports whether name has not shown its starter yet.
func (s *StarterSet) NeedsStarter(name string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return !s.shown[name]
}

// MarkShown records that name showed its starter.
func (s *StarterSet) MarkShown(name string) {
	s.mu.Lock()
	s.shown[name] = true
	s.mu.Unlock()
}

// Clear forgets every character.
func (s *StarterSet) Clear() {
	s.mu.Lock()
	clear(s.shown)
	s.mu.Unlock()
}
