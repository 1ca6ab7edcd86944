package service

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/chirino/companion-service/internal/tempfiles"
	"github.com/fsnotify/fsnotify"
)

// CharacterReloader reloads the sessions using a character.
type CharacterReloader interface {
	ReloadSessionsForCharacter(ctx context.Context, name string) error
}

// ContentOwner reports files whose current content the process wrote itself.
type ContentOwner interface {
	OwnsCurrentContent(path string) bool
}

// ProfileWatcher reloads sessions when a character document is edited outside the
// service. Events are debounced per profile; files whose content this process wrote
// are ignored.
type ProfileWatcher struct {
	dir      string
	sessions CharacterReloader
	owner    ContentOwner
	debounce time.Duration

	mu      sync.Mutex
	pending map[string]pendingChange
}

type pendingChange struct {
	path string
	at   time.Time
}

// singleton documents that never map to a session character
var watcherIgnored = map[string]bool{
	"user-profile":     true,
	"active-character": true,
	"user-settings":    true,
}

// NewProfileWatcher creates a new ProfileWatcher over dir.
func NewProfileWatcher(dir string, sessions CharacterReloader, owner ContentOwner, debounce time.Duration) *ProfileWatcher {
	return &ProfileWatcher{
		dir:      dir,
		sessions: sessions,
		owner:    owner,
		debounce: debounce,
		pending:  make(map[string]pendingChange),
	}
}

// Start watches the directory until ctx is cancelled. It returns an error only when
// the watch cannot be established.
func (w *ProfileWatcher) Start(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("profile watcher: %w", err)
	}
	defer watcher.Close()
	if err := watcher.Add(w.dir); err != nil {
		return fmt.Errorf("profile watcher: watch %s: %w", w.dir, err)
	}
	log.Info("Watching profile directory", "dir", w.dir, "debounce", w.debounce)

	tick := w.debounce / 5
	if tick < 20*time.Millisecond {
		tick = 20 * time.Millisecond
	}
	ticker := time.NewTicker(tick)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			w.handleEvent(event, time.Now())
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			log.Error("Profile watcher error", "err", err)
		case now := <-ticker.C:
			w.flush(ctx, now)
		}
	}
}

// profileName maps a file name to the character it stores, or "".
func profileName(fileName string) string {
	if tempfiles.IsTemp(fileName) || strings.HasPrefix(fileName, ".") {
		return ""
	}
	ext := filepath.Ext(fileName)
	if ext != ".json" && ext != ".txt" {
		return ""
	}
	name := strings.TrimSuffix(fileName, ext)
	if watcherIgnored[name] || strings.HasSuffix(name, "_avatar") {
		return ""
	}
	return name
}

func (w *ProfileWatcher) handleEvent(event fsnotify.Event, now time.Time) {
	if !event.Has(fsnotify.Create) && !event.Has(fsnotify.Write) && !event.Has(fsnotify.Rename) && !event.Has(fsnotify.Remove) {
		return
	}
	name := profileName(filepath.Base(event.Name))
	if name == "" {
		return
	}
	w.mu.Lock()
	w.pending[name] = pendingChange{path: event.Name, at: now}
	w.mu.Unlock()
}

// flush reloads every profile whose last event is older than the debounce window.
func (w *ProfileWatcher) flush(ctx context.Context, now time.Time) {
	w.mu.Lock()
	var ready []string
	var paths []string
	for name, change := range w.pending {
		if now.Sub(change.at) >= w.debounce {
			ready = append(ready, name)
			paths = append(paths, change.path)
			delete(w.pending, name)
		}
	}
	w.mu.Unlock()

	for i, name := range ready {
		if w.owner != nil && w.owner.OwnsCurrentContent(paths[i]) {
			continue
		}
		log.Info("Profile changed on disk, reloading sessions", "profile", name)
		if err := w.sessions.ReloadSessionsForCharacter(ctx, name); err != nil {
			log.Warn("Reloading sessions after profile change failed", "profile", name, "err", err)
		}
	}
}
