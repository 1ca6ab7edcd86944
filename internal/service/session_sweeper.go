package service

import (
	"context"
	"time"

	"github.com/charmbracelet/log"
)

// IdleSweeper is the part of the session manager the sweeper drives.
type IdleSweeper interface {
	SweepIdle(now time.Time) []string
}

// SessionSweeper expires idle sessions on a fixed interval, independent of request
// traffic.
type SessionSweeper struct {
	sessions IdleSweeper
	interval time.Duration
	now      func() time.Time
}

// NewSessionSweeper creates a new SessionSweeper.
func NewSessionSweeper(sessions IdleSweeper, interval time.Duration) *SessionSweeper {
	return &SessionSweeper{sessions: sessions, interval: interval, now: time.Now}
}

// Start runs the sweeper until ctx is cancelled.
func (s *SessionSweeper) Start(ctx context.Context) {
	if s == nil || s.sessions == nil || s.interval <= 0 {
		return
	}
	log.Info("Session sweeper started", "interval", s.interval)
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.runOnce()
		}
	}
}

func (s *SessionSweeper) runOnce() {
	if expired := s.sessions.SweepIdle(s.now()); len(expired) > 0 {
		log.Debug("Swept idle sessions", "sessions", expired)
	}
}
