// Package agent defines the conversational agent a session owns and the default
// store-backed companion implementation.
package agent

import (
	"context"
	"time"

	"github.com/chirino/companion-service/internal/model"
)

// CharacterLoader resolves and caches the character an agent speaks as.
type CharacterLoader interface {
	SetEncryptionKey(key string)
	// LoadCharacter loads name, or the store's active profile when name is empty, and
	// returns the name that is now active.
	LoadCharacter(ctx context.Context, name string) (string, error)
	ActiveCharacterName() string
}

// Message is one turn of a conversation.
type Message struct {
	RequestID string    `json:"requestId,omitempty"`
	Role      string    `json:"role"`
	Text      string    `json:"text"`
	Timestamp time.Time `json:"timestamp"`
}

const (
	RoleUser      = "user"
	RoleCharacter = "character"
)

// Agent is one session's conversational instance. It owns its history and loader
// state; callers serialize traffic for a single agent.
type Agent interface {
	Loader() CharacterLoader
	// Init runs after the first LoadCharacter; the character is fixed before first use.
	Init(ctx context.Context) error
	ClearHistory()
	// ReloadCharacter re-reads the active character from the store.
	ReloadCharacter(ctx context.Context) error
	History() []Message
	AppendMessage(m Message)
	// Character returns the cached character, or false while none is loaded.
	Character() (model.Payload, bool)
}

// Factory builds a fresh agent for a new session.
type Factory func() Agent
