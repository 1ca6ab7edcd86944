package agent_test

import (
	"context"
	"errors"
	"testing"

	"github.com/chirino/companion-service/internal/agent"
	"github.com/chirino/companion-service/internal/config"
	"github.com/chirino/companion-service/internal/dataencryption"
	"github.com/chirino/companion-service/internal/model"
	_ "github.com/chirino/companion-service/internal/plugin/encrypt/aesgcm"
	"github.com/chirino/companion-service/internal/plugin/store/filestore"
	registrystore "github.com/chirino/companion-service/internal/registry/store"
	"github.com/stretchr/testify/require"
)

func newStore(t *testing.T) *filestore.Store {
	t.Helper()
	cfg := config.DefaultConfig()
	cfg.EncryptionKDFLogN = config.MinKDFLogN
	cipher, err := dataencryption.New(context.Background(), &cfg)
	require.NoError(t, err)
	s, err := filestore.New(t.TempDir(), cfg.PublicProfileNames(), cipher)
	require.NoError(t, err)
	return s
}

func TestLoaderStateMachine(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)
	_, err := s.SaveProfile(ctx, "nova", model.Payload{"characterName": "Nova"}, "pw")
	require.NoError(t, err)
	_, err = s.SaveProfile(ctx, "astra", model.Payload{"characterName": "Astra"}, "pw")
	require.NoError(t, err)

	l := agent.NewStoreLoader(s)
	require.Equal(t, agent.LoaderEmpty, l.State())
	_, ok := l.Profile()
	require.False(t, ok)

	l.SetEncryptionKey("pw")
	name, err := l.LoadCharacter(ctx, "nova")
	require.NoError(t, err)
	require.Equal(t, "nova", name)
	require.Equal(t, agent.LoaderLoaded, l.State())
	p, ok := l.Profile()
	require.True(t, ok)
	require.Equal(t, "Nova", p["characterName"])

	name, err = l.LoadCharacter(ctx, "astra")
	require.NoError(t, err)
	require.Equal(t, "astra", name)
	p, _ = l.Profile()
	require.Equal(t, "Astra", p["characterName"])

	// A failed switch never leaves the previous character cached.
	_, err = l.LoadCharacter(ctx, "ghost")
	var nf *registrystore.NotFoundError
	require.True(t, errors.As(err, &nf))
	require.Equal(t, agent.LoaderEmpty, l.State())
	require.Equal(t, "", l.ActiveCharacterName())
	_, ok = l.Profile()
	require.False(t, ok)
}

func TestLoaderDefaultsToActiveProfile(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)
	_, err := s.SaveProfile(ctx, "default", model.Payload{"characterName": "Default"}, "")
	require.NoError(t, err)

	l := agent.NewStoreLoader(s)
	name, err := l.LoadCharacter(ctx, "")
	require.NoError(t, err)
	require.Equal(t, "default", name)
}

func TestCompanionInitRequiresCharacter(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)
	c := agent.NewCompanion(s)
	require.ErrorIs(t, c.Init(ctx), agent.ErrNotLoaded)

	_, err := s.SaveProfile(ctx, "nova", model.Payload{}, "")
	require.NoError(t, err)
	_, err = c.Loader().LoadCharacter(ctx, "nova")
	require.NoError(t, err)
	require.NoError(t, c.Init(ctx))
	require.True(t, c.Initialized())
}

func TestCompanionHistory(t *testing.T) {
	c := agent.NewCompanion(newStore(t))
	c.AppendMessage(agent.Message{Role: agent.RoleUser, Text: "hi"})
	c.AppendMessage(agent.Message{Role: agent.RoleCharacter, Text: "hello"})

	h := c.History()
	require.Len(t, h, 2)
	require.False(t, h[0].Timestamp.IsZero())

	h[0].Text = "mutated"
	require.Equal(t, "hi", c.History()[0].Text, "History returns a copy")

	c.ClearHistory()
	require.Empty(t, c.History())
}

func TestCompanionReloadPicksUpEdits(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)
	_, err := s.SaveProfile(ctx, "nova", model.Payload{"role": "pilot"}, "pw")
	require.NoError(t, err)

	c := agent.NewCompanion(s)
	c.Loader().SetEncryptionKey("pw")
	_, err = c.Loader().LoadCharacter(ctx, "nova")
	require.NoError(t, err)

	_, err = s.SaveProfile(ctx, "nova", model.Payload{"role": "captain"}, "pw")
	require.NoError(t, err)
	require.NoError(t, c.ReloadCharacter(ctx))

	p, ok := c.Character()
	require.True(t, ok)
	require.Equal(t, "captain", p["role"])
}

func TestCompanionReloadAfterFailedLoadKeepsCharacter(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)
	_, err := s.SaveProfile(ctx, "nova", model.Payload{"role": "pilot"}, "pw")
	require.NoError(t, err)

	c := agent.NewCompanion(s)
	c.Loader().SetEncryptionKey("pw")
	_, err = c.Loader().LoadCharacter(ctx, "nova")
	require.NoError(t, err)

	require.NoError(t, s.DeleteProfile(ctx, "nova"))
	require.Error(t, c.ReloadCharacter(ctx))
	require.Equal(t, "", c.Loader().ActiveCharacterName())

	_, err = s.SaveProfile(ctx, "nova", model.Payload{"role": "captain"}, "pw")
	require.NoError(t, err)
	require.NoError(t, c.ReloadCharacter(ctx))

	require.Equal(t, "nova", c.Loader().ActiveCharacterName())
	p, ok := c.Character()
	require.True(t, ok)
	require.Equal(t, "captain", p["role"])
}
