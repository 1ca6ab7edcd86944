package model_test

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/chirino/companion-service/internal/model"
	"github.com/stretchr/testify/require"
)

func TestFavoritesRoundTrip(t *testing.T) {
	ts := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	f := model.Favorite{ID: "a", Text: "hello", SenderName: "Nova", Timestamp: ts, Emotion: "joy"}
	p := model.Payload{"favorites": []any{f.Map()}}

	got, err := p.Favorites()
	require.NoError(t, err)
	require.Len(t, got, 1)
	require.Equal(t, "hello", got[0].Text)
	require.True(t, ts.Equal(got[0].Timestamp))
	require.Equal(t, "joy", got[0].Emotion)
}

func TestFavoritesKeepUnknownKeysAndEpochTimestamps(t *testing.T) {
	p := model.Payload{}
	require.NoError(t, json.Unmarshal([]byte(`{"favorites":[
		{"id":"a","text":"one","senderName":"Nova","timestamp":1700000000000},
		{"id":"b","text":"two","senderName":"Nova","timestamp":"2026-03-01T12:00:00Z","messageId":"m-7"},
		{"id":"c","text":"three","timestamp":"last tuesday"},
		"not an object"
	]}`), &p))

	got, err := p.Favorites()
	require.NoError(t, err)
	require.Len(t, got, 3)

	require.Equal(t, "a", got[0].ID)
	require.True(t, time.UnixMilli(1700000000000).Equal(got[0].Timestamp))
	require.Empty(t, got[0].Extra)

	require.Equal(t, "m-7", got[1].Extra["messageId"])
	require.Equal(t, "m-7", got[1].Map()["messageId"])

	require.True(t, got[2].Timestamp.IsZero())
	require.Equal(t, "last tuesday", got[2].Map()["timestamp"])
}

func TestFavoriteJSONKeepsExtraKeys(t *testing.T) {
	var f model.Favorite
	require.NoError(t, json.Unmarshal([]byte(`{"id":"b","text":"two","timestamp":1700000000,"messageId":"m-7"}`), &f))
	require.True(t, time.Unix(1700000000, 0).Equal(f.Timestamp))

	out, err := json.Marshal(f)
	require.NoError(t, err)
	var m map[string]any
	require.NoError(t, json.Unmarshal(out, &m))
	require.Equal(t, "m-7", m["messageId"])
	require.Equal(t, "b", m["id"])
}

func TestFavoriteID(t *testing.T) {
	require.Equal(t, "a", model.FavoriteID(map[string]any{"id": "a"}))
	require.Equal(t, "", model.FavoriteID(map[string]any{"id": 7.0}))
	require.Equal(t, "", model.FavoriteID("a"))
}

func TestFavoritesMissing(t *testing.T) {
	got, err := model.Payload{}.Favorites()
	require.NoError(t, err)
	require.Empty(t, got)
}

func TestCloneIsDeep(t *testing.T) {
	p := model.DefaultUserPayload()
	c := p.Clone()
	c.Map("settings")["darkMode"] = true

	_, leaked := p.Map("settings")["darkMode"]
	require.False(t, leaked)
}

func TestConsent(t *testing.T) {
	p := model.Payload{}
	_, ok := p.Consent()
	require.False(t, ok)

	now := time.Now().UTC().Truncate(time.Second)
	p.SetConsent(model.Consent{Accepted: true, Version: "1", AcceptedAt: &now, AgeConfirmed: true})
	c, ok := p.Consent()
	require.True(t, ok)
	require.True(t, c.Accepted)
	require.True(t, c.AgeConfirmed)
	require.True(t, now.Equal(*c.AcceptedAt))
}
