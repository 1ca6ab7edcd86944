package codec_test

import (
	"errors"
	"testing"

	"github.com/chirino/companion-service/internal/codec"
	"github.com/chirino/companion-service/internal/model"
	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/require"
)

func TestDecodeCanonical(t *testing.T) {
	doc, err := codec.Decode([]byte(`{"version":"2.0","type":"character","payload":{"characterName":"Nova"}}`), model.DocumentCharacter)
	require.NoError(t, err)
	require.Equal(t, "Nova", doc.Payload.String("characterName"))
}

func TestDecodeRejectsNonCanonical(t *testing.T) {
	cases := map[string]string{
		"missing version": `{"type":"character","payload":{}}`,
		"old version":     `{"version":"1.0","type":"character","payload":{}}`,
		"wrong type":      `{"version":"2.0","type":"user","payload":{}}`,
	}
	for name, raw := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := codec.Decode([]byte(raw), model.DocumentCharacter)
			require.True(t, errors.Is(err, codec.ErrNotCanonical), err)
		})
	}

	_, err := codec.Decode([]byte("name=Nova"), model.DocumentCharacter)
	require.Error(t, err)
	require.False(t, errors.Is(err, codec.ErrNotCanonical))
}

func TestEncodeAlwaysCanonical(t *testing.T) {
	raw, err := codec.Encode(&model.Document{Version: "1.0", Type: model.DocumentUser})
	require.NoError(t, err)

	doc, err := codec.Decode(raw, model.DocumentUser)
	require.NoError(t, err)
	require.Equal(t, model.CanonicalVersion, doc.Version)
	require.NotNil(t, doc.Payload)
}

func TestParseLegacyUnescapesNewlines(t *testing.T) {
	fields := codec.ParseLegacy("name=Nova\nbackstory=Line one\\nLine two\\n\\nLine four\n# comment\n\ngarbage\npath=C:\\\\tmp\nequation=a=b\r\n")

	require.Equal(t, "Nova", fields["name"])
	require.Equal(t, "Line one\nLine two\n\nLine four", fields["backstory"])
	require.Equal(t, `C:\\tmp`, fields["path"])
	require.Equal(t, "a=b", fields["equation"])
	require.NotContains(t, fields, "garbage")
	require.Len(t, fields, 4)
}

func TestParseLegacyOnlyUnescapesNewlines(t *testing.T) {
	fields := codec.ParseLegacy(`quote=a\\nb` + "\n" + `tab=a\tb`)

	require.Equal(t, "a\\\nb", fields["quote"])
	require.Equal(t, `a\tb`, fields["tab"])
}

func TestLegacyCharacterFallsBackToDefaults(t *testing.T) {
	p := codec.LegacyCharacter("nova", "name=Nova\nage=31\navoidWords=darling, sweetie\nbackstory=Born on Mars\\nRaised on Earth")

	require.Equal(t, "Nova", p["characterName"])
	require.Equal(t, float64(31), p["age"])
	require.Equal(t, []any{"darling", "sweetie"}, p["avoidWords"])
	require.Equal(t, "Born on Mars\nRaised on Earth", p["backstory"])
	require.Equal(t, "Human", p["species"])
	require.Equal(t, []any{}, p["favorites"])
}

func TestLegacyUser(t *testing.T) {
	p := codec.LegacyUser("userName=Sam\nactiveCharacter=nova\ndarkMode=true")

	require.Equal(t, "Sam", p.Map("user")["userName"])
	require.Equal(t, "UTC", p.Map("user")["timezone"])
	require.Equal(t, "nova", p.Map("settings")[model.DefaultCharacterSetting])
	require.Equal(t, true, p.Map("settings")["darkMode"])
}

func TestMergeCharacterKeepsFavorites(t *testing.T) {
	existing := model.Payload{
		"characterName": "Nova",
		"role":          "pilot",
		"favorites":     []any{map[string]any{"id": "f1", "text": "hi"}},
		"custom":        "kept",
	}
	update := model.Payload{
		"role":      "captain",
		"favorites": []any{},
	}

	got := codec.MergeCharacter(existing, update)
	want := model.Payload{
		"characterName": "Nova",
		"role":          "captain",
		"favorites":     []any{map[string]any{"id": "f1", "text": "hi"}},
		"custom":        "kept",
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("merge mismatch (-want +got):\n%s", diff)
	}
	require.Equal(t, "pilot", existing["role"], "existing payload must not be mutated")
}

func TestMergeCharacterNewProfile(t *testing.T) {
	got := codec.MergeCharacter(nil, model.Payload{"characterName": "Astra"})
	require.Equal(t, []any{}, got["favorites"])
	require.Equal(t, "Astra", got["characterName"])
}

func TestMergeUserNestedSections(t *testing.T) {
	existing := model.DefaultUserPayload()
	existing.Map("settings")["darkMode"] = true
	existing["consent"] = map[string]any{"accepted": true, "version": "1"}

	got := codec.MergeUser(existing, model.Payload{
		"settings":        map[string]any{model.DefaultCharacterSetting: "nova"},
		"majorLifeEvents": []any{"moved"},
	})

	require.Equal(t, true, got.Map("settings")["darkMode"])
	require.Equal(t, "nova", got.Map("settings")[model.DefaultCharacterSetting])
	require.Equal(t, []any{"moved"}, got["majorLifeEvents"])
	require.Equal(t, true, got.Map("consent")["accepted"])
	require.Equal(t, "UTC", got.Map("user")["timezone"])
}
