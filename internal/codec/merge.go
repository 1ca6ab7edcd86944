package codec

import "github.com/chirino/companion-service/internal/model"

// MergeCharacter overlays the top-level keys present in update onto existing. An
// existing favorites list always wins; favorites change only through the favorites
// operations.
func MergeCharacter(existing, update model.Payload) model.Payload {
	out := existing.Clone()
	if out == nil {
		out = model.Payload{}
	}
	_, hadFavorites := out["favorites"]
	for k, v := range update.Clone() {
		if k == "favorites" && hadFavorites {
			continue
		}
		out[k] = v
	}
	if _, ok := out["favorites"]; !ok {
		out["favorites"] = []any{}
	}
	return out
}

// user payload sections merged one level deep so omitted keys survive
var nestedUserSections = map[string]bool{
	"user":         true,
	"preferences":  true,
	"settings":     true,
	"sharedMemory": true,
	"consent":      true,
}

// MergeUser overlays update onto existing. The nested sections (user, preferences,
// settings, sharedMemory, consent) merge key by key.
func MergeUser(existing, update model.Payload) model.Payload {
	out := existing.Clone()
	if out == nil {
		out = model.Payload{}
	}
	for k, v := range update.Clone() {
		if nestedUserSections[k] {
			if prev := out.Map(k); prev != nil {
				if next, ok := asObject(v); ok {
					for nk, nv := range next {
						prev[nk] = nv
					}
					continue
				}
			}
		}
		out[k] = v
	}
	return out
}

func asObject(v any) (map[string]any, bool) {
	switch m := v.(type) {
	case map[string]any:
		return m, true
	case model.Payload:
		return m, true
	}
	return nil, false
}
