package model

// DefaultCharacterPayload is the built-in character used when no stored field exists.
func DefaultCharacterPayload(name string) Payload {
	return Payload{
		"characterName": name,
		"gender":        "unknown",
		"species":       "Human",
		"age":           float64(25),
		"role":          "",
		"backstory":     "",
		"interests":     "",
		"boundaries":    "",
		"companionType": "friend",
		"avoidWords":    []any{},
		"favorites":     []any{},
	}
}

// DefaultUserPayload is the built-in user document created on first write.
func DefaultUserPayload() Payload {
	return Payload{
		"user": map[string]any{
			"userName":    "User",
			"userGender":  "non-binary",
			"userSpecies": "human",
			"timezone":    "UTC",
			"backstory":   "",
		},
		"preferences":     map[string]any{},
		"majorLifeEvents": []any{},
		"sharedMemory": map[string]any{
			"roleplayEvents": []any{},
		},
		"settings": map[string]any{
			"defaultCharacter": "",
		},
	}
}

// DefaultCharacterSetting is the settings key holding the active profile name.
const DefaultCharacterSetting = "defaultCharacter"
