package codec

import (
	"strconv"
	"strings"

	"github.com/chirino/companion-service/internal/model"
)

// ParseLegacy parses the flat key=value text format. Each line is split on the first
// '='; literal "\n" in a value becomes a newline and "\\" a backslash. Blank lines,
// '#' comments and lines without '=' are skipped.
func ParseLegacy(text string) map[string]string {
	fields := make(map[string]string)
	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSuffix(line, "\r")
		trimmed := strings.TrimSpace(line)
		if trimmed == "" || strings.HasPrefix(trimmed, "#") {
			continue
		}
		key, value, ok := strings.Cut(line, "=")
		if !ok {
			continue
		}
		key = strings.TrimSpace(key)
		if key == "" {
			continue
		}
		fields[key] = unescape(value)
	}
	return fields
}

// unescape turns each literal \n into a newline. No other escape is recognized.
func unescape(s string) string {
	return strings.ReplaceAll(s, `\n`, "\n")
}

// legacy keys whose values are comma-separated lists
var legacyListKeys = map[string]bool{
	"avoidWords":      true,
	"majorLifeEvents": true,
}

// LegacyCharacter builds a canonical character payload from a legacy text document.
// Fields the text does not carry come from model.DefaultCharacterPayload.
func LegacyCharacter(name, text string) model.Payload {
	p := model.DefaultCharacterPayload(name)
	for k, v := range ParseLegacy(text) {
		switch {
		case k == "name":
			p["characterName"] = v
		case k == "favorites":
			// favorites were never stored in the text format
		default:
			p[k] = legacyValue(k, v)
		}
	}
	return p
}

// legacy user-settings keys that belong to the user identity rather than settings
var legacyUserKeys = map[string]bool{
	"userName":    true,
	"userGender":  true,
	"userSpecies": true,
	"timezone":    true,
	"backstory":   true,
}

// LegacyUser builds a canonical user payload from a legacy user-settings text document.
func LegacyUser(text string) model.Payload {
	p := model.DefaultUserPayload()
	user := p.Map("user")
	settings := p.Map("settings")
	for k, v := range ParseLegacy(text) {
		switch {
		case legacyUserKeys[k]:
			user[k] = v
		case k == "majorLifeEvents":
			p[k] = legacyValue(k, v)
		case k == "activeCharacter" || k == model.DefaultCharacterSetting:
			settings[model.DefaultCharacterSetting] = v
		default:
			settings[k] = legacyValue(k, v)
		}
	}
	return p
}

func legacyValue(key, v string) any {
	if legacyListKeys[key] {
		list := []any{}
		for _, item := range strings.Split(v, ",") {
			if item = strings.TrimSpace(item); item != "" {
				list = append(list, item)
			}
		}
		return list
	}
	switch v {
	case "true":
		return true
	case "false":
		return false
	}
	if key == "age" {
		if n, err := strconv.ParseFloat(v, 64); err == nil {
			return n
		}
	}
	return v
}
