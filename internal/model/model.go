package model

import (
	"encoding/json"
	"time"
)

// CanonicalVersion is the only document version the store reads as canonical and the
// only one it writes.
const CanonicalVersion = "2.0"

// DocumentType distinguishes character documents from the singleton user document.
type DocumentType string

const (
	DocumentCharacter DocumentType = "character"
	DocumentUser      DocumentType = "user"
)

// Payload is the free-form body of a document. Unknown keys are carried through every
// read-merge-write unchanged.
type Payload map[string]any

// Document is the canonical on-disk profile shape.
type Document struct {
	Version string       `json:"version"`
	Type    DocumentType `json:"type"`
	Payload Payload      `json:"payload"`
}

// NewDocument returns a canonical document of the given type. A nil payload becomes empty.
func NewDocument(t DocumentType, p Payload) *Document {
	if p == nil {
		p = Payload{}
	}
	return &Document{Version: CanonicalVersion, Type: t, Payload: p}
}

// Clone returns a deep copy of p.
func (p Payload) Clone() Payload {
	if p == nil {
		return nil
	}
	out := make(Payload, len(p))
	for k, v := range p {
		out[k] = cloneValue(v)
	}
	return out
}

func cloneValue(v any) any {
	switch t := v.(type) {
	case map[string]any:
		return map[string]any(Payload(t).Clone())
	case Payload:
		return t.Clone()
	case []any:
		out := make([]any, len(t))
		for i, e := range t {
			out[i] = cloneValue(e)
		}
		return out
	default:
		return v
	}
}

// Map returns the nested object stored under key, or nil when absent or not an object.
func (p Payload) Map(key string) map[string]any {
	switch m := p[key].(type) {
	case map[string]any:
		return m
	case Payload:
		return m
	}
	return nil
}

// String returns the string stored under key, or "" when absent or not a string.
func (p Payload) String(key string) string {
	s, _ := p[key].(string)
	return s
}

// Favorite is a message a user pinned on a character. Keys the struct does not name are
// kept in Extra and written back unchanged.
type Favorite struct {
	ID         string         `json:"id"`
	Text       string         `json:"text"`
	SenderName string         `json:"senderName"`
	Timestamp  time.Time      `json:"timestamp"`
	Emotion    string         `json:"emotion,omitempty"`
	Sentiment  string         `json:"sentiment,omitempty"`
	Extra      map[string]any `json:"-"`
}

// UnmarshalJSON accepts an RFC 3339 string or a Unix epoch number (seconds or
// milliseconds) for the timestamp. A timestamp in any other form stays in Extra.
func (f *Favorite) UnmarshalJSON(data []byte) error {
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		return err
	}
	*f = FavoriteFromMap(m)
	return nil
}

// MarshalJSON writes the named fields over the extra keys.
func (f Favorite) MarshalJSON() ([]byte, error) {
	return json.Marshal(f.Map())
}

// FavoriteFromMap decodes one stored favorite entry without dropping any key.
func FavoriteFromMap(m map[string]any) Favorite {
	var f Favorite
	for k, v := range m {
		switch k {
		case "id":
			if s, ok := v.(string); ok {
				f.ID = s
				continue
			}
		case "text":
			if s, ok := v.(string); ok {
				f.Text = s
				continue
			}
		case "senderName":
			if s, ok := v.(string); ok {
				f.SenderName = s
				continue
			}
		case "emotion":
			if s, ok := v.(string); ok {
				f.Emotion = s
				continue
			}
		case "sentiment":
			if s, ok := v.(string); ok {
				f.Sentiment = s
				continue
			}
		case "timestamp":
			if ts, ok := parseTimestamp(v); ok {
				f.Timestamp = ts
				continue
			}
		}
		if f.Extra == nil {
			f.Extra = map[string]any{}
		}
		f.Extra[k] = v
	}
	return f
}

func parseTimestamp(v any) (time.Time, bool) {
	switch t := v.(type) {
	case string:
		ts, err := time.Parse(time.RFC3339Nano, t)
		return ts, err == nil
	case float64:
		if t >= 1e11 {
			return time.UnixMilli(int64(t)).UTC(), true
		}
		return time.Unix(int64(t), 0).UTC(), true
	case json.Number:
		n, err := t.Int64()
		if err != nil {
			return time.Time{}, false
		}
		return parseTimestamp(float64(n))
	}
	return time.Time{}, false
}

// Map returns the generic JSON form of f, extra keys included. A named field left at
// its zero value does not hide an extra key of the same name.
func (f Favorite) Map() map[string]any {
	m := make(map[string]any, len(f.Extra)+6)
	for k, v := range f.Extra {
		m[k] = v
	}
	set := func(k string, v any, zero bool) {
		if _, held := m[k]; !zero || !held {
			m[k] = v
		}
	}
	set("id", f.ID, f.ID == "")
	set("text", f.Text, f.Text == "")
	set("senderName", f.SenderName, f.SenderName == "")
	set("timestamp", f.Timestamp.Format(time.RFC3339Nano), f.Timestamp.IsZero())
	if f.Emotion != "" {
		m["emotion"] = f.Emotion
	}
	if f.Sentiment != "" {
		m["sentiment"] = f.Sentiment
	}
	return m
}

// FavoriteEntries returns the stored "favorites" list as is. A missing or malformed
// list reads as empty.
func (p Payload) FavoriteEntries() []any {
	list, _ := p["favorites"].([]any)
	return list
}

// FavoriteID returns the id of a stored favorite entry, or "" when it has none.
func FavoriteID(entry any) string {
	var id any
	switch m := entry.(type) {
	case map[string]any:
		id = m["id"]
	case Payload:
		id = m["id"]
	}
	s, _ := id.(string)
	return s
}

// Favorites decodes the "favorites" list of a character payload. Entries that are not
// objects are skipped.
func (p Payload) Favorites() ([]Favorite, error) {
	raw, ok := p["favorites"]
	if !ok || raw == nil {
		return []Favorite{}, nil
	}
	b, err := json.Marshal(raw)
	if err != nil {
		return nil, err
	}
	var entries []json.RawMessage
	if err := json.Unmarshal(b, &entries); err != nil {
		return nil, err
	}
	favorites := make([]Favorite, 0, len(entries))
	for _, e := range entries {
		var m map[string]any
		if err := json.Unmarshal(e, &m); err != nil || m == nil {
			continue
		}
		favorites = append(favorites, FavoriteFromMap(m))
	}
	return favorites, nil
}

// Consent records the user's acceptance of the terms.
type Consent struct {
	Accepted     bool       `json:"accepted"`
	Version      string     `json:"version,omitempty"`
	AcceptedAt   *time.Time `json:"acceptedAt,omitempty"`
	AgeConfirmed bool       `json:"ageConfirmed"`
}

// Consent decodes the "consent" sub-record of a user payload.
func (p Payload) Consent() (*Consent, bool) {
	m := p.Map("consent")
	if m == nil {
		return nil, false
	}
	b, err := json.Marshal(m)
	if err != nil {
		return nil, false
	}
	var c Consent
	if err := json.Unmarshal(b, &c); err != nil {
		return nil, false
	}
	return &c, true
}

// SetConsent stores c as the "consent" sub-record.
func (p Payload) SetConsent(c Consent) {
	b, _ := json.Marshal(c)
	var m map[string]any
	_ = json.Unmarshal(b, &m)
	p["consent"] = m
}
