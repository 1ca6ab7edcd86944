// Package codec translates between on-disk profile bytes and model.Document, and merges
// partial updates into canonical payloads.
package codec

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/chirino/companion-service/internal/model"
)

// ErrNotCanonical reports JSON that parsed but is not a canonical document of the
// requested type. Callers treat it as absent.
var ErrNotCanonical = errors.New("not a canonical document")

// Decode parses raw as a canonical document of type want.
func Decode(raw []byte, want model.DocumentType) (*model.Document, error) {
	var doc model.Document
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("codec: %w", err)
	}
	if doc.Version != model.CanonicalVersion {
		return nil, fmt.Errorf("%w: version %q", ErrNotCanonical, doc.Version)
	}
	if doc.Type != want {
		return nil, fmt.Errorf("%w: type %q, want %q", ErrNotCanonical, doc.Type, want)
	}
	if doc.Payload == nil {
		doc.Payload = model.Payload{}
	}
	return &doc, nil
}

// Encode serializes doc as indented canonical JSON. The version is always written as
// model.CanonicalVersion.
func Encode(doc *model.Document) ([]byte, error) {
	out := model.Document{
		Version: model.CanonicalVersion,
		Type:    doc.Type,
		Payload: doc.Payload,
	}
	if out.Payload == nil {
		out.Payload = model.Payload{}
	}
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	if err := enc.Encode(out); err != nil {
		return nil, fmt.Errorf("codec: encode %s document: %w", doc.Type, err)
	}
	return buf.Bytes(), nil
}
