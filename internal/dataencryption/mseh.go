// Package dataencryption provides the MSEH envelope format and the cipher Service
// used to protect profile documents at rest.
//
// Binary envelope:
//
//	[4 bytes: 0x4D 0x53 0x45 0x48]  "MSEH" magic
//	[varint32: header byte length]
//	[header, protobuf wire format]  version=1, provider_id=2, nonce=3, salt=4, kdf_log_n=5
//	[ciphertext bytes]
//
// Stored documents are UTF-8 text, so the binary envelope is armored as
// "MSEH1:" followed by its standard base64 encoding.
package dataencryption

import (
	"bytes"
	"encoding/base64"
	"fmt"
	"io"

	"google.golang.org/protobuf/encoding/protowire"
)

var magic = [4]byte{0x4D, 0x53, 0x45, 0x48} // "MSEH"

const armorPrefix = "MSEH1:"

const (
	fieldVersion    protowire.Number = 1
	fieldProviderID protowire.Number = 2
	fieldNonce      protowire.Number = 3
	fieldSalt       protowire.Number = 4
	fieldKDFLogN    protowire.Number = 5
)

// Header is the decoded MSEH envelope header.
type Header struct {
	Version    uint32
	ProviderID string
	Nonce      []byte
	Salt       []byte
	KDFLogN    uint32
}

// HasMagic reports whether b starts with the MSEH magic bytes.
func HasMagic(b []byte) bool {
	return len(b) >= 4 &&
		b[0] == magic[0] && b[1] == magic[1] && b[2] == magic[2] && b[3] == magic[3]
}

// IsArmored reports whether content is an armored envelope. JSON documents start
// with '{' (after optional whitespace) and can never match.
func IsArmored(content []byte) bool {
	return bytes.HasPrefix(bytes.TrimLeft(content, " \t\r\n"), []byte(armorPrefix))
}

// Armor encodes a binary envelope for storage in a text file.
func Armor(envelope []byte) []byte {
	out := make([]byte, len(armorPrefix)+base64.StdEncoding.EncodedLen(len(envelope)))
	copy(out, armorPrefix)
	base64.StdEncoding.Encode(out[len(armorPrefix):], envelope)
	return out
}

// Dearmor reverses Armor.
func Dearmor(content []byte) ([]byte, error) {
	trimmed := bytes.TrimSpace(content)
	if !bytes.HasPrefix(trimmed, []byte(armorPrefix)) {
		return nil, fmt.Errorf("mseh: missing %q armor", armorPrefix)
	}
	body := trimmed[len(armorPrefix):]
	out := make([]byte, base64.StdEncoding.DecodedLen(len(body)))
	n, err := base64.StdEncoding.Decode(out, body)
	if err != nil {
		return nil, fmt.Errorf("mseh: decoding armor: %w", err)
	}
	return out[:n], nil
}

// WriteHeader encodes h as an MSEH envelope prefix and writes it to w.
func WriteHeader(w io.Writer, h Header) error {
	headerBytes := marshalHeader(h)
	buf := make([]byte, 4+varintLen(uint32(len(headerBytes)))+len(headerBytes))
	copy(buf[:4], magic[:])
	n := putVarint32(buf[4:], uint32(len(headerBytes)))
	copy(buf[4+n:], headerBytes)
	_, err := w.Write(buf)
	return err
}

// ReadHeader reads the MSEH magic + varint + header fields from r.
// Returns (header, true, nil) on success, (nil, false, nil) if magic is absent,
// or (nil, true, err) on a read error after the magic has been confirmed present.
func ReadHeader(r io.Reader) (*Header, bool, error) {
	var mgc [4]byte
	if _, err := io.ReadFull(r, mgc[:]); err != nil {
		return nil, false, nil // too short to carry the magic
	}
	if mgc != magic {
		return nil, false, nil
	}
	headerLen, err := readVarint32(r)
	if err != nil {
		return nil, true, fmt.Errorf("mseh: reading header length: %w", err)
	}
	// Version + provider id + 24-byte nonce + 16-byte salt stays well under 128 bytes.
	const maxHeaderLen = 4096
	if headerLen > maxHeaderLen {
		return nil, true, fmt.Errorf("mseh: header length %d exceeds maximum %d", headerLen, maxHeaderLen)
	}
	headerBytes := make([]byte, headerLen)
	if _, err := io.ReadFull(r, headerBytes); err != nil {
		return nil, true, fmt.Errorf("mseh: reading header bytes: %w", err)
	}
	h, err := unmarshalHeader(headerBytes)
	if err != nil {
		return nil, true, err
	}
	return h, true, nil
}

func marshalHeader(h Header) []byte {
	var b []byte
	b = protowire.AppendTag(b, fieldVersion, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(h.Version))
	b = protowire.AppendTag(b, fieldProviderID, protowire.BytesType)
	b = protowire.AppendString(b, h.ProviderID)
	b = protowire.AppendTag(b, fieldNonce, protowire.BytesType)
	b = protowire.AppendBytes(b, h.Nonce)
	b = protowire.AppendTag(b, fieldSalt, protowire.BytesType)
	b = protowire.AppendBytes(b, h.Salt)
	b = protowire.AppendTag(b, fieldKDFLogN, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(h.KDFLogN))
	return b
}

func unmarshalHeader(b []byte) (*Header, error) {
	h := &Header{}
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return nil, fmt.Errorf("mseh: decoding header tag: %w", protowire.ParseError(n))
		}
		b = b[n:]
		switch {
		case num == fieldVersion && typ == protowire.VarintType:
			v, m := protowire.ConsumeVarint(b)
			if m < 0 {
				return nil, fmt.Errorf("mseh: decoding version: %w", protowire.ParseError(m))
			}
			h.Version = uint32(v)
			n = m
		case num == fieldProviderID && typ == protowire.BytesType:
			v, m := protowire.ConsumeString(b)
			if m < 0 {
				return nil, fmt.Errorf("mseh: decoding provider id: %w", protowire.ParseError(m))
			}
			h.ProviderID = v
			n = m
		case num == fieldNonce && typ == protowire.BytesType:
			v, m := protowire.ConsumeBytes(b)
			if m < 0 {
				return nil, fmt.Errorf("mseh: decoding nonce: %w", protowire.ParseError(m))
			}
			h.Nonce = append([]byte(nil), v...)
			n = m
		case num == fieldSalt && typ == protowire.BytesType:
			v, m := protowire.ConsumeBytes(b)
			if m < 0 {
				return nil, fmt.Errorf("mseh: decoding salt: %w", protowire.ParseError(m))
			}
			h.Salt = append([]byte(nil), v...)
			n = m
		case num == fieldKDFLogN && typ == protowire.VarintType:
			v, m := protowire.ConsumeVarint(b)
			if m < 0 {
				return nil, fmt.Errorf("mseh: decoding kdf cost: %w", protowire.ParseError(m))
			}
			h.KDFLogN = uint32(v)
			n = m
		default:
			n = protowire.ConsumeFieldValue(num, typ, b)
			if n < 0 {
				return nil, fmt.Errorf("mseh: skipping field %d: %w", num, protowire.ParseError(n))
			}
		}
		b = b[n:]
	}
	return h, nil
}

// ── varint32 helpers (outer MSEH framing only; header fields use protowire) ──

func putVarint32(b []byte, v uint32) int {
	n := 0
	for v >= 0x80 {
		b[n] = byte(v) | 0x80
		v >>= 7
		n++
	}
	b[n] = byte(v)
	return n + 1
}

func varintLen(v uint32) int {
	n := 1
	for v >= 0x80 {
		v >>= 7
		n++
	}
	return n
}

func readVarint32(r io.Reader) (uint32, error) {
	var v uint32
	var buf [1]byte
	for i := range 5 {
		if _, err := io.ReadFull(r, buf[:]); err != nil {
			return 0, err
		}
		v |= uint32(buf[0]&0x7F) << (7 * uint(i))
		if buf[0]&0x80 == 0 {
			return v, nil
		}
	}
	return 0, fmt.Errorf("mseh: varint32 overflow")
}
