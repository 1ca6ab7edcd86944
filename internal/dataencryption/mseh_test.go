package dataencryption_test

import (
	"bytes"
	"testing"

	"github.com/chirino/companion-service/internal/dataencryption"
	"github.com/stretchr/testify/require"
)

// TestRoundTrip verifies that WriteHeader and ReadHeader are inverses.
func TestRoundTrip(t *testing.T) {
	headers := []dataencryption.Header{
		{Version: 1, ProviderID: "aesgcm", Nonce: make([]byte, 12), Salt: make([]byte, 16), KDFLogN: 15},
		{Version: 1, ProviderID: "xchacha", Nonce: bytes.Repeat([]byte{0xAB}, 24), Salt: bytes.Repeat([]byte{0x01}, 16), KDFLogN: 10},
	}
	for _, h := range headers {
		var buf bytes.Buffer
		require.NoError(t, dataencryption.WriteHeader(&buf, h))

		got, hasMagic, err := dataencryption.ReadHeader(&buf)
		require.NoError(t, err)
		require.True(t, hasMagic)
		require.Equal(t, h, *got)
	}
}

func TestHasMagic(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, dataencryption.WriteHeader(&buf, dataencryption.Header{
		Version: 1, ProviderID: "aesgcm", Nonce: make([]byte, 12),
	}))
	ciphertext := append(buf.Bytes(), []byte("payload")...)

	require.True(t, dataencryption.HasMagic(ciphertext))
	require.False(t, dataencryption.HasMagic([]byte("not MSEH")))
	require.False(t, dataencryption.HasMagic(nil))
	require.False(t, dataencryption.HasMagic([]byte{0x4D, 0x53})) // too short
}

// TestReadHeaderNoMagic verifies that ReadHeader returns (nil, false, nil) for non-MSEH data.
func TestReadHeaderNoMagic(t *testing.T) {
	h, hasMagic, err := dataencryption.ReadHeader(bytes.NewReader([]byte(`{"version":"2.0"}`)))
	require.NoError(t, err)
	require.False(t, hasMagic)
	require.Nil(t, h)
}

func TestReadHeaderTruncated(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, dataencryption.WriteHeader(&buf, dataencryption.Header{
		Version: 1, ProviderID: "aesgcm", Nonce: make([]byte, 12), Salt: make([]byte, 16), KDFLogN: 15,
	}))
	truncated := buf.Bytes()[:10]

	_, hasMagic, err := dataencryption.ReadHeader(bytes.NewReader(truncated))
	require.True(t, hasMagic)
	require.Error(t, err)
}

// TestWireFormat pins the header byte layout so envelopes written by older builds stay readable.
// Layout: [4 magic][varint proto_len][1: version][2: provider_id][3: nonce][4: salt][5: kdf_log_n]
func TestWireFormat(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, dataencryption.WriteHeader(&buf, dataencryption.Header{
		Version:    1,
		ProviderID: "aesgcm",
		Nonce:      make([]byte, 12),
		Salt:       bytes.Repeat([]byte{0xFF}, 16),
		KDFLogN:    15,
	}))
	b := buf.Bytes()

	require.Equal(t, []byte{0x4D, 0x53, 0x45, 0x48}, b[:4])

	protoLen := int(b[4]) // single-byte varint, header is small
	proto := b[5 : 5+protoLen]

	// Field 1: version=1
	require.Equal(t, []byte{0x08, 0x01}, proto[0:2])
	// Field 2: provider_id="aesgcm"
	require.Equal(t, []byte{0x12, 0x06}, proto[2:4])
	require.Equal(t, []byte("aesgcm"), proto[4:10])
	// Field 3: nonce (12 zero bytes)
	require.Equal(t, []byte{0x1A, 0x0C}, proto[10:12])
	require.Equal(t, make([]byte, 12), proto[12:24])
	// Field 4: salt (16 × 0xFF)
	require.Equal(t, []byte{0x22, 0x10}, proto[24:26])
	require.Equal(t, bytes.Repeat([]byte{0xFF}, 16), proto[26:42])
	// Field 5: kdf_log_n=15
	require.Equal(t, []byte{0x28, 0x0F}, proto[42:44])

	require.Equal(t, 44, protoLen)
}

func TestArmor(t *testing.T) {
	armored := dataencryption.Armor([]byte{0x4D, 0x53, 0x45, 0x48, 0x00})
	require.True(t, bytes.HasPrefix(armored, []byte("MSEH1:")))
	require.True(t, dataencryption.IsArmored(armored))
	require.True(t, dataencryption.IsArmored(append([]byte("\n  "), armored...)))

	raw, err := dataencryption.Dearmor(append(armored, '\n'))
	require.NoError(t, err)
	require.Equal(t, []byte{0x4D, 0x53, 0x45, 0x48, 0x00}, raw)

	_, err = dataencryption.Dearmor([]byte("MSEH1:***"))
	require.Error(t, err)
}

func TestIsArmoredNeverMatchesJSON(t *testing.T) {
	for _, content := range []string{
		`{"version":"2.0","type":"character","payload":{}}`,
		`  {"MSEH1:":"x"}`,
		`[]`,
		``,
		"name=Nova\nMSEH1:abc",
	} {
		require.False(t, dataencryption.IsArmored([]byte(content)), content)
	}
}
