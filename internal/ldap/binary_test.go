package ldap

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// S-1-5-21-3623763143-3361069436-30300820-1013
var testSIDBytes = []byte{
	0x01, 0x05, 0x00, 0x00, 0x00, 0x00, 0x00, 0x05,
	0x15, 0x00, 0x00, 0x00,
	0xc7, 0x3c, 0xfe, 0xd7,
	0x7c, 0xd9, 0x55, 0xc8,
	0x94, 0x5a, 0xce, 0x01,
	0xf5, 0x03, 0x00, 0x00,
}

// 2b5a2ec8-6d45-4a1e-9f0c-8d1a0c3b4e5f stored mixed-endian.
var testGUIDBytes = []byte{
	0xc8, 0x2e, 0x5a, 0x2b,
	0x45, 0x6d,
	0x1e, 0x4a,
	0x9f, 0x0c, 0x8d, 0x1a, 0x0c, 0x3b, 0x4e, 0x5f,
}

func TestDecodeSID(t *testing.T) {
	sid, err := DecodeSID(testSIDBytes)
	require.NoError(t, err)
	assert.Equal(t, "S-1-5-21-3623763143-3361069436-30300820-1013", sid)
	assert.True(t, IsSIDString(sid))

	_, err = DecodeSID(nil)
	assert.Error(t, err)

	_, err = DecodeSID(testSIDBytes[:20])
	assert.Error(t, err, "truncated sub-authorities")
}

func TestGUIDRoundTrip(t *testing.T) {
	guid, err := DecodeGUID(testGUIDBytes)
	require.NoError(t, err)
	assert.Equal(t, "2b5a2ec8-6d45-4a1e-9f0c-8d1a0c3b4e5f", guid)

	encoded, err := EncodeGUID("{2B5A2EC8-6D45-4A1E-9F0C-8D1A0C3B4E5F}")
	require.NoError(t, err)
	assert.Equal(t, testGUIDBytes, encoded)

	_, err = DecodeGUID(testGUIDBytes[:8])
	assert.Error(t, err)

	_, err = EncodeGUID("not-a-guid")
	assert.Error(t, err)
}

func TestIsSIDString(t *testing.T) {
	assert.True(t, IsSIDString("S-1-5-18"))
	assert.False(t, IsSIDString("alice"))
	assert.False(t, IsSIDString("S-1"))
}
