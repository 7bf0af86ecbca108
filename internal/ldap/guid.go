package ldap

import (
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// AttributeObjectGUID holds an Active Directory object GUID in binary form.
const AttributeObjectGUID = "objectGUID"

const guidBytesLength = 16

// DecodeGUID converts a binary objectGUID value to its canonical string form.
// Active Directory stores the first three GUID fields little-endian.
func DecodeGUID(guidBytes []byte) (string, error) {
	if len(guidBytes) != guidBytesLength {
		return "", fmt.Errorf("invalid GUID byte length: expected %d, got %d", guidBytesLength, len(guidBytes))
	}

	id, err := uuid.FromBytes(swapGUIDEndianness(guidBytes))
	if err != nil {
		return "", fmt.Errorf("invalid GUID bytes: %w", err)
	}
	return id.String(), nil
}

// EncodeGUID converts a GUID string, with or without braces, to the binary form
// Active Directory stores.
func EncodeGUID(guid string) ([]byte, error) {
	id, err := uuid.Parse(strings.Trim(strings.TrimSpace(guid), "{}"))
	if err != nil {
		return nil, fmt.Errorf("invalid GUID %q: %w", guid, err)
	}
	return swapGUIDEndianness(id[:]), nil
}

// swapGUIDEndianness converts between RFC 4122 byte order and the mixed-endian
// Windows layout. The conversion is its own inverse.
func swapGUIDEndianness(b []byte) []byte {
	out := make([]byte, guidBytesLength)
	out[0], out[1], out[2], out[3] = b[3], b[2], b[1], b[0]
	out[4], out[5] = b[5], b[4]
	out[6], out[7] = b[7], b[6]
	copy(out[8:], b[8:])
	return out
}
