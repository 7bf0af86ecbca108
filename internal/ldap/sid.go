package ldap

import (
	"fmt"
	"strings"

	"github.com/bwmarrin/go-objectsid"
)

// AttributeObjectSID holds an Active Directory security identifier in binary form.
const AttributeObjectSID = "objectSid"

// minSIDLength is the size of a SID with no sub-authorities.
const minSIDLength = 8

// DecodeSID converts a binary objectSid value to its S-1-5-21-... string form.
func DecodeSID(binarySID []byte) (string, error) {
	if len(binarySID) < minSIDLength {
		return "", fmt.Errorf("binary SID too short: %d bytes", len(binarySID))
	}

	subAuthorities := int(binarySID[1])
	if want := minSIDLength + 4*subAuthorities; len(binarySID) < want {
		return "", fmt.Errorf("binary SID truncated: %d sub-authorities need %d bytes, got %d",
			subAuthorities, want, len(binarySID))
	}

	return objectsid.Decode(binarySID).String(), nil
}

// IsSIDString reports whether s looks like a textual SID.
func IsSIDString(s string) bool {
	return len(s) >= 5 && strings.HasPrefix(s, "S-")
}
