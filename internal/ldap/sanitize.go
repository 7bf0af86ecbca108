package ldap

import (
	"fmt"
	"strings"
)

// CleanLDAPName transforms a name into a form that won't interfere with LDAP
// queries or DN construction.
//
// Every character outside [a-zA-Z0-9_-] is dropped; the remaining characters are
// kept in their original order. No escaping is attempted, so distinct inputs may
// collapse to the same output and names containing spaces, accents or punctuation
// lose those characters.
//
// Examples:
//   - "alice" → "alice"
//   - "al,ice" → "alice"
//   - "ou=people" → "oupeople"
//   - "José Núñez" → "JosNez"
func CleanLDAPName(name string) string {
	if name == "" {
		return name
	}

	var result strings.Builder
	result.Grow(len(name))

	for i := 0; i < len(name); i++ {
		if isLDAPNameByte(name[i]) {
			result.WriteByte(name[i])
		}
	}

	return result.String()
}

// cleanLDAPValue renders an identifier value as a string before cleaning it.
func cleanLDAPValue(value any) string {
	return CleanLDAPName(stringValue(value))
}

// isLDAPNameByte reports whether b is in the allowed set. Multi-byte UTF-8
// sequences never match, so non-ASCII runes are dropped as a whole.
func isLDAPNameByte(b byte) bool {
	switch {
	case b >= 'a' && b <= 'z':
		return true
	case b >= 'A' && b <= 'Z':
		return true
	case b >= '0' && b <= '9':
		return true
	case b == '_' || b == '-':
		return true
	default:
		return false
	}
}

// stringValue renders an arbitrary identifier value as text.
func stringValue(value any) string {
	switch v := value.(type) {
	case nil:
		return ""
	case string:
		return v
	case []byte:
		return string(v)
	case fmt.Stringer:
		return v.String()
	default:
		return fmt.Sprint(v)
	}
}
