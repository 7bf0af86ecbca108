package ldap

import (
	"strings"

	"github.com/go-ldap/ldap/v3"
)

// UserEntry is a user read from the directory, with its attributes already mapped
// to local field names.
type UserEntry struct {
	DN         string
	Attributes map[string]any
}

// Username returns the mapped "username" attribute.
func (e *UserEntry) Username() string {
	if e == nil {
		return ""
	}
	return stringValue(e.Attributes[UsernameField])
}

// AttributesFromEntry maps entry attributes to local user fields, matching attribute
// names case-insensitively. Each field gets the first value of its attribute, or ""
// when the entry lacks it. Binary objectSid and objectGUID values are decoded to
// their string forms.
func AttributesFromEntry(entry *ldap.Entry, fields FieldAttributeMapping) map[string]any {
	attrs := make(map[string]any, len(fields))

	for field, attr := range fields {
		attrs[field] = entryAttributeValue(entry, attr)
	}

	return attrs
}

// NewUserEntry converts a search result entry into a UserEntry.
func NewUserEntry(entry *ldap.Entry, fields FieldAttributeMapping) *UserEntry {
	return &UserEntry{
		DN:         entry.DN,
		Attributes: AttributesFromEntry(entry, fields),
	}
}

func entryAttributeValue(entry *ldap.Entry, attr string) string {
	if entry == nil {
		return ""
	}

	switch {
	case strings.EqualFold(attr, AttributeObjectSID):
		raw := entry.GetEqualFoldRawAttributeValue(attr)
		if sid, err := DecodeSID(raw); err == nil {
			return sid
		}
		// Already textual, e.g. from a directory proxy.
		if IsSIDString(string(raw)) {
			return string(raw)
		}
		return ""

	case strings.EqualFold(attr, AttributeObjectGUID):
		raw := entry.GetEqualFoldRawAttributeValue(attr)
		if guid, err := DecodeGUID(raw); err == nil {
			return guid
		}
		return ""
	}

	return entry.GetEqualFoldAttributeValue(attr)
}
