package ldap

import (
	"fmt"
	"strings"

	"github.com/go-ldap/ldap/v3"
)

// ObjectClassFilter returns the filter matching every entry of objectClass.
func ObjectClassFilter(objectClass string) string {
	return fmt.Sprintf("(objectClass=%s)", ldap.EscapeFilter(objectClass))
}

// FormatSearchFilters builds the filter that finds the single entry for id:
// "(&(objectClass=inetOrgPerson)(uid=alice))". Values are escaped with
// ldap.EscapeFilter; objectGUID values given as GUID strings are matched in their
// binary form.
func FormatSearchFilters(objectClass string, id UserIdentifier, fields FieldAttributeMapping) (string, error) {
	parts := []string{ObjectClassFilter(objectClass)}

	for field, value := range id.All() {
		attr, err := fields.Attribute(field)
		if err != nil {
			return "", err
		}
		parts = append(parts, fmt.Sprintf("(%s=%s)", attr, filterValue(attr, value)))
	}

	if len(parts) == 1 {
		return parts[0], nil
	}
	return "(&" + strings.Join(parts, "") + ")", nil
}

func filterValue(attr string, value any) string {
	text := stringValue(value)

	if strings.EqualFold(attr, AttributeObjectGUID) {
		if raw, err := EncodeGUID(text); err == nil {
			return ldap.EscapeFilter(string(raw))
		}
	}

	return ldap.EscapeFilter(text)
}
