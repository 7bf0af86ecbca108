package ldap

import (
	"fmt"
	"maps"
	"slices"
	"strings"
)

// FieldAttributeMapping maps local user field names to directory attribute names,
// e.g. "username" → "uid".
type FieldAttributeMapping map[string]string

// Attribute returns the directory attribute mapped to field.
func (m FieldAttributeMapping) Attribute(field string) (string, error) {
	attr, ok := m[field]
	if !ok {
		return "", &FieldError{Kind: ErrUnmappedField, Field: field}
	}
	return attr, nil
}

// Attributes returns the mapped directory attribute names, ordered by local field
// name. Duplicate attributes are listed once.
func (m FieldAttributeMapping) Attributes() []string {
	attrs := make([]string, 0, len(m))
	seen := make(map[string]bool, len(m))
	for _, field := range slices.Sorted(maps.Keys(m)) {
		attr := m[field]
		if seen[attr] {
			continue
		}
		seen[attr] = true
		attrs = append(attrs, attr)
	}
	return attrs
}

// UsernameField is the local field that the Active Directory dialects bind with.
const UsernameField = "username"

// Supported dialect names, as accepted by ParseDialect.
const (
	DialectOpenLDAP                 = "openldap"
	DialectActiveDirectory          = "active_directory"
	DialectActiveDirectoryPrincipal = "active_directory_principal"
)

// Dialect converts a user identifier into the bind name the directory expects.
// Implementations are pure and safe for concurrent use.
type Dialect interface {
	// Name returns the configuration name of the dialect.
	Name() string

	// FormatUsername builds the bind name for id.
	FormatUsername(id UserIdentifier, fields FieldAttributeMapping) (string, error)

	dialect()
}

// OpenLDAP binds with a full DN built from the identifier fields, relative to
// SearchBase: "uid=alice,ou=people,dc=example,dc=com".
type OpenLDAP struct {
	SearchBase string
}

func (OpenLDAP) Name() string { return DialectOpenLDAP }

// FormatUsername maps each identifier field to its attribute and emits
// "attr=value" components in identifier order. Both sides are passed through
// CleanLDAPName; SearchBase is appended as-is.
func (d OpenLDAP) FormatUsername(id UserIdentifier, fields FieldAttributeMapping) (string, error) {
	components := make([]string, 0, id.Len())

	for field, value := range id.All() {
		attr, err := fields.Attribute(field)
		if err != nil {
			return "", err
		}
		components = append(components, CleanLDAPName(attr)+"="+cleanLDAPValue(value))
	}

	return strings.Join(components, ",") + "," + d.SearchBase, nil
}

func (OpenLDAP) dialect() {}

// ActiveDirectory binds with the bare sAMAccountName, or "DOMAIN\username" when
// Domain is set. The username is not sanitized.
type ActiveDirectory struct {
	Domain string
}

func (ActiveDirectory) Name() string { return DialectActiveDirectory }

func (d ActiveDirectory) FormatUsername(id UserIdentifier, _ FieldAttributeMapping) (string, error) {
	username, err := identifierUsername(id)
	if err != nil {
		return "", err
	}
	if d.Domain == "" {
		return username, nil
	}
	return d.Domain + `\` + username, nil
}

func (ActiveDirectory) dialect() {}

// ActiveDirectoryPrincipal binds with the user principal name "username@Domain".
type ActiveDirectoryPrincipal struct {
	Domain string
}

func (ActiveDirectoryPrincipal) Name() string { return DialectActiveDirectoryPrincipal }

func (d ActiveDirectoryPrincipal) FormatUsername(id UserIdentifier, _ FieldAttributeMapping) (string, error) {
	username, err := identifierUsername(id)
	if err != nil {
		return "", err
	}
	if d.Domain == "" || strings.Contains(username, "@") {
		return username, nil
	}
	return username + "@" + d.Domain, nil
}

func (ActiveDirectoryPrincipal) dialect() {}

func identifierUsername(id UserIdentifier) (string, error) {
	username, ok := id.GetString(UsernameField)
	if !ok {
		return "", &FieldError{Kind: ErrMissingUsernameField, Field: UsernameField}
	}
	return username, nil
}

// ParseDialect returns the dialect registered under name. searchBase is used by
// OpenLDAP and domain by the Active Directory dialects.
func ParseDialect(name, searchBase, domain string) (Dialect, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", DialectOpenLDAP:
		return OpenLDAP{SearchBase: searchBase}, nil
	case DialectActiveDirectory:
		return ActiveDirectory{Domain: domain}, nil
	case DialectActiveDirectoryPrincipal:
		return ActiveDirectoryPrincipal{Domain: domain}, nil
	default:
		return nil, fmt.Errorf("unknown directory dialect %q (expected %s, %s or %s)",
			name, DialectOpenLDAP, DialectActiveDirectory, DialectActiveDirectoryPrincipal)
	}
}
