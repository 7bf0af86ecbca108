package ldap

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testUserFields = FieldAttributeMapping{
	"username":   "uid",
	"first_name": "givenName",
	"last_name":  "sn",
	"email":      "mail",
}

func identifier(t *testing.T, fields LookupFields, args ...any) UserIdentifier {
	t.Helper()
	id, err := ResolveUserIdentifier(fields, true, args, nil)
	require.NoError(t, err)
	return id
}

func TestOpenLDAP_FormatUsername(t *testing.T) {
	dialect := OpenLDAP{SearchBase: "ou=people,dc=example,dc=com"}

	tests := []struct {
		name        string
		id          UserIdentifier
		fields      FieldAttributeMapping
		expected    string
		expectedErr error
	}{
		{
			name:     "single field",
			id:       identifier(t, LookupFields{"username"}, "alice"),
			fields:   testUserFields,
			expected: "uid=alice,ou=people,dc=example,dc=com",
		},
		{
			name:     "value sanitized",
			id:       identifier(t, LookupFields{"username"}, "al,ice"),
			fields:   testUserFields,
			expected: "uid=alice,ou=people,dc=example,dc=com",
		},
		{
			name:     "multiple fields in lookup order",
			id:       identifier(t, LookupFields{"username", "email"}, "alice", "alice@example.com"),
			fields:   testUserFields,
			expected: "uid=alice,mail=aliceexamplecom,ou=people,dc=example,dc=com",
		},
		{
			name:     "attribute name sanitized",
			id:       identifier(t, LookupFields{"username"}, "alice"),
			fields:   FieldAttributeMapping{"username": "u id"},
			expected: "uid=alice,ou=people,dc=example,dc=com",
		},
		{
			name:     "no fields",
			id:       NewUserIdentifier(nil, nil),
			fields:   testUserFields,
			expected: ",ou=people,dc=example,dc=com",
		},
		{
			name:        "unmapped field",
			id:          identifier(t, LookupFields{"nickname"}, "al"),
			fields:      testUserFields,
			expectedErr: ErrUnmappedField,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := dialect.FormatUsername(tt.id, tt.fields)

			if tt.expectedErr != nil {
				assert.ErrorIs(t, err, tt.expectedErr)
				assert.Empty(t, got)
				return
			}

			require.NoError(t, err)
			assert.Equal(t, tt.expected, got)
		})
	}
}

func TestActiveDirectory_FormatUsername(t *testing.T) {
	tests := []struct {
		name        string
		dialect     Dialect
		id          UserIdentifier
		expected    string
		expectedErr error
	}{
		{
			name:     "bare username",
			dialect:  ActiveDirectory{},
			id:       identifier(t, LookupFields{"username"}, "alice"),
			expected: "alice",
		},
		{
			name:     "username not sanitized",
			dialect:  ActiveDirectory{},
			id:       identifier(t, LookupFields{"username"}, "al,ice"),
			expected: "al,ice",
		},
		{
			name:     "down-level logon name",
			dialect:  ActiveDirectory{Domain: "EXAMPLE"},
			id:       identifier(t, LookupFields{"username"}, "alice"),
			expected: `EXAMPLE\alice`,
		},
		{
			name:     "extra fields ignored",
			dialect:  ActiveDirectory{},
			id:       identifier(t, LookupFields{"username", "email"}, "alice", "a@example.com"),
			expected: "alice",
		},
		{
			name:     "user principal name",
			dialect:  ActiveDirectoryPrincipal{Domain: "example.com"},
			id:       identifier(t, LookupFields{"username"}, "alice"),
			expected: "alice@example.com",
		},
		{
			name:     "principal already qualified",
			dialect:  ActiveDirectoryPrincipal{Domain: "example.com"},
			id:       identifier(t, LookupFields{"username"}, "alice@corp.example.com"),
			expected: "alice@corp.example.com",
		},
		{
			name:     "principal without domain",
			dialect:  ActiveDirectoryPrincipal{},
			id:       identifier(t, LookupFields{"username"}, "alice"),
			expected: "alice",
		},
		{
			name:        "missing username",
			dialect:     ActiveDirectory{},
			id:          identifier(t, LookupFields{"email"}, "a@example.com"),
			expectedErr: ErrMissingUsernameField,
		},
		{
			name:        "principal missing username",
			dialect:     ActiveDirectoryPrincipal{Domain: "example.com"},
			id:          identifier(t, LookupFields{"email"}, "a@example.com"),
			expectedErr: ErrMissingUsernameField,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := tt.dialect.FormatUsername(tt.id, testUserFields)

			if tt.expectedErr != nil {
				assert.ErrorIs(t, err, tt.expectedErr)
				assert.True(t, IsValidationError(err))
				return
			}

			require.NoError(t, err)
			assert.Equal(t, tt.expected, got)
		})
	}
}

func TestParseDialect(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected Dialect
		wantErr  bool
	}{
		{"default", "", OpenLDAP{SearchBase: "dc=example,dc=com"}, false},
		{"openldap", "openldap", OpenLDAP{SearchBase: "dc=example,dc=com"}, false},
		{"active directory", "Active_Directory", ActiveDirectory{Domain: "EXAMPLE"}, false},
		{"principal", "active_directory_principal", ActiveDirectoryPrincipal{Domain: "EXAMPLE"}, false},
		{"unknown", "novell", nil, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseDialect(tt.input, "dc=example,dc=com", "EXAMPLE")

			if tt.wantErr {
				assert.Error(t, err)
				assert.Contains(t, err.Error(), "novell")
				return
			}

			require.NoError(t, err)
			assert.Equal(t, tt.expected, got)
		})
	}
}

func TestFieldAttributeMapping_Attributes(t *testing.T) {
	mapping := FieldAttributeMapping{
		"username": "uid",
		"email":    "mail",
		"login":    "uid",
	}

	assert.Equal(t, []string{"mail", "uid"}, mapping.Attributes())
}

func TestCleanUserData(t *testing.T) {
	input := map[string]any{
		"username":   "alice",
		"first_name": "Alice",
		"password":   "plaintext",
	}

	cleaned := CleanUserData(input)

	assert.Equal(t, "alice", cleaned["username"])
	assert.Equal(t, "Alice", cleaned["first_name"])
	require.IsType(t, "", cleaned[PasswordField])
	assert.Equal(t, "!", cleaned[PasswordField].(string)[:1])

	// The input is not mutated.
	assert.Equal(t, "plaintext", input["password"])
	assert.Len(t, input, 3)

	empty := CleanUserData(nil)
	assert.Len(t, empty, 1)
	assert.Contains(t, empty, PasswordField)

	assert.NotEqual(t, cleaned[PasswordField], CleanUserData(input)[PasswordField])
}
