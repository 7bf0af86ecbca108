package ldap

import (
	"testing"

	"github.com/go-ldap/ldap/v3"
	"github.com/stretchr/testify/assert"
)

func TestAttributesFromEntry(t *testing.T) {
	tests := []struct {
		name     string
		entry    *ldap.Entry
		fields   FieldAttributeMapping
		expected map[string]any
	}{
		{
			name: "first value of each attribute",
			entry: ldap.NewEntry("uid=alice,ou=people,dc=example,dc=com", map[string][]string{
				"uid":       {"alice"},
				"givenName": {"Alice"},
				"sn":        {"Liddell"},
				"mail":      {"alice@example.com", "al@example.com"},
			}),
			fields: testUserFields,
			expected: map[string]any{
				"username":   "alice",
				"first_name": "Alice",
				"last_name":  "Liddell",
				"email":      "alice@example.com",
			},
		},
		{
			name: "attribute names match case-insensitively",
			entry: ldap.NewEntry("cn=bob,dc=example,dc=com", map[string][]string{
				"UID":       {"bob"},
				"GIVENNAME": {"Bob"},
			}),
			fields: FieldAttributeMapping{"username": "uid", "first_name": "givenName"},
			expected: map[string]any{
				"username":   "bob",
				"first_name": "Bob",
			},
		},
		{
			name:  "missing attributes become empty strings",
			entry: ldap.NewEntry("uid=carol,dc=example,dc=com", map[string][]string{"uid": {"carol"}}),
			fields: FieldAttributeMapping{
				"username": "uid",
				"email":    "mail",
			},
			expected: map[string]any{
				"username": "carol",
				"email":    "",
			},
		},
		{
			name: "binary identifiers decoded",
			entry: ldap.NewEntry("CN=Dave,DC=example,DC=com", map[string][]string{
				"objectSid":  {string(testSIDBytes)},
				"objectGUID": {string(testGUIDBytes)},
			}),
			fields: FieldAttributeMapping{
				"sid":  "objectSid",
				"guid": "objectGUID",
			},
			expected: map[string]any{
				"sid":  "S-1-5-21-3623763143-3361069436-30300820-1013",
				"guid": "2b5a2ec8-6d45-4a1e-9f0c-8d1a0c3b4e5f",
			},
		},
		{
			name: "textual sid passed through",
			entry: ldap.NewEntry("CN=Eve,DC=example,DC=com", map[string][]string{
				"objectSid": {"S-1-5-21-1-2-3-500"},
			}),
			fields:   FieldAttributeMapping{"sid": "objectSid"},
			expected: map[string]any{"sid": "S-1-5-21-1-2-3-500"},
		},
		{
			name:     "nil entry",
			fields:   FieldAttributeMapping{"username": "uid"},
			expected: map[string]any{"username": ""},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, AttributesFromEntry(tt.entry, tt.fields))
		})
	}
}

func TestNewUserEntry(t *testing.T) {
	entry := ldap.NewEntry("uid=alice,ou=people,dc=example,dc=com", map[string][]string{"uid": {"alice"}})

	user := NewUserEntry(entry, FieldAttributeMapping{"username": "uid"})
	assert.Equal(t, "uid=alice,ou=people,dc=example,dc=com", user.DN)
	assert.Equal(t, "alice", user.Username())

	var missing *UserEntry
	assert.Equal(t, "", missing.Username())
}
