package ldap

import (
	"maps"

	"github.com/isometry/ldapbridge/internal/password"
)

// PasswordField is the local user field that receives the unusable password.
const PasswordField = "password"

// CleanUserData prepares attributes read from the directory for storage on a local
// user. The result is a new map holding every input entry plus PasswordField set to
// an unusable password, so the local account can never be logged into with a local
// password. userData itself is left untouched.
func CleanUserData(userData map[string]any) map[string]any {
	cleaned := make(map[string]any, len(userData)+1)
	maps.Copy(cleaned, userData)
	cleaned[PasswordField] = password.Unusable()
	return cleaned
}
