// Package users stores the local accounts that directory users are mirrored into.
package users

import (
	"errors"
	"fmt"
	"slices"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/isometry/ldapbridge/internal/password"
)

// Local user fields that can be set from directory attributes or used as lookups.
const (
	FieldUsername    = "username"
	FieldFirstName   = "first_name"
	FieldLastName    = "last_name"
	FieldEmail       = "email"
	FieldPassword    = "password"
	FieldIsActive    = "is_active"
	FieldIsStaff     = "is_staff"
	FieldIsSuperuser = "is_superuser"
)

var fieldNames = []string{
	FieldUsername,
	FieldFirstName,
	FieldLastName,
	FieldEmail,
	FieldPassword,
	FieldIsActive,
	FieldIsStaff,
	FieldIsSuperuser,
}

var (
	// ErrUnknownField is returned when a field name is not a local user field.
	ErrUnknownField = errors.New("unknown user field")

	// ErrFieldType is returned when a value cannot be stored in a field.
	ErrFieldType = errors.New("invalid value for user field")
)

// User is a local account.
type User struct {
	ID          uuid.UUID `json:"id"`
	Username    string    `json:"username"`
	FirstName   string    `json:"first_name"`
	LastName    string    `json:"last_name"`
	Email       string    `json:"email"`
	Password    string    `json:"-"`
	IsActive    bool      `json:"is_active"`
	IsStaff     bool      `json:"is_staff"`
	IsSuperuser bool      `json:"is_superuser"`
	DateJoined  time.Time `json:"date_joined"`
	LastSynced  time.Time `json:"last_synced,omitzero"`
}

// IsField reports whether name is a settable user field.
func IsField(name string) bool {
	return slices.Contains(fieldNames, name)
}

// Fields returns the settable user field names.
func Fields() []string {
	return slices.Clone(fieldNames)
}

// HasUsablePassword reports whether the user can log in with a local password.
// Users mirrored from the directory never can.
func (u *User) HasUsablePassword() bool {
	return password.IsUsable(u.Password)
}

// Clone returns a copy of u.
func (u *User) Clone() *User {
	c := *u
	return &c
}

// Field returns the value of a user field.
func (u *User) Field(name string) (any, error) {
	switch name {
	case FieldUsername:
		return u.Username, nil
	case FieldFirstName:
		return u.FirstName, nil
	case FieldLastName:
		return u.LastName, nil
	case FieldEmail:
		return u.Email, nil
	case FieldPassword:
		return u.Password, nil
	case FieldIsActive:
		return u.IsActive, nil
	case FieldIsStaff:
		return u.IsStaff, nil
	case FieldIsSuperuser:
		return u.IsSuperuser, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownField, name)
	}
}

// SetField assigns value to a user field. String fields accept any value with a
// textual form; boolean fields accept bools and strconv.ParseBool strings.
func (u *User) SetField(name string, value any) error {
	switch name {
	case FieldUsername:
		u.Username = stringValue(value)
	case FieldFirstName:
		u.FirstName = stringValue(value)
	case FieldLastName:
		u.LastName = stringValue(value)
	case FieldEmail:
		u.Email = stringValue(value)
	case FieldPassword:
		u.Password = stringValue(value)
	case FieldIsActive, FieldIsStaff, FieldIsSuperuser:
		b, err := boolValue(value)
		if err != nil {
			return fmt.Errorf("%w %q: %w", ErrFieldType, name, err)
		}
		switch name {
		case FieldIsActive:
			u.IsActive = b
		case FieldIsStaff:
			u.IsStaff = b
		default:
			u.IsSuperuser = b
		}
	default:
		return fmt.Errorf("%w: %q", ErrUnknownField, name)
	}
	return nil
}

// normalizeLookup converts lookup values to the types stored in their fields.
func normalizeLookup(lookup map[string]any) (map[string]any, error) {
	var probe User
	normalized := make(map[string]any, len(lookup))
	for name, value := range lookup {
		if err := probe.SetField(name, value); err != nil {
			return nil, err
		}
		normalized[name], _ = probe.Field(name)
	}
	return normalized, nil
}

func (u *User) matches(lookup map[string]any) bool {
	for name, want := range lookup {
		got, err := u.Field(name)
		if err != nil || got != want {
			return false
		}
	}
	return true
}

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

func boolValue(value any) (bool, error) {
	switch v := value.(type) {
	case bool:
		return v, nil
	case string:
		return strconv.ParseBool(v)
	default:
		return false, fmt.Errorf("unsupported type %T", value)
	}
}
