package ldap

import (
	"iter"
	"maps"
	"slices"
	"strings"
)

// LookupFields is the ordered list of local user field names that uniquely identify
// a user. Positional identifier arguments are matched to it by index.
type LookupFields []string

func (f LookupFields) String() string {
	return strings.Join(f, ", ")
}

// Set returns the distinct field names.
func (f LookupFields) Set() map[string]struct{} {
	set := make(map[string]struct{}, len(f))
	for _, field := range f {
		set[field] = struct{}{}
	}
	return set
}

// UserIdentifier maps local user field names to the values identifying one user.
// Field order is kept so that bind names and filters are built deterministically.
// The zero value is an empty identifier.
type UserIdentifier struct {
	fields []string
	values map[string]any
}

// NewUserIdentifier builds an identifier from values, ordered by fields. Keys of
// values missing from fields are appended in sorted order.
func NewUserIdentifier(fields []string, values map[string]any) UserIdentifier {
	id := UserIdentifier{values: make(map[string]any, len(values))}

	for _, field := range fields {
		id.add(field, values)
	}

	for _, field := range slices.Sorted(maps.Keys(values)) {
		id.add(field, values)
	}

	return id
}

// add appends field once, at its first position.
func (id *UserIdentifier) add(field string, values map[string]any) {
	value, ok := values[field]
	if !ok {
		return
	}
	if _, seen := id.values[field]; seen {
		return
	}
	id.fields = append(id.fields, field)
	id.values[field] = value
}

// Len returns the number of fields in the identifier.
func (id UserIdentifier) Len() int {
	return len(id.fields)
}

// IsEmpty reports whether the identifier has no fields.
func (id UserIdentifier) IsEmpty() bool {
	return len(id.fields) == 0
}

// Fields returns the identifier's field names in order.
func (id UserIdentifier) Fields() []string {
	return slices.Clone(id.fields)
}

// Get returns the value for field.
func (id UserIdentifier) Get(field string) (any, bool) {
	value, ok := id.values[field]
	return value, ok
}

// GetString returns the value for field rendered as text.
func (id UserIdentifier) GetString(field string) (string, bool) {
	value, ok := id.values[field]
	if !ok {
		return "", false
	}
	return stringValue(value), true
}

// All iterates over the identifier's fields and values in order.
func (id UserIdentifier) All() iter.Seq2[string, any] {
	return func(yield func(string, any) bool) {
		for _, field := range id.fields {
			if !yield(field, id.values[field]) {
				return
			}
		}
	}
}

// Map returns a copy of the identifier as a plain map.
func (id UserIdentifier) Map() map[string]any {
	out := make(map[string]any, len(id.values))
	maps.Copy(out, id.values)
	return out
}

func (id UserIdentifier) String() string {
	parts := make([]string, 0, len(id.fields))
	for field, value := range id.All() {
		parts = append(parts, field+"="+stringValue(value))
	}
	return strings.Join(parts, ",")
}

// ResolveUserIdentifier normalizes the two calling conventions for identifying a user
// into a single UserIdentifier.
//
// Positional args are paired with lookupFields by index and must match it in length.
// Keyword kwargs must name exactly the lookup fields, no more and no fewer. Mixing both
// conventions fails with ErrAmbiguousArguments. When neither is given the result is an
// empty identifier, or ErrArityMismatch if required is set.
//
// Values are carried through without type checks.
func ResolveUserIdentifier(lookupFields LookupFields, required bool, args []any, kwargs map[string]any) (UserIdentifier, error) {
	switch {
	case len(args) > 0 && len(kwargs) > 0:
		return UserIdentifier{}, ErrAmbiguousArguments

	case len(args) > 0:
		if len(args) != len(lookupFields) {
			return UserIdentifier{}, argumentError(ErrArityMismatch, lookupFields)
		}
		values := make(map[string]any, len(args))
		for i, field := range lookupFields {
			values[field] = args[i]
		}
		return NewUserIdentifier(lookupFields, values), nil

	case len(kwargs) > 0:
		if !sameFieldSet(lookupFields, kwargs) {
			return UserIdentifier{}, argumentError(ErrUnknownOrMissingFields, lookupFields)
		}
		return NewUserIdentifier(lookupFields, kwargs), nil

	case required:
		return UserIdentifier{}, argumentError(ErrArityMismatch, lookupFields)

	default:
		return UserIdentifier{}, nil
	}
}

func sameFieldSet(lookupFields LookupFields, kwargs map[string]any) bool {
	expected := lookupFields.Set()
	if len(expected) != len(kwargs) {
		return false
	}
	for field := range kwargs {
		if _, ok := expected[field]; !ok {
			return false
		}
	}
	return true
}

func argumentError(kind error, lookupFields LookupFields) *ArgumentError {
	return &ArgumentError{
		Kind:     kind,
		Expected: slices.Clone([]string(lookupFields)),
	}
}
