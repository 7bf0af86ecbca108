package ldap

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"time"

	"github.com/go-ldap/ldap/v3"

	"github.com/isometry/ldapbridge/internal/logging"
)

var (
	// ErrUserNotFound is returned when no directory entry matches an identifier.
	ErrUserNotFound = errors.New("user not found in directory")

	// ErrAmbiguousUser is returned when an identifier matches more than one entry.
	ErrAmbiguousUser = errors.New("identifier matches more than one directory user")

	// ErrIncompleteListing is yielded after the last entry when a listing was cut short.
	ErrIncompleteListing = errors.New("directory user listing is incomplete")
)

// DirectoryConfig describes where users live in the directory and how their
// attributes map to local fields.
type DirectoryConfig struct {
	SearchBase  string
	ObjectClass string
	UserFields  FieldAttributeMapping
	TimeLimit   time.Duration
}

// Directory reads users over one connection. Like the connection itself it is not
// safe for concurrent use.
type Directory struct {
	conn   Conn
	config DirectoryConfig
}

// NewDirectory returns a Directory reading through conn.
func NewDirectory(conn Conn, config DirectoryConfig) *Directory {
	return &Directory{conn: conn, config: config}
}

// IterUsers yields every entry of the configured object class below the search base.
// The paged search runs when iteration starts; a failure is yielded once as
// (nil, err). When the server or the page limits cut the listing short, the entries
// read are yielded followed by (nil, ErrIncompleteListing).
func (d *Directory) IterUsers(ctx context.Context) iter.Seq2[*UserEntry, error] {
	return func(yield func(*UserEntry, error) bool) {
		result, err := d.conn.SearchWithPaging(ctx, d.searchRequest(ObjectClassFilter(d.config.ObjectClass), 0))
		if err != nil {
			yield(nil, fmt.Errorf("listing directory users: %w", err))
			return
		}

		for _, entry := range result.Entries {
			if !yield(NewUserEntry(entry, d.config.UserFields), nil) {
				return
			}
		}

		if result.HasMore {
			logging.SubsystemWarn(ctx, logSubsystem, "Directory user listing is incomplete", map[string]any{
				"search_base": d.config.SearchBase,
				"entries":     result.Total,
			})
			yield(nil, ErrIncompleteListing)
		}
	}
}

// GetUser returns the single entry matching id.
func (d *Directory) GetUser(ctx context.Context, id UserIdentifier) (*UserEntry, error) {
	filter, err := FormatSearchFilters(d.config.ObjectClass, id, d.config.UserFields)
	if err != nil {
		return nil, err
	}

	result, err := d.conn.Search(ctx, d.searchRequest(filter, 1))
	if err != nil {
		if HasResultCode(err, ldap.LDAPResultSizeLimitExceeded) {
			return nil, fmt.Errorf("%w: %s", ErrAmbiguousUser, id)
		}
		return nil, fmt.Errorf("looking up user %s: %w", id, err)
	}

	if len(result.Entries) == 0 {
		logging.SubsystemDebug(ctx, logSubsystem, "LDAP user lookup failed", map[string]any{
			"filter":      filter,
			"search_base": d.config.SearchBase,
		})
		return nil, fmt.Errorf("%w: %s", ErrUserNotFound, id)
	}

	return NewUserEntry(result.Entries[0], d.config.UserFields), nil
}

// HasUser reports whether an entry matches id.
func (d *Directory) HasUser(ctx context.Context, id UserIdentifier) (bool, error) {
	_, err := d.GetUser(ctx, id)
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, ErrUserNotFound):
		return false, nil
	default:
		return false, err
	}
}

func (d *Directory) searchRequest(filter string, sizeLimit int) *SearchRequest {
	return &SearchRequest{
		BaseDN:     d.config.SearchBase,
		Scope:      ScopeWholeSubtree,
		Filter:     filter,
		Attributes: d.config.UserFields.Attributes(),
		SizeLimit:  sizeLimit,
		TimeLimit:  d.config.TimeLimit,
	}
}
