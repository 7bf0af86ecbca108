package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.opentelemetry.io/otel/attribute"

	"github.com/isometry/ldapbridge/internal/ldap"
	"github.com/isometry/ldapbridge/internal/logging"
	"github.com/isometry/ldapbridge/internal/users"
)

// SyncResult counts the outcome of SyncUsers.
type SyncResult struct {
	Created int
	Updated int
	Skipped int
	Failed  int
}

// SyncUsers creates or updates a local user for every directory user. Entries with
// an empty lookup field are skipped and entries that cannot be stored are counted
// as failed; neither stops the sync. A failed or incomplete directory listing is
// returned as an error along with the counts so far.
func (b *Backend) SyncUsers(ctx context.Context) (SyncResult, error) {
	ctx, span := b.tracer.Start(ctx, "auth.SyncUsers")
	defer span.End()

	var result SyncResult

	conn, err := b.serviceConn(ctx)
	if err != nil {
		recordSpanError(span, err)
		return result, err
	}
	defer conn.Close()

	for entry, err := range ldap.NewDirectory(conn, b.config.Directory).IterUsers(ctx) {
		if err != nil {
			recordSpanError(span, err)
			return result, err
		}

		if missing := b.missingLookupFields(entry); len(missing) > 0 {
			logging.SubsystemWarn(ctx, logSubsystem, "Skipping directory user with empty lookup fields", map[string]any{
				"dn":     entry.DN,
				"fields": strings.Join(missing, ","),
			})
			result.Skipped++
			continue
		}

		_, created, err := b.syncEntry(ctx, entry)
		switch {
		case err != nil:
			logging.SubsystemError(ctx, logSubsystem, "Failed to sync directory user", map[string]any{
				"dn":    entry.DN,
				"error": err.Error(),
			})
			result.Failed++
		case created:
			result.Created++
		default:
			result.Updated++
		}
	}

	span.SetAttributes(
		attribute.Int("sync.created", result.Created),
		attribute.Int("sync.updated", result.Updated),
		attribute.Int("sync.skipped", result.Skipped),
		attribute.Int("sync.failed", result.Failed),
	)
	logging.SubsystemInfo(ctx, logSubsystem, "Directory sync complete", map[string]any{
		"created": result.Created,
		"updated": result.Updated,
		"skipped": result.Skipped,
		"failed":  result.Failed,
	})

	return result, nil
}

// CleanUsers deactivates, or with purge deletes, the directory-backed local users
// that no longer match a directory entry below the search base. The directory is
// listed in full first; nothing is changed when the listing fails or is incomplete.
func (b *Backend) CleanUsers(ctx context.Context, purge bool) (users.CleanResult, error) {
	ctx, span := b.tracer.Start(ctx, "auth.CleanUsers")
	defer span.End()
	span.SetAttributes(attribute.Bool("clean.purge", purge))

	present, err := b.directoryKeys(ctx)
	if err != nil {
		recordSpanError(span, err)
		return users.CleanResult{}, err
	}

	keep := func(_ context.Context, user *users.User) (bool, error) {
		key, err := b.userKey(user)
		if err != nil {
			return false, err
		}
		_, ok := present[key]
		return ok, nil
	}

	result, err := b.users.Clean(ctx, keep, purge)
	if err != nil {
		recordSpanError(span, err)
		return result, err
	}

	logging.SubsystemInfo(ctx, logSubsystem, "Local user clean complete", map[string]any{
		"checked":     result.Checked,
		"deactivated": result.Deactivated,
		"deleted":     result.Deleted,
		"purge":       purge,
	})
	return result, nil
}

// directoryKeys lists the lookup keys of every directory user below the search base.
func (b *Backend) directoryKeys(ctx context.Context) (map[string]struct{}, error) {
	conn, err := b.serviceConn(ctx)
	if err != nil {
		return nil, err
	}
	defer conn.Close()

	keys := make(map[string]struct{})
	for entry, err := range ldap.NewDirectory(conn, b.config.Directory).IterUsers(ctx) {
		if err != nil {
			if errors.Is(err, ldap.ErrIncompleteListing) {
				return nil, fmt.Errorf("refusing to clean users: %w", err)
			}
			return nil, err
		}

		inBase, err := ldap.IsDNChild(entry.DN, b.config.Directory.SearchBase)
		if err != nil || !inBase {
			logging.SubsystemDebug(ctx, logSubsystem, "Ignoring entry outside search base", map[string]any{
				"dn": entry.DN,
			})
			continue
		}

		keys[b.entryKey(entry)] = struct{}{}
	}
	return keys, nil
}

// entryKey and userKey render the lookup field values of a directory entry and a
// local user the same way, so they can be matched.
func (b *Backend) entryKey(entry *ldap.UserEntry) string {
	values := make([]any, 0, len(b.config.LookupFields))
	for _, field := range b.config.LookupFields {
		values = append(values, entry.Attributes[field])
	}
	return lookupKey(values)
}

func (b *Backend) userKey(user *users.User) (string, error) {
	values := make([]any, 0, len(b.config.LookupFields))
	for _, field := range b.config.LookupFields {
		value, err := user.Field(field)
		if err != nil {
			return "", err
		}
		values = append(values, value)
	}
	return lookupKey(values), nil
}

// lookupKey joins values with NUL, which neither directory attributes nor local
// fields can contain.
func lookupKey(values []any) string {
	parts := make([]string, len(values))
	for i, value := range values {
		if value != nil {
			parts[i] = fmt.Sprint(value)
		}
	}
	return strings.Join(parts, "\x00")
}

func (b *Backend) missingLookupFields(entry *ldap.UserEntry) []string {
	var missing []string
	for _, field := range b.config.LookupFields {
		if v, ok := entry.Attributes[field]; !ok || v == "" {
			missing = append(missing, field)
		}
	}
	return missing
}
