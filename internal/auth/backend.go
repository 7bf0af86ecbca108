// Package auth authenticates users against the directory and mirrors them into
// local accounts.
package auth

import (
	"context"
	"errors"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/isometry/ldapbridge/internal/config"
	"github.com/isometry/ldapbridge/internal/ldap"
	"github.com/isometry/ldapbridge/internal/logging"
	"github.com/isometry/ldapbridge/internal/users"
)

const (
	tracerName   = "github.com/isometry/ldapbridge/internal/auth"
	logSubsystem = logging.SubsystemAuth
)

var (
	// ErrInvalidCredentials is returned when the directory rejects a login or the
	// bound user cannot be found.
	ErrInvalidCredentials = errors.New("invalid credentials")

	// ErrInactiveUser is returned when the directory accepts a login for a local user
	// that has been deactivated.
	ErrInactiveUser = errors.New("user is inactive")
)

// Dialer opens directory connections.
type Dialer interface {
	Dial(ctx context.Context) (ldap.Conn, error)
}

// Config holds the directory mapping used by a Backend.
type Config struct {
	LookupFields ldap.LookupFields
	Dialect      ldap.Dialect
	Directory    ldap.DirectoryConfig

	// Service account for sync, clean and lookups, and for reading attributes after
	// a login. Empty means reads use the logged-in user's bind, or an anonymous one.
	ConnectionUsername string
	ConnectionPassword string

	// Kerberos, when set, makes the service account bind with GSSAPI instead.
	Kerberos *ldap.KerberosCredentials
}

// ConfigFromSettings extracts the backend configuration from validated settings.
func ConfigFromSettings(settings *config.Settings) (Config, error) {
	dialect, err := settings.ParseDialect()
	if err != nil {
		return Config{}, err
	}

	return Config{
		LookupFields:       ldap.LookupFields(settings.LookupFields),
		Dialect:            dialect,
		Directory:          settings.DirectoryConfig(),
		ConnectionUsername: settings.ConnectionUsername,
		ConnectionPassword: settings.ConnectionPassword,
		Kerberos:           settings.KerberosCredentials(),
	}, nil
}

// Backend authenticates directory users and keeps their local accounts current.
type Backend struct {
	config Config
	dialer Dialer
	users  *users.Service
	tracer trace.Tracer
}

// NewBackend returns a Backend reading the directory through dialer and storing
// users through svc.
func NewBackend(config Config, dialer Dialer, svc *users.Service) *Backend {
	return &Backend{
		config: config,
		dialer: dialer,
		users:  svc,
		tracer: otel.Tracer(tracerName),
	}
}

// Users returns the local user service.
func (b *Backend) Users() *users.Service {
	return b.users
}

// LookupFields returns the fields that identify a user.
func (b *Backend) LookupFields() ldap.LookupFields {
	return b.config.LookupFields
}

// BindName returns the name the configured dialect binds with for the identifier
// given by args or kwargs.
func (b *Backend) BindName(args []any, kwargs map[string]any) (string, error) {
	id, err := ldap.ResolveUserIdentifier(b.config.LookupFields, true, args, kwargs)
	if err != nil {
		return "", err
	}
	return b.config.Dialect.FormatUsername(id, b.config.Directory.UserFields)
}

// Authenticate binds to the directory as the user identified by args or kwargs,
// then creates or updates the matching local user from the directory entry.
// Rejected credentials yield ErrInvalidCredentials; malformed identifiers yield the
// ldap argument errors.
func (b *Backend) Authenticate(ctx context.Context, password string, args []any, kwargs map[string]any) (*users.User, error) {
	ctx, span := b.tracer.Start(ctx, "auth.Authenticate")
	defer span.End()

	id, err := ldap.ResolveUserIdentifier(b.config.LookupFields, true, args, kwargs)
	if err != nil {
		recordSpanError(span, err)
		return nil, err
	}
	span.SetAttributes(attribute.String("auth.identifier", id.String()))

	// An empty password would be an unauthenticated bind, which servers accept.
	if password == "" {
		logging.SubsystemDebug(ctx, logSubsystem, "Rejected login with empty password", map[string]any{
			"identifier": id.String(),
		})
		return nil, ErrInvalidCredentials
	}

	bindName, err := b.config.Dialect.FormatUsername(id, b.config.Directory.UserFields)
	if err != nil {
		recordSpanError(span, err)
		return nil, err
	}

	conn, err := b.dialer.Dial(ctx)
	if err != nil {
		recordSpanError(span, err)
		return nil, fmt.Errorf("connecting to directory: %w", err)
	}
	defer conn.Close()

	if err := conn.Bind(ctx, bindName, password); err != nil {
		if ldap.IsAuthenticationError(err) {
			logging.SubsystemWarn(ctx, logSubsystem, "LDAP login failed", map[string]any{
				"identifier": id.String(),
				"bind_name":  bindName,
			})
			span.SetAttributes(attribute.Bool("auth.rejected", true))
			return nil, ErrInvalidCredentials
		}
		recordSpanError(span, err)
		return nil, fmt.Errorf("binding as %s: %w", bindName, err)
	}

	if err := b.bindServiceAccount(ctx, conn); err != nil {
		recordSpanError(span, err)
		return nil, err
	}

	entry, err := ldap.NewDirectory(conn, b.config.Directory).GetUser(ctx, id)
	if err != nil {
		if errors.Is(err, ldap.ErrUserNotFound) {
			logging.SubsystemWarn(ctx, logSubsystem, "LDAP user attributes empty", map[string]any{
				"identifier": id.String(),
			})
			return nil, ErrInvalidCredentials
		}
		recordSpanError(span, err)
		return nil, err
	}

	user, _, err := b.syncEntry(ctx, entry)
	if err != nil {
		recordSpanError(span, err)
		return nil, err
	}

	if !user.IsActive {
		logging.SubsystemWarn(ctx, logSubsystem, "Login for inactive user", map[string]any{
			"username": user.Username,
		})
		return nil, ErrInactiveUser
	}

	logging.SubsystemInfo(ctx, logSubsystem, "User authenticated", map[string]any{
		"username": user.Username,
		"dn":       entry.DN,
	})
	return user, nil
}

// LookupUser finds the directory user identified by args or kwargs and returns the
// synced local user. An empty identifier, or one matching no directory entry,
// yields (nil, nil).
func (b *Backend) LookupUser(ctx context.Context, args []any, kwargs map[string]any) (*users.User, error) {
	ctx, span := b.tracer.Start(ctx, "auth.LookupUser")
	defer span.End()

	id, err := ldap.ResolveUserIdentifier(b.config.LookupFields, false, args, kwargs)
	if err != nil {
		recordSpanError(span, err)
		return nil, err
	}
	if id.IsEmpty() {
		return nil, nil
	}

	conn, err := b.serviceConn(ctx)
	if err != nil {
		recordSpanError(span, err)
		return nil, err
	}
	defer conn.Close()

	entry, err := ldap.NewDirectory(conn, b.config.Directory).GetUser(ctx, id)
	if errors.Is(err, ldap.ErrUserNotFound) {
		logging.SubsystemDebug(ctx, logSubsystem, "Directory user not found", map[string]any{
			"identifier": id.String(),
		})
		return nil, nil
	}
	if err != nil {
		recordSpanError(span, err)
		return nil, err
	}

	user, _, err := b.syncEntry(ctx, entry)
	if err != nil {
		recordSpanError(span, err)
		return nil, err
	}
	return user, nil
}

// Promote makes the named local user staff and superuser.
func (b *Backend) Promote(ctx context.Context, username string) (*users.User, error) {
	return b.users.Promote(ctx, username)
}

// WhoAmI returns the identity the directory assigns to the service connection,
// or to the anonymous bind when no service account is configured.
func (b *Backend) WhoAmI(ctx context.Context) (*ldap.WhoAmIResult, error) {
	ctx, span := b.tracer.Start(ctx, "auth.WhoAmI")
	defer span.End()

	conn, err := b.serviceConn(ctx)
	if err != nil {
		recordSpanError(span, err)
		return nil, err
	}
	defer conn.Close()

	result, err := conn.WhoAmI(ctx)
	if err != nil {
		recordSpanError(span, err)
		return nil, err
	}
	return result, nil
}

// syncEntry stores the directory entry as a local user with an unusable password.
func (b *Backend) syncEntry(ctx context.Context, entry *ldap.UserEntry) (*users.User, bool, error) {
	data := ldap.CleanUserData(entry.Attributes)
	return b.users.UpdateOrCreate(ctx, b.config.LookupFields, data)
}

// serviceConn dials and binds as the service account when one is configured.
func (b *Backend) serviceConn(ctx context.Context) (ldap.Conn, error) {
	conn, err := b.dialer.Dial(ctx)
	if err != nil {
		return nil, fmt.Errorf("connecting to directory: %w", err)
	}

	if err := b.bindServiceAccount(ctx, conn); err != nil {
		_ = conn.Close()
		return nil, err
	}
	return conn, nil
}

func (b *Backend) bindServiceAccount(ctx context.Context, conn ldap.Conn) error {
	if b.config.Kerberos != nil {
		if err := conn.KerberosBind(ctx, *b.config.Kerberos); err != nil {
			return fmt.Errorf("binding as service principal %s: %w", b.config.Kerberos.Principal, err)
		}
		return nil
	}
	if b.config.ConnectionUsername == "" {
		return nil
	}
	if err := conn.Bind(ctx, b.config.ConnectionUsername, b.config.ConnectionPassword); err != nil {
		return fmt.Errorf("binding as service account %s: %w", b.config.ConnectionUsername, err)
	}
	return nil
}

func recordSpanError(span trace.Span, err error) {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
}
