package ldap

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/go-ldap/ldap/v3/gssapi"
	krb5client "github.com/jcmturner/gokrb5/v8/client"
)

const defaultKrb5Config = "/etc/krb5.conf"

// ErrNoKerberosCredentials is returned when a GSSAPI bind has neither a credential
// cache, a keytab nor a password to authenticate with.
var ErrNoKerberosCredentials = errors.New("no Kerberos credentials configured")

// KerberosCredentials identify the principal of a GSSAPI bind.
type KerberosCredentials struct {
	Principal  string // "svc-ldapbridge" or "svc-ldapbridge@EXAMPLE.COM"
	Realm      string // Taken from Principal when empty
	Password   string
	Keytab     string
	CCache     string // Also read from KRB5CCNAME
	ConfigFile string // krb5.conf, defaults to /etc/krb5.conf
	SPN        string // Defaults to "ldap/<server host>"
}

// normalize splits the realm off the principal and fills defaults.
func (k KerberosCredentials) normalize() (KerberosCredentials, error) {
	if user, realm, ok := strings.Cut(k.Principal, "@"); ok {
		k.Principal = user
		if k.Realm == "" {
			k.Realm = realm
		}
	}
	if k.ConfigFile == "" {
		k.ConfigFile = defaultKrb5Config
	}
	if k.CCache == "" {
		k.CCache = strings.TrimPrefix(os.Getenv("KRB5CCNAME"), "FILE:")
	}

	switch {
	case k.Principal == "":
		return k, errors.New("kerberos principal is required")
	case k.Realm == "":
		return k, errors.New("kerberos realm is required (set it or use principal@REALM)")
	}

	if _, err := os.Stat(k.ConfigFile); err != nil {
		return k, fmt.Errorf("kerberos configuration %s: %w", k.ConfigFile, err)
	}
	return k, nil
}

// newGSSAPIClient builds a client from the credential cache, then the keytab, then
// the password, whichever is available first.
func newGSSAPIClient(k KerberosCredentials) (*gssapi.Client, error) {
	switch {
	case fileExists(k.CCache):
		return gssapi.NewClientFromCCache(k.CCache, k.ConfigFile, krb5client.DisablePAFXFAST(true))
	case fileExists(k.Keytab):
		return gssapi.NewClientWithKeytab(k.Principal, k.Realm, k.Keytab, k.ConfigFile, krb5client.DisablePAFXFAST(true))
	case k.Password != "":
		return gssapi.NewClientWithPassword(k.Principal, k.Realm, k.Password, k.ConfigFile, krb5client.DisablePAFXFAST(true))
	default:
		return nil, ErrNoKerberosCredentials
	}
}

// servicePrincipal returns the SPN of the directory service on server.
func servicePrincipal(k KerberosCredentials, server *ServerInfo) (string, error) {
	if k.SPN != "" {
		return k.SPN, nil
	}
	if server == nil || server.Host == "" {
		return "", errors.New("server host is required for the service principal")
	}
	return "ldap/" + server.Host, nil
}

// KerberosBind authenticates with a GSSAPI bind. Like simple binds it is not retried.
func (c *connection) KerberosBind(ctx context.Context, creds KerberosCredentials) error {
	ctx, span := c.tracer.Start(ctx, "ldap.KerberosBind")
	defer span.End()

	if err := ctx.Err(); err != nil {
		return err
	}

	creds, err := creds.normalize()
	if err != nil {
		recordSpanError(span, err)
		return fmt.Errorf("kerberos configuration error: %w", err)
	}

	spn, err := servicePrincipal(creds, c.server)
	if err != nil {
		recordSpanError(span, err)
		return err
	}

	client, err := newGSSAPIClient(creds)
	if err != nil {
		recordSpanError(span, err)
		return fmt.Errorf("failed to create GSSAPI client: %w", err)
	}
	defer func() {
		_ = client.DeleteSecContext()
	}()

	fields := map[string]any{
		"principal": creds.Principal + "@" + creds.Realm,
		"spn":       spn,
		"server":    ServerInfoToURL(c.server),
	}

	if err := c.conn.GSSAPIBind(client, spn, ""); err != nil {
		LogLDAPError(ctx, "gssapi_bind", err, fields)
		recordSpanError(span, err)
		return NewLDAPError("gssapi bind", err)
	}

	LogConnectionEvent(ctx, "authentication_success", fields)
	return nil
}

func fileExists(path string) bool {
	if path == "" {
		return false
	}
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}
