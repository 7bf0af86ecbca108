// Package config loads ldapbridge settings from a YAML file and LDAPBRIDGE_*
// environment variables.
package config

import (
	"crypto/x509"
	"errors"
	"fmt"
	"maps"
	"os"
	"slices"
	"strings"
	"time"

	"github.com/creasty/defaults"
	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"

	"github.com/isometry/ldapbridge/internal/ldap"
	"github.com/isometry/ldapbridge/internal/users"
)

// EnvPrefix prefixes every environment variable read by Load.
const EnvPrefix = "LDAPBRIDGE"

// Settings is the complete ldapbridge configuration.
type Settings struct {
	// Directory servers
	URLs           []string      `mapstructure:"url"`
	Domain         string        `mapstructure:"domain"`
	UseTLS         bool          `mapstructure:"use_tls"`
	SkipTLSVerify  bool          `mapstructure:"skip_tls_verify"`
	TLSCACertFile  string        `mapstructure:"tls_ca_cert_file"`
	ConnectTimeout time.Duration `mapstructure:"connect_timeout" default:"10s"`
	ReceiveTimeout time.Duration `mapstructure:"receive_timeout" default:"30s"`
	MaxRetries     int           `mapstructure:"max_retries" default:"3"`
	InitialBackoff time.Duration `mapstructure:"initial_backoff" default:"500ms"`
	MaxBackoff     time.Duration `mapstructure:"max_backoff" default:"30s"`
	BackoffFactor  float64       `mapstructure:"backoff_factor" default:"2"`
	PageSize       uint32        `mapstructure:"page_size" default:"1000"`

	// User mapping
	SearchBase            string            `mapstructure:"search_base"`
	ObjectClass           string            `mapstructure:"object_class" default:"inetOrgPerson"`
	UserFields            map[string]string `mapstructure:"user_fields" default:"{\"username\":\"uid\",\"first_name\":\"givenName\",\"last_name\":\"sn\",\"email\":\"mail\"}"`
	LookupFields          []string          `mapstructure:"lookup_fields" default:"[\"username\"]"`
	Dialect               string            `mapstructure:"dialect" default:"openldap"`
	ActiveDirectoryDomain string            `mapstructure:"active_directory_domain"`

	// Service account used for sync, clean and attribute reads after login.
	ConnectionUsername string           `mapstructure:"connection_username"`
	ConnectionPassword string           `mapstructure:"connection_password"`
	ConnectionAuth     string           `mapstructure:"connection_auth" default:"simple"`
	Kerberos           KerberosSettings `mapstructure:"kerberos"`

	Database DatabaseSettings `mapstructure:"database"`
	HTTP     HTTPSettings     `mapstructure:"http"`
	Tracing  TracingSettings  `mapstructure:"tracing"`
	Log      LogSettings      `mapstructure:"log"`
}

// KerberosSettings configure the GSSAPI bind of the service account when
// connection_auth is "kerberos". connection_username is the principal.
type KerberosSettings struct {
	Realm  string `mapstructure:"realm"`
	Config string `mapstructure:"config"`
	Keytab string `mapstructure:"keytab"`
	CCache string `mapstructure:"ccache"`
	SPN    string `mapstructure:"spn"`
}

// DatabaseSettings selects the local user store.
type DatabaseSettings struct {
	Driver string `mapstructure:"driver" default:"sqlite"`
	DSN    string `mapstructure:"dsn" default:"ldapbridge.db"`
}

// HTTPSettings configures the login API.
type HTTPSettings struct {
	Listen        string `mapstructure:"listen" default:":8080"`
	SessionSecret string `mapstructure:"session_secret"`
	SecureCookies bool   `mapstructure:"secure_cookies"`
}

// TracingSettings selects the OpenTelemetry span exporter: "none", "stdout" or
// "otlp".
type TracingSettings struct {
	Exporter string `mapstructure:"exporter" default:"none"`
	Endpoint string `mapstructure:"endpoint"`
}

// LogSettings configures the root logger output.
type LogSettings struct {
	JSON bool `mapstructure:"json"`
}

// envKeys lists every key bound to an environment variable, e.g.
// "database.dsn" → LDAPBRIDGE_DATABASE_DSN.
var envKeys = []string{
	"url", "domain", "use_tls", "skip_tls_verify", "tls_ca_cert_file",
	"connect_timeout", "receive_timeout", "max_retries", "initial_backoff",
	"max_backoff", "backoff_factor", "page_size",
	"search_base", "object_class", "lookup_fields", "dialect", "active_directory_domain",
	"connection_username", "connection_password", "connection_auth",
	"kerberos.realm", "kerberos.config", "kerberos.keytab", "kerberos.ccache", "kerberos.spn",
	"database.driver", "database.dsn",
	"http.listen", "http.session_secret", "http.secure_cookies",
	"tracing.exporter", "tracing.endpoint",
	"log.json",
}

// Load reads settings from path and the environment. path may name a YAML file or
// a directory searched for ldapbridge.yaml; when empty the working directory is
// searched and a missing file is not an error. Defaults fill unset values and the
// result is validated.
func Load(path string) (*Settings, error) {
	v := viper.New()
	v.SetConfigType("yaml")

	explicitFile := false
	if info, err := os.Stat(path); err == nil && !info.IsDir() {
		v.SetConfigFile(path)
		explicitFile = true
	} else {
		if path == "" {
			path = "."
		}
		v.AddConfigPath(path)
		v.SetConfigName("ldapbridge")
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	for _, key := range envKeys {
		if err := v.BindEnv(key); err != nil {
			return nil, fmt.Errorf("failed to bind environment for %s: %w", key, err)
		}
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if explicitFile || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	settings := &Settings{}
	if err := defaults.Set(settings); err != nil {
		return nil, fmt.Errorf("failed to set default values: %w", err)
	}

	// Replace rather than merge default maps such as user_fields.
	if err := v.Unmarshal(settings, func(dc *mapstructure.DecoderConfig) { dc.ZeroFields = true }); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := settings.Validate(); err != nil {
		return nil, err
	}
	return settings, nil
}

// Validate checks the settings for consistency.
func (s *Settings) Validate() error {
	var errs []error

	if len(s.URLs) == 0 && s.Domain == "" {
		errs = append(errs, errors.New("either url or domain must be set"))
	}

	if err := ldap.ValidateDNSyntax(s.SearchBase); err != nil {
		errs = append(errs, fmt.Errorf("search_base: %w", err))
	}

	if s.ObjectClass == "" {
		errs = append(errs, errors.New("object_class must not be empty"))
	}

	if len(s.LookupFields) == 0 {
		errs = append(errs, errors.New("lookup_fields must not be empty"))
	}
	for _, field := range s.LookupFields {
		if _, ok := s.UserFields[field]; !ok {
			errs = append(errs, fmt.Errorf("lookup field %q has no user_fields mapping", field))
		}
	}

	for _, field := range slices.Sorted(maps.Keys(s.UserFields)) {
		if !users.IsField(field) {
			errs = append(errs, fmt.Errorf("user_fields: %q is not a user field (expected one of %s)",
				field, strings.Join(users.Fields(), ", ")))
		}
	}

	if _, err := s.ParseDialect(); err != nil {
		errs = append(errs, err)
	}

	switch s.ConnectionAuth {
	case "", "simple":
		if s.ConnectionUsername != "" && s.ConnectionPassword == "" {
			errs = append(errs, errors.New("connection_password must be set with connection_username"))
		}
	case "kerberos":
		if s.ConnectionUsername == "" {
			errs = append(errs, errors.New("connection_username must name the Kerberos principal"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown connection_auth %q (expected simple or kerberos)", s.ConnectionAuth))
	}

	switch s.Tracing.Exporter {
	case "", "none", "stdout", "otlp":
	default:
		errs = append(errs, fmt.Errorf("unknown tracing exporter %q", s.Tracing.Exporter))
	}

	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	return nil
}

// ParseDialect returns the configured directory dialect.
func (s *Settings) ParseDialect() (ldap.Dialect, error) {
	return ldap.ParseDialect(s.Dialect, s.SearchBase, s.ActiveDirectoryDomain)
}

// FieldMapping returns the local field to directory attribute mapping.
func (s *Settings) FieldMapping() ldap.FieldAttributeMapping {
	return ldap.FieldAttributeMapping(s.UserFields)
}

// DirectoryConfig returns where and how users are searched for.
func (s *Settings) DirectoryConfig() ldap.DirectoryConfig {
	return ldap.DirectoryConfig{
		SearchBase:  s.SearchBase,
		ObjectClass: s.ObjectClass,
		UserFields:  s.FieldMapping(),
		TimeLimit:   s.ReceiveTimeout,
	}
}

// KerberosCredentials returns the service account's GSSAPI credentials, or nil
// when it binds with a simple bind.
func (s *Settings) KerberosCredentials() *ldap.KerberosCredentials {
	if s.ConnectionAuth != "kerberos" {
		return nil
	}
	return &ldap.KerberosCredentials{
		Principal:  s.ConnectionUsername,
		Realm:      s.Kerberos.Realm,
		Password:   s.ConnectionPassword,
		Keytab:     s.Kerberos.Keytab,
		CCache:     s.Kerberos.CCache,
		ConfigFile: s.Kerberos.Config,
		SPN:        s.Kerberos.SPN,
	}
}

// ConnectionConfig builds the directory connection configuration.
func (s *Settings) ConnectionConfig() (*ldap.ConnectionConfig, error) {
	config := ldap.DefaultConfig()

	config.LDAPURLs = slices.Clone(s.URLs)
	config.Domain = s.Domain
	config.StartTLS = s.UseTLS
	config.ConnectTimeout = s.ConnectTimeout
	config.ReceiveTimeout = s.ReceiveTimeout
	config.MaxRetries = s.MaxRetries
	config.InitialBackoff = s.InitialBackoff
	config.MaxBackoff = s.MaxBackoff
	config.BackoffFactor = s.BackoffFactor
	config.PageSize = s.PageSize

	if s.SkipTLSVerify {
		config.TLSConfig.InsecureSkipVerify = true
	}

	if s.TLSCACertFile != "" {
		pem, err := os.ReadFile(s.TLSCACertFile)
		if err != nil {
			return nil, fmt.Errorf("failed to read CA certificate: %w", err)
		}
		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM(pem) {
			return nil, fmt.Errorf("no certificates found in %s", s.TLSCACertFile)
		}
		config.TLSConfig.RootCAs = pool
	}

	return config, nil
}
