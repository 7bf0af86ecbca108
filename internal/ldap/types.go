package ldap

import (
	"context"
	"crypto/tls"
	"time"

	"github.com/go-ldap/ldap/v3"
)

// ConnectionConfig holds configuration for directory connections.
type ConnectionConfig struct {
	// Server selection
	LDAPURLs []string // Direct LDAP URLs, tried in order
	Domain   string   // Domain for SRV discovery when no URLs are set

	// Timeouts
	ConnectTimeout time.Duration // Dial timeout
	ReceiveTimeout time.Duration // Per-request timeout

	// TLS settings
	TLSConfig *tls.Config
	StartTLS  bool // Upgrade plain ldap:// connections with StartTLS

	// Retry settings
	MaxRetries     int           // Maximum retry attempts
	InitialBackoff time.Duration // Initial backoff duration
	MaxBackoff     time.Duration // Maximum backoff duration
	BackoffFactor  float64       // Backoff multiplication factor

	// PageSize is the page size used by paged searches.
	PageSize uint32
}

// DefaultConfig returns a secure default configuration.
func DefaultConfig() *ConnectionConfig {
	return &ConnectionConfig{
		ConnectTimeout: 10 * time.Second,
		ReceiveTimeout: 30 * time.Second,
		MaxRetries:     3,
		InitialBackoff: 500 * time.Millisecond,
		MaxBackoff:     30 * time.Second,
		BackoffFactor:  2.0,
		PageSize:       1000,
		TLSConfig: &tls.Config{
			MinVersion: tls.VersionTLS12,
		},
	}
}

// ServerInfo contains information about an LDAP server.
type ServerInfo struct {
	Host     string
	Port     int
	UseTLS   bool
	Priority int
	Weight   int
	Source   string // "srv", "config", "fallback"
}

// Conn is a single bound or unbound directory connection. It is not safe for
// concurrent use; each login or sync opens its own.
type Conn interface {
	// Bind performs a simple bind.
	Bind(ctx context.Context, username, password string) error

	// KerberosBind performs a GSSAPI bind.
	KerberosBind(ctx context.Context, creds KerberosCredentials) error

	// Search performs a single, unpaged search.
	Search(ctx context.Context, req *SearchRequest) (*SearchResult, error)

	// SearchWithPaging performs a search using the paged results control and
	// returns all entries.
	SearchWithPaging(ctx context.Context, req *SearchRequest) (*SearchResult, error)

	// WhoAmI returns the authorization identity of the bound connection.
	WhoAmI(ctx context.Context) (*WhoAmIResult, error)

	Close() error
}

// SearchRequest encapsulates LDAP search parameters.
type SearchRequest struct {
	BaseDN     string
	Scope      SearchScope
	Filter     string
	Attributes []string
	SizeLimit  int
	TimeLimit  time.Duration
}

// SearchResult contains search results and metadata.
type SearchResult struct {
	Entries []*ldap.Entry
	Total   int
	HasMore bool
}

// WhoAmIResult is the parsed response of the "Who am I?" extended operation.
type WhoAmIResult struct {
	AuthzID string // Raw authorization identity, e.g. "dn:uid=alice,dc=example,dc=com"
	Format  string // "dn", "upn", "sam" or "unknown"
	Name    string // AuthzID without its "dn:" or "u:" prefix
}

// SearchScope is the extent of a search below its base DN.
type SearchScope int

const (
	ScopeBaseObject   = SearchScope(ldap.ScopeBaseObject)
	ScopeSingleLevel  = SearchScope(ldap.ScopeSingleLevel)
	ScopeWholeSubtree = SearchScope(ldap.ScopeWholeSubtree)
)

func (s SearchScope) String() string {
	if name, ok := ldap.ScopeMap[int(s)]; ok {
		return name
	}
	return "Unknown"
}

// RetryableError indicates an error that can be retried.
type RetryableError interface {
	error
	IsRetryable() bool
}

// ConnectionError represents connection-related errors.
type ConnectionError struct {
	message   string
	retryable bool
	cause     error
}

func (e *ConnectionError) Error() string {
	if e.cause != nil {
		return e.message + ": " + e.cause.Error()
	}
	return e.message
}

func (e *ConnectionError) IsRetryable() bool {
	return e.retryable
}

func (e *ConnectionError) Unwrap() error {
	return e.cause
}

// NewConnectionError creates a new connection error.
func NewConnectionError(message string, retryable bool, cause error) *ConnectionError {
	return &ConnectionError{
		message:   message,
		retryable: retryable,
		cause:     cause,
	}
}
