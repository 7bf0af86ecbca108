package ldap

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/go-ldap/ldap/v3"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/isometry/ldapbridge/internal/logging"
)

const tracerName = "github.com/isometry/ldapbridge/internal/ldap"

// Paged searches stop after this many pages or this long, returning what they have
// with HasMore set.
const (
	maxPagesPerSearch = 1000
	maxSearchDuration = 30 * time.Minute
)

// ldapConn is the subset of *ldap.Conn used here.
type ldapConn interface {
	Bind(username, password string) error
	GSSAPIBind(client ldap.GSSAPIClient, servicePrincipal, authzid string) error
	Search(req *ldap.SearchRequest) (*ldap.SearchResult, error)
	WhoAmI(controls []ldap.Control) (*ldap.WhoAmIResult, error)
	StartTLS(config *tls.Config) error
	SetTimeout(timeout time.Duration)
	Close() error
}

type dialFunc func(ctx context.Context, url string, opts ...ldap.DialOpt) (ldapConn, error)

func dialURL(_ context.Context, url string, opts ...ldap.DialOpt) (ldapConn, error) {
	conn, err := ldap.DialURL(url, opts...)
	if err != nil {
		return nil, err
	}
	return conn, nil
}

// Dialer opens connections to the configured directory servers.
type Dialer struct {
	config    *ConnectionConfig
	discovery *SRVDiscovery
	dial      dialFunc
	tracer    trace.Tracer
}

// NewDialer validates config and returns a Dialer. A nil config uses DefaultConfig.
func NewDialer(config *ConnectionConfig) (*Dialer, error) {
	if config == nil {
		config = DefaultConfig()
	}

	if err := validateConfig(config); err != nil {
		return nil, fmt.Errorf("invalid connection configuration: %w", err)
	}

	return &Dialer{
		config:    config,
		discovery: NewSRVDiscovery(nil),
		dial:      dialURL,
		tracer:    otel.Tracer(tracerName),
	}, nil
}

func validateConfig(config *ConnectionConfig) error {
	switch {
	case len(config.LDAPURLs) == 0 && config.Domain == "":
		return errors.New("either domain or LDAP URLs must be specified")
	case config.ConnectTimeout <= 0:
		return errors.New("connect timeout must be positive")
	case config.MaxRetries < 0:
		return errors.New("max retries cannot be negative")
	case config.MaxRetries > 0 && config.BackoffFactor < 1.0:
		return errors.New("backoff factor must be at least 1.0")
	}

	for _, u := range config.LDAPURLs {
		if _, err := ParseLDAPURL(u); err != nil {
			return fmt.Errorf("invalid LDAP URL %s: %w", u, err)
		}
	}

	return nil
}

// Config returns the dialer's connection configuration.
func (d *Dialer) Config() *ConnectionConfig {
	return d.config
}

// Servers returns the candidate servers in the order they are tried: configured URLs
// when present, otherwise the result of SRV discovery for Domain.
func (d *Dialer) Servers(ctx context.Context) ([]*ServerInfo, error) {
	if len(d.config.LDAPURLs) > 0 {
		servers := make([]*ServerInfo, 0, len(d.config.LDAPURLs))
		for _, u := range d.config.LDAPURLs {
			server, err := ParseLDAPURL(u)
			if err != nil {
				return nil, fmt.Errorf("invalid LDAP URL %s: %w", u, err)
			}
			servers = append(servers, server)
		}
		return servers, nil
	}

	discoverCtx, cancel := context.WithTimeout(ctx, d.config.ConnectTimeout)
	defer cancel()

	servers, err := d.discovery.DiscoverServers(discoverCtx, d.config.Domain)
	if err != nil {
		return nil, fmt.Errorf("SRV discovery failed: %w", err)
	}
	return servers, nil
}

// Dial connects to the first reachable server. Connection failures are retried with
// exponential backoff across the whole server list.
func (d *Dialer) Dial(ctx context.Context) (Conn, error) {
	ctx, span := d.tracer.Start(ctx, "ldap.Dial")
	defer span.End()

	servers, err := d.Servers(ctx)
	if err != nil {
		recordSpanError(span, err)
		return nil, err
	}

	var conn *connection
	err = withRetry(ctx, d.config, "dial", func() error {
		var lastErr error
		for _, server := range servers {
			c, err := d.dialServer(ctx, server)
			if err != nil {
				lastErr = err
				continue
			}
			conn = c
			return nil
		}
		return NewConnectionError("all directory servers failed", true, lastErr)
	})
	if err != nil {
		recordSpanError(span, err)
		return nil, err
	}

	span.SetAttributes(attribute.String("ldap.server", ServerInfoToURL(conn.server)))
	return conn, nil
}

func (d *Dialer) dialServer(ctx context.Context, server *ServerInfo) (*connection, error) {
	url := ServerInfoToURL(server)
	fields := map[string]any{
		"server": url,
		"source": server.Source,
	}

	LogConnectionEvent(ctx, "connection_attempt", fields)

	opts := []ldap.DialOpt{
		ldap.DialWithDialer(&net.Dialer{Timeout: d.config.ConnectTimeout}),
	}
	if server.UseTLS {
		opts = append(opts, ldap.DialWithTLSConfig(d.tlsConfig(server)))
	}

	conn, err := d.dial(ctx, url, opts...)
	if err != nil {
		fields["error"] = err.Error()
		LogConnectionEvent(ctx, "connection_failed", fields)
		return nil, fmt.Errorf("failed to connect to %s: %w", url, err)
	}

	if !server.UseTLS && d.config.StartTLS {
		if err := conn.StartTLS(d.tlsConfig(server)); err != nil {
			_ = conn.Close()
			fields["error"] = err.Error()
			LogConnectionEvent(ctx, "connection_failed", fields)
			return nil, fmt.Errorf("StartTLS with %s failed: %w", url, err)
		}
		fields["start_tls"] = true
	}

	if d.config.ReceiveTimeout > 0 {
		conn.SetTimeout(d.config.ReceiveTimeout)
	}

	LogConnectionEvent(ctx, "connection_established", fields)

	return &connection{
		conn:   conn,
		server: server,
		config: d.config,
		tracer: d.tracer,
		logCtx: context.WithoutCancel(ctx),
	}, nil
}

// tlsConfig returns the configured TLS settings with ServerName set for server.
func (d *Dialer) tlsConfig(server *ServerInfo) *tls.Config {
	var cfg *tls.Config
	if d.config.TLSConfig != nil {
		cfg = d.config.TLSConfig.Clone()
	} else {
		cfg = &tls.Config{MinVersion: tls.VersionTLS12}
	}
	if cfg.ServerName == "" {
		cfg.ServerName = server.Host
	}
	return cfg
}

// connection implements Conn over a single go-ldap connection.
type connection struct {
	conn   ldapConn
	server *ServerInfo
	config *ConnectionConfig
	tracer trace.Tracer
	logCtx context.Context // Dial context without cancellation, for Close
}

// Bind performs a simple bind. Binds are not retried.
func (c *connection) Bind(ctx context.Context, username, password string) error {
	ctx, span := c.tracer.Start(ctx, "ldap.Bind")
	defer span.End()

	if err := ctx.Err(); err != nil {
		return err
	}

	fields := map[string]any{
		"username": username,
		"server":   ServerInfoToURL(c.server),
	}

	if err := c.conn.Bind(username, password); err != nil {
		LogLDAPError(ctx, "bind", err, fields)
		if IsAuthenticationError(err) {
			LogConnectionEvent(ctx, "authentication_failed", fields)
		}
		recordSpanError(span, err)
		return NewLDAPError("bind", err)
	}

	LogConnectionEvent(ctx, "authentication_success", fields)
	return nil
}

func (c *connection) Search(ctx context.Context, req *SearchRequest) (*SearchResult, error) {
	if req == nil {
		return nil, fmt.Errorf("search request cannot be nil")
	}

	ctx, span := c.tracer.Start(ctx, "ldap.Search", trace.WithAttributes(
		attribute.String("ldap.base_dn", req.BaseDN),
		attribute.String("ldap.filter", req.Filter),
	))
	defer span.End()

	fields := searchFields(req)

	var result *ldap.SearchResult
	err := LogOperation(ctx, logSubsystem, "search", fields, func() error {
		return withRetry(ctx, c.config, "search", func() error {
			var searchErr error
			result, searchErr = c.conn.Search(toLDAPSearchRequest(req, req.SizeLimit, nil))
			return searchErr
		})
	})
	if err != nil {
		recordSpanError(span, err)
		return nil, WrapError("search", err)
	}

	hasMore := req.SizeLimit > 0 && len(result.Entries) >= req.SizeLimit
	span.SetAttributes(attribute.Int("ldap.entries", len(result.Entries)))

	return &SearchResult{
		Entries: result.Entries,
		Total:   len(result.Entries),
		HasMore: hasMore,
	}, nil
}

func (c *connection) SearchWithPaging(ctx context.Context, req *SearchRequest) (*SearchResult, error) {
	if req == nil {
		return nil, fmt.Errorf("search request cannot be nil")
	}

	ctx, span := c.tracer.Start(ctx, "ldap.SearchWithPaging", trace.WithAttributes(
		attribute.String("ldap.base_dn", req.BaseDN),
		attribute.String("ldap.filter", req.Filter),
	))
	defer span.End()

	pageSize := c.config.PageSize
	if pageSize == 0 {
		pageSize = 1000
	}

	start := time.Now()
	fields := searchFields(req)
	fields["page_size"] = pageSize

	logging.SubsystemDebug(ctx, logSubsystem, "Starting paged search", fields)

	var entries []*ldap.Entry
	paging := ldap.NewControlPaging(pageSize)

	for page := 1; ; page++ {
		if page > maxPagesPerSearch || time.Since(start) > maxSearchDuration {
			logging.SubsystemError(ctx, logSubsystem, "Paged search limit reached, returning partial results", map[string]any{
				"pages_completed": page - 1,
				"entries_found":   len(entries),
				"elapsed_ms":      time.Since(start).Milliseconds(),
			})
			return &SearchResult{Entries: entries, Total: len(entries), HasMore: true}, nil
		}

		if err := ctx.Err(); err != nil {
			logging.SubsystemWarn(ctx, logSubsystem, "Paged search cancelled", map[string]any{
				"pages_completed": page - 1,
				"entries_found":   len(entries),
			})
			return &SearchResult{Entries: entries, Total: len(entries), HasMore: true}, err
		}

		var result *ldap.SearchResult
		err := withRetry(ctx, c.config, "paged_search", func() error {
			var searchErr error
			result, searchErr = c.conn.Search(toLDAPSearchRequest(req, 0, []ldap.Control{paging}))
			return searchErr
		})
		if err != nil {
			pageFields := searchFields(req)
			pageFields["page_number"] = page
			LogLDAPError(ctx, "paged_search", err, pageFields)
			recordSpanError(span, err)
			return nil, WrapError("paged_search", err)
		}

		entries = append(entries, result.Entries...)

		logging.SubsystemTrace(ctx, logSubsystem, "Completed search page", map[string]any{
			"page_number":     page,
			"entries_in_page": len(result.Entries),
			"total_entries":   len(entries),
		})

		response, ok := ldap.FindControl(result.Controls, ldap.ControlTypePaging).(*ldap.ControlPaging)
		if !ok || len(response.Cookie) == 0 {
			break
		}
		paging.SetCookie(response.Cookie)
	}

	LogPerformance(ctx, logSubsystem, "paged_search", time.Since(start), map[string]any{
		"base_dn":       req.BaseDN,
		"total_entries": len(entries),
	})
	span.SetAttributes(attribute.Int("ldap.entries", len(entries)))

	return &SearchResult{Entries: entries, Total: len(entries)}, nil
}

func (c *connection) WhoAmI(ctx context.Context) (*WhoAmIResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	result, err := c.conn.WhoAmI(nil)
	if err != nil {
		LogLDAPError(ctx, "whoami", err, nil)
		return nil, WrapError("whoami", err)
	}
	if result == nil {
		return nil, fmt.Errorf("WhoAmI operation returned nil result")
	}

	return ParseAuthzID(result.AuthzID), nil
}

func (c *connection) Close() error {
	LogConnectionEvent(c.logCtx, "connection_closed", map[string]any{
		"server": ServerInfoToURL(c.server),
	})
	return c.conn.Close()
}

// ParseAuthzID classifies an RFC 4532 authorization identity.
func ParseAuthzID(authzID string) *WhoAmIResult {
	result := &WhoAmIResult{AuthzID: authzID, Format: "unknown"}

	switch {
	case authzID == "":
		result.Format = "empty"
	case strings.HasPrefix(authzID, "dn:"):
		result.Format = "dn"
		result.Name = strings.TrimPrefix(authzID, "dn:")
	case strings.HasPrefix(authzID, "u:"):
		result.Name = strings.TrimPrefix(authzID, "u:")
		switch {
		case strings.Contains(result.Name, `\`):
			result.Format = "sam"
		case strings.Contains(result.Name, "@"):
			result.Format = "upn"
		}
	default:
		result.Name = authzID
	}

	return result
}

// withRetry runs op, retrying retryable failures with exponential backoff.
func withRetry(ctx context.Context, config *ConnectionConfig, operation string, op func() error) error {
	var lastErr error
	backoff := config.InitialBackoff

	for attempt := 0; attempt <= config.MaxRetries; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		err := op()
		if err == nil {
			if attempt > 0 {
				logging.SubsystemInfo(ctx, logSubsystem, "Operation succeeded after retries", map[string]any{
					"operation": operation,
					"attempts":  attempt + 1,
				})
			}
			return nil
		}

		lastErr = err
		if !IsRetryableError(err) {
			return err
		}

		if attempt == config.MaxRetries {
			break
		}

		LogConnectionEvent(ctx, "connection_retry", map[string]any{
			"operation":  operation,
			"attempt":    attempt + 1,
			"backoff_ms": backoff.Milliseconds(),
			"error":      err.Error(),
		})

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
			backoff = min(time.Duration(float64(backoff)*config.BackoffFactor), config.MaxBackoff)
		}
	}

	logging.SubsystemError(ctx, logSubsystem, "Operation failed after all retries exhausted", map[string]any{
		"operation":      operation,
		"total_attempts": config.MaxRetries + 1,
		"final_error":    lastErr.Error(),
	})

	return NewConnectionError(operation+" failed after retries", false, lastErr)
}

func toLDAPSearchRequest(req *SearchRequest, sizeLimit int, controls []ldap.Control) *ldap.SearchRequest {
	return ldap.NewSearchRequest(
		req.BaseDN,
		int(req.Scope),
		ldap.NeverDerefAliases,
		sizeLimit,
		int(req.TimeLimit.Seconds()),
		false,
		req.Filter,
		req.Attributes,
		controls,
	)
}

func searchFields(req *SearchRequest) map[string]any {
	return map[string]any{
		"base_dn":    req.BaseDN,
		"scope":      req.Scope.String(),
		"filter":     req.Filter,
		"attributes": req.Attributes,
	}
}

func recordSpanError(span trace.Span, err error) {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
}
