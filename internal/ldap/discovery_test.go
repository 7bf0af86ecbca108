package ldap

import (
	"context"
	"net"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeResolver answers SRV lookups from a table keyed by "_service._proto.name".
type fakeResolver struct {
	records map[string][]*net.SRV
	queries []string
}

func (r *fakeResolver) LookupSRV(_ context.Context, service, proto, name string) (string, []*net.SRV, error) {
	key := "_" + service + "._" + proto + "." + name
	r.queries = append(r.queries, key)

	records, ok := r.records[key]
	if !ok {
		return "", nil, &net.DNSError{Err: "no such host", Name: key, IsNotFound: true}
	}
	return key, records, nil
}

func TestSRVDiscovery_DiscoverServers(t *testing.T) {
	tests := []struct {
		name        string
		records     map[string][]*net.SRV
		wantURLs    []string
		wantSources []string
		wantQueries int
	}{
		{
			name: "ldaps records stop the search",
			records: map[string][]*net.SRV{
				"_ldaps._tcp.example.com": {
					{Target: "dc2.example.com.", Port: 636, Priority: 10, Weight: 50},
					{Target: "dc1.example.com.", Port: 636, Priority: 0, Weight: 100},
				},
				"_ldap._tcp.example.com": {
					{Target: "dc3.example.com.", Port: 389},
				},
			},
			wantURLs:    []string{"ldaps://dc1.example.com:636", "ldaps://dc2.example.com:636"},
			wantSources: []string{"srv", "srv"},
			wantQueries: 1,
		},
		{
			name: "ldap and global catalog collected",
			records: map[string][]*net.SRV{
				"_ldap._tcp.example.com": {
					{Target: "dc1.example.com.", Port: 389, Priority: 0, Weight: 10},
				},
				"_gc._tcp.example.com": {
					{Target: "gc.example.com.", Port: 3268, Priority: 0, Weight: 20},
				},
			},
			wantURLs:    []string{"ldap://gc.example.com:3268", "ldap://dc1.example.com:389"},
			wantSources: []string{"srv", "srv"},
			wantQueries: 3,
		},
		{
			name:        "fallback when nothing is advertised",
			records:     map[string][]*net.SRV{},
			wantURLs:    []string{"ldaps://example.com:636", "ldap://example.com:389"},
			wantSources: []string{"fallback", "fallback"},
			wantQueries: 3,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resolver := &fakeResolver{records: tt.records}
			discovery := NewSRVDiscovery(resolver)

			servers, err := discovery.DiscoverServers(context.Background(), "example.com")
			require.NoError(t, err)

			var urls, sources []string
			for _, server := range servers {
				require.NoError(t, ValidateServerInfo(server))
				urls = append(urls, ServerInfoToURL(server))
				sources = append(sources, server.Source)
			}

			assert.Equal(t, tt.wantURLs, urls)
			assert.Equal(t, tt.wantSources, sources)
			assert.Len(t, resolver.queries, tt.wantQueries)
		})
	}
}

func TestSRVDiscovery_EmptyDomain(t *testing.T) {
	_, err := NewSRVDiscovery(&fakeResolver{}).DiscoverServers(context.Background(), "")
	assert.Error(t, err)
}

func TestNewSRVDiscovery_DefaultResolver(t *testing.T) {
	discovery := NewSRVDiscovery(nil)
	assert.Equal(t, net.DefaultResolver, discovery.resolver)
}

func TestParseLDAPURL(t *testing.T) {
	tests := []struct {
		name    string
		url     string
		want    *ServerInfo
		wantErr bool
	}{
		{
			name: "ldaps with port",
			url:  "ldaps://dc1.example.com:3269",
			want: &ServerInfo{Host: "dc1.example.com", Port: 3269, UseTLS: true, Weight: 100, Source: "config"},
		},
		{
			name: "ldap without port",
			url:  "ldap://ldap.example.com",
			want: &ServerInfo{Host: "ldap.example.com", Port: 389, Weight: 100, Source: "config"},
		},
		{
			name: "ldaps without port",
			url:  "ldaps://ldap.example.com",
			want: &ServerInfo{Host: "ldap.example.com", Port: 636, UseTLS: true, Weight: 100, Source: "config"},
		},
		{
			name: "base DN path ignored",
			url:  "ldap://ldap.example.com:1389/dc=example,dc=com",
			want: &ServerInfo{Host: "ldap.example.com", Port: 1389, Weight: 100, Source: "config"},
		},
		{
			name: "uppercase scheme",
			url:  "LDAP://ldap.example.com",
			want: &ServerInfo{Host: "ldap.example.com", Port: 389, Weight: 100, Source: "config"},
		},
		{name: "empty", url: "", wantErr: true},
		{name: "wrong scheme", url: "http://ldap.example.com", wantErr: true},
		{name: "missing host", url: "ldap://:389", wantErr: true},
		{name: "port out of range", url: "ldap://ldap.example.com:70000", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseLDAPURL(tt.url)

			if tt.wantErr {
				assert.Error(t, err)
				return
			}

			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestValidateServerInfo(t *testing.T) {
	tests := []struct {
		name    string
		server  *ServerInfo
		wantErr bool
	}{
		{"valid", &ServerInfo{Host: "dc1", Port: 636, Weight: 100}, false},
		{"nil", nil, true},
		{"empty host", &ServerInfo{Port: 389}, true},
		{"zero port", &ServerInfo{Host: "dc1"}, true},
		{"negative priority", &ServerInfo{Host: "dc1", Port: 389, Priority: -1}, true},
		{"negative weight", &ServerInfo{Host: "dc1", Port: 389, Weight: -1}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateServerInfo(tt.server)
			assert.Equal(t, tt.wantErr, err != nil, "error: %v", err)
		})
	}
}

func TestServerInfoToURL_IPv6(t *testing.T) {
	assert.Equal(t, "ldap://[::1]:389", ServerInfoToURL(&ServerInfo{Host: "::1", Port: 389}))
}

func TestSortServersByPriority(t *testing.T) {
	servers := []*ServerInfo{
		{Host: "c", Priority: 1, Weight: 100},
		{Host: "b", Priority: 0, Weight: 10},
		{Host: "a", Priority: 0, Weight: 50},
	}

	sortServersByPriority(servers)

	var hosts []string
	for _, s := range servers {
		hosts = append(hosts, s.Host)
	}
	assert.Equal(t, []string{"a", "b", "c"}, hosts)
}
