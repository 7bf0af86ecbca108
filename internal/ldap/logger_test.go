package ldap

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/go-ldap/ldap/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/isometry/ldapbridge/internal/logging"
)

func TestSanitizeFields(t *testing.T) {
	tests := []struct {
		name     string
		fields   map[string]any
		expected map[string]any
	}{
		{
			name:     "nil",
			fields:   nil,
			expected: map[string]any{},
		},
		{
			name:     "sensitive keys",
			fields:   map[string]any{"username": "alice", "Password": "hunter2", "session_secret": "abc"},
			expected: map[string]any{"username": "alice", "Password": "[REDACTED]", "session_secret": "[REDACTED]"},
		},
		{
			name:     "sensitive values",
			fields:   map[string]any{"url": "ldap://host?password=hunter2", "count": 3},
			expected: map[string]any{"url": "[REDACTED]", "count": 3},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, SanitizeFields(tt.fields))
		})
	}
}

func TestSanitizeFieldsCopies(t *testing.T) {
	fields := map[string]any{"password": "hunter2"}
	_ = SanitizeFields(fields)
	assert.Equal(t, "hunter2", fields["password"])
}

func logLines(t *testing.T, fn func(ctx context.Context)) []map[string]any {
	t.Helper()
	t.Setenv(logging.EnvLogLevel, "trace")

	var buf bytes.Buffer
	ctx := logging.NewContext(context.Background(), logging.New("test", &buf, true))
	ctx = logging.NewSubsystem(ctx, logSubsystem)

	fn(ctx)

	var lines []map[string]any
	dec := json.NewDecoder(&buf)
	for dec.More() {
		var line map[string]any
		require.NoError(t, dec.Decode(&line))
		lines = append(lines, line)
	}
	return lines
}

func TestLogLDAPError(t *testing.T) {
	tests := []struct {
		name      string
		err       error
		wantLevel string
		wantCode  float64
	}{
		{
			name:      "rejected credentials at debug",
			err:       ldap.NewError(ldap.LDAPResultInvalidCredentials, errors.New("invalid credentials")),
			wantLevel: "debug",
			wantCode:  float64(ldap.LDAPResultInvalidCredentials),
		},
		{
			name:      "server failure at error",
			err:       ldap.NewError(ldap.LDAPResultUnavailable, errors.New("unavailable")),
			wantLevel: "error",
			wantCode:  float64(ldap.LDAPResultUnavailable),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			lines := logLines(t, func(ctx context.Context) {
				LogLDAPError(ctx, "bind", tt.err, map[string]any{"username": "alice", "password": "x"})
			})

			require.Len(t, lines, 1)
			assert.Equal(t, tt.wantLevel, lines[0]["@level"])
			assert.Equal(t, tt.wantCode, lines[0]["ldap_result_code"])
			assert.Equal(t, "[REDACTED]", lines[0]["password"])
			assert.Equal(t, "bind", lines[0]["operation"])
		})
	}
}

func TestLogOperation(t *testing.T) {
	wantErr := errors.New("boom")

	lines := logLines(t, func(ctx context.Context) {
		err := LogOperation(ctx, logSubsystem, "search", map[string]any{"base_dn": "dc=example,dc=com"}, func() error {
			return wantErr
		})
		assert.ErrorIs(t, err, wantErr)
	})

	require.Len(t, lines, 2)
	assert.Equal(t, "Starting operation", lines[0]["@message"])
	assert.Equal(t, "Operation failed", lines[1]["@message"])
	assert.Equal(t, "boom", lines[1]["error"])
	assert.Contains(t, lines[1], "duration_ms")
}

func TestLogPerformance(t *testing.T) {
	tests := []struct {
		duration  time.Duration
		wantLevel string
	}{
		{10 * time.Millisecond, "debug"},
		{2 * time.Second, "info"},
		{10 * time.Second, "warn"},
	}

	for _, tt := range tests {
		t.Run(tt.duration.String(), func(t *testing.T) {
			lines := logLines(t, func(ctx context.Context) {
				LogPerformance(ctx, logSubsystem, "paged_search", tt.duration, nil)
			})
			require.Len(t, lines, 1)
			assert.Equal(t, tt.wantLevel, lines[0]["@level"])
		})
	}
}
