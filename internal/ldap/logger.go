package ldap

import (
	"context"
	"errors"
	"maps"
	"strings"
	"time"

	"github.com/go-ldap/ldap/v3"

	"github.com/isometry/ldapbridge/internal/logging"
)

const logSubsystem = logging.SubsystemLDAP

// LogOperation runs fn and logs its start, duration and outcome under subsystem.
func LogOperation(ctx context.Context, subsystem, operation string, fields map[string]any, fn func() error) error {
	start := time.Now()

	logFields := SanitizeFields(fields)
	logFields["operation"] = operation

	logging.SubsystemDebug(ctx, subsystem, "Starting operation", logFields)

	err := fn()

	logFields["duration_ms"] = time.Since(start).Milliseconds()

	if err != nil {
		logFields["error"] = err.Error()
		logging.SubsystemError(ctx, subsystem, "Operation failed", logFields)
	} else {
		logging.SubsystemDebug(ctx, subsystem, "Operation completed successfully", logFields)
	}

	return err
}

// LogPerformance logs timing for an operation, raising the level for slow ones.
func LogPerformance(ctx context.Context, subsystem, operation string, duration time.Duration, fields map[string]any) {
	logFields := SanitizeFields(fields)
	logFields["operation"] = operation
	logFields["duration_ms"] = duration.Milliseconds()

	switch {
	case duration > 5*time.Second:
		logging.SubsystemWarn(ctx, subsystem, "Slow operation detected", logFields)
	case duration > time.Second:
		logging.SubsystemInfo(ctx, subsystem, "Operation performance", logFields)
	default:
		logging.SubsystemDebug(ctx, subsystem, "Operation performance", logFields)
	}
}

// LogLDAPError logs a failed directory operation with the result code, matched DN and
// diagnostic message when err carries them.
func LogLDAPError(ctx context.Context, operation string, err error, fields map[string]any) {
	logFields := SanitizeFields(fields)
	logFields["operation"] = operation
	logFields["error"] = err.Error()
	logFields["category"] = string(GetErrorCategory(err))

	var resultErr *ldap.Error
	if errors.As(err, &resultErr) {
		logFields["ldap_result_code"] = resultErr.ResultCode
		if resultErr.MatchedDN != "" {
			logFields["ldap_matched_dn"] = resultErr.MatchedDN
		}
		if resultErr.Err != nil {
			logFields["ldap_diagnostic_message"] = resultErr.Err.Error()
		}
	}

	// Rejected credentials are an expected outcome of a login attempt.
	if IsAuthenticationError(err) {
		logging.SubsystemDebug(ctx, logSubsystem, "LDAP operation rejected", logFields)
		return
	}

	logging.SubsystemError(ctx, logSubsystem, "LDAP operation failed", logFields)
}

// LogConnectionEvent logs connection lifecycle events at a level matching the event.
func LogConnectionEvent(ctx context.Context, event string, fields map[string]any) {
	logFields := SanitizeFields(fields)
	logFields["event"] = event

	switch event {
	case "connection_established", "authentication_success":
		logging.SubsystemInfo(ctx, logSubsystem, "Connection event", logFields)
	case "connection_failed", "connection_lost":
		logging.SubsystemError(ctx, logSubsystem, "Connection event", logFields)
	case "authentication_failed", "connection_retry":
		logging.SubsystemWarn(ctx, logSubsystem, "Connection event", logFields)
	default:
		logging.SubsystemDebug(ctx, logSubsystem, "Connection event", logFields)
	}
}

var sensitiveKeys = map[string]bool{
	"password":            true,
	"passwd":              true,
	"secret":              true,
	"token":               true,
	"key":                 true,
	"credential":          true,
	"credentials":         true,
	"connection_password": true,
	"session_secret":      true,
}

// SanitizeFields returns a copy of fields with sensitive values redacted. A nil
// input yields an empty map.
func SanitizeFields(fields map[string]any) map[string]any {
	sanitized := make(map[string]any, len(fields)+2)
	maps.Copy(sanitized, fields)

	for k, v := range sanitized {
		if sensitiveKeys[strings.ToLower(k)] {
			sanitized[k] = "[REDACTED]"
			continue
		}
		if str, ok := v.(string); ok && containsSensitivePattern(str) {
			sanitized[k] = "[REDACTED]"
		}
	}

	return sanitized
}

func containsSensitivePattern(s string) bool {
	return containsAny(strings.ToLower(s),
		"password=",
		"passwd=",
		"secret=",
		"token=",
		"key=",
	)
}
