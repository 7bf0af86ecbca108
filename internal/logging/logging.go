// Package logging carries a structured hclog logger through context.Context and
// exposes subsystem-scoped helpers that take map[string]any fields.
//
// Each package logs under its own subsystem ("ldap", "auth", "users", "api"). The
// root level comes from LDAPBRIDGE_LOG_LEVEL and a subsystem may override it with
// LDAPBRIDGE_LOG_LEVEL_<SUBSYSTEM>, e.g. LDAPBRIDGE_LOG_LEVEL_LDAP=trace.
package logging

import (
	"context"
	"io"
	"maps"
	"os"
	"slices"
	"strings"

	"github.com/hashicorp/go-hclog"
)

const (
	// EnvLogLevel sets the root log level.
	EnvLogLevel = "LDAPBRIDGE_LOG_LEVEL"

	SubsystemLDAP  = "ldap"
	SubsystemAuth  = "auth"
	SubsystemUsers = "users"
	SubsystemAPI   = "api"
)

type rootKey struct{}

type subsystemsKey struct{}

// New creates the root logger. The level is read from LDAPBRIDGE_LOG_LEVEL and
// defaults to info.
func New(name string, output io.Writer, jsonFormat bool) hclog.Logger {
	level := hclog.LevelFromString(os.Getenv(EnvLogLevel))
	if level == hclog.NoLevel {
		level = hclog.Info
	}

	return hclog.New(&hclog.LoggerOptions{
		Name:              name,
		Level:             level,
		Output:            output,
		JSONFormat:        jsonFormat,
		IndependentLevels: true,
	})
}

// NewContext returns a copy of ctx carrying logger as the root logger.
func NewContext(ctx context.Context, logger hclog.Logger) context.Context {
	return context.WithValue(ctx, rootKey{}, logger)
}

// FromContext returns the root logger carried by ctx, or a logger that discards
// everything.
func FromContext(ctx context.Context) hclog.Logger {
	if logger, ok := ctx.Value(rootKey{}).(hclog.Logger); ok {
		return logger
	}
	return hclog.NewNullLogger()
}

// NewSubsystem registers a named sub-logger on ctx. Its level is taken from
// LDAPBRIDGE_LOG_LEVEL_<SUBSYSTEM> when set, otherwise it inherits the root level.
func NewSubsystem(ctx context.Context, subsystem string) context.Context {
	logger := FromContext(ctx).Named(subsystem)

	envName := EnvLogLevel + "_" + strings.ToUpper(subsystem)
	if level := hclog.LevelFromString(os.Getenv(envName)); level != hclog.NoLevel {
		logger.SetLevel(level)
	}

	subsystems := map[string]hclog.Logger{}
	if existing, ok := ctx.Value(subsystemsKey{}).(map[string]hclog.Logger); ok {
		subsystems = maps.Clone(existing)
	}
	subsystems[subsystem] = logger

	return context.WithValue(ctx, subsystemsKey{}, subsystems)
}

// Inherit returns a copy of ctx carrying the root logger and sub-loggers of from.
// Request contexts use it to pick up the loggers configured at startup.
func Inherit(ctx, from context.Context) context.Context {
	if logger, ok := from.Value(rootKey{}).(hclog.Logger); ok {
		ctx = context.WithValue(ctx, rootKey{}, logger)
	}
	if subsystems, ok := from.Value(subsystemsKey{}).(map[string]hclog.Logger); ok {
		ctx = context.WithValue(ctx, subsystemsKey{}, subsystems)
	}
	return ctx
}

// Subsystem returns the sub-logger registered for subsystem, creating an unregistered
// one from the root logger when needed.
func Subsystem(ctx context.Context, subsystem string) hclog.Logger {
	if subsystems, ok := ctx.Value(subsystemsKey{}).(map[string]hclog.Logger); ok {
		if logger, ok := subsystems[subsystem]; ok {
			return logger
		}
	}
	return FromContext(ctx).Named(subsystem)
}

func SubsystemTrace(ctx context.Context, subsystem, msg string, fields ...map[string]any) {
	Subsystem(ctx, subsystem).Trace(msg, args(fields)...)
}

func SubsystemDebug(ctx context.Context, subsystem, msg string, fields ...map[string]any) {
	Subsystem(ctx, subsystem).Debug(msg, args(fields)...)
}

func SubsystemInfo(ctx context.Context, subsystem, msg string, fields ...map[string]any) {
	Subsystem(ctx, subsystem).Info(msg, args(fields)...)
}

func SubsystemWarn(ctx context.Context, subsystem, msg string, fields ...map[string]any) {
	Subsystem(ctx, subsystem).Warn(msg, args(fields)...)
}

func SubsystemError(ctx context.Context, subsystem, msg string, fields ...map[string]any) {
	Subsystem(ctx, subsystem).Error(msg, args(fields)...)
}

// args flattens field maps into hclog key/value pairs with sorted keys. Later maps
// override earlier ones.
func args(fields []map[string]any) []any {
	merged := make(map[string]any)
	for _, f := range fields {
		maps.Copy(merged, f)
	}

	out := make([]any, 0, len(merged)*2)
	for _, key := range slices.Sorted(maps.Keys(merged)) {
		out = append(out, key, merged[key])
	}
	return out
}
