package config

import (
	"fmt"
	"log/slog"
	"strings"
)

// LevelTrace sits one notch below [slog.LevelDebug] and carries full
// request and response payloads for model API calls. At this level
// every Ollama round trip is logged in full, so it is meant for
// short-lived protocol debugging, not day-to-day operation.
const LevelTrace = slog.Level(-8)

// ParseLogLevel maps the log_level config value to an [slog.Level].
// Matching is case-insensitive and ignores surrounding whitespace.
// The empty string selects info. An unrecognized value also selects
// info but returns an error, so startup can warn and keep going.
func ParseLogLevel(s string) (slog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "trace":
		return LevelTrace, nil
	case "debug":
		return slog.LevelDebug, nil
	case "", "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("unrecognized log level %q, expected one of trace, debug, info, warn, error", s)
	}
}

// ReplaceLogLevelNames is an [slog.HandlerOptions.ReplaceAttr] function
// that labels [LevelTrace] records as "TRACE". slog only knows the
// names of its four built-in levels and would otherwise print
// "DEBUG-4".
func ReplaceLogLevelNames(groups []string, a slog.Attr) slog.Attr {
	if a.Key == slog.LevelKey {
		if level, ok := a.Value.Any().(slog.Level); ok && level == LevelTrace {
			a.Value = slog.StringValue("TRACE")
		}
	}
	return a
}
