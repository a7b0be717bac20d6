// Package logging provides structured logging configuration using zerolog.
package logging

import (
	"io"
	"net/http"
	"os"
	"strings"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// LogLevel is a zerolog level name. "warning" is accepted as an alias of
// "warn"; unknown names fall back to info.
type LogLevel string

// Supported levels.
const (
	LevelDebug LogLevel = "debug"
	LevelInfo  LogLevel = "info"
	LevelWarn  LogLevel = "warn"
	LevelError LogLevel = "error"
)

// Redacted replaces credential values in logged headers.
const Redacted = "[REDACTED]"

// sensitiveHeaders are masked by RedactHeaders (canonical form).
var sensitiveHeaders = map[string]struct{}{
	"Authorization": {},
	"Cookie":        {},
	"Set-Cookie":    {},
}

// Config holds logger configuration.
type Config struct {
	// Level is the minimum log level to output.
	Level LogLevel

	// Pretty enables human-readable console output (default: false for JSON).
	Pretty bool

	// Output is the writer to output logs to (default: os.Stderr).
	Output io.Writer
}

// DefaultConfig returns a default logger configuration.
func DefaultConfig() Config {
	return Config{
		Level:  LevelInfo,
		Pretty: false,
		Output: os.Stderr,
	}
}

// Setup configures the global zerolog logger and returns it.
func Setup(cfg Config) zerolog.Logger {
	zerolog.SetGlobalLevel(parseLevel(cfg.Level))

	output := cfg.Output
	if output == nil {
		output = os.Stderr
	}
	if cfg.Pretty {
		output = zerolog.ConsoleWriter{Out: output}
	}

	logger := zerolog.New(output).With().Timestamp().Logger()
	log.Logger = logger

	return logger
}

// parseLevel converts LogLevel to zerolog.Level.
func parseLevel(level LogLevel) zerolog.Level {
	switch strings.ToLower(string(level)) {
	case "debug":
		return zerolog.DebugLevel
	case "info":
		return zerolog.InfoLevel
	case "warn", "warning":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	default:
		return zerolog.InfoLevel
	}
}

// NewLogger creates a new logger with the given component name.
func NewLogger(component string) zerolog.Logger {
	return log.With().Str("component", component).Logger()
}

// RedactHeaders returns a copy of h with credential values masked.
func RedactHeaders(h http.Header) http.Header {
	out := make(http.Header, len(h))
	for key, values := range h {
		if _, ok := sensitiveHeaders[http.CanonicalHeaderKey(key)]; ok {
			out[key] = []string{Redacted}
			continue
		}
		out[key] = append([]string(nil), values...)
	}
	return out
}

// Log Level Guidelines:
//
// Debug: request flow (attempts, page scheduling, header merges)
// Info: lifecycle (client created, identity switched, stream finished)
// Warn: retries, page failures, token persistence failures
// Error: terminal request failures after retries
//
// Context Fields:
//   - endpoint, method, status: request identity and outcome
//   - request_id: X-Request-ID shared by all attempts of one call
//   - attempt, backoff: retry progress
//   - page, total_pages, page_size: pagination progress
//   - identity: active auth identity
