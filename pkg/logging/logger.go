// Package logging provides structured logging configuration using zerolog.
package logging

import (
	"io"
	"os"
	"strings"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// LogLevel represents the logging level.
type LogLevel string

const (
	// LevelDebug logs debug messages and above.
	LevelDebug LogLevel = "debug"

	// LevelInfo logs info messages and above.
	LevelInfo LogLevel = "info"

	// LevelWarn logs warning messages and above.
	LevelWarn LogLevel = "warn"

	// LevelError logs error messages only.
	LevelError LogLevel = "error"
)

// Config holds logger configuration.
type Config struct {
	// Level is the minimum log level to output.
	Level LogLevel `mapstructure:"level"`

	// Pretty enables human-readable console output (default: false for JSON).
	Pretty bool `mapstructure:"pretty"`

	// Output is the writer to output logs to (default: os.Stderr).
	Output io.Writer `mapstructure:"-"`
}

// DefaultConfig returns a default logger configuration.
func DefaultConfig() Config {
	return Config{
		Level:  LevelInfo,
		Pretty: false,
		Output: os.Stderr,
	}
}

// Setup configures the global zerolog logger.
func Setup(cfg Config) zerolog.Logger {
	zerolog.SetGlobalLevel(ParseLevel(cfg.Level))

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

// ParseLevel converts LogLevel to zerolog.Level. Unknown values map to info.
func ParseLevel(level LogLevel) zerolog.Level {
	switch strings.ToLower(strings.TrimSpace(string(level))) {
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

// ForLayer derives a logger scoped to one extraction run against one layer.
func ForLayer(base zerolog.Logger, runID, layerURL string) zerolog.Logger {
	return base.With().
		Str("run_id", runID).
		Str("layer", layerURL).
		Logger()
}

// Log Level Guidelines:
//
// Debug: Detailed information for debugging
//   - Per-page and per-batch request flow (offset, batch index, ids)
//   - GET vs POST decisions and URL lengths
//   - Cache hits/misses for layer metadata
//
// Info: Normal operation events
//   - Run start/finish with strategy and summary counts
//   - Capability probe result
//   - Identifier discovery totals and batch plan
//
// Warn: Warning conditions that don't prevent operation
//   - Retry attempts and Retry-After throttling
//   - Fallback from OID sweep to offset pagination
//   - Failed batches in best-effort mode
//
// Error: Error conditions requiring attention
//   - Exhausted retries on the offset path
//   - Transfer limit inconsistencies
//   - Open circuits for a host
//
// Context Fields:
//   - run_id: Per-invocation identifier
//   - layer: Layer URL
//   - strategy: oid_sweep or offset
//   - batch: Batch index
//   - offset: resultOffset of a page
//   - status_code: HTTP status code
//   - error_class: Error classification (client, server, rate_limit, network, data, service)
//   - retry_after: Server requested delay
