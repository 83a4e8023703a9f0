// Package logging configures the process-wide zerolog logger.
package logging

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// LogLevel represents the logging level.
type LogLevel string

const (
	// LevelDebug logs every request and skipped attachment.
	LevelDebug LogLevel = "debug"

	// LevelInfo logs progress and written files.
	LevelInfo LogLevel = "info"

	// LevelWarn logs per-candidate and per-attachment failures only.
	LevelWarn LogLevel = "warn"

	// LevelError logs fatal run conditions only.
	LevelError LogLevel = "error"
)

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

// Setup configures the global zerolog logger and returns it. Component
// loggers derived afterwards through NewLogger or log.With inherit it.
func Setup(cfg Config) zerolog.Logger {
	level, err := ParseLevel(string(cfg.Level))
	if err != nil {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	output := cfg.Output
	if output == nil {
		output = os.Stderr
	}
	if cfg.Pretty {
		output = zerolog.ConsoleWriter{Out: output, TimeFormat: time.TimeOnly}
	}

	logger := zerolog.New(output).With().Timestamp().Logger()
	log.Logger = logger

	return logger
}

// ParseLevel converts a level name to a zerolog.Level. The empty string
// maps to info.
func ParseLevel(level string) (zerolog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return zerolog.DebugLevel, nil
	case "", "info":
		return zerolog.InfoLevel, nil
	case "warn", "warning":
		return zerolog.WarnLevel, nil
	case "error":
		return zerolog.ErrorLevel, nil
	default:
		return zerolog.InfoLevel, fmt.Errorf("unknown log level %q", level)
	}
}

// NewLogger creates a new logger with the given component name.
func NewLogger(component string) zerolog.Logger {
	return log.With().Str("component", component).Logger()
}

// Log Level Guidelines:
//
// Debug: request flow
//   - Every share API and attachment request (endpoint, url)
//   - Error statuses before they are classified
//   - Attachments skipped because the record has no URL
//
// Info: normal progress
//   - Candidate list fetched, fetch progress every 50 profiles
//   - Each attachment written (bytes, location)
//   - Table exported (rows, location)
//   - The final "Done" summary line
//
// Warn: per-item failures that do not stop the run
//   - Candidate detail fetch failed (candidate, error_class)
//   - Attachment content type mismatch or download failure
//   - Partial file could not be discarded
//
// Error: fatal run conditions
//   - Candidate list unavailable
//   - Table export failed
//   - Invalid configuration
//
// Context Fields:
//   - component: recruitee-client, enrich, export, assets, pipeline
//   - candidate: display name of the candidate
//   - candidate_id: id from the candidate list
//   - kind: attachment kind (document, image)
//   - error_class: client, server, network, decode, unexpected
//   - location: file path or s3:// URL of a written artifact
