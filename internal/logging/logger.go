// Package logging provides structured logging for scholia using zerolog.
package logging

import (
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
)

// Logger is the global logger instance.
var Logger zerolog.Logger

// Config holds logging configuration.
type Config struct {
	// Level is the minimum log level (debug, info, warn, error).
	Level string

	// Format is the output format (json, console).
	Format string

	// Output is where logs are written (defaults to stderr).
	Output io.Writer
}

// DefaultConfig returns the default logging configuration.
func DefaultConfig() Config {
	return Config{
		Level:  "info",
		Format: "console",
		Output: os.Stderr,
	}
}

// Init initializes the global logger with the given configuration.
func Init(cfg Config) {
	zerolog.SetGlobalLevel(parseLevel(cfg.Level))
	zerolog.TimeFieldFormat = time.RFC3339

	output := cfg.Output
	if output == nil {
		output = os.Stderr
	}
	if cfg.Format == "console" {
		output = zerolog.ConsoleWriter{
			Out:        output,
			TimeFormat: "15:04:05",
		}
	}

	Logger = zerolog.New(output).With().Timestamp().Logger()
}

func parseLevel(level string) zerolog.Level {
	switch level {
	case "debug":
		return zerolog.DebugLevel
	case "info":
		return zerolog.InfoLevel
	case "warn", "warning":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	case "trace":
		return zerolog.TraceLevel
	default:
		return zerolog.InfoLevel
	}
}

// Component creates a logger with a component field.
func Component(name string) zerolog.Logger {
	return Logger.With().Str("component", name).Logger()
}

// WithRoom adds room context to a logger.
func WithRoom(log zerolog.Logger, roomID string) zerolog.Logger {
	return log.With().Str("room_id", roomID).Logger()
}

// WithViewer adds viewer context to a logger.
func WithViewer(log zerolog.Logger, userID string) zerolog.Logger {
	return log.With().Str("viewer", userID).Logger()
}

func init() {
	Init(DefaultConfig())
}
