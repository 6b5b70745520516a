// Package logging provides the structured logger shared by the rewriting
// pipeline. It is configured from HARDEN_LOG_* environment variables and
// can write to a session log file.
package logging

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/charmbracelet/log"
)

// LoggerCloser wraps a logger and provides a Close method for cleanup
type LoggerCloser struct {
	*log.Logger
	closer io.Closer
}

// Close closes the underlying writer if it's closeable
func (lc *LoggerCloser) Close() error {
	if lc.closer != nil {
		return lc.closer.Close()
	}
	return nil
}

// Quiet raises the level so that only errors are reported.
func (lc *LoggerCloser) Quiet() {
	lc.SetLevel(log.ErrorLevel)
}

// levelFromEnv maps HARDEN_LOG_LEVEL to a level, defaulting to info.
func levelFromEnv() log.Level {
	lvl, err := log.ParseLevel(strings.ToLower(os.Getenv("HARDEN_LOG_LEVEL")))
	if err != nil {
		return log.InfoLevel
	}
	return lvl
}

// NewLoggerWithWriter creates a new logger with the provided writer
func NewLoggerWithWriter(w io.Writer) *LoggerCloser {
	lg := log.NewWithOptions(w, log.Options{
		ReportTimestamp: true,
		TimeFormat:      time.Kitchen,
		Level:           levelFromEnv(),
	})

	prefix := os.Getenv("HARDEN_LOG_PREFIX")
	if prefix == "" {
		prefix = "harden"
	}

	var closer io.Closer
	if c, ok := w.(io.Closer); ok && w != os.Stderr {
		closer = c
	}

	return &LoggerCloser{
		Logger: lg.WithPrefix(prefix),
		closer: closer,
	}
}

// NewLogger creates a new logger based on environment variables
// HARDEN_LOG_LEVEL: debug, info, warn, error (default: info)
// HARDEN_LOG_PREFIX: prefix for log messages (default: "harden")
// HARDEN_LOG_TO_FILE: when set to "1", logs to a timestamped file instead of stderr
func NewLogger() *LoggerCloser {
	output := io.Writer(os.Stderr)

	if os.Getenv("HARDEN_LOG_TO_FILE") == "1" {
		timestamp := time.Now().Format("20060102-150405")
		logFile := fmt.Sprintf("harden-%s.log", timestamp)

		f, err := os.OpenFile(logFile, os.O_WRONLY|os.O_CREATE|os.O_APPEND, 0o644)
		if err == nil {
			output = f
		}
		// If file creation fails, fall back to stderr
	}

	return NewLoggerWithWriter(output)
}

// Discard returns a logger that drops everything. Used by tests and by
// library callers that do not want diagnostics.
func Discard() *LoggerCloser {
	return NewLoggerWithWriter(io.Discard)
}

// IsDebug returns true if debug logging is enabled
func IsDebug() bool {
	return levelFromEnv() == log.DebugLevel
}
