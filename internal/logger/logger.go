// Package logger provides leveled logging with support for debug, info, warn, and error levels.
// It keeps a process-wide printf-style API on top of clog, which writes through a
// log/slog text or JSON handler. Context-scoped loggers carry per-dataset fields.
package logger

import (
	"context"
	"fmt"
	"log"
	"log/slog"
	"os"
	"strings"

	"github.com/chainguard-dev/clog"
)

var (
	// Global logger instance
	defaultLogger *clog.Logger
)

// ParseLevel maps a level name to a slog level. Unknown names map to info.
func ParseLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// Init initializes the default logger with the specified level and format
func Init(level string, format string) {
	opts := &slog.HandlerOptions{Level: ParseLevel(level)}

	var handler slog.Handler
	if strings.ToLower(format) == "json" {
		handler = slog.NewJSONHandler(os.Stderr, opts)
	} else {
		handler = slog.NewTextHandler(os.Stderr, opts)
	}

	defaultLogger = clog.New(handler)
	slog.SetDefault(slog.New(handler))
}

// WithContext returns a context carrying a logger annotated with args,
// e.g. WithContext(ctx, "dataset", name).
func WithContext(ctx context.Context, args ...any) context.Context {
	return clog.WithLogger(ctx, FromContext(ctx).With(args...))
}

// FromContext returns the context's logger, falling back to the default one.
func FromContext(ctx context.Context) *clog.Logger {
	return clog.FromContext(ctx)
}

// Debug logs a message at DebugLevel
func Debug(format string, args ...interface{}) {
	if defaultLogger != nil {
		defaultLogger.Debugf(format, args...)
	}
}

// Info logs a message at InfoLevel
func Info(format string, args ...interface{}) {
	if defaultLogger != nil {
		defaultLogger.Infof(format, args...)
	}
}

// Warn logs a message at WarnLevel
func Warn(format string, args ...interface{}) {
	if defaultLogger != nil {
		defaultLogger.Warnf(format, args...)
	}
}

// Error logs a message at ErrorLevel
func Error(format string, args ...interface{}) {
	if defaultLogger != nil {
		defaultLogger.Errorf(format, args...)
	}
}

// Fatal logs a message at ErrorLevel and exits
func Fatal(format string, args ...interface{}) {
	msg := fmt.Sprintf(format, args...)
	if defaultLogger != nil {
		defaultLogger.Error(msg)
	} else {
		log.Print("[FATAL] " + msg)
	}
	os.Exit(1)
}
