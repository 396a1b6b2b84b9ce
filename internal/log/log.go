// Package log provides structured logging for go-highlight.
// It wraps slog with sensible defaults for production use.
package log

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"sync"
)

var (
	logger  *slog.Logger
	logFile *os.File
	once    sync.Once
)

// Options controls logger initialisation.
type Options struct {
	// Level is one of "debug", "info", "warn", "error".
	Level string

	// File, when set, receives a copy of every record in addition to stdout.
	File string

	// JSON forces the JSON handler. Defaults to JSON when GO_ENV=production.
	JSON bool
}

// Init initializes the global logger with the specified level.
// Valid levels: "debug", "info", "warn", "error"
func Init(level string) {
	_ = InitWithOptions(Options{Level: level})
}

// InitWithOptions initializes the global logger. Only the first call has an
// effect; later calls return nil.
func InitWithOptions(opts Options) error {
	var initErr error
	once.Do(func() {
		var out io.Writer = os.Stdout
		if opts.File != "" {
			f, err := os.OpenFile(opts.File, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
			if err != nil {
				initErr = fmt.Errorf("open log file: %w", err)
			} else {
				logFile = f
				out = io.MultiWriter(os.Stdout, f)
			}
		}

		json := opts.JSON || os.Getenv("GO_ENV") == "production"
		logger = slog.New(NewHandler(out, opts.Level, json))
		slog.SetDefault(logger)
	})
	return initErr
}

// NewHandler builds a slog handler writing to w at the given level.
func NewHandler(w io.Writer, level string, json bool) slog.Handler {
	opts := &slog.HandlerOptions{
		Level: ParseLevel(level),
	}
	if json {
		return slog.NewJSONHandler(w, opts)
	}
	return slog.NewTextHandler(w, opts)
}

// ParseLevel maps a level name to a slog level, defaulting to info.
func ParseLevel(level string) slog.Level {
	switch level {
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

// L returns the global logger instance.
func L() *slog.Logger {
	if logger == nil {
		Init("info")
	}
	return logger
}

// Component returns a logger tagged with the component name.
func Component(name string) *slog.Logger {
	return L().With("component", name)
}

// Discard returns a logger that drops every record. Useful in tests.
func Discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// Close flushes and closes the log file, if any.
func Close() error {
	if logFile == nil {
		return nil
	}
	err := logFile.Close()
	logFile = nil
	return err
}

// Debug logs at debug level.
func Debug(msg string, args ...any) {
	L().Debug(msg, args...)
}

// Info logs at info level.
func Info(msg string, args ...any) {
	L().Info(msg, args...)
}

// Warn logs at warn level.
func Warn(msg string, args ...any) {
	L().Warn(msg, args...)
}

// Error logs at error level.
func Error(msg string, args ...any) {
	L().Error(msg, args...)
}

// With returns a logger with the given attributes.
func With(args ...any) *slog.Logger {
	return L().With(args...)
}
