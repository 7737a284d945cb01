// Package logger provides structured logging for ShareSync on top of log/slog.
//
// The package keeps a single process-wide logger so every component logs
// through the same handler. Level and format can be reconfigured at runtime
// (the CLI does this from the loaded configuration before the server starts).
package logger

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"
)

// Config holds logger configuration.
type Config struct {
	Level  string // DEBUG, INFO, WARN, ERROR
	Format string // text, json
	Output string // stdout, stderr, or a file path
}

var (
	mu       sync.RWMutex
	output   io.Writer = os.Stdout
	levelVar           = new(slog.LevelVar)
	format             = "text"
	slogger            = slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: levelVar}))
)

// Init initializes the logger with the given configuration.
// Output can be "stdout", "stderr", or a file path.
func Init(cfg Config) error {
	mu.Lock()
	defer mu.Unlock()

	switch strings.ToLower(cfg.Output) {
	case "", "stdout":
		output = os.Stdout
	case "stderr":
		output = os.Stderr
	default:
		f, err := os.OpenFile(cfg.Output, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return fmt.Errorf("failed to open log file %q: %w", cfg.Output, err)
		}
		output = f
	}

	if cfg.Level != "" {
		levelVar.Set(parseLevel(cfg.Level))
	}
	if cfg.Format != "" {
		f := strings.ToLower(cfg.Format)
		if f == "text" || f == "json" {
			format = f
		}
	}

	rebuild()
	return nil
}

// InitWithWriter points the logger at a custom writer. Primarily for tests.
func InitWithWriter(w io.Writer, level, logFormat string) {
	mu.Lock()
	defer mu.Unlock()

	output = w
	if level != "" {
		levelVar.Set(parseLevel(level))
	}
	if logFormat != "" {
		format = strings.ToLower(logFormat)
	}
	rebuild()
}

// SetLevel sets the minimum log level. Invalid levels are ignored.
func SetLevel(level string) {
	mu.Lock()
	defer mu.Unlock()
	levelVar.Set(parseLevel(level))
}

func parseLevel(level string) slog.Level {
	switch strings.ToUpper(level) {
	case "DEBUG":
		return slog.LevelDebug
	case "WARN":
		return slog.LevelWarn
	case "ERROR":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// rebuild swaps the handler; callers must hold mu.
func rebuild() {
	opts := &slog.HandlerOptions{Level: levelVar}
	if format == "json" {
		slogger = slog.New(slog.NewJSONHandler(output, opts))
	} else {
		slogger = slog.New(slog.NewTextHandler(output, opts))
	}
}

func get() *slog.Logger {
	mu.RLock()
	l := slogger
	mu.RUnlock()
	return l
}

// Debug logs at debug level with structured fields.
// Usage: Debug("message", "key1", value1, "key2", value2)
func Debug(msg string, args ...any) { get().Debug(msg, args...) }

// Info logs at info level with structured fields.
func Info(msg string, args ...any) { get().Info(msg, args...) }

// Warn logs at warn level with structured fields.
func Warn(msg string, args ...any) { get().Warn(msg, args...) }

// Error logs at error level with structured fields.
func Error(msg string, args ...any) { get().Error(msg, args...) }

// With returns a slog.Logger with pre-bound attributes. Long-lived components
// (hub, sweeper) bind their component name once and log through the result.
func With(args ...any) *slog.Logger {
	return get().With(args...)
}
