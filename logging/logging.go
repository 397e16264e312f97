// Package logging provides the structured logger shared by the cache manager,
// its storage backends and the diagnostics surfaces.
package logging

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"
)

// Level represents different logging levels.
type Level int

// Supported levels, from most to least verbose.
const (
	LevelDebug Level = iota
	LevelInfo
	LevelWarn
	LevelError
)

func (l Level) slogLevel() slog.Level {
	switch l {
	case LevelDebug:
		return slog.LevelDebug
	case LevelWarn:
		return slog.LevelWarn
	case LevelError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// Config holds configuration for the logger.
type Config struct {
	// Level sets the minimum log level.
	Level Level
	// EnableCallerInfo includes file and line number in logs.
	EnableCallerInfo bool
	// JSON switches the handler from text to JSON output.
	JSON bool
	// Output is where records are written. Defaults to os.Stderr.
	Output io.Writer
}

// DefaultConfig returns a default logging configuration.
func DefaultConfig() Config {
	return Config{
		Level: LevelInfo,
	}
}

// Logger provides structured logging for the cache system.
// A nil *Logger and the zero value are both safe to use and discard everything.
type Logger struct {
	logger *slog.Logger
	level  Level
	fields []any
}

// New creates a new structured logger with the given configuration.
func New(config Config) *Logger {
	out := config.Output
	if out == nil {
		out = os.Stderr
	}

	opts := &slog.HandlerOptions{
		Level:     config.Level.slogLevel(),
		AddSource: config.EnableCallerInfo,
	}

	var handler slog.Handler
	if config.JSON {
		handler = slog.NewJSONHandler(out, opts)
	} else {
		handler = slog.NewTextHandler(out, opts)
	}

	return &Logger{
		logger: slog.New(handler),
		level:  config.Level,
	}
}

// FromSlog adapts an existing slog logger.
func FromSlog(l *slog.Logger) *Logger {
	if l == nil {
		return NewNop()
	}
	return &Logger{logger: l, level: LevelDebug}
}

// NewNop creates a no-op logger that discards all log messages.
func NewNop() *Logger {
	return &Logger{}
}

func (l *Logger) log(ctx context.Context, level Level, msg string, args ...any) {
	if l == nil || l.logger == nil || level < l.level {
		return
	}

	all := make([]any, 0, len(l.fields)+len(args))
	all = append(all, l.fields...)
	all = append(all, args...)
	l.logger.Log(ctx, level.slogLevel(), msg, all...)
}

// Debug logs debug-level messages.
func (l *Logger) Debug(ctx context.Context, msg string, args ...any) {
	l.log(ctx, LevelDebug, msg, args...)
}

// Info logs info-level messages.
func (l *Logger) Info(ctx context.Context, msg string, args ...any) {
	l.log(ctx, LevelInfo, msg, args...)
}

// Warn logs warning-level messages.
func (l *Logger) Warn(ctx context.Context, msg string, args ...any) {
	l.log(ctx, LevelWarn, msg, args...)
}

// Error logs error-level messages.
func (l *Logger) Error(ctx context.Context, msg string, args ...any) {
	l.log(ctx, LevelError, msg, args...)
}

// With returns a logger with additional context fields.
func (l *Logger) With(args ...any) *Logger {
	if l == nil || l.logger == nil {
		return l
	}

	fields := make([]any, 0, len(l.fields)+len(args))
	fields = append(fields, l.fields...)
	fields = append(fields, args...)

	return &Logger{
		logger: l.logger,
		level:  l.level,
		fields: fields,
	}
}

// WithOperation returns a logger with operation context.
func (l *Logger) WithOperation(op Operation) *Logger {
	return l.With("operation", string(op))
}

// WithKey returns a logger with cache key context.
func (l *Logger) WithKey(key string) *Logger {
	return l.With("key", key)
}

// WithBackend returns a logger with storage backend context.
func (l *Logger) WithBackend(backend string) *Logger {
	return l.With("backend", backend)
}

// Operation names a cache operation for logging.
type Operation string

// Operation constants for cache operations.
const (
	OpGet         Operation = "get"
	OpSet         Operation = "set"
	OpRemove      Operation = "remove"
	OpClear       Operation = "clear"
	OpFetch       Operation = "fetch"
	OpRevalidate  Operation = "revalidate"
	OpInvalidate  Operation = "invalidate"
	OpEvict       Operation = "evict"
	OpSelect      Operation = "select_backend"
	OpProbe       Operation = "probe"
	OpOpenBackend Operation = "open_backend"
)

// LogCacheOperation logs a cache operation with its duration and outcome.
func LogCacheOperation(
	ctx context.Context,
	logger *Logger,
	op Operation,
	duration time.Duration,
	success bool,
	err error,
) {
	if logger == nil {
		return
	}

	fields := []any{
		"operation", string(op),
		"duration_ms", duration.Milliseconds(),
		"success", success,
	}
	if err != nil {
		fields = append(fields, "error", err.Error())
	}

	if success {
		logger.Debug(ctx, "cache operation completed", fields...)
	} else {
		logger.Warn(ctx, "cache operation failed", fields...)
	}
}

// LogCacheHit logs a cache hit event.
func LogCacheHit(ctx context.Context, logger *Logger, key string, stale bool) {
	logger.Debug(ctx, "cache hit",
		"key", key,
		"stale", stale,
		"result", "hit")
}

// LogCacheMiss logs a cache miss event.
func LogCacheMiss(ctx context.Context, logger *Logger, key, reason string) {
	logger.Debug(ctx, "cache miss",
		"key", key,
		"reason", reason,
		"result", "miss")
}

// LogEviction logs an eviction event.
func LogEviction(ctx context.Context, logger *Logger, key string, size int64, reason string) {
	logger.Info(ctx, "cache entry evicted",
		"key", key,
		"size", size,
		"reason", reason)
}

// ParseLevel parses a string log level into a Level.
func ParseLevel(level string) (Level, error) {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return LevelDebug, nil
	case "", "info":
		return LevelInfo, nil
	case "warn", "warning":
		return LevelWarn, nil
	case "error":
		return LevelError, nil
	default:
		return LevelInfo, fmt.Errorf("invalid log level: %s", level)
	}
}
