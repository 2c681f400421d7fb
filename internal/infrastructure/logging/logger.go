// Package logging wraps log/slog with context-aware helpers and domain log
// events for sync and call handling.
package logging

import (
	"context"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"
)

// contextKey is used for storing logger-related values in context.
type contextKey string

const (
	// CorrelationIDKey is the context key for correlation IDs.
	CorrelationIDKey contextKey = "correlation_id"
	// ActionIDKey is the context key for pending action IDs.
	ActionIDKey contextKey = "action_id"
	// CollectionKey is the context key for the record collection being touched.
	CollectionKey contextKey = "collection"
	// SessionPhoneKey is the context key for the focused call session's phone.
	SessionPhoneKey contextKey = "session_phone"
)

// Level represents log levels.
type Level string

const (
	LevelDebug Level = "debug"
	LevelInfo  Level = "info"
	LevelWarn  Level = "warn"
	LevelError Level = "error"
)

// Format represents log output formats.
type Format string

const (
	FormatJSON Format = "json"
	FormatText Format = "text"
)

// Config holds logging configuration.
type Config struct {
	Level      Level
	Format     Format
	Output     io.Writer
	AddSource  bool
	TimeFormat string
}

// DefaultConfig returns text logging at info level to stderr.
func DefaultConfig() Config {
	return Config{
		Level:      LevelInfo,
		Format:     FormatText,
		Output:     os.Stderr,
		TimeFormat: time.RFC3339,
	}
}

// Logger wraps slog.Logger.
type Logger struct {
	slogger *slog.Logger
	level   *slog.LevelVar
}

// New creates a Logger from cfg.
func New(cfg Config) *Logger {
	level := new(slog.LevelVar)
	level.Set(parseLevel(cfg.Level))

	opts := &slog.HandlerOptions{
		Level:     level,
		AddSource: cfg.AddSource,
		ReplaceAttr: func(groups []string, a slog.Attr) slog.Attr {
			if a.Key == slog.TimeKey && cfg.TimeFormat != "" {
				if t, ok := a.Value.Any().(time.Time); ok {
					return slog.String(slog.TimeKey, t.Format(cfg.TimeFormat))
				}
			}
			return a
		},
	}

	output := cfg.Output
	if output == nil {
		output = os.Stderr
	}

	var handler slog.Handler
	switch cfg.Format {
	case FormatJSON:
		handler = slog.NewJSONHandler(output, opts)
	default:
		handler = slog.NewTextHandler(output, opts)
	}

	return &Logger{slogger: slog.New(handler), level: level}
}

// Nop returns a logger that discards everything.
func Nop() *Logger {
	return New(Config{Level: LevelError, Output: io.Discard})
}

// ParseLevel converts a level name, case-insensitively. Unknown names map to info.
func ParseLevel(s string) Level {
	switch l := Level(strings.ToLower(strings.TrimSpace(s))); l {
	case LevelDebug, LevelInfo, LevelWarn, LevelError:
		return l
	}
	return LevelInfo
}

func parseLevel(l Level) slog.Level {
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

// SetLevel changes the level of this logger and every logger derived from it.
func (l *Logger) SetLevel(level Level) {
	l.level.Set(parseLevel(level))
}

// With returns a Logger carrying the given attributes.
func (l *Logger) With(args ...any) *Logger {
	return &Logger{slogger: l.slogger.With(args...), level: l.level}
}

func (l *Logger) Debug(msg string, args ...any) { l.slogger.Debug(msg, args...) }
func (l *Logger) Info(msg string, args ...any)  { l.slogger.Info(msg, args...) }
func (l *Logger) Warn(msg string, args ...any)  { l.slogger.Warn(msg, args...) }
func (l *Logger) Error(msg string, args ...any) { l.slogger.Error(msg, args...) }

// DebugContext logs at debug level with context values attached.
func (l *Logger) DebugContext(ctx context.Context, msg string, args ...any) {
	l.slogger.DebugContext(ctx, msg, enrichArgs(ctx, args)...)
}

// InfoContext logs at info level with context values attached.
func (l *Logger) InfoContext(ctx context.Context, msg string, args ...any) {
	l.slogger.InfoContext(ctx, msg, enrichArgs(ctx, args)...)
}

// WarnContext logs at warn level with context values attached.
func (l *Logger) WarnContext(ctx context.Context, msg string, args ...any) {
	l.slogger.WarnContext(ctx, msg, enrichArgs(ctx, args)...)
}

// ErrorContext logs at error level with context values attached.
func (l *Logger) ErrorContext(ctx context.Context, msg string, args ...any) {
	l.slogger.ErrorContext(ctx, msg, enrichArgs(ctx, args)...)
}

var contextKeys = []contextKey{CorrelationIDKey, ActionIDKey, CollectionKey, SessionPhoneKey}

func enrichArgs(ctx context.Context, args []any) []any {
	enriched := make([]any, 0, len(args)+2*len(contextKeys))
	for _, k := range contextKeys {
		if v := ctx.Value(k); v != nil {
			enriched = append(enriched, string(k), v)
		}
	}
	return append(enriched, args...)
}

// --- Context helpers ---

// WithCorrelationID adds a correlation ID to the context.
func WithCorrelationID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, CorrelationIDKey, id)
}

// WithActionID adds a pending action ID to the context.
func WithActionID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, ActionIDKey, id)
}

// WithCollection adds a collection name to the context.
func WithCollection(ctx context.Context, name string) context.Context {
	return context.WithValue(ctx, CollectionKey, name)
}

// WithSessionPhone adds the focused session phone to the context.
func WithSessionPhone(ctx context.Context, phone string) context.Context {
	return context.WithValue(ctx, SessionPhoneKey, phone)
}

// --- Domain log events ---

// LogQueued logs a mutation deferred to the pending queue.
func LogQueued(ctx context.Context, logger *Logger, table, op, actionID string, cause error) {
	args := []any{"table", table, "operation", op, "action_id", actionID}
	if cause != nil {
		args = append(args, "cause", cause.Error())
	}
	logger.InfoContext(ctx, "mutation queued for sync", args...)
}

// LogActionFailed logs a pending action that stayed in the queue.
func LogActionFailed(ctx context.Context, logger *Logger, actionID, table, op string, attempts int, err error) {
	logger.WarnContext(ctx, "pending action failed",
		"action_id", actionID,
		"table", table,
		"operation", op,
		"attempts", attempts,
		"error", err.Error(),
	)
}

// LogDrainComplete logs the outcome of a drain cycle.
func LogDrainComplete(ctx context.Context, logger *Logger, trigger string, synced, failed, remaining int, duration time.Duration) {
	logger.InfoContext(ctx, "drain complete",
		"trigger", trigger,
		"synced", synced,
		"failed", failed,
		"remaining", remaining,
		"duration_ms", duration.Milliseconds(),
	)
}

// LogCallEvent logs a telephony event and the session state it produced.
func LogCallEvent(ctx context.Context, logger *Logger, kind, number, state string) {
	logger.DebugContext(ctx, "call event",
		"kind", kind,
		"number", number,
		"session_state", state,
	)
}

// LogSessionReset logs the completion of a call session.
func LogSessionReset(ctx context.Context, logger *Logger, action, phone string) {
	logger.InfoContext(ctx, "session completed",
		"action", action,
		"phone", phone,
	)
}

// LogCacheFallback logs a read served from the local cache.
func LogCacheFallback(ctx context.Context, logger *Logger, table string, count int, cause error) {
	args := []any{"table", table, "records", count}
	if cause != nil {
		args = append(args, "cause", cause.Error())
	}
	logger.DebugContext(ctx, "served from cache", args...)
}
