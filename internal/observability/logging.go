// Package observability carries run-scoped logging context through a
// context.Context so nested components log with the same run attributes.
package observability

import (
	"context"
	"log/slog"

	"git.home.luguber.info/inful/clashchain/internal/logfields"
)

// LogContext holds structured logging context information.
type LogContext struct {
	RunID   string
	Unit    string
	Trigger string
}

type logContextKeyType string

const logContextKey logContextKeyType = "log-context"

// WithRunID adds a run ID to the context.
func WithRunID(ctx context.Context, runID string) context.Context {
	lc := extractLogContext(ctx)
	lc.RunID = runID
	return context.WithValue(ctx, logContextKey, lc)
}

// WithUnit adds the chain unit currently being applied.
func WithUnit(ctx context.Context, unit string) context.Context {
	lc := extractLogContext(ctx)
	lc.Unit = unit
	return context.WithValue(ctx, logContextKey, lc)
}

// WithTrigger records what started the run (cli, watch, schedule).
func WithTrigger(ctx context.Context, trigger string) context.Context {
	lc := extractLogContext(ctx)
	lc.Trigger = trigger
	return context.WithValue(ctx, logContextKey, lc)
}

func extractLogContext(ctx context.Context) LogContext {
	if lc, ok := ctx.Value(logContextKey).(LogContext); ok {
		return lc
	}
	return LogContext{}
}

func getLogAttrs(ctx context.Context) []slog.Attr {
	lc := extractLogContext(ctx)
	attrs := []slog.Attr{}

	if lc.RunID != "" {
		attrs = append(attrs, logfields.RunID(lc.RunID))
	}
	if lc.Unit != "" {
		attrs = append(attrs, logfields.Unit(lc.Unit))
	}
	if lc.Trigger != "" {
		attrs = append(attrs, logfields.Trigger(lc.Trigger))
	}
	return attrs
}

// GetContext returns the structured log context from the provided context.
func GetContext(ctx context.Context) LogContext {
	return extractLogContext(ctx)
}

// Logger writes context-enriched records to an slog.Logger. A nil logger
// falls back to slog.Default at call time.
type Logger struct {
	base *slog.Logger
}

// NewLogger wraps base.
func NewLogger(base *slog.Logger) Logger {
	return Logger{base: base}
}

func (l Logger) logger() *slog.Logger {
	if l.base == nil {
		return slog.Default()
	}
	return l.base
}

func (l Logger) log(ctx context.Context, level slog.Level, msg string, attrs []slog.Attr) {
	all := append(getLogAttrs(ctx), attrs...)
	l.logger().LogAttrs(ctx, level, msg, all...)
}

// InfoContext logs an info message with context information.
func (l Logger) InfoContext(ctx context.Context, msg string, attrs ...slog.Attr) {
	l.log(ctx, slog.LevelInfo, msg, attrs)
}

// WarnContext logs a warning message with context information.
func (l Logger) WarnContext(ctx context.Context, msg string, attrs ...slog.Attr) {
	l.log(ctx, slog.LevelWarn, msg, attrs)
}

// ErrorContext logs an error message with context information.
func (l Logger) ErrorContext(ctx context.Context, msg string, attrs ...slog.Attr) {
	l.log(ctx, slog.LevelError, msg, attrs)
}

// DebugContext logs a debug message with context information.
func (l Logger) DebugContext(ctx context.Context, msg string, attrs ...slog.Attr) {
	l.log(ctx, slog.LevelDebug, msg, attrs)
}

// InfoContext logs through slog.Default.
func InfoContext(ctx context.Context, msg string, attrs ...slog.Attr) {
	Logger{}.InfoContext(ctx, msg, attrs...)
}

// WarnContext logs through slog.Default.
func WarnContext(ctx context.Context, msg string, attrs ...slog.Attr) {
	Logger{}.WarnContext(ctx, msg, attrs...)
}

// ErrorContext logs through slog.Default.
func ErrorContext(ctx context.Context, msg string, attrs ...slog.Attr) {
	Logger{}.ErrorContext(ctx, msg, attrs...)
}
