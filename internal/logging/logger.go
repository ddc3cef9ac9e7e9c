// Package logging provides the structured logger shared by every command.
package logging

import (
	"context"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"
)

type contextKey string

const runIDKey contextKey = "run_id"

// Logger wraps slog.Logger and adds run-scoped context.
type Logger struct {
	*slog.Logger
}

// New creates a Logger writing to stdout.
// format can be "json" or "text" (default is json).
func New(level slog.Level, format string) *Logger {
	return NewWithWriter(os.Stdout, level, format)
}

// NewWithWriter creates a Logger writing to w.
func NewWithWriter(w io.Writer, level slog.Level, format string) *Logger {
	var handler slog.Handler

	opts := &slog.HandlerOptions{
		Level:     level,
		AddSource: level <= slog.LevelDebug,
	}

	switch format {
	case "text":
		handler = slog.NewTextHandler(w, opts)
	default:
		handler = slog.NewJSONHandler(w, opts)
	}

	return &Logger{Logger: slog.New(handler)}
}

// Default returns the default logger (uses slog.Default).
func Default() *Logger {
	return &Logger{Logger: slog.Default()}
}

// ContextWithRunID stores a run identifier on ctx.
func ContextWithRunID(ctx context.Context, runID string) context.Context {
	return context.WithValue(ctx, runIDKey, runID)
}

// RunIDFromContext returns the run identifier stored on ctx, if any.
func RunIDFromContext(ctx context.Context) string {
	id, _ := ctx.Value(runIDKey).(string)
	return id
}

// WithContext returns a logger carrying the run ID found on ctx.
func (l *Logger) WithContext(ctx context.Context) *slog.Logger {
	if id := RunIDFromContext(ctx); id != "" {
		return l.Logger.With(RunID(id))
	}
	return l.Logger
}

// With returns a new logger with the given attributes added.
func (l *Logger) With(args ...any) *Logger {
	return &Logger{Logger: l.Logger.With(args...)}
}

// ParseLevel converts a string log level to slog.Level.
// Returns slog.LevelInfo for unknown values.
func ParseLevel(level string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// SetDefault sets the default logger for the application.
func SetDefault(l *Logger) {
	slog.SetDefault(l.Logger)
}

// Operation is a timed unit of work started with StartOperation.
type Operation struct {
	logger  *slog.Logger
	name    string
	started time.Time
}

// StartOperation logs "<name> starting" and returns an Operation whose End
// logs completion or failure with the elapsed time.
func StartOperation(ctx context.Context, logger *slog.Logger, name string, args ...any) *Operation {
	if logger == nil {
		logger = slog.Default()
	}
	l := logger.With(args...)
	l.InfoContext(ctx, name+" starting")
	return &Operation{logger: l, name: name, started: time.Now()}
}

// End logs the outcome of the operation. A nil err means success.
func (o *Operation) End(ctx context.Context, err error) {
	elapsed := time.Since(o.started)
	if err != nil {
		o.logger.ErrorContext(ctx, o.name+" failed", Elapsed(elapsed), Error(err))
		return
	}
	o.logger.InfoContext(ctx, o.name+" completed", Elapsed(elapsed))
}
