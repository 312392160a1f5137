package msgsocket

import (
	"io"
	"log/slog"
)

// Logger is the interface for structured logging.
// It is designed to be compatible with *slog.Logger from the standard library.
// Applications can provide their own implementation or use the default slog logger.
type Logger interface {
	// Debug logs a debug-level message with optional key-value pairs.
	Debug(msg string, args ...any)
	// Info logs an info-level message with optional key-value pairs.
	Info(msg string, args ...any)
	// Warn logs a warning-level message with optional key-value pairs.
	Warn(msg string, args ...any)
	// Error logs an error-level message with optional key-value pairs.
	Error(msg string, args ...any)
}

// defaultLogger returns the default slog logger from the standard library.
func defaultLogger() Logger {
	return slog.Default()
}

// discardLogger drops every record.
func discardLogger() Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// scopedLogger prepends fixed key-value pairs to every record.
type scopedLogger struct {
	base  Logger
	attrs []any
}

// withAttrs returns a Logger that adds attrs to every call on base.
func withAttrs(base Logger, attrs ...any) Logger {
	if s, ok := base.(*scopedLogger); ok {
		merged := make([]any, 0, len(s.attrs)+len(attrs))
		merged = append(merged, s.attrs...)
		merged = append(merged, attrs...)
		return &scopedLogger{base: s.base, attrs: merged}
	}
	return &scopedLogger{base: base, attrs: attrs}
}

func (l *scopedLogger) join(args []any) []any {
	out := make([]any, 0, len(l.attrs)+len(args))
	out = append(out, l.attrs...)
	return append(out, args...)
}

func (l *scopedLogger) Debug(msg string, args ...any) { l.base.Debug(msg, l.join(args)...) }
func (l *scopedLogger) Info(msg string, args ...any)  { l.base.Info(msg, l.join(args)...) }
func (l *scopedLogger) Warn(msg string, args ...any)  { l.base.Warn(msg, l.join(args)...) }
func (l *scopedLogger) Error(msg string, args ...any) { l.base.Error(msg, l.join(args)...) }
