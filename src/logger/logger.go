package logger

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
)

// -----------------------------------------------------------------------------

// LevelCritical sits above slog.LevelError.
const LevelCritical = slog.Level(12)

// Logger is a named, leveled printf-style logger backed by slog.
type Logger struct {
	name   string
	logger *slog.Logger
	level  *slog.LevelVar
}

// -----------------------------------------------------------------------------

// NewLogger creates a new Logger writing text records to stdout.
func NewLogger(level string, name string) *Logger {
	return NewLoggerWithWriter(os.Stdout, level, name)
}

// NewLoggerWithWriter is NewLogger with an explicit destination.
func NewLoggerWithWriter(w io.Writer, level string, name string) *Logger {
	lv := new(slog.LevelVar)
	lv.Set(ParseLevel(level))
	handler := slog.NewTextHandler(w, &slog.HandlerOptions{
		Level: lv,
		ReplaceAttr: func(groups []string, a slog.Attr) slog.Attr {
			if a.Key == slog.LevelKey {
				if l, ok := a.Value.Any().(slog.Level); ok && l == LevelCritical {
					return slog.String(slog.LevelKey, "CRITICAL")
				}
			}
			return a
		},
	})
	return &Logger{
		name:   name,
		logger: slog.New(handler).With("component", name),
		level:  lv,
	}
}

// -----------------------------------------------------------------------------

// Named returns a child logger sharing the level and destination. Components
// get theirs from the application logger.
func (l *Logger) Named(name string) *Logger {
	return &Logger{
		name:   name,
		logger: l.logger.With("component", name),
		level:  l.level,
	}
}

// ParseLevel maps config level names to slog levels. Unknown names mean INFO.
func ParseLevel(level string) slog.Level {
	switch strings.ToUpper(strings.TrimSpace(level)) {
	case "DEBUG":
		return slog.LevelDebug
	case "WARNING", "WARN":
		return slog.LevelWarn
	case "ERROR":
		return slog.LevelError
	case "CRITICAL":
		return LevelCritical
	}
	return slog.LevelInfo
}

// -----------------------------------------------------------------------------

// Debug logs diagnostic messages
func (l *Logger) Debug(format string, args ...interface{}) {
	l.log(slog.LevelDebug, format, args...)
}

// -----------------------------------------------------------------------------

// Warning logs recoverable problems
func (l *Logger) Warning(format string, args ...interface{}) {
	l.log(slog.LevelWarn, format, args...)
}

// -----------------------------------------------------------------------------

// Info logs informational messages
func (l *Logger) Info(format string, args ...interface{}) {
	l.log(slog.LevelInfo, format, args...)
}

// -----------------------------------------------------------------------------

// Error logs error messages
func (l *Logger) Error(format string, args ...interface{}) {
	l.log(slog.LevelError, format, args...)
}

// -----------------------------------------------------------------------------

// Critical logs critical errors and exits the application
func (l *Logger) Critical(format string, args ...interface{}) {
	l.log(LevelCritical, format, args...)
	os.Exit(1)
}

// -----------------------------------------------------------------------------

func (l *Logger) log(level slog.Level, format string, args ...interface{}) {
	if l == nil {
		return
	}
	ctx := context.Background()
	if !l.logger.Enabled(ctx, level) {
		return
	}
	l.logger.Log(ctx, level, fmt.Sprintf(format, args...))
}
