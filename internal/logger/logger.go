// Package logger is a leveled printf-style logger on top of log/slog.
package logger

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"
)

type Level = slog.Level

const (
	LevelDebug = slog.LevelDebug
	LevelInfo  = slog.LevelInfo
	LevelWarn  = slog.LevelWarn
	LevelError = slog.LevelError

	levelOff = slog.LevelError + 4
)

// ParseLevel maps DEBUG/INFO/WARN/ERROR (any case) to a Level. Unknown names
// fall back to LevelInfo.
func ParseLevel(s string) Level {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "DEBUG":
		return LevelDebug
	case "WARN", "WARNING":
		return LevelWarn
	case "ERROR":
		return LevelError
	default:
		return LevelInfo
	}
}

// Logger writes one record per call. Loggers derived with With share the
// level of their parent.
type Logger struct {
	base      *slog.Logger
	sl        *slog.Logger
	level     *slog.LevelVar
	component string
}

// New returns a text logger tagged with component.
func New(out io.Writer, level Level, component string) *Logger {
	return NewFormat(out, "text", level, component)
}

// NewFormat is New with a handler format: "json" or "text".
func NewFormat(out io.Writer, format string, level Level, component string) *Logger {
	lv := new(slog.LevelVar)
	lv.Set(level)
	opts := &slog.HandlerOptions{Level: lv}

	var h slog.Handler
	if strings.EqualFold(format, "json") {
		h = slog.NewJSONHandler(out, opts)
	} else {
		h = slog.NewTextHandler(out, opts)
	}
	l := &Logger{base: slog.New(h), level: lv}
	return l.named(component)
}

// Discard returns a logger that drops everything; used by tests.
func Discard() *Logger {
	return New(io.Discard, levelOff, "")
}

func (l *Logger) named(component string) *Logger {
	l.component = component
	l.sl = l.base
	if component != "" {
		l.sl = l.base.With("component", component)
	}
	return l
}

func (l *Logger) SetLevel(level Level) {
	l.level.Set(level)
}

// With returns a child logger whose component is "<parent>.<name>".
func (l *Logger) With(name string) *Logger {
	c := name
	if l.component != "" {
		c = l.component + "." + name
	}
	child := &Logger{base: l.base, level: l.level}
	return child.named(c)
}

// Slog exposes the underlying slog.Logger.
func (l *Logger) Slog() *slog.Logger {
	return l.sl
}

func (l *Logger) logf(level Level, format string, args ...any) {
	ctx := context.Background()
	if !l.sl.Enabled(ctx, level) {
		return
	}
	l.sl.Log(ctx, level, fmt.Sprintf(format, args...))
}

func (l *Logger) Debug(format string, args ...any) {
	l.logf(LevelDebug, format, args...)
}

func (l *Logger) Info(format string, args ...any) {
	l.logf(LevelInfo, format, args...)
}

func (l *Logger) Warn(format string, args ...any) {
	l.logf(LevelWarn, format, args...)
}

func (l *Logger) Error(format string, args ...any) {
	l.logf(LevelError, format, args...)
}
