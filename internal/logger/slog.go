// SPDX-License-Identifier: EPL-2.0

package logger

import (
	"context"
	"io"
	"log/slog"
	"strings"
)

type slogLogger struct {
	base   *slog.Logger
	module string
	attrs  []slog.Attr
}

// NewSlogLogger wraps an existing slog handler.
func NewSlogLogger(h slog.Handler) Logger {
	return &slogLogger{base: slog.New(h)}
}

// NewTextLogger writes human-readable lines to w.
func NewTextLogger(w io.Writer, level slog.Level) Logger {
	return NewSlogLogger(slog.NewTextHandler(w, &slog.HandlerOptions{Level: level}))
}

// Discard drops everything. Intended for tests.
func Discard() Logger {
	return NewTextLogger(io.Discard, slog.LevelError+1)
}

func (l *slogLogger) Module(name string) Logger {
	module := name
	if l.module != "" {
		module = l.module + "." + name
	}
	return &slogLogger{base: l.base, module: module, attrs: l.attrs}
}

func (l *slogLogger) With(fields ...Field) Logger {
	attrs := make([]slog.Attr, 0, len(l.attrs)+len(fields))
	attrs = append(attrs, l.attrs...)
	attrs = append(attrs, toAttrs(fields)...)
	return &slogLogger{base: l.base, module: l.module, attrs: attrs}
}

func (l *slogLogger) Debug(msg string, fields ...Field) { l.log(slog.LevelDebug, msg, fields) }
func (l *slogLogger) Info(msg string, fields ...Field)  { l.log(slog.LevelInfo, msg, fields) }
func (l *slogLogger) Warn(msg string, fields ...Field)  { l.log(slog.LevelWarn, msg, fields) }
func (l *slogLogger) Error(msg string, fields ...Field) { l.log(slog.LevelError, msg, fields) }

func (l *slogLogger) log(level slog.Level, msg string, fields []Field) {
	if !l.base.Enabled(context.Background(), level) {
		return
	}

	attrs := make([]slog.Attr, 0, 1+len(l.attrs)+len(fields))
	if l.module != "" {
		attrs = append(attrs, slog.String("module", l.module))
	}
	attrs = append(attrs, l.attrs...)
	attrs = append(attrs, toAttrs(fields)...)

	l.base.LogAttrs(context.Background(), level, msg, attrs...)
}

func toAttrs(fields []Field) []slog.Attr {
	attrs := make([]slog.Attr, len(fields))
	for i, f := range fields {
		attrs[i] = slog.Any(f.Key, f.Value)
	}
	return attrs
}

// ParseLevel maps a config string to a slog level, defaulting to info.
func ParseLevel(s string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
