// SPDX-License-Identifier: EPL-2.0

// Package logger provides module-scoped structured logging on top of
// log/slog.
//
// Components receive a Logger at construction and derive their own scope:
//
//	log := root.Module("sandbox")
//	log.Info("plugin installed", logger.String("plugin", name))
//
// Module names nest with a dot, so root.Module("library").Module("zip")
// logs with module="library.zip".
package logger

import (
	"strings"
	"time"
)

// Logger is the logging surface every component depends on.
type Logger interface {
	// Module returns a logger scoped to a child module.
	Module(name string) Logger

	Debug(msg string, fields ...Field)
	Info(msg string, fields ...Field)
	Warn(msg string, fields ...Field)
	Error(msg string, fields ...Field)

	// With returns a logger that adds fields to every entry.
	With(fields ...Field) Logger
}

// Field is one structured key/value pair.
type Field struct {
	Key   string
	Value any
}

const errorKey = "error"

func String(key, value string) Field { return Field{Key: key, Value: value} }

func Int(key string, value int) Field { return Field{Key: key, Value: value} }

func Int64(key string, value int64) Field { return Field{Key: key, Value: value} }

func Float64(key string, value float64) Field { return Field{Key: key, Value: value} }

func Bool(key string, value bool) Field { return Field{Key: key, Value: value} }

// Error always uses the key "error". A nil error logs as nil.
func Error(err error) Field {
	if err == nil {
		return Field{Key: errorKey, Value: nil}
	}
	return Field{Key: errorKey, Value: err.Error()}
}

func Duration(key string, value time.Duration) Field {
	return Field{Key: key, Value: value.String()}
}

// Strings joins values with commas.
func Strings(key string, values []string) Field {
	return Field{Key: key, Value: strings.Join(values, ",")}
}

func Any(key string, value any) Field { return Field{Key: key, Value: value} }
