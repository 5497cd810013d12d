// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package log provides the process logger for the trackbot binary. It wraps
// slog and writes to stderr so command output on stdout stays clean.
package log

import (
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"
)

var (
	logger *slog.Logger
	once   sync.Once
)

// ParseLevel maps debug, info, warn and error to slog levels. Anything else is
// info.
func ParseLevel(level string) slog.Level {
	switch strings.ToLower(level) {
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

// Production reports whether GO_ENV or TRACKBOT_ENV asks for production output
func Production() bool {
	return os.Getenv("GO_ENV") == "production" || os.Getenv("TRACKBOT_ENV") == "production"
}

// New creates a logger writing to w. JSON output is used in production.
func New(w io.Writer, level string, json bool) *slog.Logger {
	opts := &slog.HandlerOptions{Level: ParseLevel(level)}
	if json {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}

// Init sets up the global logger. Only the first call has any effect.
func Init(level string) {
	once.Do(func() {
		logger = New(os.Stderr, level, Production())
		slog.SetDefault(logger)
	})
}

// L returns the global logger
func L() *slog.Logger {
	if logger == nil {
		Init("info")
	}
	return logger
}

// Debug logs at debug level
func Debug(msg string, args ...any) {
	L().Debug(msg, args...)
}

// Info logs at info level
func Info(msg string, args ...any) {
	L().Info(msg, args...)
}

// Warn logs at warn level
func Warn(msg string, args ...any) {
	L().Warn(msg, args...)
}

// Error logs at error level
func Error(msg string, args ...any) {
	L().Error(msg, args...)
}

// With returns a logger with the given attributes
func With(args ...any) *slog.Logger {
	return L().With(args...)
}
