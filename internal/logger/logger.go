// Package logger is the process-wide slog logger behind printf-style
// helpers. Output, format and level can be swapped at runtime.
package logger

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"
)

var (
	level slog.LevelVar

	mu      sync.RWMutex
	out     io.Writer = os.Stdout
	useJSON bool
	current = build()
)

func build() *slog.Logger {
	opts := &slog.HandlerOptions{Level: &level}
	if useJSON {
		return slog.New(slog.NewJSONHandler(out, opts))
	}
	return slog.New(slog.NewTextHandler(out, opts))
}

// SetOutput redirects log lines to w, stdout when w is nil.
func SetOutput(w io.Writer) {
	if w == nil {
		w = os.Stdout
	}
	mu.Lock()
	out = w
	current = build()
	mu.Unlock()
}

// SetJSON switches between the text and JSON handlers.
func SetJSON(enabled bool) {
	mu.Lock()
	useJSON = enabled
	current = build()
	mu.Unlock()
}

// SetLevel accepts debug, info, warn or error. Anything else means info.
func SetLevel(name string) {
	level.Set(ParseLevel(name))
}

func ParseLevel(name string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	}
	return slog.LevelInfo
}

func logf(lvl slog.Level, format string, args []any, attrs ...slog.Attr) {
	mu.RLock()
	l := current
	mu.RUnlock()
	ctx := context.Background()
	if !l.Enabled(ctx, lvl) {
		return
	}
	l.LogAttrs(ctx, lvl, fmt.Sprintf(format, args...), attrs...)
}

func Debugf(format string, v ...any) { logf(slog.LevelDebug, format, v) }

func Infof(format string, v ...any) { logf(slog.LevelInfo, format, v) }

func Warnf(format string, v ...any) { logf(slog.LevelWarn, format, v) }

func Errorf(format string, v ...any) { logf(slog.LevelError, format, v) }

// Criticalf logs at error level tagged severity=CRITICAL.
func Criticalf(format string, v ...any) {
	logf(slog.LevelError, format, v, slog.String("severity", "CRITICAL"))
}

// InfoBlock logs each non-empty line of block as its own info record.
func InfoBlock(block string) {
	for _, line := range strings.Split(strings.TrimSpace(block), "\n") {
		if strings.TrimSpace(line) != "" {
			logf(slog.LevelInfo, "%s", []any{line})
		}
	}
}
