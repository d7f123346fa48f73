package core

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	slogmulti "github.com/samber/slog-multi"
	"golang.org/x/term"
)

// LoggerOptions configures NewLogger.
type LoggerOptions struct {
	Level slog.Level
	// File, when set, also receives every record as JSON at debug level.
	File string
}

// NewLogger creates the jaterm logger. When w is a terminal it uses
// slog.TextHandler for human-readable output; otherwise slog.JSONHandler so
// scripts and CI get machine-parseable lines. The returned close func
// releases the log file, if any.
func NewLogger(w io.Writer, opts LoggerOptions) (*slog.Logger, func() error, error) {
	handlerOpts := &slog.HandlerOptions{Level: opts.Level}
	var console slog.Handler
	if IsTerminal(w) {
		console = slog.NewTextHandler(w, handlerOpts)
	} else {
		console = slog.NewJSONHandler(w, handlerOpts)
	}

	if opts.File == "" {
		return slog.New(console), func() error { return nil }, nil
	}

	path := expandHomePath(opts.File)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, nil, fmt.Errorf("creating log directory: %w", err)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, nil, fmt.Errorf("opening log file: %w", err)
	}
	file := slog.NewJSONHandler(f, &slog.HandlerOptions{Level: slog.LevelDebug})
	return slog.New(slogmulti.Fanout(console, file)), f.Close, nil
}

// ParseLevel maps a --log-level value to a slog.Level.
func ParseLevel(s string) (slog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return slog.LevelDebug, nil
	case "", "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	}
	return 0, fmt.Errorf("unknown log level %q (want debug, info, warn or error)", s)
}

// IsTerminal reports whether w is an interactive terminal.
func IsTerminal(w io.Writer) bool {
	f, ok := w.(interface{ Fd() uintptr })
	return ok && term.IsTerminal(int(f.Fd()))
}
