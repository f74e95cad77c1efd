// Package logging sets up the JSON-lines slog logger for murmur processes.
package logging

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
)

const logName = "log.jsonl"

// Runtime is a configured logger plus the file it writes to. Path is empty
// when logging fell back to the fallback writer.
type Runtime struct {
	Logger *slog.Logger
	Path   string
	closer io.Closer
}

// Close closes the log file, if any.
func (r Runtime) Close() error {
	if r.closer == nil {
		return nil
	}
	return r.closer.Close()
}

// StateDir is murmur's state directory: $XDG_STATE_HOME/murmur or ~/.local/state/murmur.
func StateDir() (string, error) {
	if xdg := strings.TrimSpace(os.Getenv("XDG_STATE_HOME")); xdg != "" {
		return filepath.Join(xdg, "murmur"), nil
	}
	home, err := os.UserHomeDir()
	if err != nil || home == "" {
		return "", errors.New("logging: cannot locate home directory for state")
	}
	return filepath.Join(home, ".local", "state", "murmur"), nil
}

// New opens the JSONL log under StateDir at the given level ("" means info).
// If the file cannot be opened and fallback is non-nil, records go to
// fallback instead and the open error is logged there once.
func New(level string, fallback io.Writer) (Runtime, error) {
	lvl, err := ParseLevel(level)
	if err != nil {
		return Runtime{}, err
	}

	f, path, openErr := openLogFile()
	if openErr != nil {
		if fallback == nil {
			return Runtime{}, openErr
		}
		logger := newLogger(fallback, lvl)
		logger.Warn("log file unavailable; logging to fallback", "error", openErr)
		return Runtime{Logger: logger}, nil
	}
	return Runtime{Logger: newLogger(f, lvl), Path: path, closer: f}, nil
}

func newLogger(w io.Writer, lvl slog.Level) *slog.Logger {
	h := slog.NewJSONHandler(w, &slog.HandlerOptions{Level: lvl})
	return slog.New(h).With("app", "murmur", "pid", os.Getpid())
}

func openLogFile() (*os.File, string, error) {
	dir, err := StateDir()
	if err != nil {
		return nil, "", err
	}
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, "", fmt.Errorf("create log dir: %w", err)
	}
	path := filepath.Join(dir, logName)
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o600)
	if err != nil {
		return nil, "", fmt.Errorf("open log file: %w", err)
	}
	return f, path, nil
}

// ParseLevel maps a config level name onto a slog level.
func ParseLevel(raw string) (slog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "", "info":
		return slog.LevelInfo, nil
	case "debug":
		return slog.LevelDebug, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	}
	return slog.LevelInfo, fmt.Errorf("unknown log level %q", raw)
}
