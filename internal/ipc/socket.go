package ipc

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"syscall"
	"time"
)

const socketName = "murmur.sock"

// ErrAlreadyRunning means a live owner already holds the socket.
var ErrAlreadyRunning = errors.New("murmur session already running")

// RuntimeSocketPath is the owner socket under XDG_RUNTIME_DIR.
func RuntimeSocketPath() (string, error) {
	dir := strings.TrimSpace(os.Getenv("XDG_RUNTIME_DIR"))
	if dir == "" {
		return "", errors.New("XDG_RUNTIME_DIR is not set")
	}
	return filepath.Join(dir, socketName), nil
}

// AcquireOptions bounds how hard Acquire tries to reclaim a stale socket.
type AcquireOptions struct {
	ProbeTimeout time.Duration
	Retries      int
	Backoff      time.Duration
}

// DefaultAcquireOptions suit an interactive keybinding.
var DefaultAcquireOptions = AcquireOptions{
	ProbeTimeout: 180 * time.Millisecond,
	Retries:      8,
	Backoff:      25 * time.Millisecond,
}

// Owner is the listening end of the owner socket. Close unlinks the socket file.
type Owner struct {
	net.Listener
	path string
	once sync.Once
}

// Path is the socket file the owner listens on.
func (o *Owner) Path() string { return o.path }

// Close stops listening and removes the socket file. Later calls are no-ops.
func (o *Owner) Close() error {
	var err error
	o.once.Do(func() {
		err = o.Listener.Close()
		if rmErr := os.Remove(o.path); rmErr != nil && !errors.Is(rmErr, os.ErrNotExist) && err == nil {
			err = rmErr
		}
	})
	return err
}

// Acquire binds path as the owner socket. A socket file nobody answers on is
// treated as left behind by a dead owner and removed. A responsive owner
// yields ErrAlreadyRunning. An inconclusive probe leaves the file alone.
func Acquire(ctx context.Context, path string, opts AcquireOptions) (*Owner, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, fmt.Errorf("ensure runtime socket dir: %w", err)
	}

	for attempt := 0; ; attempt++ {
		ln, err := net.Listen("unix", path)
		if err == nil {
			_ = os.Chmod(path, 0o600)
			// The listener must not unlink on close; Owner does that itself.
			if ul, ok := ln.(*net.UnixListener); ok {
				ul.SetUnlinkOnClose(false)
			}
			return &Owner{Listener: ln, path: path}, nil
		}
		if !errors.Is(err, syscall.EADDRINUSE) {
			return nil, fmt.Errorf("listen unix %s: %w", path, err)
		}

		alive, probeErr := Probe(ctx, path, opts.ProbeTimeout)
		switch {
		case alive:
			return nil, ErrAlreadyRunning
		case probeErr != nil:
			return nil, fmt.Errorf("probe existing socket %s: %w", path, probeErr)
		}
		if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("remove stale socket %s: %w", path, err)
		}

		if attempt >= opts.Retries {
			return nil, fmt.Errorf("acquire socket %s: gave up after %d retries", path, opts.Retries)
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(time.Duration(attempt+1) * opts.Backoff):
		}
	}
}
