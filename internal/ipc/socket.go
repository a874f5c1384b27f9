// Package ipc is the local control channel of a running conversation: one
// unix socket, one JSON request and one JSON response per connection.
package ipc

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strings"
	"syscall"
	"time"
)

var ErrAlreadyRunning = errors.New("voxrelay conversation already running")

const socketName = "voxrelay.sock"

// RuntimeSocketPath returns the control socket path under XDG_RUNTIME_DIR.
func RuntimeSocketPath() (string, error) {
	runtimeDir := strings.TrimSpace(os.Getenv("XDG_RUNTIME_DIR"))
	if runtimeDir == "" {
		return "", errors.New("XDG_RUNTIME_DIR is not set")
	}
	return filepath.Join(runtimeDir, socketName), nil
}

// AcquireOptions tunes stale-socket recovery.
type AcquireOptions struct {
	// ProbeTimeout bounds the status request sent to an existing socket.
	ProbeTimeout time.Duration
	// Retries is how many more listen attempts follow a stale-socket removal.
	Retries int
	// OnStale is told about every stale socket that was removed.
	OnStale func(path string)
}

// Owner is the listener held by the running conversation. Closing it also
// unlinks the socket.
type Owner struct {
	net.Listener
	path string
}

// Path returns the socket path.
func (o *Owner) Path() string {
	return o.path
}

func (o *Owner) Close() error {
	err := o.Listener.Close()
	if removeErr := os.Remove(o.path); removeErr != nil && !errors.Is(removeErr, os.ErrNotExist) && err == nil {
		err = removeErr
	}
	if errors.Is(err, net.ErrClosed) {
		return nil
	}
	return err
}

// Acquire listens on path as the single running conversation. A responsive
// socket means another conversation owns it; a dead one is removed and
// listening is retried.
func Acquire(ctx context.Context, path string, opts AcquireOptions) (*Owner, error) {
	if opts.ProbeTimeout <= 0 {
		opts.ProbeTimeout = 200 * time.Millisecond
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, fmt.Errorf("ensure runtime socket dir: %w", err)
	}

	for attempt := 0; attempt <= opts.Retries; attempt++ {
		listener, err := net.Listen("unix", path)
		if err == nil {
			_ = os.Chmod(path, 0o600)
			return &Owner{Listener: listener, path: path}, nil
		}
		if !errors.Is(err, syscall.EADDRINUSE) {
			return nil, fmt.Errorf("listen unix %s: %w", path, err)
		}

		alive, probeErr := Probe(ctx, path, opts.ProbeTimeout)
		if alive {
			return nil, ErrAlreadyRunning
		}
		// An owner that accepts but never answers is not proven dead.
		if probeErr != nil {
			return nil, fmt.Errorf("probe existing socket %s: %w", path, probeErr)
		}

		if removeErr := os.Remove(path); removeErr != nil && !errors.Is(removeErr, os.ErrNotExist) {
			return nil, fmt.Errorf("remove stale socket %s: %w", path, removeErr)
		}
		if opts.OnStale != nil {
			opts.OnStale(path)
		}

		if attempt < opts.Retries {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(time.Duration(25*(attempt+1)) * time.Millisecond):
			}
		}
	}

	return nil, fmt.Errorf("failed to acquire socket %s after %d retries", path, opts.Retries)
}
