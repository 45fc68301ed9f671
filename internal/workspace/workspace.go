// Package workspace manages the directory that holds temporary artifacts
// while they are retrieved, remuxed, segmented and uploaded.
//
// Every selection gets a Job whose files share a unique prefix, so concurrent
// conversations never collide and cleanup is a prefix-scoped removal.
package workspace

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/gofrs/flock"
	"github.com/google/uuid"
)

const lockName = ".lock"

// ErrLocked is returned by Open when another process owns the directory.
var ErrLocked = errors.New("workspace is locked by another process")

// Workspace is an exclusively owned artifact directory.
type Workspace struct {
	dir  string
	lock *flock.Flock
}

// Open creates dir if needed, takes the workspace lock and sweeps leftovers
// of a previous run. The returned count is the number of stale files removed.
func Open(dir string) (*Workspace, int, error) {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, 0, fmt.Errorf("resolve workspace dir: %w", err)
	}
	if err := os.MkdirAll(abs, 0o755); err != nil {
		return nil, 0, fmt.Errorf("create workspace dir: %w", err)
	}

	lock := flock.New(filepath.Join(abs, lockName))
	ok, err := lock.TryLock()
	if err != nil {
		return nil, 0, fmt.Errorf("lock workspace: %w", err)
	}
	if !ok {
		return nil, 0, ErrLocked
	}

	ws := &Workspace{dir: abs, lock: lock}
	n, err := ws.sweep()
	if err != nil {
		_ = lock.Unlock()
		return nil, 0, err
	}
	return ws, n, nil
}

// Dir returns the absolute workspace directory.
func (w *Workspace) Dir() string {
	return w.dir
}

// Close releases the workspace lock.
func (w *Workspace) Close() error {
	return w.lock.Unlock()
}

// NewJob allocates a unique file prefix for one retrieval owned by owner
// (typically a conversation identifier).
func (w *Workspace) NewJob(owner string) *Job {
	return &Job{
		ID:  sanitize(owner) + "-" + uuid.NewString(),
		dir: w.dir,
	}
}

// sweep removes every regular file except the lock. Only called while the
// lock is held, so nothing in the directory can belong to a live job.
func (w *Workspace) sweep() (int, error) {
	entries, err := os.ReadDir(w.dir)
	if err != nil {
		return 0, fmt.Errorf("read workspace dir: %w", err)
	}
	n := 0
	var errs []error
	for _, e := range entries {
		if e.IsDir() || e.Name() == lockName {
			continue
		}
		if err := os.Remove(filepath.Join(w.dir, e.Name())); err != nil && !os.IsNotExist(err) {
			errs = append(errs, err)
			continue
		}
		n++
	}
	return n, errors.Join(errs...)
}

// sanitize keeps owner identifiers usable as a filename prefix.
func sanitize(owner string) string {
	if owner == "" {
		return "anon"
	}
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			return r
		default:
			return '_'
		}
	}, owner)
}
