// Package lock provides the process-wide advisory file lock that guards
// every mutating operation against an index directory, per the control-flow
// rule that readers take no lock but writers serialize on a single file.
package lock

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/gofrs/flock"
)

// FileName is the lock file created inside the index directory.
const FileName = "index.lock"

// Lock is an exclusive, cross-process advisory lock over an index
// directory's mutating operations (indexing, pruning, garbage collection).
type Lock struct {
	path   string
	flock  *flock.Flock
	locked bool
}

// New returns a Lock for the given index directory. The lock file itself
// is created lazily on the first Lock/TryLock call.
func New(indexDir string) *Lock {
	path := filepath.Join(indexDir, FileName)
	return &Lock{path: path, flock: flock.New(path)}
}

// Lock blocks until the exclusive lock is acquired.
func (l *Lock) Lock() error {
	if err := os.MkdirAll(filepath.Dir(l.path), 0o755); err != nil {
		return fmt.Errorf("create lock directory: %w", err)
	}
	if err := l.flock.Lock(); err != nil {
		return fmt.Errorf("acquire index lock: %w", err)
	}
	l.locked = true
	return nil
}

// TryLock attempts to acquire the lock without blocking. ok is false when
// another process already holds it.
func (l *Lock) TryLock() (ok bool, err error) {
	if err := os.MkdirAll(filepath.Dir(l.path), 0o755); err != nil {
		return false, fmt.Errorf("create lock directory: %w", err)
	}
	acquired, err := l.flock.TryLock()
	if err != nil {
		return false, fmt.Errorf("acquire index lock: %w", err)
	}
	l.locked = acquired
	return acquired, nil
}

// Unlock releases the lock. Safe to call on an already-unlocked Lock.
func (l *Lock) Unlock() error {
	if !l.locked {
		return nil
	}
	if err := l.flock.Unlock(); err != nil {
		return fmt.Errorf("release index lock: %w", err)
	}
	l.locked = false
	return nil
}

// Path returns the lock file path.
func (l *Lock) Path() string { return l.path }
