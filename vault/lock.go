package vault

import (
	"fmt"
	"os"
	"time"

	"github.com/agenthq/relay/errors"
)

// ErrLockHeld is returned when a named lock is held by a non-stale writer.
var ErrLockHeld = errors.New("lock held by another writer")

// Lock is a per-path advisory lock file with bounded staleness, grounded
// on the backup-then-write idiom used for config persistence: write a
// sidecar before mutating the guarded file, and treat an old sidecar as
// abandoned rather than honored forever.
type Lock struct {
	path    string
	maxAge  time.Duration
}

// NewLock returns a lock guarding targetPath, stored alongside it as
// "<targetPath>.lock".
func NewLock(targetPath string, maxAge time.Duration) *Lock {
	return &Lock{path: targetPath + ".lock", maxAge: maxAge}
}

// Acquire creates the lock file exclusively. If an existing lock file is
// older than maxAge it is treated as abandoned and reclaimed.
func (l *Lock) Acquire(holder string) error {
	if info, err := os.Stat(l.path); err == nil {
		if time.Since(info.ModTime()) > l.maxAge {
			_ = os.Remove(l.path)
		} else {
			return ErrLockHeld
		}
	}
	f, err := os.OpenFile(l.path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
	if err != nil {
		if os.IsExist(err) {
			return ErrLockHeld
		}
		return errors.Wrapf(err, "failed to create lock file %s", l.path)
	}
	defer f.Close()
	fmt.Fprintf(f, "%s %d\n", holder, time.Now().Unix())
	return nil
}

// Release removes the lock file. Idempotent.
func (l *Lock) Release() error {
	err := os.Remove(l.path)
	if err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}
