package vault

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestLock_AcquireThenReleaseAllowsReacquire(t *testing.T) {
	target := filepath.Join(t.TempDir(), "note.md")
	lock := NewLock(target, time.Minute)

	require.NoError(t, lock.Acquire("writer-1"))
	require.NoError(t, lock.Release())
	require.NoError(t, lock.Acquire("writer-2"))
}

func TestLock_SecondAcquireFailsWhileHeld(t *testing.T) {
	target := filepath.Join(t.TempDir(), "note.md")
	lock1 := NewLock(target, time.Minute)
	lock2 := NewLock(target, time.Minute)

	require.NoError(t, lock1.Acquire("writer-1"))
	err := lock2.Acquire("writer-2")
	require.ErrorIs(t, err, ErrLockHeld)
}

func TestLock_StaleLockIsReclaimed(t *testing.T) {
	target := filepath.Join(t.TempDir(), "note.md")
	lock1 := NewLock(target, time.Millisecond)
	require.NoError(t, lock1.Acquire("writer-1"))

	time.Sleep(5 * time.Millisecond)

	lock2 := NewLock(target, time.Millisecond)
	require.NoError(t, lock2.Acquire("writer-2"))
}

func TestLock_ReleaseIsIdempotent(t *testing.T) {
	target := filepath.Join(t.TempDir(), "note.md")
	lock := NewLock(target, time.Minute)
	require.NoError(t, lock.Release())
	require.NoError(t, lock.Release())
}
