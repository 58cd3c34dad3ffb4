package snapshot

import (
	"fmt"
	"os"
	"syscall"
)

// lock is an OS-level file lock, adapted from the database pager's
// flock helper for guarding a JSON snapshot file instead.
type lock struct {
	file *os.File
}

// lockFile acquires a lock on path's sidecar ".lock" file: exclusive
// and blocking for a writer, shared and blocking for a reader.
func lockFile(path string, exclusive bool) (*lock, error) {
	lockPath := path + ".lock"
	f, err := os.OpenFile(lockPath, os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		return nil, fmt.Errorf("snapshot: cannot open lock file: %w", err)
	}

	how := syscall.LOCK_SH
	if exclusive {
		how = syscall.LOCK_EX
	}
	if err := syscall.Flock(int(f.Fd()), how); err != nil {
		f.Close()
		return nil, fmt.Errorf("snapshot: locking %q: %w", path, err)
	}
	return &lock{file: f}, nil
}

func (l *lock) unlock() error {
	if l.file == nil {
		return nil
	}
	syscall.Flock(int(l.file.Fd()), syscall.LOCK_UN)
	return l.file.Close()
}
