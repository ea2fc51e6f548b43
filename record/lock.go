// OS-level advisory file locking, the global path lock of spec.md §5's
// lock hierarchy level 1: "one per on-disk file path ... prevents
// multiple handles in the same or different processes from co-opening
// for writes." Grounded on the teacher's fileLock (folio's lock.go): same
// mutex-guards-the-fd design, but this layer now also tracks acquisition
// state so it can enforce spec.md §5's "no lock upgrade is performed...
// violations are a bug" and distinguish a non-blocking contention failure
// from an arbitrary I/O error, neither of which the teacher's single-file,
// single-locker fileLock had any reason to model.
package record

import (
	"errors"
	"os"
	"sync"
)

// LockMode selects shared (read) or exclusive (write) locking.
type LockMode int

const (
	LockShared LockMode = iota
	LockExclusive
)

// ErrLocked is returned by Lock when a non-blocking acquisition could not
// get the lock immediately. spec.md §5: "a failure to acquire (on a
// configured non-blocking open) reports LOCK and leaves no state changed."
var ErrLocked = errors.New("record: path already locked by another handle")

// ErrLockUpgrade guards spec.md §5's "no lock upgrade is performed...
// violations are a bug": a handle already holding the path lock in shared
// mode must Unlock before re-acquiring it exclusively rather than
// silently re-flocking over its own shared hold.
var ErrLockUpgrade = errors.New("record: cannot upgrade a held shared lock to exclusive")

// pathLock coordinates the OS advisory lock with safe handle teardown,
// tracking whether and how it is currently held so repeated or
// conflicting Lock calls on the same handle are caught rather than
// silently re-issuing flock(2).
type pathLock struct {
	mu   sync.Mutex
	f    *os.File
	held bool
	mode LockMode
}

// Lock acquires the path lock in mode, blocking unless nonblock is set.
// Re-locking in the same or a weaker mode while already held is a no-op;
// attempting to upgrade a held shared lock to exclusive fails with
// ErrLockUpgrade instead of reacquiring.
func (l *pathLock) Lock(mode LockMode, nonblock bool) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.f == nil {
		return nil
	}
	if l.held {
		if l.mode == LockExclusive || mode == l.mode {
			return nil
		}
		return ErrLockUpgrade
	}
	if err := l.lock(mode, nonblock); err != nil {
		if nonblock && isWouldBlock(err) {
			return ErrLocked
		}
		return err
	}
	l.held = true
	l.mode = mode
	return nil
}

// Unlock releases the flock if held. Returns nil immediately if the
// handle has been cleared via setFile(nil) or nothing is held.
func (l *pathLock) Unlock() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.f == nil || !l.held {
		return nil
	}
	if err := l.unlock(); err != nil {
		return err
	}
	l.held = false
	return nil
}

// setFile swaps the underlying handle; nil drains any in-flight flock and
// disables further locking until a new handle is set.
func (l *pathLock) setFile(f *os.File) {
	l.mu.Lock()
	l.f = f
	l.held = false
	l.mu.Unlock()
}
