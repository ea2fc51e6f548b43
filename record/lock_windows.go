//go:build windows

// LockFileEx/UnlockFileEx implementation for Windows. Both methods are
// called with l.mu already held by the exported Lock/Unlock. isWouldBlock
// classifies LockFileEx's LOCKFILE_FAIL_IMMEDIATELY contention error so
// pathLock.Lock can surface spec.md §5's LOCK-specific failure instead of
// a bare Win32 error code.
package record

import (
	"errors"
	"syscall"
	"unsafe"
)

var (
	modkernel32      = syscall.NewLazyDLL("kernel32.dll")
	procLockFileEx   = modkernel32.NewProc("LockFileEx")
	procUnlockFileEx = modkernel32.NewProc("UnlockFileEx")
)

const (
	lockfileExclusiveLock   = 0x00000002
	lockfileFailImmediately = 0x00000001

	// errorLockViolation is the Win32 error LockFileEx returns when
	// LOCKFILE_FAIL_IMMEDIATELY is set and the region is already locked.
	errorLockViolation = 33
)

func (l *pathLock) lock(mode LockMode, nonblock bool) error {
	var flags uint32
	if mode == LockExclusive {
		flags |= lockfileExclusiveLock
	}
	if nonblock {
		flags |= lockfileFailImmediately
	}

	h := syscall.Handle(l.f.Fd())
	var overlapped syscall.Overlapped

	r1, _, err := procLockFileEx.Call(
		uintptr(h),
		uintptr(flags),
		0,
		0xFFFFFFFF,
		0xFFFFFFFF,
		uintptr(unsafe.Pointer(&overlapped)),
	)
	if r1 == 0 {
		return err
	}
	return nil
}

func (l *pathLock) unlock() error {
	h := syscall.Handle(l.f.Fd())
	var overlapped syscall.Overlapped
	r1, _, err := procUnlockFileEx.Call(
		uintptr(h),
		0,
		0xFFFFFFFF,
		0xFFFFFFFF,
		uintptr(unsafe.Pointer(&overlapped)),
	)
	if r1 == 0 {
		return err
	}
	return nil
}

func isWouldBlock(err error) bool {
	var errno syscall.Errno
	return errors.As(err, &errno) && errno == errorLockViolation
}
