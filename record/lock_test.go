package record

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func openLockTestFile(t *testing.T) *os.File {
	t.Helper()
	path := filepath.Join(t.TempDir(), "lock.dat")
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0644)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { f.Close() })
	return f
}

func TestPathLockSharedThenExclusiveIsUpgradeError(t *testing.T) {
	l := &pathLock{}
	l.setFile(openLockTestFile(t))

	if err := l.Lock(LockShared, false); err != nil {
		t.Fatal(err)
	}
	if err := l.Lock(LockExclusive, false); !errors.Is(err, ErrLockUpgrade) {
		t.Fatalf("want ErrLockUpgrade, got %v", err)
	}
}

func TestPathLockReacquireSameModeIsNoop(t *testing.T) {
	l := &pathLock{}
	l.setFile(openLockTestFile(t))

	if err := l.Lock(LockShared, false); err != nil {
		t.Fatal(err)
	}
	if err := l.Lock(LockShared, false); err != nil {
		t.Fatalf("want re-locking in the same mode to be a no-op, got %v", err)
	}
}

func TestPathLockNonblockContentionReportsErrLocked(t *testing.T) {
	f := openLockTestFile(t)

	holder := &pathLock{}
	holder.setFile(f)
	if err := holder.Lock(LockExclusive, false); err != nil {
		t.Fatal(err)
	}

	// A second handle on the same fd/file, as if another pathLock in
	// this process raced to open the same path concurrently.
	second, err := os.OpenFile(f.Name(), os.O_RDWR, 0644)
	if err != nil {
		t.Fatal(err)
	}
	defer second.Close()

	contender := &pathLock{}
	contender.setFile(second)
	if err := contender.Lock(LockExclusive, true); !errors.Is(err, ErrLocked) {
		t.Fatalf("want ErrLocked on non-blocking contention, got %v", err)
	}
}

func TestPathLockUnlockThenRelockSucceeds(t *testing.T) {
	l := &pathLock{}
	l.setFile(openLockTestFile(t))

	if err := l.Lock(LockShared, false); err != nil {
		t.Fatal(err)
	}
	if err := l.Unlock(); err != nil {
		t.Fatal(err)
	}
	if err := l.Lock(LockExclusive, false); err != nil {
		t.Fatalf("want exclusive lock to succeed after unlocking the shared hold, got %v", err)
	}
}

func TestPathLockNilFileIsNoop(t *testing.T) {
	l := &pathLock{}
	if err := l.Lock(LockExclusive, true); err != nil {
		t.Fatalf("want nil-file lock to be a no-op, got %v", err)
	}
	if err := l.Unlock(); err != nil {
		t.Fatalf("want nil-file unlock to be a no-op, got %v", err)
	}
}
