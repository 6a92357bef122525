package local

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func TestDirLockLifecycle(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "project")

	lock, err := AcquireDirLock(dir, nil)
	if err != nil {
		t.Fatalf("AcquireDirLock() error = %v", err)
	}
	if _, err := os.Stat(LockPath(dir)); err != nil {
		t.Fatalf("lock file missing: %v", err)
	}

	if err := lock.Release(); err != nil {
		t.Fatalf("Release() error = %v", err)
	}
	if _, err := os.Stat(LockPath(dir)); !os.IsNotExist(err) {
		t.Error("lock file should be removed on release")
	}
	if err := lock.Release(); err != nil {
		t.Errorf("second Release() error = %v", err)
	}
}

func TestDirLockHeldByLiveProcess(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "project")
	// PID 1 is always alive and never this test process.
	writeLock(t, dir, 1)

	_, err := AcquireDirLock(dir, nil)
	if !errors.Is(err, ErrDirLocked) {
		t.Errorf("AcquireDirLock() error = %v, want ErrDirLocked", err)
	}
}

func TestDirLockReplacesStaleLock(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "project")
	writeLock(t, dir, 999999999)

	lock, err := AcquireDirLock(dir, nil)
	if err != nil {
		t.Fatalf("AcquireDirLock() error = %v", err)
	}
	defer lock.Release()
	if lock.PID != os.Getpid() {
		t.Errorf("PID = %d, want %d", lock.PID, os.Getpid())
	}
}

func TestReleaseKeepsForeignLock(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "project")
	lock, err := AcquireDirLock(dir, nil)
	if err != nil {
		t.Fatal(err)
	}
	writeLock(t, dir, 1)

	if err := lock.Release(); err != nil {
		t.Fatal(err)
	}
	if _, err := os.Stat(LockPath(dir)); err != nil {
		t.Error("a lock owned by another process must survive Release")
	}
}

func writeLock(t *testing.T, dir string, pid int) {
	t.Helper()
	data, err := json.Marshal(DirLock{Dir: dir, PID: pid, Hostname: "test"})
	if err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(LockPath(dir), data, 0644); err != nil {
		t.Fatal(err)
	}
}
