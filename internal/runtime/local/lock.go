package local

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/zapbuilder/zapbuild/internal/errors"
	"github.com/zapbuilder/zapbuild/internal/logging"
)

// ErrDirLocked is returned when another live process owns the project
// directory.
var ErrDirLocked = errors.New("project directory is in use by another process")

// DirLock marks a project directory as owned by this process. The lock
// file sits next to the directory, since Reset empties the directory itself.
type DirLock struct {
	Dir       string    `json:"dir"`
	PID       int       `json:"pid"`
	Hostname  string    `json:"hostname"`
	StartedAt time.Time `json:"started_at"`

	path   string
	logger *logging.Logger
}

// LockPath returns the lock file used for dir.
func LockPath(dir string) string {
	return filepath.Join(filepath.Dir(dir), "."+filepath.Base(dir)+".lock")
}

// AcquireDirLock takes the lock for dir. A lock left by a dead process is
// replaced.
func AcquireDirLock(dir string, logger *logging.Logger) (*DirLock, error) {
	if logger == nil {
		logger = logging.NopLogger()
	}
	path := LockPath(dir)

	if existing, err := readDirLock(path); err == nil {
		if isAlive(existing.PID) {
			return nil, fmt.Errorf("%w: PID %d on %s", ErrDirLocked, existing.PID, existing.Hostname)
		}
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			return nil, fmt.Errorf("remove stale lock: %w", err)
		}
		logger.Warn("stale project lock removed", "dir", dir, "old_pid", existing.PID)
	}

	hostname, err := os.Hostname()
	if err != nil {
		hostname = "unknown"
	}
	lock := &DirLock{
		Dir:       dir,
		PID:       os.Getpid(),
		Hostname:  hostname,
		StartedAt: time.Now(),
		path:      path,
		logger:    logger,
	}
	data, err := json.MarshalIndent(lock, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("marshal lock: %w", err)
	}

	// O_EXCL loses the race cleanly when two processes start together.
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0644)
	if err != nil {
		if os.IsExist(err) {
			return nil, ErrDirLocked
		}
		return nil, fmt.Errorf("create lock file: %w", err)
	}
	defer f.Close()

	if _, err := f.Write(data); err != nil {
		_ = os.Remove(path)
		return nil, fmt.Errorf("write lock file: %w", err)
	}
	logger.Debug("project lock acquired", "dir", dir, "pid", lock.PID)
	return lock, nil
}

// Release removes the lock file if this process still owns it. It is safe
// to call more than once.
func (l *DirLock) Release() error {
	if l == nil || l.path == "" {
		return nil
	}
	existing, err := readDirLock(l.path)
	if err != nil || existing.PID != l.PID {
		return nil
	}
	if err := os.Remove(l.path); err != nil && !os.IsNotExist(err) {
		return err
	}
	l.logger.Debug("project lock released", "dir", l.Dir)
	return nil
}

func readDirLock(path string) (*DirLock, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var lock DirLock
	if err := json.Unmarshal(data, &lock); err != nil {
		return nil, fmt.Errorf("parse lock file: %w", err)
	}
	lock.path = path
	return &lock, nil
}
