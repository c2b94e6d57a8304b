// Package lockfile keeps two NerpyBot processes from sharing one state
// directory. The lock is an flock on a file in that directory, so the kernel
// drops it when the process dies, however it dies.
package lockfile

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"
)

// LockFileName is the name of the lock file created in the state directory.
const LockFileName = "nerpybot.lock"

// ErrLocked is matched by every LockError.
var ErrLocked = errors.New("state directory is locked by another process")

// Lock is a held state directory lock.
type Lock struct {
	file *os.File
	path string
}

// Info is what a lock file records about its owner.
type Info struct {
	PID     int
	Started time.Time
}

// AcquireLock takes the lock on stateDir, creating the directory if needed.
// It fails with a *LockError when another process holds the lock.
func AcquireLock(stateDir string) (*Lock, error) {
	lockPath := filepath.Join(stateDir, LockFileName)
	slog.Debug("Lockfile acquiring", "lock_path", lockPath)

	if err := os.MkdirAll(stateDir, 0755); err != nil {
		return nil, fmt.Errorf("create state directory %s: %w", stateDir, err)
	}

	// O_TRUNC would wipe the owner's info before we know the lock is free.
	file, err := os.OpenFile(lockPath, os.O_CREATE|os.O_RDWR, 0644)
	if err != nil {
		return nil, fmt.Errorf("open lock file %s: %w", lockPath, err)
	}

	if err := syscall.Flock(int(file.Fd()), syscall.LOCK_EX|syscall.LOCK_NB); err != nil {
		file.Close()
		lockErr := &LockError{LockPath: lockPath, Cause: err}
		if data, readErr := os.ReadFile(lockPath); readErr == nil {
			lockErr.Owner, lockErr.ownerKnown = ParseInfo(string(data))
		}
		slog.Error("Lockfile held by another NerpyBot instance", "lock_path", lockPath, "owner_pid", lockErr.Owner.PID)
		return nil, lockErr
	}

	info := fmt.Sprintf("pid=%d\nstarted=%s\n", os.Getpid(), time.Now().UTC().Format(time.RFC3339))
	if err := writeInfo(file, info); err != nil {
		syscall.Flock(int(file.Fd()), syscall.LOCK_UN)
		file.Close()
		return nil, fmt.Errorf("write lock file %s: %w", lockPath, err)
	}

	slog.Info("Lockfile acquired", "lock_path", lockPath, "pid", os.Getpid())
	return &Lock{file: file, path: lockPath}, nil
}

func writeInfo(file *os.File, info string) error {
	if err := file.Truncate(0); err != nil {
		return err
	}
	if _, err := file.WriteAt([]byte(info), 0); err != nil {
		return err
	}
	if err := file.Sync(); err != nil {
		slog.Warn("Lockfile sync failed", "error", err, "lock_path", file.Name())
	}
	return nil
}

// Path returns the lock file path.
func (l *Lock) Path() string { return l.path }

// Release drops the lock and removes the lock file. It is safe to call more
// than once.
func (l *Lock) Release() error {
	if l == nil || l.file == nil {
		return nil
	}
	// Remove before unlocking so a waiting process never sees our stale info.
	if err := os.Remove(l.path); err != nil && !errors.Is(err, os.ErrNotExist) {
		slog.Warn("Lockfile remove failed", "error", err, "lock_path", l.path)
	}
	if err := syscall.Flock(int(l.file.Fd()), syscall.LOCK_UN); err != nil {
		slog.Warn("Lockfile unlock failed", "error", err, "lock_path", l.path)
	}
	err := l.file.Close()
	l.file = nil
	slog.Info("Lockfile released", "lock_path", l.path)
	if err != nil {
		return fmt.Errorf("close lock file %s: %w", l.path, err)
	}
	return nil
}

// LockError reports a state directory already locked by another process.
type LockError struct {
	LockPath   string
	Owner      Info
	Cause      error
	ownerKnown bool
}

func (e *LockError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "another NerpyBot instance is using this state directory (lock file %s)", e.LockPath)
	if e.ownerKnown {
		state := "running"
		if !IsProcessRunning(e.Owner.PID) {
			state = "not running, the lock may be stale"
		}
		fmt.Fprintf(&b, "; owner pid %d, %s", e.Owner.PID, state)
		if !e.Owner.Started.IsZero() {
			fmt.Fprintf(&b, ", started %s", e.Owner.Started.Format(time.RFC3339))
		}
	}
	return b.String()
}

// Unwrap returns the flock error.
func (e *LockError) Unwrap() error { return e.Cause }

// Is matches ErrLocked.
func (e *LockError) Is(target error) bool { return target == ErrLocked }

// ParseInfo reads the owner recorded in a lock file. ok is false when no pid
// could be found.
func ParseInfo(content string) (info Info, ok bool) {
	for _, line := range strings.Split(content, "\n") {
		key, value, found := strings.Cut(strings.TrimSpace(line), "=")
		if !found {
			continue
		}
		switch key {
		case "pid":
			if pid, err := strconv.Atoi(value); err == nil && pid > 0 {
				info.PID = pid
			}
		case "started":
			if t, err := time.Parse(time.RFC3339, value); err == nil {
				info.Started = t
			}
		}
	}
	return info, info.PID > 0
}

// IsProcessRunning reports whether a process with pid exists.
func IsProcessRunning(pid int) bool {
	if pid <= 0 {
		return false
	}
	process, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	// Signal 0 only checks that the process exists.
	return process.Signal(syscall.Signal(0)) == nil
}
