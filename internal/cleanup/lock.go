package cleanup

import (
	stderrors "errors"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"

	"golang.org/x/sys/unix"

	"github.com/GK-Developers/GK-Healter/internal/errors"
)

// DefaultLockPath is shared by every gk-healter process on the host
const DefaultLockPath = "/run/gk-healter/cleanup.lock"

// runLock admits one destructive run per host: a mutex for this process
// and an advisory flock on path for the others. An empty path keeps the
// lock process-local.
type runLock struct {
	path    string
	mu      sync.Mutex
	running atomic.Bool
	file    *os.File
}

func (l *runLock) acquire(op string) error {
	if !l.mu.TryLock() {
		return errors.New(errors.KindRunActive, op, nil)
	}
	if l.path == "" {
		l.running.Store(true)
		return nil
	}

	f, err := openLockFile(l.path)
	if err != nil {
		l.mu.Unlock()
		return errors.New(errors.KindPermissionDenied, op, err)
	}
	if f == nil {
		// Nobody could have created it either, so nobody holds it
		l.running.Store(true)
		return nil
	}
	if err := unix.Flock(int(f.Fd()), unix.LOCK_EX|unix.LOCK_NB); err != nil {
		f.Close()
		l.mu.Unlock()
		if stderrors.Is(err, unix.EWOULDBLOCK) {
			return errors.Newf(errors.KindRunActive, op, "another process holds %s", l.path)
		}
		return errors.New(errors.KindExecutionFailed, op, err)
	}
	l.file = f
	l.running.Store(true)
	return nil
}

func (l *runLock) release() {
	l.running.Store(false)
	if l.file != nil {
		_ = unix.Flock(int(l.file.Fd()), unix.LOCK_UN)
		l.file.Close()
		l.file = nil
	}
	l.mu.Unlock()
}

// held reports whether a run holds the lock, here or in another process
func (l *runLock) held() bool {
	if l.running.Load() {
		return true
	}
	if l.path == "" {
		return false
	}

	f, err := os.Open(l.path)
	if err != nil {
		return false
	}
	defer f.Close()
	if err := unix.Flock(int(f.Fd()), unix.LOCK_SH|unix.LOCK_NB); err != nil {
		return stderrors.Is(err, unix.EWOULDBLOCK)
	}
	_ = unix.Flock(int(f.Fd()), unix.LOCK_UN)
	return false
}

// openLockFile creates the lock file when it can and otherwise opens it
// read-only, which is enough for flock. It returns nil, nil when the file
// neither exists nor can be created.
func openLockFile(path string) (*os.File, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err == nil {
		f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o644)
		if err == nil {
			return f, nil
		}
	}
	f, err := os.Open(path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	return f, err
}
