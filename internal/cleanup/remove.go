package cleanup

import (
	stderrors "errors"
	"fmt"
	"os"
	"path/filepath"

	"golang.org/x/sys/unix"

	"github.com/GK-Developers/GK-Healter/internal/errors"
)

// remove deletes a filesystem target entry by entry. It never follows a
// symlink, never leaves the target's filesystem and re-checks the verdict
// on the resolved parent directory. gone is true when the target had
// already disappeared.
func (e *Engine) remove(t Target) (gone bool, err error) {
	op := "remove " + t.Path

	var st unix.Stat_t
	if err := unix.Lstat(t.Path, &st); err != nil {
		if stderrors.Is(err, unix.ENOENT) {
			return true, nil
		}
		return false, classifyFSError(op, err)
	}

	parent, err := filepath.EvalSymlinks(filepath.Dir(t.Path))
	if err != nil {
		return false, classifyFSError(op, err)
	}
	resolved := filepath.Join(parent, filepath.Base(t.Path))
	if resolved != t.Path {
		if v := e.classifier.Classify(resolved, t.Category); !v.Decision.Permits() {
			return false, errors.Newf(errors.KindPathUnsafe, op, "resolves to %s: %s", resolved, v.Reason)
		}
	}

	if err := removeTree(resolved, uint64(st.Dev)); err != nil {
		if stderrors.Is(err, errSpecialFile) {
			return false, errors.New(errors.KindPathUnsafe, op, err)
		}
		return false, classifyFSError(op, err)
	}
	return false, nil
}

var errSpecialFile = stderrors.New("not a regular file, directory or symlink")

// removeTree removes path and, for a directory, everything below it. Only
// regular files, directories and symlinks are removed. Errors on
// individual entries do not stop the walk, they are joined.
func removeTree(path string, dev uint64) error {
	var st unix.Stat_t
	if err := unix.Lstat(path, &st); err != nil {
		if stderrors.Is(err, unix.ENOENT) {
			return nil
		}
		return &os.PathError{Op: "lstat", Path: path, Err: err}
	}
	if uint64(st.Dev) != dev {
		return fmt.Errorf("%s is on another filesystem", path)
	}

	switch st.Mode & unix.S_IFMT {
	case unix.S_IFREG, unix.S_IFDIR, unix.S_IFLNK:
	default:
		return fmt.Errorf("%s: %w", path, errSpecialFile)
	}

	var errs []error
	if st.Mode&unix.S_IFMT == unix.S_IFDIR {
		entries, err := os.ReadDir(path)
		if err != nil {
			return err
		}
		for _, entry := range entries {
			if err := removeTree(filepath.Join(path, entry.Name()), dev); err != nil {
				errs = append(errs, err)
			}
		}
		if len(errs) > 0 {
			return stderrors.Join(errs...)
		}
	}

	return os.Remove(path)
}

func classifyFSError(op string, err error) error {
	switch {
	case stderrors.Is(err, os.ErrPermission), stderrors.Is(err, unix.EPERM), stderrors.Is(err, unix.EROFS):
		return errors.New(errors.KindPermissionDenied, op, err)
	default:
		return errors.New(errors.KindExecutionFailed, op, err)
	}
}
