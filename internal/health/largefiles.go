package health

import (
	"context"
	"io/fs"
	"path/filepath"
	"sort"

	"golang.org/x/sys/unix"
)

const (
	DefaultLargeFileMin   = 100 << 20
	DefaultLargeFileLimit = 10
)

// File is one large file
type File struct {
	Path string `json:"path"`
	Size int64  `json:"size"`
}

// LargeFiles returns up to limit regular files of at least minSize bytes below
// dir, largest first. Symlinks are not followed and the walk stays on dir's
// filesystem. Unreadable entries are skipped.
func LargeFiles(ctx context.Context, dir string, minSize int64, limit int) ([]File, error) {
	var root unix.Stat_t
	if err := unix.Lstat(dir, &root); err != nil {
		return nil, &fs.PathError{Op: "lstat", Path: dir, Err: err}
	}

	var files []File
	err := filepath.WalkDir(dir, func(p string, d fs.DirEntry, err error) error {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		if err != nil {
			if d != nil && d.IsDir() && p != dir {
				return fs.SkipDir
			}
			return nil
		}

		var st unix.Stat_t
		if err := unix.Lstat(p, &st); err != nil {
			return nil
		}
		if st.Dev != root.Dev {
			if d.IsDir() {
				return fs.SkipDir
			}
			return nil
		}
		if st.Mode&unix.S_IFMT == unix.S_IFREG && st.Size >= minSize {
			files = append(files, File{Path: p, Size: st.Size})
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	sort.Slice(files, func(i, j int) bool {
		if files[i].Size != files[j].Size {
			return files[i].Size > files[j].Size
		}
		return files[i].Path < files[j].Path
	})
	if limit > 0 && len(files) > limit {
		files = files[:limit]
	}
	return files, nil
}
