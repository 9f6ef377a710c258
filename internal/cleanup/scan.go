package cleanup

import (
	"context"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/IGLOU-EU/go-wildcard"
	"go.uber.org/zap"
	"golang.org/x/sys/unix"

	"github.com/GK-Developers/GK-Healter/internal/distro"
	"github.com/GK-Developers/GK-Healter/internal/errors"
	"github.com/GK-Developers/GK-Healter/internal/privexec"
	"github.com/GK-Developers/GK-Healter/internal/safety"
)

// DefaultAppCacheDirs are the ~/.cache entries treated as disposable
var DefaultAppCacheDirs = []string{
	"mozilla",
	"google-chrome",
	"chromium",
	"BraveSoftware",
	"microsoft-edge",
	"vivaldi",
	"opera",
	"pip",
	"go-build",
	"yarn",
}

// DefaultTempMaxAge is how old a temp entry must be before it is a target
const DefaultTempMaxAge = 7 * 24 * time.Hour

// Layout locates the scanned directories
type Layout struct {
	Root         string
	Home         string
	UID          int
	TempMaxAge   time.Duration
	AppCacheDirs []string
}

func (l Layout) system(p string) string {
	return filepath.Join(l.Root, p)
}

func (l Layout) user(p string) string {
	return filepath.Join(l.Home, p)
}

var rotatedLog = regexp.MustCompile(`(\.(gz|xz|bz2|zst|old)|\.[0-9]+|-[0-9]{8})(\.(gz|xz|bz2|zst))?$`)

// scan enumerates the targets of one category, sorted by path
func (e *Engine) scan(ctx context.Context, category safety.Category) ([]Target, error) {
	var (
		targets []Target
		err     error
	)

	switch category {
	case safety.PackageCache:
		targets, err = e.scanPackageCache(ctx)
	case safety.OrphanPackages:
		targets, err = e.scanOrphans(ctx)
	case safety.SystemLogs:
		targets, err = e.scanRotatedLogs(ctx)
	case safety.JournalVacuum:
		targets, err = e.scanJournal(ctx)
	case safety.Coredumps:
		targets, err = e.scanCommandDir(ctx, safety.Coredumps, privexec.CoredumpDir, privexec.CoredumpClean)
	case safety.AppCache:
		targets, err = e.scanAppCache(ctx)
	case safety.Thumbnails:
		targets, err = e.scanChildren(ctx, safety.Thumbnails, e.layout.user(".cache/thumbnails"), 0)
	case safety.TempFiles:
		targets, err = e.scanTemp(ctx)
	default:
		return nil, errors.Newf(errors.KindPathUnsafe, "scan", "unknown category %q", category)
	}
	if err != nil {
		return nil, err
	}

	sort.SliceStable(targets, func(i, j int) bool { return targets[i].Path < targets[j].Path })
	return targets, nil
}

func (e *Engine) scanPackageCache(ctx context.Context) ([]Target, error) {
	if !e.profile.Known() {
		return []Target{{Category: safety.PackageCache, Action: privexec.CacheClean, RequiresPrivilege: true}}, nil
	}
	return e.scanCommandDir(ctx, safety.PackageCache, e.profile.CacheDir, privexec.CacheClean)
}

// scanCommandDir yields one command target for dir when it holds data
func (e *Engine) scanCommandDir(ctx context.Context, category safety.Category, dir string, action privexec.Action) ([]Target, error) {
	path := e.layout.system(dir)
	size, err := dirSize(ctx, path, nil)
	if err != nil {
		return nil, err
	}
	if size == 0 {
		return nil, nil
	}
	return []Target{{Category: category, Path: path, Action: action, EstimatedBytes: size, RequiresPrivilege: true}}, nil
}

func (e *Engine) scanOrphans(ctx context.Context) ([]Target, error) {
	placeholder := Target{Category: safety.OrphanPackages, Action: privexec.Autoremove, RequiresPrivilege: true}
	if !e.profile.Known() || e.profile.DependencyQuery == nil {
		return []Target{placeholder}, nil
	}

	out, err := e.runner.Query(ctx, e.profile.DependencyQuery...)
	orphans := e.profile.Orphans(out)
	if err != nil {
		if e.profile.EmptyQueryFails && len(orphans) == 0 && errors.Is(err, errors.KindExecutionFailed) {
			return nil, nil
		}
		return nil, err
	}
	if len(orphans) == 0 {
		return nil, nil
	}

	var size int64
	if e.profile.SizeQuery != nil {
		argv := append(append([]string{}, e.profile.SizeQuery...), orphans...)
		if sizes, err := e.runner.Query(ctx, argv...); err == nil {
			size = distro.ParseSizes(sizes, e.profile.SizeUnit)
		} else {
			e.logger.Debug("orphan size query failed", zap.Error(err))
		}
	}

	t := placeholder
	t.Path = e.layout.system(filepath.Join("/usr/bin", e.profile.Binary))
	t.EstimatedBytes = size
	if e.runner.Catalog().TakesPackages(privexec.Autoremove) {
		t.Packages = orphans
	}
	return []Target{t}, nil
}

func (e *Engine) scanRotatedLogs(ctx context.Context) ([]Target, error) {
	logDir := e.layout.system("/var/log")
	journal := filepath.Join(logDir, "journal")

	var targets []Target
	err := filepath.WalkDir(logDir, func(path string, d fs.DirEntry, err error) error {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		if err != nil {
			if path == logDir {
				return ignoreMissing(err)
			}
			return nil
		}
		if d.IsDir() {
			if path == journal {
				return filepath.SkipDir
			}
			return nil
		}
		if !d.Type().IsRegular() || !rotatedLog.MatchString(d.Name()) {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return nil
		}
		targets = append(targets, Target{
			Category:          safety.SystemLogs,
			Path:              path,
			EstimatedBytes:    info.Size(),
			RequiresPrivilege: !ownedBy(path, e.layout.UID),
		})
		return nil
	})
	return targets, err
}

func (e *Engine) scanJournal(ctx context.Context) ([]Target, error) {
	path := e.layout.system("/var/log/journal")
	archived := func(name string) bool {
		return strings.HasSuffix(name, ".journal~") ||
			(strings.HasSuffix(name, ".journal") && strings.Contains(name, "@"))
	}

	size, err := dirSize(ctx, path, archived)
	if err != nil || size == 0 {
		return nil, err
	}
	return []Target{{
		Category:          safety.JournalVacuum,
		Path:              path,
		Action:            privexec.LogVacuum,
		EstimatedBytes:    size,
		RequiresPrivilege: true,
	}}, nil
}

func (e *Engine) scanAppCache(ctx context.Context) ([]Target, error) {
	dirs := e.layout.AppCacheDirs
	if dirs == nil {
		dirs = DefaultAppCacheDirs
	}

	var targets []Target
	for _, name := range dirs {
		path := e.layout.user(filepath.Join(".cache", name))
		info, err := os.Lstat(path)
		if err != nil || !info.IsDir() {
			continue
		}
		size, err := dirSize(ctx, path, nil)
		if err != nil {
			return nil, err
		}
		if size > 0 {
			targets = append(targets, Target{Category: safety.AppCache, Path: path, EstimatedBytes: size})
		}
	}
	return targets, nil
}

// protectedTemp are shared temp entries owned by running services or the
// display server. They are never targets, whatever their age.
var protectedTemp = []string{
	".X11-unix",
	".ICE-unix",
	".XIM-unix",
	".font-unix",
	".Test-unix",
	"systemd-private-*",
	"snap-private-tmp",
}

func (e *Engine) scanTemp(ctx context.Context) ([]Target, error) {
	maxAge := e.layout.TempMaxAge
	if maxAge <= 0 {
		maxAge = DefaultTempMaxAge
	}

	var targets []Target
	for _, dir := range []string{e.layout.system("/tmp"), e.layout.system("/var/tmp")} {
		found, err := e.scanSharedTemp(ctx, dir, maxAge)
		if err != nil {
			return nil, err
		}
		targets = append(targets, found...)
	}

	for _, sub := range []string{"files", "info"} {
		found, err := e.scanChildren(ctx, safety.TempFiles, e.layout.user(filepath.Join(".local/share/Trash", sub)), 0)
		if err != nil {
			return nil, err
		}
		targets = append(targets, found...)
	}
	return targets, nil
}

// scanSharedTemp yields the stale entries of a world-writable temp
// directory. Entries owned by root, entries on the protected list and
// trees holding sockets, fifos or devices are left alone. An entry is
// stale when nothing below it was modified or read within maxAge.
func (e *Engine) scanSharedTemp(ctx context.Context, dir string, maxAge time.Duration) ([]Target, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, ignoreMissing(err)
	}

	cutoff := e.now().Add(-maxAge)
	var targets []Target
	for _, entry := range entries {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if isProtectedTemp(entry.Name()) {
			continue
		}

		path := filepath.Join(dir, entry.Name())
		var st unix.Stat_t
		if err := unix.Lstat(path, &st); err != nil || st.Uid == 0 {
			continue
		}
		if !ownedBy(path, e.layout.UID) {
			continue
		}

		tree, err := inspectTree(ctx, path)
		if err != nil {
			return nil, err
		}
		if tree.special || tree.newest.After(cutoff) {
			continue
		}
		targets = append(targets, Target{Category: safety.TempFiles, Path: path, EstimatedBytes: tree.size})
	}
	return targets, nil
}

func isProtectedTemp(name string) bool {
	for _, pattern := range protectedTemp {
		if wildcard.Match(pattern, name) {
			return true
		}
	}
	return false
}

type treeInfo struct {
	size    int64
	newest  time.Time
	special bool
}

// inspectTree walks path without following symlinks. Files count their
// newest of mtime and atime, directories only their mtime since listing
// them moves the atime.
func inspectTree(ctx context.Context, path string) (treeInfo, error) {
	var info treeInfo
	err := filepath.WalkDir(path, func(p string, d fs.DirEntry, err error) error {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		if err != nil {
			if p == path {
				return ignoreMissing(err)
			}
			return nil
		}

		var st unix.Stat_t
		if err := unix.Lstat(p, &st); err != nil {
			return nil
		}
		seen := time.Unix(st.Mtim.Unix())
		switch st.Mode & unix.S_IFMT {
		case unix.S_IFREG:
			info.size += st.Size
			if atime := time.Unix(st.Atim.Unix()); atime.After(seen) {
				seen = atime
			}
		case unix.S_IFDIR, unix.S_IFLNK:
		default:
			info.special = true
			return fs.SkipAll
		}
		if seen.After(info.newest) {
			info.newest = seen
		}
		return nil
	})
	return info, err
}

// scanChildren yields each entry of dir owned by the current user. With a
// positive maxAge only entries untouched for that long are returned.
func (e *Engine) scanChildren(ctx context.Context, category safety.Category, dir string, maxAge time.Duration) ([]Target, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, ignoreMissing(err)
	}

	cutoff := e.now().Add(-maxAge)
	var targets []Target
	for _, entry := range entries {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if !entry.IsDir() && !entry.Type().IsRegular() {
			continue
		}

		path := filepath.Join(dir, entry.Name())
		info, err := entry.Info()
		if err != nil || !ownedBy(path, e.layout.UID) {
			continue
		}
		if maxAge > 0 && info.ModTime().After(cutoff) {
			continue
		}

		size := info.Size()
		if entry.IsDir() {
			if size, err = dirSize(ctx, path, nil); err != nil {
				return nil, err
			}
		}
		targets = append(targets, Target{Category: category, Path: path, EstimatedBytes: size})
	}
	return targets, nil
}

// dirSize sums regular file sizes below path without following symlinks.
// A missing path has size zero. keep filters by file name when non-nil.
func dirSize(ctx context.Context, path string, keep func(name string) bool) (int64, error) {
	var total int64
	err := filepath.WalkDir(path, func(p string, d fs.DirEntry, err error) error {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		if err != nil {
			if p == path {
				return ignoreMissing(err)
			}
			return nil
		}
		if !d.Type().IsRegular() || (keep != nil && !keep(d.Name())) {
			return nil
		}
		if info, err := d.Info(); err == nil {
			total += info.Size()
		}
		return nil
	})
	return total, err
}

func ownedBy(path string, uid int) bool {
	if uid < 0 {
		return true
	}
	var st unix.Stat_t
	if err := unix.Lstat(path, &st); err != nil {
		return false
	}
	return int(st.Uid) == uid
}

func ignoreMissing(err error) error {
	if os.IsNotExist(err) {
		return nil
	}
	return err
}
