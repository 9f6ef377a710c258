package audit

import (
	"context"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"golang.org/x/sys/unix"

	"github.com/GK-Developers/GK-Healter/internal/distro"
)

const (
	DefaultMaxFindings = 200
	DefaultLoginWindow = 24 * time.Hour
)

// Config locates the audited system
type Config struct {
	// Root is the filesystem root to audit, "/" in production
	Root   string
	Family distro.Family
	// SuidAllowlist extends the built-in set-uid allowlist. Entries may use "*".
	SuidAllowlist []string
	MaxFindings   int
	LoginWindow   time.Duration
	Querier       Querier
	Now           func() time.Time
}

func (c Config) withDefaults() Config {
	if c.Root == "" {
		c.Root = "/"
	}
	if c.MaxFindings <= 0 {
		c.MaxFindings = DefaultMaxFindings
	}
	if c.LoginWindow <= 0 {
		c.LoginWindow = DefaultLoginWindow
	}
	if c.Now == nil {
		c.Now = time.Now
	}
	return c
}

func (c Config) path(p string) string {
	return filepath.Join(c.Root, p)
}

// display maps a path under Root back to its path on the audited system
func (c Config) display(p string) string {
	rel, err := filepath.Rel(c.Root, p)
	if err != nil {
		return p
	}
	return "/" + filepath.ToSlash(rel)
}

// DefaultChecks returns the six checks in report order
func DefaultChecks(cfg Config) []Check {
	cfg = cfg.withDefaults()
	return []Check{
		&worldWritableCheck{cfg: cfg},
		newSuidCheck(cfg, append(append([]string{}, DefaultSuidAllowlist...), cfg.SuidAllowlist...)),
		&sudoersCheck{cfg: cfg},
		&sshCheck{cfg: cfg},
		&upgradesCheck{cfg: cfg},
		&loginsCheck{cfg: cfg},
	}
}

// walkSameDevice walks each dir below cfg.Root without following symlinks
// or crossing into another filesystem. prune entries are skipped entirely.
func walkSameDevice(ctx context.Context, cfg Config, dirs, prune []string, fn func(path string, info fs.FileInfo) error) error {
	skip := make(map[string]bool, len(prune))
	for _, p := range prune {
		skip[cfg.path(p)] = true
	}

	for _, dir := range dirs {
		start := cfg.path(dir)
		var st unix.Stat_t
		if err := unix.Lstat(start, &st); err != nil {
			if os.IsNotExist(err) {
				continue
			}
			return err
		}
		dev := uint64(st.Dev)

		err := filepath.WalkDir(start, func(path string, d fs.DirEntry, err error) error {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return ctxErr
			}
			if err != nil {
				// Unreadable subtrees are skipped, the scan stays best effort
				if d != nil && d.IsDir() && path != start {
					return filepath.SkipDir
				}
				return nil
			}
			if d.IsDir() && skip[path] {
				return filepath.SkipDir
			}
			if d.IsDir() && path != start {
				var sub unix.Stat_t
				if unix.Lstat(path, &sub) == nil && uint64(sub.Dev) != dev {
					return filepath.SkipDir
				}
			}
			info, err := d.Info()
			if err != nil {
				return nil
			}
			return fn(path, info)
		})
		if err != nil && err != fs.SkipAll {
			return err
		}
	}
	return nil
}

func truncated(id CheckID, limit int) Finding {
	return Finding{
		CheckID:  id,
		Severity: Info,
		Subject:  "scan truncated",
		Detail:   "stopped after " + strconv.Itoa(limit) + " findings",
	}
}

func readLines(path string) ([]string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return strings.Split(string(data), "\n"), nil
}
