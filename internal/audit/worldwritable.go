package audit

import (
	"context"
	"io/fs"
	"os"
)

var (
	worldWritableDirs  = []string{"/etc", "/usr", "/var", "/opt"}
	worldWritablePrune = []string{"/var/tmp", "/var/cache", "/var/lib/docker", "/var/lib/containers", "/var/crash"}
)

type worldWritableCheck struct {
	cfg Config
}

func (c *worldWritableCheck) ID() CheckID { return WorldWritable }

// Run flags regular files writable by others, and directories writable by
// others without the sticky bit.
func (c *worldWritableCheck) Run(ctx context.Context) ([]Finding, error) {
	var findings []Finding

	err := walkSameDevice(ctx, c.cfg, worldWritableDirs, worldWritablePrune, func(path string, info fs.FileInfo) error {
		if len(findings) > c.cfg.MaxFindings {
			return fs.SkipAll
		}
		mode := info.Mode()
		if mode.Perm()&0o002 == 0 {
			return nil
		}

		var detail string
		switch {
		case mode.IsRegular():
			detail = "regular file is writable by all users (" + mode.String() + ")"
		case mode.IsDir() && mode&os.ModeSticky == 0:
			detail = "directory is writable by all users without the sticky bit (" + mode.String() + ")"
		default:
			return nil
		}

		if len(findings) >= c.cfg.MaxFindings {
			findings = append(findings, truncated(WorldWritable, c.cfg.MaxFindings))
			return fs.SkipAll
		}
		findings = append(findings, Finding{
			CheckID:  WorldWritable,
			Severity: High,
			Subject:  c.cfg.display(path),
			Detail:   detail,
		})
		return nil
	})
	if err != nil {
		return nil, err
	}
	return findings, nil
}
