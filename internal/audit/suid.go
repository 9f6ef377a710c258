package audit

import (
	"context"
	"io/fs"
	"os"
	"strings"

	"github.com/IGLOU-EU/go-wildcard"
)

var suidDirs = []string{"/usr", "/opt", "/snap"}

// DefaultSuidAllowlist holds set-uid/set-gid binaries shipped by common
// distributions.
var DefaultSuidAllowlist = []string{
	"/usr/bin/sudo",
	"/usr/bin/passwd",
	"/usr/bin/chsh",
	"/usr/bin/chfn",
	"/usr/bin/newgrp",
	"/usr/bin/gpasswd",
	"/usr/bin/pkexec",
	"/usr/bin/su",
	"/usr/bin/mount",
	"/usr/bin/umount",
	"/usr/bin/fusermount",
	"/usr/bin/fusermount3",
	"/usr/bin/crontab",
	"/usr/bin/at",
	"/usr/bin/ssh-agent",
	"/usr/bin/wall",
	"/usr/bin/write",
	"/usr/bin/expiry",
	"/usr/bin/chage",
	"/usr/lib/dbus-1.0/dbus-daemon-launch-helper",
	"/usr/lib/openssh/ssh-keysign",
	"/usr/lib/polkit-1/polkit-agent-helper-1",
	"/usr/lib/eject/dmcrypt-get-device",
	"/usr/sbin/unix_chkpwd",
	"/usr/sbin/pam_extrausers_chkpwd",
	"/usr/libexec/openssh/ssh-keysign",
	"/usr/libexec/polkit-1/polkit-agent-helper-1",
	"/usr/libexec/dbus-1/dbus-daemon-launch-helper",
}

type suidCheck struct {
	cfg     Config
	exact   map[string]bool
	pattern []string
}

func newSuidCheck(cfg Config, allowlist []string) *suidCheck {
	c := &suidCheck{cfg: cfg, exact: map[string]bool{}}
	for _, entry := range allowlist {
		if strings.Contains(entry, "*") {
			c.pattern = append(c.pattern, entry)
		} else {
			c.exact[entry] = true
		}
	}
	return c
}

// NewSuidCheck builds the set-uid check with exactly the given allowlist
func NewSuidCheck(cfg Config, allowlist []string) Check {
	return newSuidCheck(cfg.withDefaults(), allowlist)
}

func (c *suidCheck) ID() CheckID { return SuidSgid }

func (c *suidCheck) allowed(path string) bool {
	if c.exact[path] {
		return true
	}
	for _, p := range c.pattern {
		if wildcard.Match(p, path) {
			return true
		}
	}
	return false
}

// Run flags set-uid and set-gid regular files missing from the allowlist
func (c *suidCheck) Run(ctx context.Context) ([]Finding, error) {
	var findings []Finding

	err := walkSameDevice(ctx, c.cfg, suidDirs, nil, func(path string, info fs.FileInfo) error {
		if len(findings) > c.cfg.MaxFindings {
			return fs.SkipAll
		}
		mode := info.Mode()
		if !mode.IsRegular() || mode&(os.ModeSetuid|os.ModeSetgid) == 0 {
			return nil
		}

		subject := c.cfg.display(path)
		if c.allowed(subject) {
			return nil
		}

		if len(findings) >= c.cfg.MaxFindings {
			findings = append(findings, truncated(SuidSgid, c.cfg.MaxFindings))
			return fs.SkipAll
		}
		kind := "set-uid"
		if mode&os.ModeSetuid == 0 {
			kind = "set-gid"
		}
		findings = append(findings, Finding{
			CheckID:  SuidSgid,
			Severity: Critical,
			Subject:  subject,
			Detail:   "unexpected " + kind + " binary (" + mode.String() + ")",
		})
		return nil
	})
	if err != nil {
		return nil, err
	}
	return findings, nil
}
