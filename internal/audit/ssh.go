package audit

import (
	"context"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

const maxIncludeDepth = 8

type sshRule struct {
	key      string
	value    string
	severity Severity
	detail   string
}

// sshRules flag risky sshd settings. Keys are lower case.
var sshRules = []sshRule{
	{"permitrootlogin", "yes", Critical, "root can log in over SSH with a password"},
	{"permitemptypasswords", "yes", Critical, "accounts with empty passwords can log in over SSH"},
	{"passwordauthentication", "yes", Warning, "password authentication is enabled, key-based authentication is expected"},
	{"x11forwarding", "yes", Info, "X11 forwarding is enabled"},
}

type sshCheck struct {
	cfg Config
}

func (c *sshCheck) ID() CheckID { return SshHardening }

// Run reads sshd_config with its includes. As in sshd, the first value
// seen for a keyword wins and Match blocks are not evaluated.
func (c *sshCheck) Run(ctx context.Context) ([]Finding, error) {
	main := c.cfg.path("/etc/ssh/sshd_config")
	if _, err := os.Stat(main); os.IsNotExist(err) {
		return nil, nil
	}

	settings := map[string]setting{}
	if err := c.parse(main, settings, 0); err != nil {
		return nil, err
	}

	var findings []Finding
	for _, r := range sshRules {
		s, ok := settings[r.key]
		if !ok || strings.ToLower(s.value) != r.value {
			continue
		}
		findings = append(findings, Finding{
			CheckID:  SshHardening,
			Severity: r.severity,
			Subject:  c.cfg.display(s.file),
			Detail:   r.detail + " (" + s.original + ")",
		})
	}
	return findings, nil
}

type setting struct {
	value    string
	original string
	file     string
}

// parse records the first value of every keyword and stops at the first
// Match block
func (c *sshCheck) parse(path string, settings map[string]setting, depth int) error {
	lines, err := readLines(path)
	if err != nil {
		return err
	}

	for _, raw := range lines {
		line := strings.TrimSpace(raw)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		key, value := splitSSHLine(line)
		key = strings.ToLower(key)

		switch key {
		case "match":
			return nil
		case "include":
			if depth >= maxIncludeDepth {
				continue
			}
			for _, pattern := range strings.Fields(value) {
				if err := c.include(pattern, settings, depth+1); err != nil {
					return err
				}
			}
		default:
			if _, seen := settings[key]; !seen {
				settings[key] = setting{value: value, original: line, file: path}
			}
		}
	}
	return nil
}

func (c *sshCheck) include(pattern string, settings map[string]setting, depth int) error {
	if !filepath.IsAbs(pattern) {
		pattern = filepath.Join("/etc/ssh", pattern)
	}
	matches, err := filepath.Glob(c.cfg.path(pattern))
	if err != nil {
		return err
	}
	sort.Strings(matches)
	for _, m := range matches {
		if err := c.parse(m, settings, depth); err != nil {
			return err
		}
	}
	return nil
}

func splitSSHLine(line string) (string, string) {
	idx := strings.IndexAny(line, " \t=")
	if idx < 0 {
		return line, ""
	}
	key := line[:idx]
	value := strings.TrimLeft(line[idx:], " \t=")
	return key, strings.Trim(strings.TrimSpace(value), `"`)
}
