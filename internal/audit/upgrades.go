package audit

import (
	"context"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"

	"github.com/GK-Developers/GK-Healter/internal/distro"
)

var aptUnattended = regexp.MustCompile(`APT::Periodic::Unattended-Upgrade\s+"([^"]*)"`)

type upgradesCheck struct {
	cfg Config
}

func (c *upgradesCheck) ID() CheckID { return UnattendedUpgrades }

// Run reports a Warning when automatic security updates are absent or
// disabled. Families without a supported mechanism get an Info finding.
func (c *upgradesCheck) Run(ctx context.Context) ([]Finding, error) {
	switch c.cfg.Family {
	case distro.Apt:
		return c.apt(ctx)
	case distro.Dnf:
		return c.dnf()
	default:
		return []Finding{{
			CheckID:  UnattendedUpgrades,
			Severity: Info,
			Subject:  string(c.cfg.Family),
			Detail:   "no automatic security update mechanism is checked for this distribution",
		}}, nil
	}
}

func (c *upgradesCheck) apt(ctx context.Context) ([]Finding, error) {
	if c.cfg.Querier != nil {
		out, err := c.cfg.Querier.Query(ctx, "dpkg-query", "-W", "-f=${Status}", "unattended-upgrades")
		if err != nil || !strings.Contains(string(out), "install ok installed") {
			return []Finding{c.warning("unattended-upgrades", "the unattended-upgrades package is not installed")}, nil
		}
	}

	dir := c.cfg.path("/etc/apt/apt.conf.d")
	entries, err := os.ReadDir(dir)
	if err != nil && !os.IsNotExist(err) {
		return nil, err
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.Type().IsRegular() {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)

	// apt reads the fragments in lexical order, later values win
	value, source := "", ""
	for _, name := range names {
		path := filepath.Join(dir, name)
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, err
		}
		for _, m := range aptUnattended.FindAllStringSubmatch(stripAptComments(string(data)), -1) {
			value, source = m[1], path
		}
	}

	switch {
	case source == "":
		return []Finding{c.warning(c.cfg.display(dir), "APT::Periodic::Unattended-Upgrade is not configured")}, nil
	case value == "0" || value == "":
		return []Finding{c.warning(c.cfg.display(source), "APT::Periodic::Unattended-Upgrade is disabled")}, nil
	}
	return nil, nil
}

func (c *upgradesCheck) dnf() ([]Finding, error) {
	conf := c.cfg.path("/etc/dnf/automatic.conf")
	lines, err := readLines(conf)
	if os.IsNotExist(err) {
		return []Finding{c.warning("dnf-automatic", "dnf-automatic is not installed")}, nil
	}
	if err != nil {
		return nil, err
	}

	apply := false
	for _, raw := range lines {
		key, value, ok := strings.Cut(raw, "=")
		if ok && strings.TrimSpace(key) == "apply_updates" {
			v := strings.ToLower(strings.TrimSpace(value))
			apply = v == "yes" || v == "true" || v == "1"
		}
	}
	if !apply {
		return []Finding{c.warning(c.cfg.display(conf), "apply_updates is not enabled")}, nil
	}

	timers, _ := filepath.Glob(c.cfg.path("/etc/systemd/system/timers.target.wants/dnf-automatic*.timer"))
	if len(timers) == 0 {
		return []Finding{c.warning("dnf-automatic.timer", "the dnf-automatic timer is not enabled")}, nil
	}
	return nil, nil
}

func (c *upgradesCheck) warning(subject, detail string) Finding {
	return Finding{CheckID: UnattendedUpgrades, Severity: Warning, Subject: subject, Detail: detail}
}

func stripAptComments(s string) string {
	var b strings.Builder
	for _, line := range strings.Split(s, "\n") {
		trimmed := strings.TrimSpace(line)
		if strings.HasPrefix(trimmed, "//") || strings.HasPrefix(trimmed, "#") {
			continue
		}
		b.WriteString(line)
		b.WriteByte('\n')
	}
	return b.String()
}
