package audit

import (
	"context"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
)

type sudoersCheck struct {
	cfg Config
}

func (c *sudoersCheck) ID() CheckID { return SudoersRisk }

// Run flags user specifications granting NOPASSWD on ALL commands in
// /etc/sudoers and /etc/sudoers.d.
func (c *sudoersCheck) Run(ctx context.Context) ([]Finding, error) {
	files := []string{c.cfg.path("/etc/sudoers")}

	dropIn := c.cfg.path("/etc/sudoers.d")
	entries, err := os.ReadDir(dropIn)
	if err != nil && !os.IsNotExist(err) {
		return nil, err
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		// sudo ignores names containing a dot or ending in ~
		if e.Type().IsRegular() && !strings.Contains(e.Name(), ".") && !strings.HasSuffix(e.Name(), "~") {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)
	for _, n := range names {
		files = append(files, filepath.Join(dropIn, n))
	}

	var findings []Finding
	for _, f := range files {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		lines, err := readLines(f)
		if err != nil {
			if os.IsNotExist(err) {
				continue
			}
			return nil, err
		}
		for _, rule := range joinContinuations(lines) {
			if grantsPasswordlessAll(rule.text) {
				findings = append(findings, Finding{
					CheckID:  SudoersRisk,
					Severity: Critical,
					Subject:  c.cfg.display(f) + ":" + strconv.Itoa(rule.line),
					Detail:   "unrestricted passwordless elevation: " + rule.text,
				})
			}
		}
	}
	return findings, nil
}

type sudoRule struct {
	line int
	text string
}

// joinContinuations merges backslash-continued lines and drops comments,
// blank lines and directives.
func joinContinuations(lines []string) []sudoRule {
	var (
		rules   []sudoRule
		current strings.Builder
		start   int
	)
	for i, raw := range lines {
		line := strings.TrimSpace(raw)
		if current.Len() == 0 {
			start = i + 1
		}
		if strings.HasSuffix(line, "\\") {
			current.WriteString(strings.TrimSuffix(line, "\\"))
			current.WriteString(" ")
			continue
		}
		current.WriteString(line)
		text := strings.TrimSpace(current.String())
		current.Reset()

		if text == "" || strings.HasPrefix(text, "#") || strings.HasPrefix(text, "@") {
			continue
		}
		if idx := strings.Index(text, " #"); idx >= 0 {
			text = strings.TrimSpace(text[:idx])
		}
		keyword := strings.Fields(text)[0]
		if strings.HasPrefix(keyword, "Defaults") || strings.HasSuffix(keyword, "_Alias") {
			continue
		}
		rules = append(rules, sudoRule{line: start, text: text})
	}
	return rules
}

// grantsPasswordlessAll reports whether a user specification carries the
// NOPASSWD tag on a command list containing ALL.
func grantsPasswordlessAll(rule string) bool {
	_, spec, ok := strings.Cut(rule, "=")
	if !ok {
		return false
	}
	// Tags carry over to the following commands of the same list
	nopasswd := false
	for _, cmndSpec := range strings.Split(spec, ",") {
		cmnd := strings.TrimSpace(cmndSpec)
		// Drop a leading runas list, e.g. "(ALL : ALL)"
		if strings.HasPrefix(cmnd, "(") {
			if end := strings.Index(cmnd, ")"); end >= 0 {
				cmnd = strings.TrimSpace(cmnd[end+1:])
			}
		}
		for {
			tag, rest, ok := strings.Cut(cmnd, ":")
			if !ok || strings.ContainsAny(tag, " \t/") {
				break
			}
			switch tag {
			case "NOPASSWD":
				nopasswd = true
			case "PASSWD":
				nopasswd = false
			}
			cmnd = strings.TrimSpace(rest)
		}
		if nopasswd && cmnd == "ALL" {
			return true
		}
	}
	return false
}
