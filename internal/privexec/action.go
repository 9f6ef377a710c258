package privexec

import (
	"fmt"
	"path/filepath"

	"github.com/GK-Developers/GK-Healter/internal/distro"
)

// Action is one of the closed set of operations that may run with
// elevated privileges.
type Action string

const (
	CacheClean    Action = "cache-clean"
	Autoremove    Action = "autoremove"
	FixBroken     Action = "fix-broken"
	LogVacuum     Action = "log-vacuum"
	CoredumpClean Action = "coredump-clean"
)

// Actions returns the complete action set
func Actions() []Action {
	return []Action{CacheClean, Autoremove, FixBroken, LogVacuum, CoredumpClean}
}

// ParseAction converts a stable identifier into an Action
func ParseAction(s string) (Action, error) {
	for _, a := range Actions() {
		if string(a) == s {
			return a, nil
		}
	}
	return "", fmt.Errorf("unknown privileged action %q", s)
}

const (
	// JournalRetention is what log-vacuum keeps
	JournalRetention = "3d"
	CoredumpDir      = "/var/lib/systemd/coredump"
)

// Catalog maps each action to exactly one argv template for a profile
type Catalog struct {
	commands  map[Action][]string
	takesArgs map[Action]bool
}

// NewCatalog builds the templates for profile. Package actions the
// profile does not provide are absent.
func NewCatalog(profile distro.Profile) Catalog {
	c := Catalog{
		commands: map[Action][]string{
			LogVacuum:     {"journalctl", "--vacuum-time=" + JournalRetention},
			CoredumpClean: {"systemd-tmpfiles", "--clean", "--prefix", CoredumpDir},
		},
		takesArgs: map[Action]bool{},
	}

	if !profile.Known() {
		return c
	}
	if profile.CacheClean != nil {
		c.commands[CacheClean] = profile.CacheClean
	}
	if profile.Autoremove != nil {
		c.commands[Autoremove] = profile.Autoremove
		c.takesArgs[Autoremove] = profile.AutoremoveTakesPackages
	}
	if profile.FixBroken != nil {
		c.commands[FixBroken] = profile.FixBroken
	}
	return c
}

// Has reports whether the action has a template
func (c Catalog) Has(a Action) bool {
	_, ok := c.commands[a]
	return ok
}

// Program returns the absolute path of the program run for a
func (c Catalog) Program(a Action) (string, bool) {
	tmpl, ok := c.commands[a]
	if !ok {
		return "", false
	}
	if filepath.IsAbs(tmpl[0]) {
		return tmpl[0], true
	}
	return filepath.Join("/usr/bin", tmpl[0]), true
}

// TakesPackages reports whether the action expects package name arguments
func (c Catalog) TakesPackages(a Action) bool {
	return c.takesArgs[a]
}

// Command returns a copy of the argv for a, with packages appended when the
// action accepts them.
func (c Catalog) Command(a Action, packages ...string) ([]string, error) {
	tmpl, ok := c.commands[a]
	if !ok {
		return nil, fmt.Errorf("no command for %s", a)
	}
	if len(packages) > 0 && !c.takesArgs[a] {
		return nil, fmt.Errorf("%s does not accept package arguments", a)
	}
	for _, p := range packages {
		if !distro.ValidPackageName(p) {
			return nil, fmt.Errorf("invalid package name %q", p)
		}
	}

	argv := make([]string, 0, len(tmpl)+len(packages))
	argv = append(argv, tmpl...)
	return append(argv, packages...), nil
}
