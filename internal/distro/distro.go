package distro

import (
	"bufio"
	"bytes"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
)

// Family is the normalized package manager ecosystem of the host
type Family string

const (
	Unknown Family = "unknown"
	Apt     Family = "apt"    // Debian, Ubuntu, Mint, Pardus
	Pacman  Family = "pacman" // Arch, Manjaro, EndeavourOS
	Dnf     Family = "dnf"    // Fedora, RHEL, Alma, Rocky
	Zypper  Family = "zypper" // openSUSE, SLES
)

// SizeUnit converts the numbers printed by a size query into bytes
type SizeUnit int64

const (
	Bytes SizeUnit = 1
	KiB   SizeUnit = 1024
)

// Profile is the resolved, read-only command set for one family. A
// command slice is nil when the family has no such operation.
type Profile struct {
	Family Family `json:"family"`
	Name   string `json:"name"`
	// Binary is the package manager executable that proves the family is present
	Binary   string `json:"binary"`
	CacheDir string `json:"cache_dir"`

	CacheClean []string `json:"cache_clean,omitempty"`
	// Autoremove gets the orphan list appended when AutoremoveTakesPackages is set
	Autoremove              []string `json:"autoremove,omitempty"`
	AutoremoveTakesPackages bool     `json:"autoremove_takes_packages,omitempty"`
	FixBroken               []string `json:"fix_broken,omitempty"`
	// DependencyQuery lists orphaned packages, parsed by Orphans
	DependencyQuery []string `json:"dependency_query,omitempty"`
	// EmptyQueryFails is set when DependencyQuery exits non-zero for "no orphans"
	EmptyQueryFails bool `json:"empty_query_fails,omitempty"`
	// SizeQuery prints one installed size per package argument
	SizeQuery       []string `json:"size_query,omitempty"`
	SizeUnit        SizeUnit `json:"size_unit,omitempty"`
	ServicePatterns []string `json:"service_patterns,omitempty"`
}

// Known reports whether a supported family was detected
func (p Profile) Known() bool {
	return p.Family != Unknown && p.Family != ""
}

// Orphans parses the output of DependencyQuery into package names
func (p Profile) Orphans(output []byte) []string {
	if parse, ok := orphanParsers[p.Family]; ok {
		return parse(output)
	}
	return nil
}

type familySpec struct {
	ids     []string
	profile Profile
}

// families is checked in order. Adding a family is adding a row here and,
// when its orphan listing has a new shape, a parser in orphans.go.
var families = []familySpec{
	{
		ids: []string{"debian", "ubuntu", "linuxmint", "pardus", "pop", "elementary", "kali", "raspbian"},
		profile: Profile{
			Family:          Apt,
			Name:            "Debian/Ubuntu",
			Binary:          "apt-get",
			CacheDir:        "/var/cache/apt/archives",
			CacheClean:      []string{"apt-get", "clean"},
			Autoremove:      []string{"apt-get", "autoremove", "-y"},
			FixBroken:       []string{"apt-get", "install", "-f", "-y"},
			DependencyQuery: []string{"apt-get", "--dry-run", "autoremove"},
			SizeQuery:       []string{"dpkg-query", "-W", "-f=${Installed-Size}\\n"},
			SizeUnit:        KiB,
			ServicePatterns: []string{"apt-daily.service", "apt-daily-upgrade.service", "unattended-upgrades.service"},
		},
	},
	{
		ids: []string{"arch", "manjaro", "endeavouros", "garuda", "artix"},
		profile: Profile{
			Family:                  Pacman,
			Name:                    "Arch",
			Binary:                  "pacman",
			CacheDir:                "/var/cache/pacman/pkg",
			CacheClean:              []string{"pacman", "-Sc", "--noconfirm"},
			Autoremove:              []string{"pacman", "-Rns", "--noconfirm"},
			AutoremoveTakesPackages: true,
			DependencyQuery:         []string{"pacman", "-Qtdq"},
			EmptyQueryFails:         true,
			ServicePatterns:         []string{"paccache.timer"},
		},
	},
	{
		ids: []string{"fedora", "rhel", "centos", "almalinux", "rocky", "ol", "nobara"},
		profile: Profile{
			Family:          Dnf,
			Name:            "Fedora/RHEL",
			Binary:          "dnf",
			CacheDir:        "/var/cache/dnf",
			CacheClean:      []string{"dnf", "clean", "all"},
			Autoremove:      []string{"dnf", "autoremove", "-y"},
			FixBroken:       []string{"dnf", "distro-sync", "-y"},
			DependencyQuery: []string{"dnf", "repoquery", "--unneeded", "-q", "--qf", "%{name}"},
			SizeQuery:       []string{"rpm", "-q", "--qf", "%{SIZE}\\n"},
			SizeUnit:        Bytes,
			ServicePatterns: []string{"dnf-automatic.timer", "dnf-makecache.timer"},
		},
	},
	{
		ids: []string{"opensuse", "opensuse-leap", "opensuse-tumbleweed", "suse", "sles"},
		profile: Profile{
			Family:          Zypper,
			Name:            "openSUSE",
			Binary:          "zypper",
			CacheDir:        "/var/cache/zypp/packages",
			CacheClean:      []string{"zypper", "--non-interactive", "clean", "--all"},
			FixBroken:       []string{"zypper", "--non-interactive", "verify"},
			DependencyQuery: []string{"zypper", "--quiet", "packages", "--unneeded"},
			SizeQuery:       []string{"rpm", "-q", "--qf", "%{SIZE}\\n"},
			SizeUnit:        Bytes,
			ServicePatterns: []string{"packagekit.service"},
		},
	},
}

// Detector resolves the profile of a host
type Detector struct {
	// Root is prefixed to the identity files, "/" in production
	Root string
	// LookPath finds a binary on the execution path
	LookPath func(file string) (string, error)
}

// NewDetector creates a detector for the live system
func NewDetector() *Detector {
	return &Detector{Root: "/", LookPath: exec.LookPath}
}

// Detect returns the profile of the first family whose identity matches
// os-release and whose binary is present. Otherwise the Unknown profile.
func (d *Detector) Detect() Profile {
	ids := d.identity()
	lookPath := d.LookPath
	if lookPath == nil {
		lookPath = exec.LookPath
	}

	for _, f := range families {
		if !intersects(ids, f.ids) {
			continue
		}
		if _, err := lookPath(f.profile.Binary); err != nil {
			continue
		}
		return f.profile.clone()
	}

	return Profile{Family: Unknown, Name: unknownName(ids)}
}

// identity reads ID and ID_LIKE tokens from os-release
func (d *Detector) identity() []string {
	root := d.Root
	if root == "" {
		root = "/"
	}

	for _, candidate := range []string{"etc/os-release", "usr/lib/os-release"} {
		data, err := os.ReadFile(filepath.Join(root, candidate))
		if err != nil {
			continue
		}
		return parseOSRelease(data)
	}
	return nil
}

func parseOSRelease(data []byte) []string {
	var ids []string
	scanner := bufio.NewScanner(bytes.NewReader(data))
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		key, value, ok := strings.Cut(line, "=")
		if !ok || (key != "ID" && key != "ID_LIKE") {
			continue
		}
		value = strings.Trim(value, `"'`)
		for _, tok := range strings.Fields(strings.ToLower(value)) {
			ids = append(ids, tok)
		}
	}
	return ids
}

func intersects(a, b []string) bool {
	for _, x := range a {
		for _, y := range b {
			if x == y {
				return true
			}
		}
	}
	return false
}

func unknownName(ids []string) string {
	if len(ids) == 0 {
		return "Unknown"
	}
	return "Unknown (" + ids[0] + ")"
}

func (p Profile) clone() Profile {
	out := p
	out.CacheClean = cloneArgs(p.CacheClean)
	out.Autoremove = cloneArgs(p.Autoremove)
	out.FixBroken = cloneArgs(p.FixBroken)
	out.DependencyQuery = cloneArgs(p.DependencyQuery)
	out.SizeQuery = cloneArgs(p.SizeQuery)
	out.ServicePatterns = cloneArgs(p.ServicePatterns)
	return out
}

func cloneArgs(args []string) []string {
	if args == nil {
		return nil
	}
	out := make([]string, len(args))
	copy(out, args)
	return out
}
