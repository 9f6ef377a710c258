package safety

// Effect is what a matching rule does to a path
type Effect int

const (
	Deny Effect = iota
	Allow
	Marker
)

func (e Effect) String() string {
	switch e {
	case Allow:
		return "allow"
	case Marker:
		return "marker"
	default:
		return "deny"
	}
}

// Match controls how a rule pattern is compared with a path
type Match int

const (
	// Exact matches the pattern itself only
	Exact Match = iota
	// Subtree matches the pattern and everything below it
	Subtree
	// Descendants matches everything below the pattern but not the pattern itself
	Descendants
)

// AnyCategory makes a rule apply to every category
const AnyCategory Category = ""

// Rule is one row of the safety table. Patterns starting with "~" are
// relative to the invoking user's home directory, every other pattern is
// relative to the operating root. Deny patterns may use "*" wildcards.
type Rule struct {
	Pattern  string
	Category Category
	Effect   Effect
	Match    Match
}

// markerBinaries is the closed list of package manager executables that
// may be named as capability markers.
var markerBinaries = []string{
	"/usr/bin/apt",
	"/usr/bin/apt-get",
	"/usr/bin/pacman",
	"/usr/bin/dnf",
	"/usr/bin/zypper",
}

// MarkerBinaries returns the closed marker list, relative to the operating root
func MarkerBinaries() []string {
	out := make([]string, len(markerBinaries))
	copy(out, markerBinaries)
	return out
}

// DefaultRules returns the built-in rule table
func DefaultRules() []Rule {
	rules := []Rule{
		// Forbidden system locations
		{Pattern: "/", Effect: Deny, Match: Exact},
		{Pattern: "/boot", Effect: Deny, Match: Subtree},
		{Pattern: "/bin", Effect: Deny, Match: Subtree},
		{Pattern: "/sbin", Effect: Deny, Match: Subtree},
		{Pattern: "/lib*", Effect: Deny, Match: Subtree},
		{Pattern: "/usr", Effect: Deny, Match: Subtree},
		{Pattern: "/etc", Effect: Deny, Match: Subtree},
		{Pattern: "/dev", Effect: Deny, Match: Subtree},
		{Pattern: "/proc", Effect: Deny, Match: Subtree},
		{Pattern: "/sys", Effect: Deny, Match: Subtree},
		{Pattern: "~", Effect: Deny, Match: Exact},

		{Pattern: "/var/cache/apt/archives", Category: PackageCache, Effect: Allow, Match: Subtree},
		{Pattern: "/var/cache/pacman/pkg", Category: PackageCache, Effect: Allow, Match: Subtree},
		{Pattern: "/var/cache/dnf", Category: PackageCache, Effect: Allow, Match: Subtree},
		{Pattern: "/var/cache/zypp/packages", Category: PackageCache, Effect: Allow, Match: Subtree},

		{Pattern: "/var/log", Category: SystemLogs, Effect: Allow, Match: Descendants},
		{Pattern: "/var/log/journal", Category: JournalVacuum, Effect: Allow, Match: Subtree},
		{Pattern: "/var/lib/systemd/coredump", Category: Coredumps, Effect: Allow, Match: Subtree},

		{Pattern: "~/.cache", Category: AppCache, Effect: Allow, Match: Descendants},
		{Pattern: "~/.cache/thumbnails", Category: Thumbnails, Effect: Allow, Match: Descendants},

		{Pattern: "/tmp", Category: TempFiles, Effect: Allow, Match: Descendants},
		{Pattern: "/var/tmp", Category: TempFiles, Effect: Allow, Match: Descendants},
		{Pattern: "~/.local/share/Trash", Category: TempFiles, Effect: Allow, Match: Descendants},
	}

	for _, bin := range markerBinaries {
		rules = append(rules, Rule{Pattern: bin, Category: OrphanPackages, Effect: Marker, Match: Exact})
	}
	return rules
}
