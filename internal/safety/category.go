package safety

import "fmt"

// Category identifies a kind of cleanup target
type Category string

const (
	PackageCache   Category = "package-cache"
	OrphanPackages Category = "orphan-packages"
	SystemLogs     Category = "system-logs"
	JournalVacuum  Category = "journal-vacuum"
	Coredumps      Category = "coredumps"
	AppCache       Category = "app-cache"
	Thumbnails     Category = "thumbnails"
	TempFiles      Category = "temp-files"
)

// order is the fixed processing order used by every cleanup report
var order = []Category{
	PackageCache,
	OrphanPackages,
	SystemLogs,
	JournalVacuum,
	Coredumps,
	AppCache,
	Thumbnails,
	TempFiles,
}

// Categories returns every category in processing order
func Categories() []Category {
	out := make([]Category, len(order))
	copy(out, order)
	return out
}

// Rank returns the position of c in the processing order, or -1
func (c Category) Rank() int {
	for i, known := range order {
		if known == c {
			return i
		}
	}
	return -1
}

// Valid reports whether c is a known category
func (c Category) Valid() bool {
	return c.Rank() >= 0
}

// IsPackage reports whether the category is served by the package manager
// rather than by filesystem removal or a distro-independent command.
func (c Category) IsPackage() bool {
	return c == PackageCache || c == OrphanPackages
}

// ParseCategory converts a stable identifier into a Category
func ParseCategory(s string) (Category, error) {
	c := Category(s)
	if !c.Valid() {
		return "", fmt.Errorf("unknown category %q", s)
	}
	return c, nil
}

// Normalize de-duplicates categories and sorts them into processing order
func Normalize(categories []Category) []Category {
	seen := make(map[Category]bool, len(categories))
	for _, c := range categories {
		if c.Valid() {
			seen[c] = true
		}
	}

	out := make([]Category, 0, len(seen))
	for _, c := range order {
		if seen[c] {
			out = append(out, c)
		}
	}
	return out
}
