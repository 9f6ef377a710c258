package safety

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/IGLOU-EU/go-wildcard"
)

// Decision is the outcome of classifying a path
type Decision int

const (
	// Denied is the zero value so an unset verdict never permits anything
	Denied Decision = iota
	Allowed
	MarkerAllowed
)

func (d Decision) String() string {
	switch d {
	case Allowed:
		return "allowed"
	case MarkerAllowed:
		return "marker-allowed"
	default:
		return "denied"
	}
}

// MarshalText keeps the stable identifier in serialized reports
func (d Decision) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

// Permits reports whether the decision allows acting on the path
func (d Decision) Permits() bool {
	return d == Allowed || d == MarkerAllowed
}

// Verdict is the classification of one path for one category
type Verdict struct {
	Path     string   `json:"path"`
	Category Category `json:"category"`
	Decision Decision `json:"decision"`
	Reason   string   `json:"reason"`
}

// Options locate the rule table on a concrete filesystem
type Options struct {
	// Root is the filesystem root the process operates on, "/" in production
	Root string
	// Home is the absolute home directory of the invoking user
	Home string
	// Rules overrides DefaultRules when non-nil
	Rules []Rule
}

type resolvedRule struct {
	Rule
	path string
}

// Classifier decides whether a path may be acted on for a category. It
// performs no I/O and is safe for concurrent use.
type Classifier struct {
	root    string
	deny    []resolvedRule
	allow   []resolvedRule
	markers []resolvedRule
}

// NewClassifier instantiates the rule table and verifies that no allowed
// root is also forbidden.
func NewClassifier(opts Options) (*Classifier, error) {
	root := opts.Root
	if root == "" {
		root = "/"
	}
	if !filepath.IsAbs(root) {
		return nil, fmt.Errorf("operating root must be absolute: %q", root)
	}
	root = filepath.Clean(root)

	home := filepath.Clean(opts.Home)
	if opts.Home == "" || !filepath.IsAbs(home) {
		return nil, fmt.Errorf("home directory must be absolute: %q", opts.Home)
	}

	rules := opts.Rules
	if rules == nil {
		rules = DefaultRules()
	}

	c := &Classifier{root: root}
	for _, r := range rules {
		rr := resolvedRule{Rule: r, path: resolvePattern(r.Pattern, root, home)}
		switch r.Effect {
		case Allow:
			c.allow = append(c.allow, rr)
		case Marker:
			c.markers = append(c.markers, rr)
		default:
			c.deny = append(c.deny, rr)
		}
	}

	if err := c.Validate(); err != nil {
		return nil, err
	}
	return c, nil
}

func resolvePattern(pattern, root, home string) string {
	if pattern == "~" {
		return home
	}
	if strings.HasPrefix(pattern, "~/") {
		return filepath.Join(home, pattern[2:])
	}
	return filepath.Join(root, pattern)
}

// Validate checks that every allow root lies inside the operating root and
// is matched by no deny rule.
func (c *Classifier) Validate() error {
	for _, a := range c.allow {
		if !within(c.root, a.path) {
			return fmt.Errorf("allow rule %s resolves outside operating root %s", a.Pattern, c.root)
		}
		if d, ok := c.denied(a.path); ok {
			return fmt.Errorf("allow rule %s (%s) overlaps deny rule %s", a.Pattern, a.Category, d.Pattern)
		}
	}
	return nil
}

// Root returns the operating root
func (c *Classifier) Root() string {
	return c.root
}

// Classify returns the verdict for path under category. Denied is returned
// unless a marker or allow rule positively matches.
func (c *Classifier) Classify(path string, category Category) Verdict {
	v := Verdict{Path: path, Category: category, Decision: Denied}

	if path == "" {
		v.Reason = "empty path"
		return v
	}
	if !filepath.IsAbs(path) {
		v.Reason = "path is not absolute"
		return v
	}
	if !category.Valid() {
		v.Reason = fmt.Sprintf("unknown category %q", category)
		return v
	}

	clean := filepath.Clean(path)
	v.Path = clean
	if !within(c.root, clean) {
		v.Reason = fmt.Sprintf("outside operating root %s", c.root)
		return v
	}

	// Markers first, the generic system binary rules would reject them
	for _, m := range c.markers {
		if m.Category == category && matches(m, clean) {
			v.Decision = MarkerAllowed
			v.Reason = "package manager marker " + m.Pattern
			return v
		}
	}

	if d, ok := c.denied(clean); ok {
		v.Reason = "forbidden location " + d.Pattern
		return v
	}

	for _, a := range c.allow {
		if a.Category == category && matches(a, clean) {
			v.Decision = Allowed
			v.Reason = "within " + a.Pattern
			return v
		}
	}

	v.Reason = fmt.Sprintf("no %s rule covers this path", category)
	return v
}

func (c *Classifier) denied(path string) (resolvedRule, bool) {
	for _, d := range c.deny {
		if matches(d, path) {
			return d, true
		}
	}
	return resolvedRule{}, false
}

func matches(r resolvedRule, path string) bool {
	switch r.Match {
	case Exact:
		return matchOne(r.path, path)
	case Descendants:
		return path != r.path && hasAncestor(r.path, path)
	default:
		return matchOne(r.path, path) || hasAncestor(r.path, path)
	}
}

func matchOne(pattern, path string) bool {
	if strings.ContainsRune(pattern, '*') {
		return wildcard.Match(pattern, path)
	}
	return pattern == path
}

// hasAncestor reports whether some strict ancestor of path matches pattern
func hasAncestor(pattern, path string) bool {
	for dir := filepath.Dir(path); ; dir = filepath.Dir(dir) {
		if matchOne(pattern, dir) {
			return true
		}
		if dir == "/" || dir == "." {
			return false
		}
	}
}

func within(root, path string) bool {
	if root == "/" {
		return strings.HasPrefix(path, "/")
	}
	return path == root || strings.HasPrefix(path, root+"/")
}
