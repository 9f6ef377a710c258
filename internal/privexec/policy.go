package privexec

import (
	"encoding/xml"
	"fmt"
	"os"
	"strings"
)

// DefaultPolicyPrefix namespaces the polkit action ids
const DefaultPolicyPrefix = "io.github.gkhealter."

// Policy is the set of action ids declared by a polkit policy file
type Policy struct {
	XMLName xml.Name       `xml:"policyconfig"`
	Vendor  string         `xml:"vendor,omitempty"`
	Actions []PolicyAction `xml:"action"`
}

// PolicyAction is one <action> element
type PolicyAction struct {
	ID          string         `xml:"id,attr"`
	Description string         `xml:"description"`
	Message     string         `xml:"message"`
	Defaults    PolicyDefaults `xml:"defaults"`
	Annotations []Annotation   `xml:"annotate,omitempty"`
}

// PolicyDefaults holds the implicit authorizations
type PolicyDefaults struct {
	AllowAny      string `xml:"allow_any"`
	AllowInactive string `xml:"allow_inactive"`
	AllowActive   string `xml:"allow_active"`
}

// Annotation is a polkit <annotate key="...">value</annotate>
type Annotation struct {
	Key   string `xml:"key,attr"`
	Value string `xml:",chardata"`
}

// LoadPolicy parses a polkit policy file
func LoadPolicy(path string) (*Policy, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read policy %s: %w", path, err)
	}

	var p Policy
	if err := xml.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("failed to parse policy %s: %w", path, err)
	}
	return &p, nil
}

// Declares reports whether the policy has an entry for action
func (p *Policy) Declares(prefix string, action Action) bool {
	if p == nil {
		return false
	}
	for _, a := range p.Actions {
		if a.ID == prefix+string(action) {
			return true
		}
	}
	return false
}

// Missing returns the actions without a policy entry, in action order
func (p *Policy) Missing(prefix string) []Action {
	var missing []Action
	for _, a := range Actions() {
		if !p.Declares(prefix, a) {
			missing = append(missing, a)
		}
	}
	return missing
}

// ExecPathAnnotation binds a polkit action to the program pkexec runs
const ExecPathAnnotation = "org.freedesktop.policykit.exec.path"

// RenderPolicy produces a policy file declaring exactly the action set,
// for packagers to install under /usr/share/polkit-1/actions. pkexec picks
// the action by program path, so each program in catalog is annotated on
// the first action that runs it. Actions sharing a program (the package
// manager's cache-clean, autoremove and fix-broken) share that action's
// authorization.
func RenderPolicy(prefix string, catalog Catalog) ([]byte, error) {
	descriptions := map[Action]string{
		CacheClean:    "Clean the package manager cache",
		Autoremove:    "Remove orphaned packages",
		FixBroken:     "Repair broken package dependencies",
		LogVacuum:     "Vacuum the systemd journal",
		CoredumpClean: "Remove stored core dumps",
	}

	p := Policy{Vendor: "GK-Healter"}
	claimed := map[string]bool{}
	for _, a := range Actions() {
		pa := PolicyAction{
			ID:          prefix + string(a),
			Description: descriptions[a],
			Message:     "Authentication is required to " + lowerFirst(descriptions[a]),
			Defaults: PolicyDefaults{
				AllowAny:      "auth_admin",
				AllowInactive: "auth_admin",
				AllowActive:   "auth_admin_keep",
			},
		}
		if program, ok := catalog.Program(a); ok && !claimed[program] {
			claimed[program] = true
			pa.Annotations = append(pa.Annotations, Annotation{Key: ExecPathAnnotation, Value: program})
		}
		p.Actions = append(p.Actions, pa)
	}

	out, err := xml.MarshalIndent(p, "", "  ")
	if err != nil {
		return nil, err
	}
	header := xml.Header + `<!DOCTYPE policyconfig PUBLIC "-//freedesktop//DTD PolicyKit Policy Configuration 1.0//EN" "http://www.freedesktop.org/standards/PolicyKit/1/policyconfig.dtd">` + "\n"
	return append([]byte(header), append(out, '\n')...), nil
}

// ExecPaths returns the programs the policy binds, keyed by action
func (p *Policy) ExecPaths(prefix string) map[Action]string {
	out := map[Action]string{}
	if p == nil {
		return out
	}
	for _, pa := range p.Actions {
		action, err := ParseAction(strings.TrimPrefix(pa.ID, prefix))
		if err != nil {
			continue
		}
		for _, an := range pa.Annotations {
			if an.Key == ExecPathAnnotation {
				out[action] = strings.TrimSpace(an.Value)
			}
		}
	}
	return out
}

func lowerFirst(s string) string {
	if s == "" {
		return s
	}
	return strings.ToLower(s[:1]) + s[1:]
}
