package audit

import (
	"fmt"
	"time"
)

// CheckID identifies one of the audit checks
type CheckID string

const (
	WorldWritable      CheckID = "world-writable"
	SuidSgid           CheckID = "suid-sgid"
	SudoersRisk        CheckID = "sudoers-risk"
	SshHardening       CheckID = "ssh-hardening"
	UnattendedUpgrades CheckID = "unattended-upgrades"
	FailedLogins       CheckID = "failed-logins"
)

// Severity grades a finding
type Severity string

const (
	Critical Severity = "critical"
	High     Severity = "high"
	Warning  Severity = "warning"
	Info     Severity = "info"
)

// Severities lists every severity, most severe first
func Severities() []Severity {
	return []Severity{Critical, High, Warning, Info}
}

// Finding is one observation of one check. Findings are never mutated.
type Finding struct {
	CheckID  CheckID  `json:"check_id"`
	Severity Severity `json:"severity"`
	Subject  string   `json:"subject"`
	Detail   string   `json:"detail"`
}

// SelfDiagnostic is the subject of the finding that replaces a check's
// output when the check itself could not complete.
const SelfDiagnostic = "self-diagnostic"

func selfDiagnostic(id CheckID, err error) Finding {
	return Finding{
		CheckID:  id,
		Severity: Warning,
		Subject:  SelfDiagnostic,
		Detail:   fmt.Sprintf("check could not complete: %v", err),
	}
}

// Report is the result of one audit. TrustScore is derived from Findings.
type Report struct {
	Findings    []Finding     `json:"findings"`
	TrustScore  int           `json:"trust_score"`
	GeneratedAt time.Time     `json:"generated_at"`
	Duration    time.Duration `json:"duration"`
}

// Count returns the number of findings with severity
func (r *Report) Count(severity Severity) int {
	n := 0
	for _, f := range r.Findings {
		if f.Severity == severity {
			n++
		}
	}
	return n
}

// ByCheck returns the findings produced by one check
func (r *Report) ByCheck(id CheckID) []Finding {
	var out []Finding
	for _, f := range r.Findings {
		if f.CheckID == id {
			out = append(out, f)
		}
	}
	return out
}
