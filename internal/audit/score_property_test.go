package audit

import (
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
)

// toFindings maps generated indexes onto Severities()
func toFindings(idx []int) []Finding {
	sev := Severities()
	out := make([]Finding, len(idx))
	for i, n := range idx {
		out[i] = Finding{Severity: sev[n]}
	}
	return out
}

func TestProperty_TrustScore(t *testing.T) {
	policy := DefaultScorePolicy()
	severity := gen.IntRange(0, len(Severities())-1)
	properties := gopter.NewProperties(nil)

	properties.Property("score stays within [0, 100]", prop.ForAll(
		func(idx []int) bool {
			s := policy.Score(toFindings(idx))
			return s >= 0 && s <= MaxTrustScore
		},
		gen.SliceOf(severity),
	))

	properties.Property("adding a finding never raises the score", prop.ForAll(
		func(idx []int, extra int) bool {
			findings := toFindings(idx)
			more := append(toFindings(idx), Finding{Severity: Severities()[extra]})
			return policy.Score(more) <= policy.Score(findings)
		},
		gen.SliceOf(severity),
		severity,
	))

	properties.Property("score is independent of finding order", prop.ForAll(
		func(idx []int) bool {
			findings := toFindings(idx)
			reversed := make([]Finding, len(findings))
			for i, f := range findings {
				reversed[len(findings)-1-i] = f
			}
			return policy.Score(reversed) == policy.Score(findings)
		},
		gen.SliceOf(severity),
	))

	properties.TestingRun(t, gopter.ConsoleReporter(false))
}
