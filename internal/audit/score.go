package audit

import "fmt"

// MaxTrustScore is the score of a report without findings
const MaxTrustScore = 100

// ScorePolicy holds the deduction per finding severity
type ScorePolicy struct {
	Weights map[Severity]int `json:"weights" yaml:"weights"`
}

// DefaultScorePolicy deducts 20/10/5/1 for critical/high/warning/info
func DefaultScorePolicy() ScorePolicy {
	return ScorePolicy{Weights: map[Severity]int{
		Critical: 20,
		High:     10,
		Warning:  5,
		Info:     1,
	}}
}

// Validate requires a non-negative weight for every severity
func (p ScorePolicy) Validate() error {
	for _, s := range Severities() {
		w, ok := p.Weights[s]
		if !ok {
			return fmt.Errorf("score policy has no weight for %s", s)
		}
		if w < 0 {
			return fmt.Errorf("score policy weight for %s is negative: %d", s, w)
		}
	}
	return nil
}

// Score deducts the weight of every finding from MaxTrustScore, floored at 0
func (p ScorePolicy) Score(findings []Finding) int {
	score := MaxTrustScore
	for _, f := range findings {
		score -= p.Weights[f.Severity]
		if score <= 0 {
			return 0
		}
	}
	return score
}
