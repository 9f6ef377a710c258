package cleanup

import (
	"time"

	"github.com/google/uuid"

	"github.com/GK-Developers/GK-Healter/internal/errors"
	"github.com/GK-Developers/GK-Healter/internal/privexec"
	"github.com/GK-Developers/GK-Healter/internal/safety"
)

// Trigger says who started a run
type Trigger string

const (
	Manual    Trigger = "manual"
	Scheduled Trigger = "scheduled"
)

// Outcome is the result of one operation
type Outcome string

const (
	Succeeded Outcome = "succeeded"
	Skipped   Outcome = "skipped"
	Failed    Outcome = "failed"
	// Simulated marks a permitted target in a dry run
	Simulated Outcome = "simulated"
)

// Status is the result of a whole run
type Status string

const (
	StatusSucceeded       Status = "succeeded"
	StatusPartiallyFailed Status = "partially-failed"
	StatusFailed          Status = "failed"
)

// Target is one candidate produced by a scanner. Action is empty for
// filesystem targets.
type Target struct {
	Category          safety.Category `json:"category"`
	Path              string          `json:"path"`
	Action            privexec.Action `json:"action,omitempty"`
	Packages          []string        `json:"packages,omitempty"`
	EstimatedBytes    int64           `json:"estimated_bytes"`
	RequiresPrivilege bool            `json:"requires_privilege"`
}

// Operation records what happened to one target
type Operation struct {
	Target     Target         `json:"target"`
	Verdict    safety.Verdict `json:"verdict"`
	Outcome    Outcome        `json:"outcome"`
	BytesFreed int64          `json:"bytes_freed"`
	Error      errors.Kind    `json:"error,omitempty"`
	Detail     string         `json:"detail,omitempty"`
	StartedAt  time.Time      `json:"started_at"`
	FinishedAt time.Time      `json:"finished_at"`
}

// Report is the append-only log of one run, sealed when the run ends
type Report struct {
	RunID           string      `json:"run_id"`
	TriggeredBy     Trigger     `json:"triggered_by"`
	DryRun          bool        `json:"dry_run"`
	Status          Status      `json:"status"`
	Operations      []Operation `json:"operations"`
	TotalBytesFreed int64       `json:"total_bytes_freed"`
	EstimatedBytes  int64       `json:"estimated_bytes"`
	StartedAt       time.Time   `json:"started_at"`
	FinishedAt      time.Time   `json:"finished_at"`

	sealed bool
}

func newReport(trigger Trigger, dryRun bool, now time.Time) *Report {
	return &Report{
		RunID:       uuid.NewString(),
		TriggeredBy: trigger,
		DryRun:      dryRun,
		Operations:  []Operation{},
		StartedAt:   now,
	}
}

func (r *Report) add(op Operation) {
	if r.sealed {
		return
	}
	r.Operations = append(r.Operations, op)
}

// seal computes totals and the run status. A run that started is never
// Failed as a whole, individual failures make it PartiallyFailed.
func (r *Report) seal(now time.Time) {
	if r.sealed {
		return
	}
	r.FinishedAt = now
	r.TotalBytesFreed = 0
	r.EstimatedBytes = 0

	partial := false
	for _, op := range r.Operations {
		r.TotalBytesFreed += op.BytesFreed
		if op.Verdict.Decision.Permits() {
			r.EstimatedBytes += op.Target.EstimatedBytes
		}
		if op.Outcome == Failed || op.Error == errors.KindCancelled {
			partial = true
		}
	}

	if r.Status == "" {
		r.Status = StatusSucceeded
		if partial {
			r.Status = StatusPartiallyFailed
		}
	}
	r.sealed = true
}

// Err returns a PartialRunFailure error for a partially failed run
func (r *Report) Err() error {
	switch r.Status {
	case StatusPartiallyFailed:
		return errors.Newf(errors.KindPartialRunFailure, "cleanup", "%d of %d operations did not complete",
			r.Count(Failed)+r.cancelled(), len(r.Operations))
	case StatusFailed:
		return errors.New(errors.KindProfileUnresolved, "cleanup", nil)
	}
	return nil
}

// Count returns how many operations ended with outcome
func (r *Report) Count(outcome Outcome) int {
	n := 0
	for _, op := range r.Operations {
		if op.Outcome == outcome {
			n++
		}
	}
	return n
}

func (r *Report) cancelled() int {
	n := 0
	for _, op := range r.Operations {
		if op.Error == errors.KindCancelled {
			n++
		}
	}
	return n
}

// Sealed reports whether the run has finished
func (r *Report) Sealed() bool {
	return r.sealed
}
