package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestPrometheus_Operations(t *testing.T) {
	p := NewPrometheus(nil, []string{"idle", "running"})

	p.ObserveOperation("system-logs", "succeeded", "", 2048)
	p.ObserveOperation("system-logs", "failed", "timeout", 0)

	if got := testutil.ToFloat64(p.BytesFreed.WithLabelValues("system-logs")); got != 2048 {
		t.Errorf("bytes freed = %v, want 2048", got)
	}
	if got := testutil.ToFloat64(p.Operations.WithLabelValues("system-logs", "failed", "timeout")); got != 1 {
		t.Errorf("failed operations = %v, want 1", got)
	}
}

func TestPrometheus_SchedulerStateIsExclusive(t *testing.T) {
	p := NewPrometheus(nil, []string{"idle", "evaluating", "running"})

	p.SetSchedulerState("running")
	p.SetSchedulerState("idle")

	if got := testutil.ToFloat64(p.SchedulerState.WithLabelValues("idle")); got != 1 {
		t.Errorf("idle gauge = %v, want 1", got)
	}
	if got := testutil.ToFloat64(p.SchedulerState.WithLabelValues("running")); got != 0 {
		t.Errorf("running gauge = %v, want 0", got)
	}
}

func TestPrometheus_Audit(t *testing.T) {
	p := NewPrometheus(nil, nil)
	p.ObserveAudit(75, time.Second)
	p.ObserveCleanupRun("manual", "succeeded", 3*time.Second)

	if got := testutil.ToFloat64(p.TrustScore); got != 75 {
		t.Errorf("trust score = %v, want 75", got)
	}
	if got := testutil.ToFloat64(p.CleanupRuns.WithLabelValues("manual", "succeeded")); got != 1 {
		t.Errorf("cleanup runs = %v, want 1", got)
	}
}
