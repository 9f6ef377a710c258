package audit

import (
	"context"
	stderrors "errors"
	"strings"
	"testing"
	"time"

	"go.uber.org/zap/zaptest"

	"github.com/GK-Developers/GK-Healter/internal/errors"
)

type stubCheck struct {
	id       CheckID
	findings []Finding
	err      error
	panics   bool
	started  chan struct{}
	block    chan struct{}
}

func (s *stubCheck) ID() CheckID { return s.id }

func (s *stubCheck) Run(ctx context.Context) ([]Finding, error) {
	if s.started != nil {
		close(s.started)
	}
	if s.block != nil {
		<-s.block
	}
	if s.panics {
		panic("boom")
	}
	out := make([]Finding, len(s.findings))
	copy(out, s.findings)
	return out, s.err
}

func newTestEngine(t *testing.T, checks ...Check) *Engine {
	t.Helper()
	e, err := NewEngine(Options{Checks: checks, Logger: zaptest.NewLogger(t)})
	if err != nil {
		t.Fatalf("NewEngine: %v", err)
	}
	return e
}

func TestAudit_OrdersFindingsByCheck(t *testing.T) {
	e := newTestEngine(t,
		&stubCheck{id: WorldWritable, findings: []Finding{{Severity: High, Subject: "/etc/a"}}},
		&stubCheck{id: SuidSgid, findings: []Finding{{Severity: Critical, Subject: "/usr/bin/x"}, {Severity: Critical, Subject: "/usr/bin/y"}}},
		&stubCheck{id: SshHardening},
		&stubCheck{id: FailedLogins, findings: []Finding{{Severity: Info, Subject: "journal"}}},
	)

	report, err := e.Audit(context.Background())
	if err != nil {
		t.Fatalf("Audit: %v", err)
	}

	want := []CheckID{WorldWritable, SuidSgid, SuidSgid, FailedLogins}
	if len(report.Findings) != len(want) {
		t.Fatalf("got %d findings, want %d", len(report.Findings), len(want))
	}
	for i, id := range want {
		if report.Findings[i].CheckID != id {
			t.Errorf("finding %d: check %s, want %s", i, report.Findings[i].CheckID, id)
		}
	}
	// 100 - 10 - 20 - 20 - 1
	if report.TrustScore != 49 {
		t.Errorf("TrustScore = %d, want 49", report.TrustScore)
	}
}

func TestAudit_FailingCheckBecomesSelfDiagnostic(t *testing.T) {
	e := newTestEngine(t,
		&stubCheck{id: SudoersRisk, err: stderrors.New("permission denied")},
		&stubCheck{id: SshHardening, panics: true},
		&stubCheck{id: UnattendedUpgrades, findings: []Finding{{Severity: Warning, Subject: "apt"}}},
	)

	report, err := e.Audit(context.Background())
	if err != nil {
		t.Fatalf("Audit: %v", err)
	}
	if len(report.Findings) != 3 {
		t.Fatalf("got %d findings, want 3: %+v", len(report.Findings), report.Findings)
	}
	for _, f := range report.Findings[:2] {
		if f.Subject != SelfDiagnostic || f.Severity != Warning {
			t.Errorf("expected a warning self-diagnostic, got %+v", f)
		}
	}
	if !strings.Contains(report.Findings[1].Detail, "boom") {
		t.Errorf("panic value missing from detail: %q", report.Findings[1].Detail)
	}
	if report.TrustScore != 85 {
		t.Errorf("TrustScore = %d, want 85", report.TrustScore)
	}
}

func TestAudit_NoFindingsScoresMax(t *testing.T) {
	e := newTestEngine(t, &stubCheck{id: WorldWritable})
	report, err := e.Audit(context.Background())
	if err != nil {
		t.Fatalf("Audit: %v", err)
	}
	if report.TrustScore != MaxTrustScore || len(report.Findings) != 0 {
		t.Errorf("got score %d with %d findings", report.TrustScore, len(report.Findings))
	}
}

func TestAudit_SingleFlight(t *testing.T) {
	started, block := make(chan struct{}), make(chan struct{})
	e := newTestEngine(t, &stubCheck{id: WorldWritable, started: started, block: block})

	done := make(chan error, 1)
	go func() {
		_, err := e.Audit(context.Background())
		done <- err
	}()

	select {
	case <-started:
	case <-time.After(5 * time.Second):
		t.Fatal("first audit never started")
	}
	if _, err := e.Audit(context.Background()); !errors.Is(err, errors.KindAuditActive) {
		t.Errorf("second audit: got %v, want audit-active", err)
	}

	close(block)
	if err := <-done; err != nil {
		t.Fatalf("first audit: %v", err)
	}
}

func TestNewEngine_RejectsInvalidPolicy(t *testing.T) {
	_, err := NewEngine(Options{Policy: ScorePolicy{Weights: map[Severity]int{Critical: 20}}})
	if !errors.Is(err, errors.KindInvalidConfig) {
		t.Fatalf("got %v, want invalid-config", err)
	}

	weights := DefaultScorePolicy().Weights
	weights[Info] = -1
	_, err = NewEngine(Options{Policy: ScorePolicy{Weights: weights}})
	if !errors.Is(err, errors.KindInvalidConfig) {
		t.Fatalf("got %v, want invalid-config", err)
	}
}
