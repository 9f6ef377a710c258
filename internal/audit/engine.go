package audit

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/GK-Developers/GK-Healter/internal/errors"
	"github.com/GK-Developers/GK-Healter/internal/metrics"
)

// Check is one independent audit check
type Check interface {
	ID() CheckID
	Run(ctx context.Context) ([]Finding, error)
}

// Querier runs a read-only external command
type Querier interface {
	Query(ctx context.Context, argv ...string) ([]byte, error)
}

// Options configure an Engine
type Options struct {
	Checks  []Check
	Policy  ScorePolicy
	Logger  *zap.Logger
	Metrics metrics.Collector
	Now     func() time.Time
}

// Engine runs the checks and scores their findings. One audit runs at a
// time. Audits may overlap with cleanup runs.
type Engine struct {
	checks  []Check
	policy  ScorePolicy
	logger  *zap.Logger
	metrics metrics.Collector
	now     func() time.Time

	mu sync.Mutex
}

// NewEngine creates an audit engine
func NewEngine(opts Options) (*Engine, error) {
	if opts.Policy.Weights == nil {
		opts.Policy = DefaultScorePolicy()
	}
	if err := opts.Policy.Validate(); err != nil {
		return nil, errors.New(errors.KindInvalidConfig, "audit", err)
	}

	e := &Engine{
		checks:  opts.Checks,
		policy:  opts.Policy,
		logger:  opts.Logger,
		metrics: opts.Metrics,
		now:     opts.Now,
	}
	if e.logger == nil {
		e.logger = zap.NewNop()
	}
	if e.metrics == nil {
		e.metrics = metrics.Nop{}
	}
	if e.now == nil {
		e.now = time.Now
	}
	return e, nil
}

// Audit runs every check concurrently and concatenates the findings in
// check order. A failing check contributes one Warning self-diagnostic.
func (e *Engine) Audit(ctx context.Context) (*Report, error) {
	if !e.mu.TryLock() {
		return nil, errors.New(errors.KindAuditActive, "audit", nil)
	}
	defer e.mu.Unlock()

	start := e.now()
	results := make([][]Finding, len(e.checks))

	var wg sync.WaitGroup
	for i, c := range e.checks {
		wg.Add(1)
		go func(i int, c Check) {
			defer wg.Done()
			results[i] = e.runCheck(ctx, c)
		}(i, c)
	}
	wg.Wait()

	report := &Report{Findings: []Finding{}}
	for _, findings := range results {
		report.Findings = append(report.Findings, findings...)
	}
	report.TrustScore = e.policy.Score(report.Findings)
	report.GeneratedAt = e.now()
	report.Duration = report.GeneratedAt.Sub(start)

	for _, f := range report.Findings {
		e.metrics.ObserveFinding(string(f.CheckID), string(f.Severity))
	}
	e.metrics.ObserveAudit(report.TrustScore, report.Duration)
	e.logger.Info("security audit finished",
		zap.Int("trust_score", report.TrustScore),
		zap.Int("findings", len(report.Findings)),
		zap.Int("critical", report.Count(Critical)),
		zap.Duration("duration", report.Duration))

	return report, nil
}

func (e *Engine) runCheck(ctx context.Context, c Check) (findings []Finding) {
	defer func() {
		if r := recover(); r != nil {
			e.logger.Error("audit check panicked", zap.String("check", string(c.ID())), zap.Any("panic", r))
			findings = []Finding{selfDiagnostic(c.ID(), fmt.Errorf("panic: %v", r))}
		}
	}()

	found, err := c.Run(ctx)
	if err != nil {
		e.logger.Warn("audit check degraded", zap.String("check", string(c.ID())), zap.Error(err))
		return []Finding{selfDiagnostic(c.ID(), err)}
	}
	for i := range found {
		found[i].CheckID = c.ID()
	}
	return found
}
