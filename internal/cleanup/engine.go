package cleanup

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"go.uber.org/zap"

	"github.com/GK-Developers/GK-Healter/internal/distro"
	"github.com/GK-Developers/GK-Healter/internal/errors"
	"github.com/GK-Developers/GK-Healter/internal/metrics"
	"github.com/GK-Developers/GK-Healter/internal/privexec"
	"github.com/GK-Developers/GK-Healter/internal/safety"
)

// CommandRunner executes privileged actions and read-only queries
type CommandRunner interface {
	Run(ctx context.Context, action privexec.Action, packages ...string) ([]byte, error)
	Query(ctx context.Context, argv ...string) ([]byte, error)
	Check(action privexec.Action) error
	Catalog() privexec.Catalog
}

var _ CommandRunner = (*privexec.Runner)(nil)

// Options configure an Engine
type Options struct {
	Classifier *safety.Classifier
	Profile    distro.Profile
	Runner     CommandRunner
	Layout     Layout
	Logger     *zap.Logger
	Metrics    metrics.Collector
	Now        func() time.Time
	// LockPath is the host-wide run lock. Empty limits exclusion to
	// this process.
	LockPath string
}

// Engine enumerates, classifies and removes cleanup targets. Only one
// destructive run is in progress at a time across every engine sharing a
// lock path.
type Engine struct {
	classifier *safety.Classifier
	profile    distro.Profile
	runner     CommandRunner
	layout     Layout
	logger     *zap.Logger
	metrics    metrics.Collector
	now        func() time.Time

	lock runLock
}

// NewEngine creates a cleanup engine
func NewEngine(opts Options) (*Engine, error) {
	if opts.Classifier == nil {
		return nil, fmt.Errorf("cleanup engine needs a classifier")
	}
	if opts.Runner == nil {
		return nil, fmt.Errorf("cleanup engine needs a command runner")
	}

	e := &Engine{
		classifier: opts.Classifier,
		profile:    opts.Profile,
		runner:     opts.Runner,
		layout:     opts.Layout,
		logger:     opts.Logger,
		metrics:    opts.Metrics,
		now:        opts.Now,
		lock:       runLock{path: opts.LockPath},
	}
	if e.layout.Root == "" {
		e.layout.Root = opts.Classifier.Root()
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

// Profile returns the distro profile the engine was built with
func (e *Engine) Profile() distro.Profile {
	return e.profile
}

// Active reports whether a destructive run is in progress, in this
// process or another one sharing the lock path.
func (e *Engine) Active() bool {
	return e.lock.held()
}

// Run cleans the requested categories. Per-target failures are recorded in
// the report, only run-level preconditions are returned as errors.
func (e *Engine) Run(ctx context.Context, categories []safety.Category, trigger Trigger) (*Report, error) {
	if err := e.lock.acquire("cleanup"); err != nil {
		return nil, err
	}
	defer e.lock.release()

	return e.run(ctx, categories, trigger, false)
}

// DryRun computes verdicts and estimated bytes without changing anything
func (e *Engine) DryRun(ctx context.Context, categories []safety.Category) (*Report, error) {
	return e.run(ctx, categories, Manual, true)
}

func (e *Engine) run(ctx context.Context, requested []safety.Category, trigger Trigger, dryRun bool) (*Report, error) {
	categories := safety.Normalize(requested)
	if len(categories) == 0 {
		return nil, errors.New(errors.KindNoCategories, "cleanup", nil)
	}

	report := newReport(trigger, dryRun, e.now())
	log := e.logger.With(
		zap.String("run_id", report.RunID),
		zap.String("trigger", string(trigger)),
		zap.Bool("dry_run", dryRun))

	if !e.profile.Known() && onlyPackageCategories(categories) {
		report.Status = StatusFailed
		report.seal(e.now())
		log.Warn("cleanup could not start, no package manager detected")
		e.observeRun(report)
		return report, errors.Newf(errors.KindProfileUnresolved, "cleanup", "no supported package manager for %v", categories)
	}

	log.Info("cleanup started", zap.Int("categories", len(categories)))

	for i, category := range categories {
		if ctx.Err() != nil {
			e.cancelRemaining(report, categories[i:])
			break
		}

		targets, err := e.scan(ctx, category)
		if err != nil {
			if ctx.Err() != nil {
				e.cancelRemaining(report, categories[i:])
				break
			}
			log.Warn("enumeration failed", zap.String("category", string(category)), zap.Error(err))
			report.add(e.record(Operation{
				Target:     Target{Category: category},
				Verdict:    safety.Verdict{Category: category, Reason: "not enumerated"},
				Outcome:    Failed,
				Error:      errors.KindOf(err),
				Detail:     err.Error(),
				StartedAt:  e.now(),
				FinishedAt: e.now(),
			}))
			continue
		}

		cancelled := false
		for j, t := range targets {
			if ctx.Err() != nil {
				for _, rest := range targets[j:] {
					report.add(e.skip(rest, e.verdict(rest), errors.KindCancelled, "run cancelled"))
				}
				e.cancelRemaining(report, categories[i+1:])
				cancelled = true
				break
			}
			report.add(e.process(ctx, t, dryRun))
		}
		if cancelled {
			break
		}
	}

	report.seal(e.now())
	log.Info("cleanup finished",
		zap.String("status", string(report.Status)),
		zap.Int("operations", len(report.Operations)),
		zap.Int("failed", report.Count(Failed)),
		zap.Int64("bytes_freed", report.TotalBytesFreed),
		zap.Duration("duration", report.FinishedAt.Sub(report.StartedAt)))
	e.observeRun(report)

	return report, nil
}

// process classifies and executes one target
func (e *Engine) process(ctx context.Context, t Target, dryRun bool) Operation {
	verdict := e.verdict(t)

	if t.Action != "" {
		if err := e.runner.Check(t.Action); err != nil {
			return e.skip(t, verdict, errors.KindOf(err), err.Error())
		}
	}
	if !verdict.Decision.Permits() {
		return e.skip(t, verdict, errors.KindPathUnsafe, verdict.Reason)
	}

	op := Operation{Target: t, Verdict: verdict, StartedAt: e.now()}
	if dryRun {
		op.Outcome = Simulated
		op.FinishedAt = e.now()
		return e.record(op)
	}

	var (
		freed = t.EstimatedBytes
		err   error
	)
	if t.Action != "" {
		_, err = e.runner.Run(ctx, t.Action, t.Packages...)
	} else {
		var gone bool
		gone, err = e.remove(t)
		if gone {
			freed = 0
			op.Detail = "already removed"
		}
	}

	op.FinishedAt = e.now()
	if err != nil {
		op.Outcome = Failed
		op.Error = errors.KindOf(err)
		op.Detail = err.Error()
		return e.record(op)
	}

	op.Outcome = Succeeded
	op.BytesFreed = freed
	return e.record(op)
}

// Repair runs the profile's dependency repair command
func (e *Engine) Repair(ctx context.Context) (Operation, error) {
	if err := e.lock.acquire("repair"); err != nil {
		return Operation{}, err
	}
	defer e.lock.release()

	t := Target{Category: safety.OrphanPackages, Action: privexec.FixBroken, RequiresPrivilege: true}
	if e.profile.Known() {
		t.Path = e.layout.system(filepath.Join("/usr/bin", e.profile.Binary))
	}
	op := e.process(ctx, t, false)
	e.logger.Info("dependency repair finished", zap.String("outcome", string(op.Outcome)), zap.String("error", string(op.Error)))
	return op, nil
}

func (e *Engine) verdict(t Target) safety.Verdict {
	if t.Path == "" {
		return safety.Verdict{Category: t.Category, Decision: safety.Denied, Reason: "no package manager detected"}
	}
	return e.classifier.Classify(t.Path, t.Category)
}

func (e *Engine) skip(t Target, v safety.Verdict, kind errors.Kind, detail string) Operation {
	now := e.now()
	return e.record(Operation{
		Target:     t,
		Verdict:    v,
		Outcome:    Skipped,
		Error:      kind,
		Detail:     detail,
		StartedAt:  now,
		FinishedAt: now,
	})
}

// cancelRemaining records one cancelled placeholder per category that was
// never enumerated.
func (e *Engine) cancelRemaining(report *Report, categories []safety.Category) {
	for _, c := range categories {
		t := Target{Category: c}
		report.add(e.skip(t, safety.Verdict{Category: c, Reason: "not enumerated"}, errors.KindCancelled, "run cancelled"))
	}
}

func (e *Engine) record(op Operation) Operation {
	e.logger.Debug("cleanup operation",
		zap.String("category", string(op.Target.Category)),
		zap.String("path", op.Target.Path),
		zap.String("action", string(op.Target.Action)),
		zap.String("decision", op.Verdict.Decision.String()),
		zap.String("outcome", string(op.Outcome)),
		zap.String("error", string(op.Error)),
		zap.Int64("bytes_freed", op.BytesFreed))
	e.metrics.ObserveOperation(string(op.Target.Category), string(op.Outcome), string(op.Error), op.BytesFreed)
	return op
}

func (e *Engine) observeRun(r *Report) {
	if r.DryRun {
		return
	}
	e.metrics.ObserveCleanupRun(string(r.TriggeredBy), string(r.Status), r.FinishedAt.Sub(r.StartedAt))
}

func onlyPackageCategories(categories []safety.Category) bool {
	for _, c := range categories {
		if !c.IsPackage() {
			return false
		}
	}
	return true
}
