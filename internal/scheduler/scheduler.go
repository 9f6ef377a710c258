// Package scheduler starts unattended cleanup runs when the host is idle,
// on suitable power and short of disk space.
package scheduler

import (
	"context"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/GK-Developers/GK-Healter/internal/cleanup"
	"github.com/GK-Developers/GK-Healter/internal/errors"
	"github.com/GK-Developers/GK-Healter/internal/metrics"
	"github.com/GK-Developers/GK-Healter/internal/safety"
)

// DefaultPollInterval is the time between two evaluations
const DefaultPollInterval = time.Minute

// State of the scheduler within one attempt
type State string

const (
	Idle       State = "idle"
	Evaluating State = "evaluating"
	Triggered  State = "triggered"
	Running    State = "running"
	Cooldown   State = "cooldown"
)

// StateNames lists every state in cycle order
func StateNames() []string {
	return []string{string(Idle), string(Evaluating), string(Triggered), string(Running), string(Cooldown)}
}

type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }

type IdleSource interface {
	IdleTime(ctx context.Context) (time.Duration, error)
}

type PowerSource interface {
	OnACPower(ctx context.Context) (bool, error)
}

type DiskSource interface {
	FreePercent(ctx context.Context) (float64, error)
}

// Cleaner is the cleanup engine as seen by the scheduler
type Cleaner interface {
	Run(ctx context.Context, categories []safety.Category, trigger cleanup.Trigger) (*cleanup.Report, error)
	Active() bool
}

// Sink receives every sealed report of an unattended run
type Sink interface {
	SaveCleanupReport(ctx context.Context, r *cleanup.Report) error
}

// Options configure a Scheduler
type Options struct {
	Policy       Policy
	Cleaner      Cleaner
	Idle         IdleSource
	Power        PowerSource
	Disk         DiskSource
	Clock        Clock
	PollInterval time.Duration
	Sink         Sink
	Logger       *zap.Logger
	Metrics      metrics.Collector
	// LastRunAt is when the previous unattended run finished, usually
	// read back from history. Zero means none is known.
	LastRunAt time.Time
}

// Status is a snapshot for reporting
type Status struct {
	State         State     `json:"state"`
	CooldownUntil time.Time `json:"cooldown_until,omitempty"`
	LastRunAt     time.Time `json:"last_run_at,omitempty"`
	LastRunID     string    `json:"last_run_id,omitempty"`
	LastReason    string    `json:"last_reason,omitempty"`
}

// Scheduler is the state machine idle → evaluating → triggered → running →
// cooldown → idle. Only one tick is processed at a time.
type Scheduler struct {
	policy   Policy
	guard    *guard
	cleaner  Cleaner
	idle     IdleSource
	power    PowerSource
	disk     DiskSource
	clock    Clock
	interval time.Duration
	sink     Sink
	logger   *zap.Logger
	metrics  metrics.Collector
	started  time.Time

	tick sync.Mutex

	mu     sync.RWMutex
	status Status
}

// New validates the policy and compiles its guard
func New(opts Options) (*Scheduler, error) {
	if err := opts.Policy.Validate(); err != nil {
		return nil, errors.New(errors.KindInvalidConfig, "scheduler policy", err)
	}
	if opts.Cleaner == nil || opts.Idle == nil || opts.Power == nil || opts.Disk == nil {
		return nil, errors.Newf(errors.KindInvalidConfig, "scheduler", "cleaner and signal sources are required")
	}

	s := &Scheduler{
		policy:   opts.Policy,
		cleaner:  opts.Cleaner,
		idle:     opts.Idle,
		power:    opts.Power,
		disk:     opts.Disk,
		clock:    opts.Clock,
		interval: opts.PollInterval,
		sink:     opts.Sink,
		logger:   opts.Logger,
		metrics:  opts.Metrics,
		status:   Status{State: Idle, LastRunAt: opts.LastRunAt},
	}
	s.policy.AllowedCategories = safety.Normalize(opts.Policy.AllowedCategories)
	if opts.Policy.Guard != "" {
		g, err := compileGuard(opts.Policy.Guard)
		if err != nil {
			return nil, errors.New(errors.KindInvalidConfig, "scheduler guard", err)
		}
		s.guard = g
	}
	if s.clock == nil {
		s.clock = systemClock{}
	}
	s.started = s.clock.Now()
	if s.interval <= 0 {
		s.interval = DefaultPollInterval
	}
	if s.logger == nil {
		s.logger = zap.NewNop()
	}
	if s.metrics == nil {
		s.metrics = metrics.Nop{}
	}
	s.metrics.SetSchedulerState(string(Idle))
	return s, nil
}

// Status returns the current state and the last run
func (s *Scheduler) Status() Status {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.status
}

// State returns the current state
func (s *Scheduler) State() State {
	return s.Status().State
}

func (s *Scheduler) setState(st State) {
	s.mu.Lock()
	s.status.State = st
	s.mu.Unlock()
	s.metrics.SetSchedulerState(string(st))
}

// Tick runs one poll. It returns the state the scheduler rests in
// afterwards: Idle, or Cooldown after a run. A tick arriving while another
// is in progress returns the current state without doing anything.
func (s *Scheduler) Tick(ctx context.Context) State {
	if !s.tick.TryLock() {
		return s.State()
	}
	defer s.tick.Unlock()

	now := s.clock.Now()
	if st := s.Status(); st.State == Cooldown {
		if now.Before(st.CooldownUntil) {
			return Cooldown
		}
		s.setState(Idle)
	}

	s.setState(Evaluating)
	signals, reason := s.evaluate(ctx, now)
	s.mu.Lock()
	s.status.LastReason = reason
	s.mu.Unlock()
	if reason != "" {
		s.logger.Debug("maintenance conditions not met", zap.String("reason", reason))
		s.setState(Idle)
		return Idle
	}

	s.setState(Triggered)
	s.logger.Info("unattended maintenance triggered",
		zap.Duration("idle", signals.Idle),
		zap.Float64("disk_free_percent", signals.DiskFreePercent),
		zap.Bool("on_ac_power", signals.OnACPower),
		zap.Any("categories", s.policy.AllowedCategories))

	s.setState(Running)
	categories := append([]safety.Category(nil), s.policy.AllowedCategories...)
	report, err := s.cleaner.Run(ctx, categories, cleanup.Scheduled)
	if errors.Is(err, errors.KindRunActive) {
		s.logger.Info("cleanup already running, unattended run skipped")
		s.setState(Idle)
		return Idle
	}

	finished := s.clock.Now()
	s.mu.Lock()
	s.status.LastRunAt = finished
	s.status.CooldownUntil = finished.Add(s.policy.Cooldown)
	if report != nil {
		s.status.LastRunID = report.RunID
	}
	s.mu.Unlock()

	if err != nil && report == nil {
		s.logger.Error("unattended cleanup did not start", zap.Error(err))
	}
	if report != nil {
		s.logger.Info("unattended cleanup finished",
			zap.String("run_id", report.RunID),
			zap.String("status", string(report.Status)),
			zap.Int64("bytes_freed", report.TotalBytesFreed))
		if s.sink != nil {
			if err := s.sink.SaveCleanupReport(ctx, report); err != nil {
				s.logger.Warn("failed to record unattended run", zap.Error(err))
			}
		}
	}

	s.setState(Cooldown)
	return Cooldown
}

// evaluate returns the sampled signals and, when a condition fails, why
func (s *Scheduler) evaluate(ctx context.Context, now time.Time) (Signals, string) {
	signals := Signals{At: now}

	if s.cleaner.Active() {
		return signals, "cleanup already running"
	}

	idle, err := s.idle.IdleTime(ctx)
	if err != nil {
		return signals, "idle time unavailable: " + err.Error()
	}
	signals.Idle = idle
	if idle < s.policy.IdleThreshold {
		return signals, "user not idle long enough"
	}

	if s.policy.RequireACPower || s.guard != nil {
		ac, err := s.power.OnACPower(ctx)
		if err != nil {
			return signals, "power source unavailable: " + err.Error()
		}
		signals.OnACPower = ac
		if s.policy.RequireACPower && !ac {
			return signals, "running on battery"
		}
	}

	if !s.policy.IdleOnly || s.guard != nil {
		free, err := s.disk.FreePercent(ctx)
		if err != nil {
			return signals, "disk usage unavailable: " + err.Error()
		}
		signals.DiskFreePercent = free
		if !s.policy.IdleOnly && !s.due(now) && free > s.policy.DiskFreeThresholdPercent {
			return signals, "enough free disk space"
		}
	}

	if s.guard != nil {
		ok, err := s.guard.allows(signals)
		if err != nil {
			return signals, "guard failed: " + err.Error()
		}
		if !ok {
			return signals, "guard expression is false"
		}
	}
	return signals, ""
}

// due reports whether the periodic interval has elapsed since the last
// run. With no known run the interval counts from scheduler start, so a
// restart never makes a run due by itself.
func (s *Scheduler) due(now time.Time) bool {
	if s.policy.Interval <= 0 {
		return false
	}
	last := s.Status().LastRunAt
	if last.IsZero() {
		last = s.started
	}
	return now.Sub(last) >= s.policy.Interval
}

// Run ticks every poll interval until ctx is done
func (s *Scheduler) Run(ctx context.Context) error {
	logger := cron.PrintfLogger(zap.NewStdLog(s.logger.Named("cron")))
	c := cron.New(
		cron.WithLogger(logger),
		cron.WithChain(cron.SkipIfStillRunning(logger), cron.Recover(logger)),
	)
	c.Schedule(cron.Every(s.interval), cron.FuncJob(func() {
		s.Tick(ctx)
	}))

	s.logger.Info("maintenance scheduler started", zap.Duration("poll_interval", s.interval))
	c.Start()
	<-ctx.Done()
	<-c.Stop().Done()
	s.logger.Info("maintenance scheduler stopped")
	return nil
}
