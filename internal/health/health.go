// Package health summarises how the host is doing: resource usage, failed
// or slow systemd units, recent journal errors and the largest files.
package health

import (
	"context"
	"time"

	"github.com/shirou/gopsutil/v4/cpu"
	"github.com/shirou/gopsutil/v4/disk"
	"github.com/shirou/gopsutil/v4/mem"
	"go.uber.org/zap"

	"github.com/GK-Developers/GK-Healter/internal/errors"
)

const (
	DefaultSampleInterval = time.Second
	DefaultSlowUnits      = 5
	DefaultCriticalLimit  = 10
)

// Usage is one resource sample, in percent
type Usage struct {
	CPUPercent    float64 `json:"cpu_percent"`
	MemoryPercent float64 `json:"memory_percent"`
	DiskPercent   float64 `json:"disk_percent"`
}

// Sampler reads current resource usage
type Sampler interface {
	Sample(ctx context.Context) (Usage, error)
}

// Querier runs read-only commands
type Querier interface {
	Query(ctx context.Context, argv ...string) ([]byte, error)
}

// SystemSampler samples the running host with gopsutil. CPU usage is
// measured over Interval.
type SystemSampler struct {
	Path     string
	Interval time.Duration
}

func (s SystemSampler) Sample(ctx context.Context) (Usage, error) {
	interval := s.Interval
	if interval <= 0 {
		interval = DefaultSampleInterval
	}
	path := s.Path
	if path == "" {
		path = "/"
	}

	var u Usage
	cpus, err := cpu.PercentWithContext(ctx, interval, false)
	if err != nil {
		return u, errors.New(errors.KindExecutionFailed, "cpu usage", err)
	}
	if len(cpus) > 0 {
		u.CPUPercent = cpus[0]
	}
	vm, err := mem.VirtualMemoryWithContext(ctx)
	if err != nil {
		return u, errors.New(errors.KindExecutionFailed, "memory usage", err)
	}
	u.MemoryPercent = vm.UsedPercent
	du, err := disk.UsageWithContext(ctx, path)
	if err != nil {
		return u, errors.New(errors.KindExecutionFailed, "disk usage", err)
	}
	u.DiskPercent = du.UsedPercent
	return u, nil
}

// Score starts at 100 and deducts 10 or 20 points per resource under
// pressure.
func Score(u Usage) int {
	penalty := 0
	penalty += pressure(u.CPUPercent, 70, 90)
	penalty += pressure(u.MemoryPercent, 80, 90)
	penalty += pressure(u.DiskPercent, 80, 90)
	if penalty > 100 {
		return 0
	}
	return 100 - penalty
}

func pressure(percent, high, critical float64) int {
	switch {
	case percent > critical:
		return 20
	case percent > high:
		return 10
	}
	return 0
}

// Rating names a score band
func Rating(score int) string {
	switch {
	case score >= 90:
		return "excellent"
	case score >= 70:
		return "good"
	case score >= 50:
		return "fair"
	}
	return "critical"
}

// UnitTime is how long one unit took to start
type UnitTime struct {
	Unit string `json:"unit"`
	Time string `json:"time"`
}

// Report is one health snapshot. Problems lists the sections that could
// not be read, the rest of the report is still valid.
type Report struct {
	Usage           Usage      `json:"usage"`
	Score           int        `json:"score"`
	Rating          string     `json:"rating"`
	SystemState     string     `json:"system_state,omitempty"`
	FailedUnits     []string   `json:"failed_units"`
	SlowUnits       []UnitTime `json:"slow_units"`
	JournalErrors   int        `json:"journal_errors_24h"`
	CriticalEntries []string   `json:"critical_entries"`
	LargeFiles      []File     `json:"large_files,omitempty"`
	Problems        []string   `json:"problems,omitempty"`
	GeneratedAt     time.Time  `json:"generated_at"`
}

// Options configure an Analyzer
type Options struct {
	Sampler Sampler
	Querier Querier
	// LargeFilesIn is scanned for files of at least LargeFileMin bytes.
	// Empty skips the scan.
	LargeFilesIn   string
	LargeFileMin   int64
	LargeFileLimit int
	SlowUnits      int
	CriticalLimit  int
	Logger         *zap.Logger
	Now            func() time.Time
}

// Analyzer builds health reports
type Analyzer struct {
	opts Options
}

func NewAnalyzer(opts Options) *Analyzer {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.SlowUnits <= 0 {
		opts.SlowUnits = DefaultSlowUnits
	}
	if opts.CriticalLimit <= 0 {
		opts.CriticalLimit = DefaultCriticalLimit
	}
	if opts.LargeFileMin <= 0 {
		opts.LargeFileMin = DefaultLargeFileMin
	}
	if opts.LargeFileLimit <= 0 {
		opts.LargeFileLimit = DefaultLargeFileLimit
	}
	return &Analyzer{opts: opts}
}

// Report gathers every section. A failing section is noted in Problems.
func (a *Analyzer) Report(ctx context.Context) *Report {
	r := &Report{GeneratedAt: a.opts.Now(), FailedUnits: []string{}, SlowUnits: []UnitTime{}, CriticalEntries: []string{}}
	note := func(section string, err error) {
		a.opts.Logger.Warn("health section unavailable", zap.String("section", section), zap.Error(err))
		r.Problems = append(r.Problems, section+": "+err.Error())
	}

	if a.opts.Sampler != nil {
		if u, err := a.opts.Sampler.Sample(ctx); err != nil {
			note("usage", err)
		} else {
			r.Usage = u
		}
	}
	r.Score = Score(r.Usage)
	r.Rating = Rating(r.Score)

	if a.opts.Querier == nil {
		note("systemd", errors.Newf(errors.KindToolUnavailable, "health", "no command runner"))
	} else {
		r.SystemState = a.systemState(ctx)
		if units, err := a.failedUnits(ctx); err != nil {
			note("failed units", err)
		} else {
			r.FailedUnits = units
		}
		if units, err := a.slowUnits(ctx); err != nil {
			note("slow units", err)
		} else {
			r.SlowUnits = units
		}
		if n, err := a.journalErrors(ctx); err != nil {
			note("journal errors", err)
		} else {
			r.JournalErrors = n
		}
		if entries, err := a.criticalEntries(ctx); err != nil {
			note("critical entries", err)
		} else {
			r.CriticalEntries = entries
		}
	}

	if a.opts.LargeFilesIn != "" {
		files, err := LargeFiles(ctx, a.opts.LargeFilesIn, a.opts.LargeFileMin, a.opts.LargeFileLimit)
		if err != nil {
			note("large files", err)
		}
		r.LargeFiles = files
	}
	return r
}
