package main

import (
	"fmt"
	"os"

	"go.uber.org/zap"

	"github.com/GK-Developers/GK-Healter/internal/audit"
	"github.com/GK-Developers/GK-Healter/internal/cleanup"
	"github.com/GK-Developers/GK-Healter/internal/config"
	"github.com/GK-Developers/GK-Healter/internal/console"
	"github.com/GK-Developers/GK-Healter/internal/distro"
	"github.com/GK-Developers/GK-Healter/internal/health"
	"github.com/GK-Developers/GK-Healter/internal/history"
	"github.com/GK-Developers/GK-Healter/internal/logger"
	"github.com/GK-Developers/GK-Healter/internal/metrics"
	"github.com/GK-Developers/GK-Healter/internal/privexec"
	"github.com/GK-Developers/GK-Healter/internal/safety"
)

// app holds what every command builds from the configuration
type app struct {
	cfg     *config.Config
	log     *zap.Logger
	con     *console.Console
	profile distro.Profile
	runner  *privexec.Runner
	metrics metrics.Collector
}

func newApp(flags *rootFlags) (*app, error) {
	path := flags.configPath
	if path == "" {
		path = config.DefaultPath
	}
	cfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	con := console.New()
	var stream *os.File
	if flags.verbose {
		stream = os.Stderr
	}
	log, err := newLogger(cfg.Log, stream)
	if err != nil {
		// Unprivileged users usually cannot write the system log directory
		con.Warning("file logging disabled: %v", err)
		fallback := cfg.Log
		fallback.Dir = ""
		if log, err = newLogger(fallback, stream); err != nil {
			return nil, err
		}
	}

	detector := distro.NewDetector()
	detector.Root = cfg.Root
	profile := detector.Detect()
	log.Info("distribution profile resolved",
		zap.String("family", string(profile.Family)),
		zap.String("name", profile.Name))

	a := &app{cfg: cfg, log: log, con: con, profile: profile, metrics: metrics.Nop{}}
	a.runner = a.newRunner()
	return a, nil
}

func newLogger(cfg logger.Config, stream *os.File) (*zap.Logger, error) {
	if stream == nil {
		return logger.New(cfg, nil)
	}
	return logger.New(cfg, stream)
}

func (a *app) newRunner() *privexec.Runner {
	policy, err := privexec.LoadPolicy(a.cfg.Exec.PolicyFile)
	if err != nil && os.Geteuid() != 0 {
		a.log.Warn("polkit policy unavailable, privileged actions are disabled", zap.Error(err))
	}
	return privexec.NewRunner(privexec.Options{
		Catalog:      privexec.NewCatalog(a.profile),
		Executor:     privexec.OSExecutor{},
		Timeout:      a.cfg.Exec.Timeout,
		Escalator:    a.cfg.Exec.Escalator,
		Policy:       policy,
		PolicyPrefix: a.cfg.Exec.PolicyPrefix,
		Logger:       a.log.Named("privexec"),
	})
}

func (a *app) newCleanupEngine() (*cleanup.Engine, error) {
	classifier, err := safety.NewClassifier(safety.Options{Root: a.cfg.Root, Home: a.cfg.Home})
	if err != nil {
		return nil, fmt.Errorf("safety rules: %w", err)
	}
	return cleanup.NewEngine(cleanup.Options{
		Classifier: classifier,
		Profile:    a.profile,
		Runner:     a.runner,
		Layout: cleanup.Layout{
			Root:         a.cfg.Root,
			Home:         a.cfg.Home,
			UID:          os.Getuid(),
			TempMaxAge:   a.cfg.Cleanup.TempMaxAge,
			AppCacheDirs: a.cfg.Cleanup.AppCacheDirs,
		},
		Logger:   a.log.Named("cleanup"),
		Metrics:  a.metrics,
		LockPath: a.cfg.Cleanup.LockPath,
	})
}

func (a *app) newAuditEngine() (*audit.Engine, error) {
	checks := audit.DefaultChecks(audit.Config{
		Root:          a.cfg.Root,
		Family:        a.profile.Family,
		SuidAllowlist: a.cfg.Audit.SuidAllowlist,
		MaxFindings:   a.cfg.Audit.MaxFindings,
		LoginWindow:   a.cfg.Audit.LoginWindow,
		Querier:       a.runner,
	})
	return audit.NewEngine(audit.Options{
		Checks:  checks,
		Policy:  a.cfg.ScorePolicy(),
		Logger:  a.log.Named("audit"),
		Metrics: a.metrics,
	})
}

// newHealthAnalyzer scans dir for large files unless dir is empty
func (a *app) newHealthAnalyzer(dir string, minSize int64) *health.Analyzer {
	return health.NewAnalyzer(health.Options{
		Sampler:      health.SystemSampler{Path: a.cfg.Root},
		Querier:      a.runner,
		LargeFilesIn: dir,
		LargeFileMin: minSize,
		Logger:       a.log.Named("health"),
	})
}

// openHistory returns nil when history is disabled or unavailable
func (a *app) openHistory() *history.Store {
	if a.cfg.History.Path == "" {
		return nil
	}
	store, err := history.Open(a.cfg.History.Path, a.log.Named("history"))
	if err != nil {
		a.log.Warn("history unavailable", zap.Error(err))
		return nil
	}
	return store
}

func (a *app) close() {
	_ = a.log.Sync()
}
