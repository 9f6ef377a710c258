package main

import (
	"context"
	stderrors "errors"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/GK-Developers/GK-Healter/internal/cleanup"
	"github.com/GK-Developers/GK-Healter/internal/history"
	"github.com/GK-Developers/GK-Healter/internal/metrics"
	"github.com/GK-Developers/GK-Healter/internal/scheduler"
	"github.com/GK-Developers/GK-Healter/internal/server"
	"github.com/GK-Developers/GK-Healter/internal/sysinfo"
)

const shutdownTimeout = 10 * time.Second

func newDaemonCmd(flags *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "daemon",
		Short: "Run the maintenance scheduler and the HTTP status surface",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(flags)
			if err != nil {
				return err
			}
			defer a.close()
			return runDaemon(cmd.Context(), a)
		},
	}
}

func runDaemon(ctx context.Context, a *app) error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	prom := metrics.NewPrometheus(a.log, scheduler.StateNames())
	a.metrics = prom

	engine, err := a.newCleanupEngine()
	if err != nil {
		return err
	}

	opts := server.Options{
		Version:   version,
		BuildTime: buildTime,
		Profile:   a.profile,
		Cleanup:   engine,
		Health:    a.newHealthAnalyzer("", 0),
		Gatherer:  prom.Registry(),
		Metrics:   prom,
		Logger:    a.log.Named("http"),
	}

	store := a.openHistory()
	if store != nil {
		defer store.Close()
		opts.History = store
	}

	var wg sync.WaitGroup
	errc := make(chan error, 2)

	if a.cfg.Schedule.Enabled {
		schedOpts := scheduler.Options{
			Policy:       a.cfg.Schedule.Policy,
			Cleaner:      engine,
			Idle:         sysinfo.NewIdle(a.runner),
			Power:        &sysinfo.Power{Root: a.cfg.Root},
			Disk:         sysinfo.NewDisk(a.cfg.Root),
			PollInterval: a.cfg.Schedule.PollInterval,
			Logger:       a.log.Named("scheduler"),
			Metrics:      prom,
		}
		if store != nil {
			schedOpts.Sink = store
			last, err := store.LastRun(ctx, cleanup.Scheduled)
			switch {
			case err == nil:
				schedOpts.LastRunAt = last
			case !stderrors.Is(err, history.ErrNoRecords):
				a.log.Warn("last unattended run unknown", zap.Error(err))
			}
		}
		sched, err := scheduler.New(schedOpts)
		if err != nil {
			return err
		}
		opts.Scheduler = sched

		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := sched.Run(ctx); err != nil {
				errc <- err
			}
		}()
	} else {
		a.log.Info("autonomous maintenance is disabled")
	}

	if a.cfg.HTTP.Listen != "" {
		httpApp := server.New(opts)
		go func() {
			a.log.Info("http surface listening", zap.String("addr", a.cfg.HTTP.Listen))
			if err := httpApp.Listen(a.cfg.HTTP.Listen); err != nil {
				errc <- err
			}
		}()
		defer func() {
			if err := httpApp.ShutdownWithTimeout(shutdownTimeout); err != nil {
				a.log.Warn("http shutdown", zap.Error(err))
			}
		}()
	}

	a.con.Info("gk-healter daemon started (%s)", a.profile.Name)

	select {
	case <-ctx.Done():
		a.log.Info("shutting down")
	case err = <-errc:
		a.log.Error("daemon stopped", zap.Error(err))
		stop()
	}
	wg.Wait()
	return err
}
