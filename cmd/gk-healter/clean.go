package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/GK-Developers/GK-Healter/internal/cleanup"
	"github.com/GK-Developers/GK-Healter/internal/console"
	"github.com/GK-Developers/GK-Healter/internal/safety"
)

func newCleanCmd(flags *rootFlags) *cobra.Command {
	var (
		dryRun     bool
		yes        bool
		categories []string
	)

	cmd := &cobra.Command{
		Use:   "clean",
		Short: "Reclaim disk space",
		Long: `Clean the selected categories. Without --category every category except
orphan-packages is cleaned.

Categories: package-cache, orphan-packages, system-logs, journal-vacuum,
coredumps, app-cache, thumbnails, temp-files`,
		RunE: func(cmd *cobra.Command, args []string) error {
			selected, err := parseCategories(categories)
			if err != nil {
				return err
			}

			a, err := newApp(flags)
			if err != nil {
				return err
			}
			defer a.close()

			engine, err := a.newCleanupEngine()
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			preview, err := engine.DryRun(ctx, selected)
			if err != nil {
				return err
			}
			if dryRun {
				printCleanupReport(a.con, preview)
				return nil
			}

			if !yes {
				if !a.con.Interactive {
					return fmt.Errorf("not a terminal, pass --yes to clean without confirmation")
				}
				printCleanupReport(a.con, preview)
				if !a.con.Confirm(fmt.Sprintf("Clean about %s?", console.FormatBytes(preview.EstimatedBytes))) {
					a.con.Info("Cleanup cancelled")
					return nil
				}
			}

			report, err := engine.Run(ctx, selected, cleanup.Manual)
			if report != nil {
				printCleanupReport(a.con, report)
				saveCleanup(a, report)
			}
			if err != nil {
				return err
			}
			return report.Err()
		},
	}

	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "Show what would be cleaned without changing anything")
	cmd.Flags().BoolVarP(&yes, "yes", "y", false, "Do not ask for confirmation")
	cmd.Flags().StringSliceVar(&categories, "category", nil, "Category to clean (repeatable)")
	return cmd
}

func parseCategories(names []string) ([]safety.Category, error) {
	if len(names) == 0 {
		var all []safety.Category
		for _, c := range safety.Categories() {
			if c != safety.OrphanPackages {
				all = append(all, c)
			}
		}
		return all, nil
	}
	out := make([]safety.Category, 0, len(names))
	for _, n := range names {
		c, err := safety.ParseCategory(n)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, nil
}

func saveCleanup(a *app, report *cleanup.Report) {
	store := a.openHistory()
	if store == nil {
		return
	}
	defer store.Close()
	if err := store.SaveCleanupReport(context.Background(), report); err != nil {
		a.log.Warn("failed to record cleanup", zap.Error(err))
	}
}

func printCleanupReport(con *console.Console, r *cleanup.Report) {
	title := "Cleanup"
	if r.DryRun {
		title = "Cleanup preview"
	}
	con.Step("%s (%s)", title, r.RunID)

	if len(r.Operations) == 0 {
		con.Info("Nothing to clean")
		return
	}
	for _, op := range r.Operations {
		subject := op.Target.Path
		if subject == "" {
			subject = string(op.Target.Action)
		}
		switch op.Outcome {
		case cleanup.Succeeded:
			con.Success("%-15s %s (%s)", op.Target.Category, subject, console.FormatBytes(op.BytesFreed))
		case cleanup.Simulated:
			con.Info("%-15s %s (~%s)", op.Target.Category, subject, console.FormatBytes(op.Target.EstimatedBytes))
		case cleanup.Skipped:
			con.Warning("%-15s %s skipped: %s", op.Target.Category, subject, op.Error)
		default:
			con.Error("%-15s %s failed: %s %s", op.Target.Category, subject, op.Error, op.Detail)
		}
	}

	if r.DryRun {
		con.Info("Estimated: %s", console.FormatBytes(r.EstimatedBytes))
		return
	}
	switch r.Status {
	case cleanup.StatusSucceeded:
		con.Success("Freed %s", console.FormatBytes(r.TotalBytesFreed))
	case cleanup.StatusPartiallyFailed:
		con.Warning("Freed %s, %d operation(s) failed", console.FormatBytes(r.TotalBytesFreed), r.Count(cleanup.Failed))
	default:
		con.Error("Cleanup failed: %s", r.Status)
	}
}
