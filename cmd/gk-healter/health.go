package main

import (
	"encoding/json"
	"os"

	"github.com/spf13/cobra"

	"github.com/GK-Developers/GK-Healter/internal/console"
	"github.com/GK-Developers/GK-Healter/internal/health"
)

func newHealthCmd(flags *rootFlags) *cobra.Command {
	var (
		asJSON  bool
		scanDir string
		minMiB  int64
	)

	cmd := &cobra.Command{
		Use:   "health",
		Short: "Show resource usage, failed units and recent journal errors",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(flags)
			if err != nil {
				return err
			}
			defer a.close()

			if !cmd.Flags().Changed("large-files-in") {
				scanDir = a.cfg.Home
			}
			report := a.newHealthAnalyzer(scanDir, minMiB<<20).Report(cmd.Context())

			if asJSON {
				enc := json.NewEncoder(os.Stdout)
				enc.SetIndent("", "  ")
				return enc.Encode(report)
			}
			printHealthReport(a.con, report)
			return nil
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print the report as JSON")
	cmd.Flags().StringVar(&scanDir, "large-files-in", "", "Directory to search for large files (default home, empty to skip)")
	cmd.Flags().Int64Var(&minMiB, "min-size", health.DefaultLargeFileMin>>20, "Smallest file to list, in MiB")
	return cmd
}

func printHealthReport(con *console.Console, r *health.Report) {
	con.Step("System health")

	line := con.Success
	switch {
	case r.Score < 50:
		line = con.Error
	case r.Score < 70:
		line = con.Warning
	}
	line("Score: %d/100 (%s)", r.Score, r.Rating)
	con.Info("CPU %.1f%%, memory %.1f%%, disk %.1f%%", r.Usage.CPUPercent, r.Usage.MemoryPercent, r.Usage.DiskPercent)
	if r.SystemState != "" {
		con.Info("systemd state: %s", r.SystemState)
	}

	if len(r.FailedUnits) == 0 {
		con.Success("No failed units")
	}
	for _, unit := range r.FailedUnits {
		con.Error("Failed unit: %s", unit)
	}
	for _, unit := range r.SlowUnits {
		con.Info("Slow start: %s (%s)", unit.Unit, unit.Time)
	}

	if r.JournalErrors > 0 {
		con.Warning("%d journal errors in the last 24h", r.JournalErrors)
	}
	for _, entry := range r.CriticalEntries {
		con.Error("%s", entry)
	}
	for _, f := range r.LargeFiles {
		con.Info("%10s  %s", console.FormatBytes(f.Size), f.Path)
	}
	for _, problem := range r.Problems {
		con.Warning("unavailable: %s", problem)
	}
}
