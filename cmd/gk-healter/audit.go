package main

import (
	"context"
	"encoding/json"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/GK-Developers/GK-Healter/internal/audit"
	"github.com/GK-Developers/GK-Healter/internal/console"
)

func newAuditCmd(flags *rootFlags) *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "audit",
		Short: "Audit the host's security posture",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(flags)
			if err != nil {
				return err
			}
			defer a.close()

			engine, err := a.newAuditEngine()
			if err != nil {
				return err
			}
			report, err := engine.Audit(cmd.Context())
			if err != nil {
				return err
			}

			if store := a.openHistory(); store != nil {
				if _, err := store.SaveAuditReport(context.Background(), report); err != nil {
					a.log.Warn("failed to record audit", zap.Error(err))
				}
				store.Close()
			}

			if asJSON {
				enc := json.NewEncoder(os.Stdout)
				enc.SetIndent("", "  ")
				return enc.Encode(report)
			}
			printAuditReport(a.con, report)
			return nil
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print the report as JSON")
	return cmd
}

func printAuditReport(con *console.Console, r *audit.Report) {
	con.Step("Security audit")
	if len(r.Findings) == 0 {
		con.Success("No findings")
	}
	for _, f := range r.Findings {
		switch f.Severity {
		case audit.Critical, audit.High:
			con.Error("[%s] %s %s: %s", f.Severity, f.CheckID, f.Subject, f.Detail)
		case audit.Warning:
			con.Warning("[%s] %s %s: %s", f.Severity, f.CheckID, f.Subject, f.Detail)
		default:
			con.Info("[%s] %s %s: %s", f.Severity, f.CheckID, f.Subject, f.Detail)
		}
	}

	line := con.Success
	switch {
	case r.TrustScore < 50:
		line = con.Error
	case r.TrustScore < 80:
		line = con.Warning
	}
	line("Trust score: %d/%d", r.TrustScore, audit.MaxTrustScore)
}
