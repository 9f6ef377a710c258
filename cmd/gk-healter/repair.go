package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/GK-Developers/GK-Healter/internal/cleanup"
)

func newRepairCmd(flags *rootFlags) *cobra.Command {
	var yes bool

	cmd := &cobra.Command{
		Use:   "repair",
		Short: "Repair broken package dependencies",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(flags)
			if err != nil {
				return err
			}
			defer a.close()

			if !yes {
				if !a.con.Interactive {
					return fmt.Errorf("not a terminal, pass --yes to repair without confirmation")
				}
				if !a.con.Confirm(fmt.Sprintf("Run the %s dependency repair?", a.profile.Name)) {
					a.con.Info("Repair cancelled")
					return nil
				}
			}

			engine, err := a.newCleanupEngine()
			if err != nil {
				return err
			}
			op, err := engine.Repair(cmd.Context())
			if err != nil {
				return err
			}

			switch op.Outcome {
			case cleanup.Succeeded:
				a.con.Success("Dependencies repaired")
				return nil
			case cleanup.Skipped:
				a.con.Warning("Repair skipped: %s", op.Error)
			default:
				a.con.Error("Repair failed: %s %s", op.Error, op.Detail)
			}
			return fmt.Errorf("repair did not complete: %s", op.Error)
		},
	}
	cmd.Flags().BoolVarP(&yes, "yes", "y", false, "Do not ask for confirmation")
	return cmd
}
