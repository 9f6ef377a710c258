package main

import (
	"encoding/json"
	"os"
	"strings"

	"github.com/spf13/cobra"
)

func newProfileCmd(flags *rootFlags) *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "profile",
		Short: "Show the detected distribution profile",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(flags)
			if err != nil {
				return err
			}
			defer a.close()

			p := a.profile
			if asJSON {
				enc := json.NewEncoder(os.Stdout)
				enc.SetIndent("", "  ")
				return enc.Encode(p)
			}

			a.con.Step("Distribution profile")
			if !p.Known() {
				a.con.Warning("Unsupported distribution %q, package operations are unavailable", p.Name)
				return nil
			}
			a.con.Info("Family:     %s", p.Family)
			a.con.Info("Name:       %s", p.Name)
			a.con.Info("Package:    %s", p.Binary)
			a.con.Info("Cache dir:  %s", p.CacheDir)
			for _, line := range []struct {
				label string
				argv  []string
			}{
				{"Cache clean", p.CacheClean},
				{"Autoremove", p.Autoremove},
				{"Fix broken", p.FixBroken},
				{"Orphans", p.DependencyQuery},
			} {
				if len(line.argv) == 0 {
					a.con.Info("%-11s (none)", line.label+":")
					continue
				}
				a.con.Info("%-11s %s", line.label+":", strings.Join(line.argv, " "))
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print the profile as JSON")
	return cmd
}
