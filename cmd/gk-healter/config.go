package main

import (
	"github.com/spf13/cobra"

	"github.com/GK-Developers/GK-Healter/internal/config"
	"github.com/GK-Developers/GK-Healter/internal/console"
)

func newConfigCmd(flags *rootFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Manage the configuration file",
	}
	cmd.AddCommand(newConfigInitCmd(flags))
	return cmd
}

func newConfigInitCmd(flags *rootFlags) *cobra.Command {
	var force bool

	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write the default configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			path := flags.configPath
			if path == "" {
				path = config.DefaultPath
			}
			if err := config.WriteDefault(path, force); err != nil {
				return err
			}
			console.New().Success("Wrote %s", path)
			return nil
		},
	}
	cmd.Flags().BoolVar(&force, "force", false, "Replace an existing file")
	return cmd
}
