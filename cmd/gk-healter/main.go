package main

import (
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/GK-Developers/GK-Healter/internal/console"
)

// Set at build time with -ldflags
var (
	version   = "dev"
	buildTime = "unknown"
)

type rootFlags struct {
	configPath string
	verbose    bool
}

func main() {
	// A missing .env is normal
	_ = godotenv.Load()

	if err := newRootCmd().Execute(); err != nil {
		console.New().Error("%v", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	flags := &rootFlags{}

	rootCmd := &cobra.Command{
		Use:   "gk-healter",
		Short: "Linux host maintenance: safe cleanup, security audit, unattended scheduling",
		Long: `GK-Healter

Reclaims disk space from package caches, logs, core dumps, caches and temp
files, audits the host's security posture, and runs conservative cleanups
unattended when the machine is idle.

Every path is checked against a fixed safety rule table before it is touched.
Privileged actions go through pkexec and the installed polkit policy.`,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.PersistentFlags().StringVarP(&flags.configPath, "config", "c", "", "Config file (default /etc/gk-healter/config.yaml)")
	rootCmd.PersistentFlags().BoolVarP(&flags.verbose, "verbose", "v", false, "Also log to the terminal")

	rootCmd.AddCommand(
		newCleanCmd(flags),
		newAuditCmd(flags),
		newHealthCmd(flags),
		newRepairCmd(flags),
		newDaemonCmd(flags),
		newProfileCmd(flags),
		newPolicyCmd(flags),
		newConfigCmd(flags),
	)
	return rootCmd
}
