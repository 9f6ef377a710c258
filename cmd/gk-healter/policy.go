package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/GK-Developers/GK-Healter/internal/distro"
	"github.com/GK-Developers/GK-Healter/internal/privexec"
)

func newPolicyCmd(flags *rootFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "policy",
		Short: "Inspect the polkit policy for privileged actions",
	}
	cmd.AddCommand(newPolicyCheckCmd(flags), newPolicyPrintCmd(flags))
	return cmd
}

func newPolicyCheckCmd(flags *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "check",
		Short: "Verify the installed policy declares every action",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(flags)
			if err != nil {
				return err
			}
			defer a.close()

			policy, err := privexec.LoadPolicy(a.cfg.Exec.PolicyFile)
			if err != nil {
				a.con.Error("Cannot read %s: %v", a.cfg.Exec.PolicyFile, err)
				return err
			}
			bound := map[string]bool{}
			for _, program := range policy.ExecPaths(a.cfg.Exec.PolicyPrefix) {
				bound[program] = true
			}
			catalog := a.runner.Catalog()
			for _, action := range privexec.Actions() {
				if program, ok := catalog.Program(action); ok && !bound[program] {
					a.con.Warning("No action binds %s (%s), pkexec falls back to its generic authorization", program, action)
				}
			}

			missing := policy.Missing(a.cfg.Exec.PolicyPrefix)
			if len(missing) == 0 {
				a.con.Success("%s declares all %d actions", a.cfg.Exec.PolicyFile, len(privexec.Actions()))
				return nil
			}
			for _, action := range missing {
				a.con.Warning("Missing action %s%s", a.cfg.Exec.PolicyPrefix, action)
			}
			return fmt.Errorf("policy is missing %d action(s)", len(missing))
		},
	}
}

func newPolicyPrintCmd(flags *rootFlags) *cobra.Command {
	var prefix string

	cmd := &cobra.Command{
		Use:   "print",
		Short: "Print a policy file declaring every action for this host's package manager",
		RunE: func(cmd *cobra.Command, args []string) error {
			if prefix == "" {
				prefix = privexec.DefaultPolicyPrefix
			}
			profile := distro.NewDetector().Detect()
			data, err := privexec.RenderPolicy(prefix, privexec.NewCatalog(profile))
			if err != nil {
				return err
			}
			_, err = os.Stdout.Write(data)
			return err
		},
	}
	cmd.Flags().StringVar(&prefix, "prefix", "", "Action id prefix (default "+privexec.DefaultPolicyPrefix+")")
	return cmd
}
