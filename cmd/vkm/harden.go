package main

import (
	"fmt"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/vkm-dev/vkm/internal/optimize"
)

var hardenRevert bool

var hardenCmd = &cobra.Command{
	Use:   "harden",
	Short: "Apply security hardening tunables",
	Long: `Apply the hardening bundle: kptr and dmesg restrictions,
unprivileged BPF off, ptrace scoping, protected links, SYN cookies
and reverse-path filtering. When security.audit_logging is enabled,
also installs the vkm auditd ruleset.

Refused when security.enable_hardening is off in the config.`,
	RunE: runHarden,
}

func init() {
	hardenCmd.Flags().BoolVar(&hardenRevert, "revert", false, "Revert the most recent hardening set")
}

func runHarden(cmd *cobra.Command, args []string) error {
	a, err := openApp()
	if err != nil {
		return err
	}
	defer a.Close()

	engine := a.optimizer()

	audit := optimize.NewAuditRules(a.runner)

	if hardenRevert {
		if err := audit.Remove(cmd.Context()); err != nil {
			return err
		}
		sets, err := engine.Sets()
		if err != nil {
			return err
		}
		for _, set := range sets {
			if set.Category == optimize.CategoryHarden {
				if err := engine.RevertSet(set.ID); err != nil {
					return err
				}
				color.New(color.FgGreen).Println("✓ hardening reverted")
				return nil
			}
		}
		fmt.Println("No hardening set to revert.")
		return nil
	}

	if !a.cfg.Security.EnableHardening {
		return fmt.Errorf("hardening is disabled (security.enable_hardening = false)")
	}
	set, err := engine.Apply(optimize.CategoryHarden)
	if err != nil {
		return err
	}
	printTunableSet(set)

	if a.cfg.Security.AuditLogging {
		if err := audit.Install(cmd.Context()); err != nil {
			return err
		}
		fmt.Println("Audit ruleset installed.")
	}
	return nil
}
