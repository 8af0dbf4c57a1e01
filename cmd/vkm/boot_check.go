package main

import (
	"github.com/spf13/cobra"
)

var bootCheckCmd = &cobra.Command{
	Use:   "boot-check",
	Short: "Resolve pending switches and restore tunables after boot",
	Long: `Run the post-boot check, normally from a systemd unit or cron.

Confirms a pending switch when the expected kernel is running, rolls
it back otherwise, and reapplies persisted tunable sets whose values
do not survive a reboot (sysfs keys such as the IO scheduler).

A run with nothing pending is a no-op.`,
	RunE: runBootCheck,
}

func runBootCheck(cmd *cobra.Command, args []string) error {
	a, err := openApp()
	if err != nil {
		return err
	}
	defer a.Close()

	if err := a.kernels().BootCheck(cmd.Context()); err != nil {
		return err
	}
	return a.optimizer().Reapply()
}
