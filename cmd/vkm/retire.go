package main

import (
	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

var retireCmd = &cobra.Command{
	Use:   "retire <kernel-id>",
	Short: "Remove a kernel from the system",
	Long: `Retire a kernel: purge its package, drop its boot entry and delete
its artifacts. The record is kept for history.

Active, activating and pinned kernels are refused. Retiring an
already retired kernel is a no-op.`,
	Args: cobra.ExactArgs(1),
	RunE: runRetire,
}

func runRetire(cmd *cobra.Command, args []string) error {
	a, err := openApp()
	if err != nil {
		return err
	}
	defer a.Close()

	if err := a.kernels().Retire(cmd.Context(), args[0]); err != nil {
		return err
	}
	color.New(color.FgGreen).Printf("✓ %s retired\n", args[0])
	return nil
}
