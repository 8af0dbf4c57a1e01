package main

import (
	"fmt"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

var infoCmd = &cobra.Command{
	Use:   "info",
	Short: "Show system and kernel status",
	Long: `Display host facts and the kernel lifecycle state.

Shows:
  - Running kernel and distribution
  - CPU, memory and free disk capacity
  - Virtualization type
  - Active kernel record and any pending switch`,
	RunE: runInfo,
}

func runInfo(cmd *cobra.Command, args []string) error {
	a, err := openApp()
	if err != nil {
		return err
	}
	defer a.Close()

	info, err := a.host.Collect(cmd.Context(), a.cfg.General.BuildDir)
	if err != nil {
		return fmt.Errorf("collect system info: %w", err)
	}

	heading := color.New(color.FgCyan, color.Bold)
	heading.Println("System")
	fmt.Printf("  Kernel:         %s\n", info.Kernel)
	fmt.Printf("  Distribution:   %s\n", info.Distribution)
	fmt.Printf("  CPU:            %s (%d cores)\n", info.CPUModel, info.CPUCores)
	fmt.Printf("  Memory:         %d MB total, %d MB available\n", info.MemTotalMB, info.MemAvailableMB)
	fmt.Printf("  Disk free:      %d MB under %s\n", info.DiskFreeMB, a.cfg.General.BuildDir)
	fmt.Printf("  Virtualization: %s\n", info.Virtualization)

	fmt.Println()
	heading.Println("Managed kernels")

	active, err := a.db.ActiveKernel()
	if err != nil {
		return err
	}
	if active != nil {
		color.New(color.FgGreen).Printf("  Active: %s", active.ID)
		if active.ActivatedAt != nil {
			fmt.Printf(" (since %s)", active.ActivatedAt.Local().Format("2006-01-02 15:04"))
		}
		fmt.Println()
	} else {
		fmt.Println("  Active: none managed by vkm")
	}

	pending, err := a.db.PendingSwitch()
	if err != nil {
		return err
	}
	if pending != nil {
		color.New(color.FgYellow).Printf("  Pending switch: %s -> %s (confirm before %s)\n",
			pending.FromKernel, pending.ToKernel, pending.Deadline.Local().Format("15:04:05"))
	}
	return nil
}
