package main

import (
	"fmt"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/vkm-dev/vkm/internal/kernel"
	"github.com/vkm-dev/vkm/pkg/models"
)

var switchWait bool

var switchCmd = &cobra.Command{
	Use:   "switch <kernel-id>",
	Short: "Switch to an installed kernel on next boot",
	Long: `Arm a switch to the given kernel.

The kernel becomes the one-shot boot target; the persistent default
stays on the current kernel until the switch is confirmed, so a boot
failure falls back automatically. After rebooting, run 'vkm confirm'
within the confirmation window or boot-check rolls the switch back.

Examples:
  vkm switch 6.1.42-vps
  vkm switch 6.1.42-vps --wait   # block until confirmed or rolled back`,
	Args: cobra.ExactArgs(1),
	RunE: runSwitch,
}

func init() {
	switchCmd.Flags().BoolVar(&switchWait, "wait", false, "Block until the switch is confirmed or rolled back")
}

func runSwitch(cmd *cobra.Command, args []string) error {
	a, err := openApp()
	if err != nil {
		return err
	}
	defer a.Close()

	ctx := cmd.Context()
	sw, err := a.kernels().Switch(ctx, args[0])
	if err != nil {
		return err
	}

	fmt.Printf("Next boot set to %s. Reboot, then run 'vkm confirm' before %s.\n",
		sw.ToKernel, sw.Deadline.Local().Format("15:04:05"))

	if !switchWait {
		return nil
	}

	fmt.Println("Waiting for the switch to resolve...")
	if err := kernel.WaitForResolution(ctx, a.cfg.PendingSwitchMarker()); err != nil {
		return err
	}

	rec, err := a.db.GetKernel(sw.ToKernel)
	if err != nil {
		return err
	}
	if rec != nil && rec.Status == models.KernelActive {
		color.New(color.FgGreen).Printf("✓ %s is active\n", sw.ToKernel)
		return nil
	}
	color.New(color.FgYellow).Printf("Switch to %s was rolled back\n", sw.ToKernel)
	return nil
}
