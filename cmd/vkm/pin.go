package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var pinRemove bool

var pinCmd = &cobra.Command{
	Use:   "pin <kernel-id>",
	Short: "Protect a kernel from eviction",
	Long: `Pin a kernel so the retention limit never evicts it.

Examples:
  vkm pin 6.1.42-vps
  vkm pin 6.1.42-vps --remove`,
	Args: cobra.ExactArgs(1),
	RunE: runPin,
}

func init() {
	pinCmd.Flags().BoolVar(&pinRemove, "remove", false, "Unpin the kernel")
}

func runPin(cmd *cobra.Command, args []string) error {
	a, err := openApp()
	if err != nil {
		return err
	}
	defer a.Close()

	if err := a.kernels().Pin(args[0], !pinRemove); err != nil {
		return err
	}
	if pinRemove {
		fmt.Printf("%s unpinned\n", args[0])
	} else {
		fmt.Printf("%s pinned\n", args[0])
	}
	return nil
}
