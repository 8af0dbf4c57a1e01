package main

import (
	"errors"
	"fmt"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/vkm-dev/vkm/internal/kernel"
)

var confirmCmd = &cobra.Command{
	Use:   "confirm",
	Short: "Confirm a pending kernel switch",
	Long: `Confirm that the system booted into the switched kernel.

Confirmation makes the new kernel the persistent boot default and
marks the previous one inactive. Refused when the running kernel is
not the switch target.`,
	RunE: runConfirm,
}

func runConfirm(cmd *cobra.Command, args []string) error {
	a, err := openApp()
	if err != nil {
		return err
	}
	defer a.Close()

	if err := a.kernels().Confirm(cmd.Context()); err != nil {
		if errors.Is(err, kernel.ErrNoPendingSwitch) {
			fmt.Println("No switch pending.")
			return nil
		}
		return err
	}
	color.New(color.FgGreen).Println("✓ switch confirmed")
	return nil
}
