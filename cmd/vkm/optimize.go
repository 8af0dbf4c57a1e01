package main

import (
	"errors"
	"fmt"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/vkm-dev/vkm/internal/optimize"
	"github.com/vkm-dev/vkm/pkg/models"
)

var (
	optimizeType   string
	optimizeRevert bool
)

var optimizeCmd = &cobra.Command{
	Use:   "optimize",
	Short: "Apply or revert runtime tunable bundles",
	Long: `Tune runtime parameters for the selected category.

Every change records the previous value, so sets can always be
reverted. Values persist through /etc/sysctl.d drop-ins; sysfs-backed
keys are restored by 'vkm boot-check' after reboot.

Categories: network, memory, io, all.

Examples:
  vkm optimize --type network
  vkm optimize --type all
  vkm optimize --revert          # revert the most recent set`,
	RunE: runOptimize,
}

func init() {
	optimizeCmd.Flags().StringVar(&optimizeType, "type", optimize.CategoryAll, "Tunable category to apply")
	optimizeCmd.Flags().BoolVar(&optimizeRevert, "revert", false, "Revert the most recently applied set")
}

func runOptimize(cmd *cobra.Command, args []string) error {
	a, err := openApp()
	if err != nil {
		return err
	}
	defer a.Close()

	engine := a.optimizer()

	if optimizeRevert {
		if err := engine.RevertLatest(); err != nil {
			if errors.Is(err, optimize.ErrNoTunableSets) {
				fmt.Println("Nothing to revert.")
				return nil
			}
			return err
		}
		color.New(color.FgGreen).Println("✓ reverted most recent tunable set")
		return nil
	}

	if optimizeType == optimize.CategoryAll {
		sets, err := engine.ApplyAll()
		if err != nil {
			return err
		}
		for _, set := range sets {
			printTunableSet(set)
		}
		return nil
	}

	set, err := engine.Apply(optimizeType)
	if err != nil {
		return err
	}
	printTunableSet(set)
	return nil
}

func printTunableSet(set *models.TunableSet) {
	if set == nil {
		fmt.Println("Already tuned, nothing to change.")
		return
	}
	color.New(color.FgGreen).Printf("✓ %s: %d tunables applied (set %s)\n",
		set.Category, len(set.Tunables), set.ID)
}
