package main

import (
	"fmt"
	"sort"

	"github.com/Masterminds/semver/v3"
	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/vkm-dev/vkm/pkg/models"
)

var listStatus string

var listKernelsCmd = &cobra.Command{
	Use:   "list-kernels",
	Short: "List managed kernels",
	Long: `List every kernel record with its lifecycle state.

Examples:
  vkm list-kernels
  vkm list-kernels --status compiled`,
	RunE: runListKernels,
}

func init() {
	listKernelsCmd.Flags().StringVar(&listStatus, "status", "", "Filter by lifecycle status")
}

func runListKernels(cmd *cobra.Command, args []string) error {
	a, err := openApp()
	if err != nil {
		return err
	}
	defer a.Close()

	var filter *models.KernelStatus
	if listStatus != "" {
		s := models.KernelStatus(listStatus)
		if !s.Valid() {
			return fmt.Errorf("unknown status %q", listStatus)
		}
		filter = &s
	}

	records, err := a.kernels().List(filter)
	if err != nil {
		return err
	}
	if len(records) == 0 {
		fmt.Println("No kernels managed yet. Run 'vkm compile --version <x.y.z>' to build one.")
		return nil
	}

	// Newest version first; variants of the same version group together.
	sort.SliceStable(records, func(i, j int) bool {
		vi, erri := semver.NewVersion(records[i].Version)
		vj, errj := semver.NewVersion(records[j].Version)
		if erri != nil || errj != nil {
			return records[i].Version > records[j].Version
		}
		if !vi.Equal(vj) {
			return vi.GreaterThan(vj)
		}
		return records[i].Variant < records[j].Variant
	})

	fmt.Printf("%-20s %-12s %-7s %-17s %s\n", "KERNEL", "STATUS", "PINNED", "CREATED", "ACTIVATED")
	for _, rec := range records {
		pinned := ""
		if rec.Pinned {
			pinned = "yes"
		}
		activated := ""
		if rec.ActivatedAt != nil {
			activated = rec.ActivatedAt.Local().Format("2006-01-02 15:04")
		}
		line := fmt.Sprintf("%-20s %-12s %-7s %-17s %s",
			rec.ID, rec.Status, pinned, rec.CreatedAt.Local().Format("2006-01-02 15:04"), activated)

		switch rec.Status {
		case models.KernelActive:
			color.New(color.FgGreen).Println(line)
		case models.KernelActivating:
			color.New(color.FgYellow).Println(line)
		case models.KernelFailed:
			color.New(color.FgRed).Println(line)
		default:
			fmt.Println(line)
		}
	}
	return nil
}
