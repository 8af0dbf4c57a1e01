package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/vkm-dev/vkm/pkg/models"
)

var (
	benchAuto    bool
	benchType    string
	benchHistory bool
)

var benchmarkCmd = &cobra.Command{
	Use:   "benchmark",
	Short: "Benchmark the running kernel",
	Long: `Measure network, disk or memory performance under the running
kernel. Results are stored with the kernel and tunable set they were
measured under, so history can compare kernels over time.

Examples:
  vkm benchmark --type network
  vkm benchmark --auto          # run every category
  vkm benchmark --history`,
	RunE: runBenchmark,
}

func init() {
	benchmarkCmd.Flags().BoolVar(&benchAuto, "auto", false, "Run every benchmark category")
	benchmarkCmd.Flags().StringVar(&benchType, "type", "", "Benchmark category: network, disk or memory")
	benchmarkCmd.Flags().BoolVar(&benchHistory, "history", false, "Show recorded results instead of running")
}

func runBenchmark(cmd *cobra.Command, args []string) error {
	a, err := openApp()
	if err != nil {
		return err
	}
	defer a.Close()

	h := a.benchmarks()

	if benchHistory {
		var filter *models.BenchmarkCategory
		if benchType != "" {
			c := models.BenchmarkCategory(benchType)
			filter = &c
		}
		results, err := h.History(filter)
		if err != nil {
			return err
		}
		if len(results) == 0 {
			fmt.Println("No benchmark results recorded yet.")
			return nil
		}
		for _, r := range results {
			fmt.Printf("%s  %-8s %-15s %10.2f %-7s kernel=%s\n",
				r.MeasuredAt.Local().Format("2006-01-02 15:04"),
				r.Category, r.Metric, r.Value, r.Unit, r.KernelID)
		}
		return nil
	}

	ctx := cmd.Context()
	kernelID := runningKernelID(ctx, a)

	var results []models.BenchmarkResult
	if benchAuto {
		results, err = h.RunAll(ctx, kernelID)
	} else {
		if benchType == "" {
			benchType = string(models.BenchNetwork)
		}
		results, err = h.Run(ctx, models.BenchmarkCategory(benchType), kernelID)
	}
	for _, r := range results {
		fmt.Printf("  %-8s %-15s %10.2f %s\n", r.Category, r.Metric, r.Value, r.Unit)
	}
	return err
}

// runningKernelID prefers the managed active record so results join
// against vkm's own history, falling back to uname.
func runningKernelID(ctx context.Context, a *app) string {
	if rec, err := a.db.ActiveKernel(); err == nil && rec != nil {
		return rec.ID
	}
	if running, err := a.host.CurrentKernel(ctx); err == nil {
		return running
	}
	return "unknown"
}
