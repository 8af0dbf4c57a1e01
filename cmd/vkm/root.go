package main

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/vkm-dev/vkm/internal/config"
)

var cfgPath string

var rootCmd = &cobra.Command{
	Use:   "vkm",
	Short: "VPS Kernel Manager",
	Long: `vkm compiles, installs and manages custom Linux kernels on VPS hosts.

It drives the full kernel lifecycle: fetching and patching sources,
compiling under an optimization profile, registering the package with
GRUB, and switching kernels with automatic rollback when the new
kernel fails to boot.

With no arguments, launches an interactive console listing managed
kernels and their lifecycle states.

Core capabilities:
- Compiles kernels from kernel.org sources with per-profile config deltas
- Applies trusted patch sets with conflict unwinding
- Switches kernels via one-shot boot entries that roll back on failure
- Tunes runtime sysctl/sysfs parameters as revertible sets
- Benchmarks network, disk and memory to compare kernels`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runInteractive()
	},
}

// Execute runs the root command
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// loadConfig honors --config, otherwise the system-wide default path.
func loadConfig() (*config.Config, error) {
	if cfgPath != "" {
		return config.LoadFromPath(cfgPath)
	}
	return config.Load()
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgPath, "config", "", "Path to config.ini (default "+config.DefaultPath+")")

	// Add subcommands
	rootCmd.AddCommand(infoCmd)
	rootCmd.AddCommand(listKernelsCmd)
	rootCmd.AddCommand(compileCmd)
	rootCmd.AddCommand(switchCmd)
	rootCmd.AddCommand(confirmCmd)
	rootCmd.AddCommand(bootCheckCmd)
	rootCmd.AddCommand(retireCmd)
	rootCmd.AddCommand(pinCmd)
	rootCmd.AddCommand(patchCmd)
	rootCmd.AddCommand(optimizeCmd)
	rootCmd.AddCommand(hardenCmd)
	rootCmd.AddCommand(benchmarkCmd)
	rootCmd.AddCommand(versionCmd)
}
