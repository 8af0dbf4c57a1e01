package main

import (
	"fmt"
	"strings"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/vkm-dev/vkm/internal/build"
	"github.com/vkm-dev/vkm/internal/patch"
)

var (
	compileVersions  []string
	compileProfile   string
	compileOverrides []string
	compilePatchSets []string
	compileManifest  string
)

var compileCmd = &cobra.Command{
	Use:   "compile",
	Short: "Compile one or more kernels",
	Long: `Compile kernels from kernel.org sources.

Each --version builds one kernel under the selected optimization
profile. Multiple versions compile concurrently; the command returns
after every build has finished. Config overrides and patch sets apply
to every requested version.

Examples:
  vkm compile --version 6.1.42
  vkm compile --version 6.1.42 --optimization performance
  vkm compile --version 6.1.42 --version 6.6.8
  vkm compile --version 6.1.42 --patch-set xanmod
  vkm compile --version 6.1.42 --patches ./patches.yaml
  vkm compile --version 6.1.42 --optimization custom --set CONFIG_HZ_1000=y`,
	RunE: runCompile,
}

func init() {
	compileCmd.Flags().StringSliceVar(&compileVersions, "version", nil, "Kernel version to compile (repeatable)")
	compileCmd.Flags().StringVarP(&compileProfile, "optimization", "o", "vps", "Optimization profile: vps, performance, minimal or custom")
	compileCmd.Flags().StringSliceVar(&compileOverrides, "set", nil, "CONFIG_ override as KEY=value (repeatable)")
	compileCmd.Flags().StringSliceVar(&compilePatchSets, "patch-set", nil, "Named patch source from the manifest (repeatable)")
	compileCmd.Flags().StringVar(&compileManifest, "patches", "", "Manifest file whose patches all apply")
	compileCmd.MarkFlagRequired("version")
}

func runCompile(cmd *cobra.Command, args []string) error {
	a, err := openApp()
	if err != nil {
		return err
	}
	defer a.Close()

	overrides, err := parseOverrides(compileOverrides)
	if err != nil {
		return err
	}
	entries, err := resolvePatchSets(a, compilePatchSets)
	if err != nil {
		return err
	}
	if compileManifest != "" {
		manifest, err := patch.LoadManifest(compileManifest)
		if err != nil {
			return err
		}
		entries = append(entries, manifest.Entries()...)
	}

	pool := build.NewPool(a.builder())
	for _, v := range compileVersions {
		req := build.Request{
			Version:   v,
			Profile:   compileProfile,
			Overrides: overrides,
			Patches:   entries,
		}
		id, err := pool.Submit(req)
		if err != nil {
			pool.Stop()
			return err
		}
		fmt.Printf("Compiling %s...\n", id)
	}

	go pool.Wait()

	failed := 0
	for ev := range pool.Events() {
		if ev.Err != nil {
			failed++
			color.New(color.FgRed).Printf("✗ %s: %v\n", ev.KernelID, ev.Err)
			continue
		}
		color.New(color.FgGreen).Printf("✓ %s compiled\n", ev.KernelID)
	}
	if failed > 0 {
		return fmt.Errorf("%d of %d builds failed", failed, len(compileVersions))
	}
	return nil
}

func parseOverrides(pairs []string) (map[string]string, error) {
	if len(pairs) == 0 {
		return nil, nil
	}
	overrides := make(map[string]string, len(pairs))
	for _, pair := range pairs {
		key, value, ok := strings.Cut(pair, "=")
		if !ok || key == "" {
			return nil, fmt.Errorf("override %q is not KEY=value", pair)
		}
		overrides[key] = value
	}
	return overrides, nil
}

func resolvePatchSets(a *app, names []string) ([]patch.Entry, error) {
	if len(names) == 0 {
		return nil, nil
	}
	manifest, err := patch.LoadManifest(a.cfg.Patches.ManifestPath)
	if err != nil {
		return nil, err
	}
	var entries []patch.Entry
	for _, name := range names {
		found := manifest.FindSource(name)
		if len(found) == 0 {
			return nil, fmt.Errorf("patch source %q not in %s", name, a.cfg.Patches.ManifestPath)
		}
		entries = append(entries, found...)
	}
	return entries, nil
}
