package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/vkm-dev/vkm/internal/patch"
	"github.com/vkm-dev/vkm/pkg/models"
)

var (
	patchSets   []string
	patchURL    string
	patchName   string
	patchSHA256 string
	patchRange  string
	patchTree   string
	patchRevert bool
)

var patchCmd = &cobra.Command{
	Use:   "patch <kernel-id>",
	Short: "Apply or revert patches on a kernel source tree",
	Long: `Apply patches to a kernel's source tree.

Patches come either from a named source in the patch manifest or from
an explicit --url with its sha256 checksum. A conflicting patch
unwinds the whole batch, leaving the tree as it was. Identical
patches are skipped on reapply.

Examples:
  vkm patch 6.1.42-vps --patch-set xanmod
  vkm patch 6.1.42-vps --url https://example.com/fix.patch --sha256 <hex> --name fix
  vkm patch 6.1.42-vps --revert`,
	Args: cobra.ExactArgs(1),
	RunE: runPatch,
}

func init() {
	patchCmd.Flags().StringSliceVar(&patchSets, "patch-set", nil, "Named patch source from the manifest (repeatable)")
	patchCmd.Flags().StringVar(&patchURL, "url", "", "Ad-hoc patch URL")
	patchCmd.Flags().StringVar(&patchName, "name", "", "Name for an ad-hoc patch")
	patchCmd.Flags().StringVar(&patchSHA256, "sha256", "", "Expected sha256 of an ad-hoc patch")
	patchCmd.Flags().StringVar(&patchRange, "kernel-range", "", "Semver range the ad-hoc patch targets")
	patchCmd.Flags().StringVar(&patchTree, "tree", "", "Source tree directory (default under kernel_source_dir)")
	patchCmd.Flags().BoolVar(&patchRevert, "revert", false, "Revert every applied patch in reverse order")
}

func runPatch(cmd *cobra.Command, args []string) error {
	a, err := openApp()
	if err != nil {
		return err
	}
	defer a.Close()

	rec, err := a.db.GetKernel(args[0])
	if err != nil {
		return err
	}
	if rec == nil {
		return fmt.Errorf("kernel %s not found", args[0])
	}

	treeDir, err := resolveTree(a, rec)
	if err != nil {
		return err
	}

	ctx := cmd.Context()
	if patchRevert {
		if err := a.patches().Revert(ctx, rec.ID, treeDir); err != nil {
			return err
		}
		color.New(color.FgGreen).Printf("✓ patches reverted on %s\n", rec.ID)
		return nil
	}

	entries, err := patchEntries(a)
	if err != nil {
		return err
	}
	if len(entries) == 0 {
		return fmt.Errorf("nothing to apply: give --patch-set or --url")
	}

	results, err := a.patches().Apply(ctx, rec.ID, treeDir, rec.Version, entries)
	if err != nil {
		return err
	}
	for _, r := range results {
		switch r.Outcome {
		case models.PatchApplied:
			color.New(color.FgGreen).Printf("✓ %s applied\n", r.Patch.Name)
		case models.PatchAlreadyApplied:
			fmt.Printf("= %s already applied\n", r.Patch.Name)
		case models.PatchSkipped:
			color.New(color.FgYellow).Printf("- %s skipped (targets %s)\n", r.Patch.Name, r.Patch.KernelRange)
		}
	}
	return nil
}

// resolveTree finds the source tree: --tree wins, then the record's
// build scratch if it still exists, then the shared source dir.
func resolveTree(a *app, rec *models.KernelRecord) (string, error) {
	candidates := []string{patchTree}
	if patchTree == "" {
		candidates = []string{
			rec.SourcePath,
			filepath.Join(a.cfg.General.SourceDir, "linux-"+rec.Version),
		}
	}
	for _, dir := range candidates {
		if dir == "" {
			continue
		}
		if info, err := os.Stat(dir); err == nil && info.IsDir() {
			return dir, nil
		}
	}
	return "", fmt.Errorf("no source tree for %s; pass --tree", rec.ID)
}

func patchEntries(a *app) ([]patch.Entry, error) {
	entries, err := resolvePatchSets(a, patchSets)
	if err != nil {
		return nil, err
	}
	if patchURL == "" {
		return entries, nil
	}
	if patchName == "" || patchSHA256 == "" {
		return nil, fmt.Errorf("--url needs --name and --sha256")
	}
	return append(entries, patch.Entry{
		Name:        patchName,
		URL:         patchURL,
		SHA256:      patchSHA256,
		KernelRange: patchRange,
		Source:      patchURL,
	}), nil
}
