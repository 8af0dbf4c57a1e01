package patch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"time"

	"github.com/Masterminds/semver/v3"

	"github.com/vkm-dev/vkm/internal/exec"
	"github.com/vkm-dev/vkm/internal/state"
	"github.com/vkm-dev/vkm/pkg/models"
)

// ErrConflict is returned when a patch does not apply cleanly. The batch
// that contained it has been unwound when this error is returned.
var ErrConflict = errors.New("patch conflict")

// Manager applies ordered patch batches to a kernel source tree.
type Manager struct {
	db      *state.DB
	runner  exec.CommandRunner
	fetcher *Fetcher
	log     *slog.Logger
}

// NewManager wires a patch manager against the state store and runner.
func NewManager(db *state.DB, runner exec.CommandRunner, fetcher *Fetcher, log *slog.Logger) *Manager {
	return &Manager{db: db, runner: runner, fetcher: fetcher, log: log}
}

var patchingFileRe = regexp.MustCompile(`(?m)^(?:checking|patching) file (\S+)`)

// failingFile extracts the last file the patch tool touched before it
// gave up, for conflict reporting.
func failingFile(output []byte) string {
	matches := patchingFileRe.FindAllSubmatch(output, -1)
	if len(matches) == 0 {
		return "unknown file"
	}
	return string(matches[len(matches)-1][1])
}

// Apply fetches and applies entries to the tree in order. A patch whose
// hash is already in the tree's provenance is a benign no-op; one whose
// kernel range excludes kernelVersion is skipped. Any failure mid-batch,
// fetch or checksum included, reverts the patches applied earlier in
// this batch in reverse order, so the provenance list is unchanged
// whenever an error is returned. Conflicts return ErrConflict naming
// the patch and file.
func (m *Manager) Apply(ctx context.Context, treeID, treeDir, kernelVersion string, entries []Entry) ([]models.PatchResult, error) {
	version, err := semver.NewVersion(kernelVersion)
	if err != nil {
		return nil, fmt.Errorf("parse kernel version %q: %w", kernelVersion, err)
	}

	var results []models.PatchResult
	// applied tracks this batch's patches and their content for unwinding.
	type appliedPatch struct {
		patch   models.Patch
		content []byte
	}
	var applied []appliedPatch

	unwind := func() error {
		for i := len(applied) - 1; i >= 0; i-- {
			a := applied[i]
			out, err := m.runner.RunInput(ctx, treeDir, a.content, "patch", "-R", "-p1", "--batch")
			if err != nil {
				return fmt.Errorf("unwind %s: %v: %s", a.patch.Name, err, out)
			}
			if err := m.db.RemovePatch(treeID, a.patch.Hash); err != nil {
				return err
			}
			m.log.Info("patch reverted", "tree", treeID, "patch", a.patch.Name)
		}
		return nil
	}

	// abort unwinds the batch before surfacing cause, so no error return
	// leaves a partially applied batch behind.
	abort := func(cause error) ([]models.PatchResult, error) {
		if uerr := unwind(); uerr != nil {
			return results, fmt.Errorf("%w; unwind also failed: %v", cause, uerr)
		}
		return results, cause
	}

	for _, e := range entries {
		if e.KernelRange != "" {
			constraint, err := semver.NewConstraint(e.KernelRange)
			if err != nil {
				return abort(fmt.Errorf("patch %s: bad kernel range %q: %w", e.Name, e.KernelRange, err))
			}
			if !constraint.Check(version) {
				m.log.Info("patch skipped", "tree", treeID, "patch", e.Name, "range", e.KernelRange)
				results = append(results, models.PatchResult{
					Patch:   models.Patch{Name: e.Name, Source: e.Source, URL: e.URL, KernelRange: e.KernelRange},
					Outcome: models.PatchSkipped,
				})
				continue
			}
		}

		content, err := m.fetcher.Fetch(ctx, e.URL)
		if err != nil {
			return abort(err)
		}
		hash := HashContent(content)
		if e.SHA256 != "" && e.SHA256 != hash {
			return abort(fmt.Errorf("%w: %s: checksum mismatch (got %s, want %s)", ErrFetch, e.Name, hash, e.SHA256))
		}

		p := models.Patch{
			Name:        e.Name,
			Source:      e.Source,
			URL:         e.URL,
			Hash:        hash,
			KernelRange: e.KernelRange,
		}

		has, err := m.db.HasPatch(treeID, hash)
		if err != nil {
			return abort(err)
		}
		if has {
			m.log.Info("patch already applied", "tree", treeID, "patch", e.Name)
			results = append(results, models.PatchResult{Patch: p, Outcome: models.PatchAlreadyApplied})
			continue
		}

		// Dry-run first so a conflicting patch leaves the tree untouched.
		out, err := m.runner.RunInput(ctx, treeDir, content, "patch", "-p1", "--dry-run", "--batch")
		if err != nil {
			return abort(fmt.Errorf("%w: %s at %s", ErrConflict, e.Name, failingFile(out)))
		}
		out, err = m.runner.RunInput(ctx, treeDir, content, "patch", "-p1", "--batch")
		if err != nil {
			return abort(fmt.Errorf("%w: %s at %s", ErrConflict, e.Name, failingFile(out)))
		}

		idx, err := m.db.NextPatchIndex(treeID)
		if err != nil {
			return abort(err)
		}
		p.OrderIndex = idx
		p.AppliedAt = time.Now().UTC()
		if err := m.db.RecordPatch(treeID, &p); err != nil {
			return abort(err)
		}

		m.log.Info("patch applied", "tree", treeID, "patch", p.Name, "hash", p.Hash[:12], "index", idx)
		applied = append(applied, appliedPatch{patch: p, content: content})
		results = append(results, models.PatchResult{Patch: p, Outcome: models.PatchApplied})
	}
	return results, nil
}

// Revert removes every applied patch from the tree in reverse order,
// refetching each patch body by its recorded URL.
func (m *Manager) Revert(ctx context.Context, treeID, treeDir string) error {
	patches, err := m.db.AppliedPatches(treeID)
	if err != nil {
		return err
	}

	for i := len(patches) - 1; i >= 0; i-- {
		p := patches[i]
		content, err := m.fetcher.Fetch(ctx, p.URL)
		if err != nil {
			return fmt.Errorf("revert %s: %w", p.Name, err)
		}
		if got := HashContent(content); got != p.Hash {
			return fmt.Errorf("%w: %s: content changed since apply (got %s, want %s)", ErrFetch, p.Name, got, p.Hash)
		}
		out, err := m.runner.RunInput(ctx, treeDir, content, "patch", "-R", "-p1", "--batch")
		if err != nil {
			return fmt.Errorf("revert %s: %v: %s", p.Name, err, out)
		}
		if err := m.db.RemovePatch(treeID, p.Hash); err != nil {
			return err
		}
		m.log.Info("patch reverted", "tree", treeID, "patch", p.Name)
	}
	return nil
}
