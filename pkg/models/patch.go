package models

import "time"

// Patch describes one source patch with its provenance.
type Patch struct {
	// Name is the human-readable patch name, e.g. "xanmod-bbr2".
	Name string `json:"name"`
	// Source identifies where the patch came from: a trusted-source name
	// or the literal URL for ad-hoc patches.
	Source string `json:"source"`
	// URL is the location the patch content was fetched from.
	URL string `json:"url"`
	// Hash is the sha256 hex digest of the patch content.
	Hash string `json:"hash"`
	// KernelRange optionally constrains the kernel versions the patch
	// applies to, as a semver range expression like ">=6.0 <6.5".
	KernelRange string `json:"kernel_range,omitempty"`
	// OrderIndex is the position within the applied-patch list of a tree.
	OrderIndex int `json:"order_index"`
	// AppliedAt is when the patch was applied to the tree.
	AppliedAt time.Time `json:"applied_at"`
}

// PatchOutcome reports the result of applying a single patch.
type PatchOutcome string

const (
	// PatchApplied indicates the patch applied cleanly.
	PatchApplied PatchOutcome = "applied"
	// PatchAlreadyApplied indicates an identical patch (by hash) was
	// already recorded for the tree; the apply was a benign no-op.
	PatchAlreadyApplied PatchOutcome = "already_applied"
	// PatchSkipped indicates the patch does not target this kernel version.
	PatchSkipped PatchOutcome = "skipped"
)

// PatchResult is the per-patch report returned by a batch apply.
type PatchResult struct {
	// Patch is the patch the result refers to.
	Patch Patch `json:"patch"`
	// Outcome is what happened to the patch.
	Outcome PatchOutcome `json:"outcome"`
}
