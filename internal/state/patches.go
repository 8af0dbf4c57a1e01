package state

import (
	"fmt"

	"github.com/vkm-dev/vkm/pkg/models"
)

// Patch provenance operations. The tree id is the kernel record id the
// source tree belongs to; the ordered provenance list is the ground truth
// for idempotency checks and batch reverts.

// RecordPatch appends one applied patch to a tree's provenance list.
func (db *DB) RecordPatch(treeID string, p *models.Patch) error {
	_, err := db.Exec(`
		INSERT INTO patches (tree_id, name, source, url, hash, kernel_range, order_index, applied_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, treeID, p.Name, p.Source, p.URL, p.Hash, p.KernelRange, p.OrderIndex, formatTime(p.AppliedAt))
	if err != nil {
		return fmt.Errorf("record patch: %w", err)
	}
	return nil
}

// RemovePatch drops one patch from a tree's provenance list, used when a
// failed batch is unwound.
func (db *DB) RemovePatch(treeID, hash string) error {
	_, err := db.Exec(`DELETE FROM patches WHERE tree_id = ? AND hash = ?`, treeID, hash)
	if err != nil {
		return fmt.Errorf("remove patch: %w", err)
	}
	return nil
}

// HasPatch reports whether a patch with the given content hash is already
// recorded as applied to the tree.
func (db *DB) HasPatch(treeID, hash string) (bool, error) {
	row := db.QueryRow(`SELECT COUNT(*) FROM patches WHERE tree_id = ? AND hash = ?`, treeID, hash)
	var n int
	if err := row.Scan(&n); err != nil {
		return false, fmt.Errorf("check patch: %w", err)
	}
	return n > 0, nil
}

// AppliedPatches returns the tree's provenance list in application order.
func (db *DB) AppliedPatches(treeID string) ([]models.Patch, error) {
	rows, err := db.Query(`
		SELECT name, source, url, hash, kernel_range, order_index, applied_at
		FROM patches WHERE tree_id = ? ORDER BY order_index ASC
	`, treeID)
	if err != nil {
		return nil, fmt.Errorf("list applied patches: %w", err)
	}
	defer rows.Close()

	var patches []models.Patch
	for rows.Next() {
		var p models.Patch
		var appliedAt string
		if err := rows.Scan(&p.Name, &p.Source, &p.URL, &p.Hash, &p.KernelRange, &p.OrderIndex, &appliedAt); err != nil {
			return nil, fmt.Errorf("scan patch: %w", err)
		}
		p.AppliedAt, _ = parseTime(appliedAt)
		patches = append(patches, p)
	}
	return patches, rows.Err()
}

// NextPatchIndex returns the order index the next applied patch should use.
func (db *DB) NextPatchIndex(treeID string) (int, error) {
	row := db.QueryRow(`SELECT COALESCE(MAX(order_index), -1) + 1 FROM patches WHERE tree_id = ?`, treeID)
	var idx int
	if err := row.Scan(&idx); err != nil {
		return 0, fmt.Errorf("next patch index: %w", err)
	}
	return idx, nil
}

// DeleteTreePatches removes all provenance for a tree, used when a failed
// build discards its source tree.
func (db *DB) DeleteTreePatches(treeID string) error {
	_, err := db.Exec(`DELETE FROM patches WHERE tree_id = ?`, treeID)
	if err != nil {
		return fmt.Errorf("delete tree patches: %w", err)
	}
	return nil
}
