package state

import (
	"testing"
	"time"

	"github.com/vkm-dev/vkm/pkg/models"
)

func TestPatchProvenance(t *testing.T) {
	db := setupTestDB(t)
	tree := "6.1.0-vps"

	p1 := &models.Patch{Name: "bbr2", Source: "xanmod", URL: "https://x/bbr2.patch", Hash: "aaa", OrderIndex: 0, AppliedAt: time.Now()}
	p2 := &models.Patch{Name: "le9", Source: "xanmod", URL: "https://x/le9.patch", Hash: "bbb", OrderIndex: 1, AppliedAt: time.Now()}

	for _, p := range []*models.Patch{p1, p2} {
		if err := db.RecordPatch(tree, p); err != nil {
			t.Fatalf("RecordPatch %s: %v", p.Name, err)
		}
	}

	has, err := db.HasPatch(tree, "aaa")
	if err != nil || !has {
		t.Errorf("HasPatch(aaa) = %v, %v; want true", has, err)
	}
	has, err = db.HasPatch(tree, "zzz")
	if err != nil || has {
		t.Errorf("HasPatch(zzz) = %v, %v; want false", has, err)
	}
	// Same hash on a different tree is not applied.
	has, err = db.HasPatch("other-tree", "aaa")
	if err != nil || has {
		t.Errorf("HasPatch(other tree) = %v, %v; want false", has, err)
	}

	list, err := db.AppliedPatches(tree)
	if err != nil {
		t.Fatalf("AppliedPatches failed: %v", err)
	}
	if len(list) != 2 || list[0].Hash != "aaa" || list[1].Hash != "bbb" {
		t.Errorf("AppliedPatches order wrong: %+v", list)
	}

	idx, err := db.NextPatchIndex(tree)
	if err != nil || idx != 2 {
		t.Errorf("NextPatchIndex = %d, %v; want 2", idx, err)
	}

	if err := db.RemovePatch(tree, "bbb"); err != nil {
		t.Fatalf("RemovePatch failed: %v", err)
	}
	list, _ = db.AppliedPatches(tree)
	if len(list) != 1 || list[0].Hash != "aaa" {
		t.Errorf("after remove: %+v", list)
	}

	if err := db.DeleteTreePatches(tree); err != nil {
		t.Fatalf("DeleteTreePatches failed: %v", err)
	}
	list, _ = db.AppliedPatches(tree)
	if len(list) != 0 {
		t.Errorf("after delete: %+v", list)
	}
}
