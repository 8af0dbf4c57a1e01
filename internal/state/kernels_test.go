package state

import (
	"testing"
	"time"

	"github.com/vkm-dev/vkm/pkg/models"
)

func testKernel(id string, status models.KernelStatus, createdAt time.Time) *models.KernelRecord {
	return &models.KernelRecord{
		ID:      id,
		Version: "6.1.0",
		Variant: "vps",
		ConfigDelta: models.ConfigDelta{
			"CONFIG_TCP_CONG_BBR": "y",
		},
		Status:    status,
		CreatedAt: createdAt,
	}
}

func TestKernelCRUD(t *testing.T) {
	db := setupTestDB(t)

	k := testKernel("6.1.0-vps", models.KernelCompiled, time.Now())
	if err := db.CreateKernel(k); err != nil {
		t.Fatalf("CreateKernel failed: %v", err)
	}

	got, err := db.GetKernel("6.1.0-vps")
	if err != nil {
		t.Fatalf("GetKernel failed: %v", err)
	}
	if got == nil {
		t.Fatal("GetKernel returned nil")
	}
	if got.Version != "6.1.0" || got.Variant != "vps" || got.Status != models.KernelCompiled {
		t.Errorf("kernel mismatch: %+v", got)
	}
	if got.ConfigDelta["CONFIG_TCP_CONG_BBR"] != "y" {
		t.Errorf("config delta not round-tripped: %+v", got.ConfigDelta)
	}

	got.Status = models.KernelInstalled
	got.BootEntryID = "2"
	got.PackagePath = "/tmp/linux-image-6.1.0.deb"
	if err := db.UpdateKernel(got); err != nil {
		t.Fatalf("UpdateKernel failed: %v", err)
	}

	got, err = db.GetKernel("6.1.0-vps")
	if err != nil || got == nil {
		t.Fatalf("GetKernel after update: %v", err)
	}
	if got.Status != models.KernelInstalled || got.BootEntryID != "2" {
		t.Errorf("update not persisted: %+v", got)
	}

	// Absent kernel yields nil, not an error.
	missing, err := db.GetKernel("nope")
	if err != nil {
		t.Fatalf("GetKernel missing: %v", err)
	}
	if missing != nil {
		t.Errorf("expected nil for missing kernel, got %+v", missing)
	}
}

func TestSetKernelStatusMissing(t *testing.T) {
	db := setupTestDB(t)
	if err := db.SetKernelStatus("ghost", models.KernelActive); err == nil {
		t.Error("expected error for unknown kernel id")
	}
}

func TestOldestEvictable(t *testing.T) {
	db := setupTestDB(t)
	base := time.Now().Add(-time.Hour)

	// Oldest is pinned, next oldest is active, third is evictable.
	pinned := testKernel("5.15.0-vps", models.KernelInactive, base)
	pinned.Pinned = true
	active := testKernel("6.0.0-vps", models.KernelActive, base.Add(time.Minute))
	inactive := testKernel("6.1.0-vps", models.KernelInactive, base.Add(2*time.Minute))
	newest := testKernel("6.2.0-vps", models.KernelInstalled, base.Add(3*time.Minute))

	for _, k := range []*models.KernelRecord{pinned, active, inactive, newest} {
		if err := db.CreateKernel(k); err != nil {
			t.Fatalf("CreateKernel %s: %v", k.ID, err)
		}
	}

	got, err := db.OldestEvictable()
	if err != nil {
		t.Fatalf("OldestEvictable failed: %v", err)
	}
	if got == nil || got.ID != "6.1.0-vps" {
		t.Errorf("OldestEvictable = %+v, want 6.1.0-vps", got)
	}

	n, err := db.CountRetained()
	if err != nil {
		t.Fatalf("CountRetained failed: %v", err)
	}
	if n != 4 {
		t.Errorf("CountRetained = %d, want 4", n)
	}
}

func TestActiveKernel(t *testing.T) {
	db := setupTestDB(t)

	if got, err := db.ActiveKernel(); err != nil || got != nil {
		t.Fatalf("ActiveKernel on empty db = %+v, %v", got, err)
	}

	active := testKernel("6.0.0-vps", models.KernelActive, time.Now())
	if err := db.CreateKernel(active); err != nil {
		t.Fatalf("CreateKernel: %v", err)
	}

	got, err := db.ActiveKernel()
	if err != nil {
		t.Fatalf("ActiveKernel failed: %v", err)
	}
	if got == nil || got.ID != "6.0.0-vps" {
		t.Errorf("ActiveKernel = %+v", got)
	}
}
