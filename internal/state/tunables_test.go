package state

import (
	"testing"
	"time"

	"github.com/vkm-dev/vkm/pkg/models"
)

func TestTunableSetRoundTrip(t *testing.T) {
	db := setupTestDB(t)

	set := &models.TunableSet{
		ID:       "set-1",
		Category: "network",
		Tunables: []models.Tunable{
			{Key: "net.core.default_qdisc", Previous: "pfifo_fast", Value: "fq"},
			{Key: "net.ipv4.tcp_congestion_control", Previous: "cubic", Value: "bbr"},
		},
		AppliedAt: time.Now(),
	}
	if err := db.CreateTunableSet(set); err != nil {
		t.Fatalf("CreateTunableSet failed: %v", err)
	}

	got, err := db.GetTunableSet("set-1")
	if err != nil {
		t.Fatalf("GetTunableSet failed: %v", err)
	}
	if got == nil {
		t.Fatal("GetTunableSet returned nil")
	}
	if len(got.Tunables) != 2 {
		t.Fatalf("tunable count = %d, want 2", len(got.Tunables))
	}
	// Application order preserved.
	if got.Tunables[0].Key != "net.core.default_qdisc" {
		t.Errorf("order not preserved: %+v", got.Tunables)
	}
	if got.Tunables[1].Previous != "cubic" {
		t.Errorf("previous value lost: %+v", got.Tunables[1])
	}
}

func TestListTunableSetsOrder(t *testing.T) {
	db := setupTestDB(t)
	base := time.Now().Add(-time.Hour)

	older := &models.TunableSet{
		ID: "set-old", Category: "memory",
		Tunables:  []models.Tunable{{Key: "vm.swappiness", Previous: "60", Value: "1"}},
		AppliedAt: base,
	}
	newer := &models.TunableSet{
		ID: "set-new", Category: "network",
		Tunables:  []models.Tunable{{Key: "net.ipv4.tcp_fastopen", Previous: "1", Value: "3"}},
		AppliedAt: base.Add(30 * time.Minute),
	}
	for _, s := range []*models.TunableSet{older, newer} {
		if err := db.CreateTunableSet(s); err != nil {
			t.Fatalf("CreateTunableSet: %v", err)
		}
	}

	sets, err := db.ListTunableSets()
	if err != nil {
		t.Fatalf("ListTunableSets failed: %v", err)
	}
	if len(sets) != 2 || sets[0].ID != "set-new" || sets[1].ID != "set-old" {
		t.Errorf("sets not in reverse chronological order: %+v", sets)
	}
}

func TestDeleteTunableSetCascades(t *testing.T) {
	db := setupTestDB(t)

	set := &models.TunableSet{
		ID: "set-del", Category: "io",
		Tunables:  []models.Tunable{{Key: "block.sda.scheduler", Previous: "none", Value: "mq-deadline"}},
		AppliedAt: time.Now(),
	}
	if err := db.CreateTunableSet(set); err != nil {
		t.Fatalf("CreateTunableSet: %v", err)
	}
	if err := db.DeleteTunableSet("set-del"); err != nil {
		t.Fatalf("DeleteTunableSet failed: %v", err)
	}

	got, err := db.GetTunableSet("set-del")
	if err != nil || got != nil {
		t.Errorf("set still present after delete: %+v, %v", got, err)
	}

	var n int
	row := db.QueryRow("SELECT COUNT(*) FROM tunables WHERE set_id = 'set-del'")
	if err := row.Scan(&n); err != nil {
		t.Fatalf("count tunables: %v", err)
	}
	if n != 0 {
		t.Errorf("tunables not cascaded: %d rows remain", n)
	}
}
