package tui

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/vkm-dev/vkm/internal/sysinfo"
	"github.com/vkm-dev/vkm/pkg/models"
)

func testApp() *App {
	return New(nil, &sysinfo.Info{
		Kernel:       "6.1.0-vps",
		Distribution: "Debian GNU/Linux 12",
		CPUCores:     4,
		MemTotalMB:   8192,
	})
}

func TestKernelRows(t *testing.T) {
	created := time.Date(2025, 3, 1, 10, 0, 0, 0, time.Local)
	records := []models.KernelRecord{
		{ID: "6.1.0-vps", Status: models.KernelActive, Pinned: true, CreatedAt: created},
		{ID: "6.2.0-vps", Status: models.KernelCompiled, CreatedAt: created},
	}

	rows := kernelRows(records)
	if len(rows) != 2 {
		t.Fatalf("rows = %d, want 2", len(rows))
	}
	if rows[0][0] != "6.1.0-vps" || rows[0][1] != "active" || rows[0][2] != "yes" {
		t.Errorf("row 0 = %v", rows[0])
	}
	if rows[1][2] != "" {
		t.Errorf("unpinned kernel shows %q in pinned column", rows[1][2])
	}
}

func TestUpdateLoadsKernels(t *testing.T) {
	a := testApp()
	records := []models.KernelRecord{
		{ID: "6.1.0-vps", Status: models.KernelActive, CreatedAt: time.Now()},
	}

	model, _ := a.Update(kernelsMsg{records: records})
	got := model.(*App)
	if len(got.table.Rows()) != 1 {
		t.Fatalf("table rows = %d, want 1", len(got.table.Rows()))
	}
	if got.selectedID() != "6.1.0-vps" {
		t.Errorf("selected = %q", got.selectedID())
	}
}

func TestUpdateShowsActionError(t *testing.T) {
	a := testApp()
	model, _ := a.Update(actionMsg{err: errors.New("kernel is pinned")})
	if got := model.(*App).status; got != "kernel is pinned" {
		t.Errorf("status = %q", got)
	}
}

func TestViewShowsHostFacts(t *testing.T) {
	a := testApp()
	view := a.View()
	for _, want := range []string{"6.1.0-vps", "4 cores", "8192 MB"} {
		if !strings.Contains(view, want) {
			t.Errorf("view missing %q", want)
		}
	}
}
