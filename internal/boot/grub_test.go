package boot

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/vkm-dev/vkm/internal/exec"
)

const sampleGrubCfg = `
### BEGIN /etc/grub.d/10_linux ###
menuentry 'Debian GNU/Linux, with Linux 6.1.0-vkm' --class debian {
	linux /boot/vmlinuz-6.1.0-vkm
}
submenu 'Advanced options for Debian GNU/Linux' {
	menuentry 'Debian GNU/Linux, with Linux 6.1.0-vkm' {
		linux /boot/vmlinuz-6.1.0-vkm
	}
	menuentry 'Debian GNU/Linux, with Linux 6.1.0-vkm (recovery mode)' {
		linux /boot/vmlinuz-6.1.0-vkm single
	}
	menuentry 'Debian GNU/Linux, with Linux 5.10.0-21-amd64' {
		linux /boot/vmlinuz-5.10.0-21-amd64
	}
}
### END /etc/grub.d/10_linux ###
menuentry 'UEFI Firmware Settings' --id 'uefi-firmware' {
	fwsetup
}
`

func testGrub(t *testing.T) (*Grub, *exec.FakeRunner) {
	t.Helper()
	runner := exec.NewFakeRunner()
	g := NewGrub(runner)
	g.CfgPath = filepath.Join(t.TempDir(), "grub.cfg")
	if err := os.WriteFile(g.CfgPath, []byte(sampleGrubCfg), 0o644); err != nil {
		t.Fatalf("write grub.cfg: %v", err)
	}
	return g, runner
}

func TestGrubEntries(t *testing.T) {
	g, _ := testGrub(t)

	entries, err := g.Entries(context.Background())
	if err != nil {
		t.Fatalf("Entries failed: %v", err)
	}
	if len(entries) != 5 {
		t.Fatalf("entries = %d, want 5: %+v", len(entries), entries)
	}

	if entries[0].ID != "0" || entries[0].KernelVersion != "6.1.0-vkm" {
		t.Errorf("top entry = %+v", entries[0])
	}
	// Submenu entries carry composite selectors.
	if entries[1].ID != "1>0" || entries[1].KernelVersion != "6.1.0-vkm" {
		t.Errorf("submenu entry = %+v", entries[1])
	}
	if entries[3].ID != "1>2" || entries[3].KernelVersion != "5.10.0-21-amd64" {
		t.Errorf("submenu entry = %+v", entries[3])
	}
	// The firmware entry follows the submenu at the top level.
	if entries[4].ID != "2" || entries[4].KernelVersion != "" {
		t.Errorf("firmware entry = %+v", entries[4])
	}
}

func TestEntryForVersion(t *testing.T) {
	g, _ := testGrub(t)
	ctx := context.Background()

	e, err := EntryForVersion(ctx, g, "5.10.0-21-amd64")
	if err != nil {
		t.Fatalf("EntryForVersion failed: %v", err)
	}
	if e.ID != "1>2" {
		t.Errorf("entry id = %q", e.ID)
	}

	if _, err := EntryForVersion(ctx, g, "9.9.9"); !errors.Is(err, ErrEntryNotFound) {
		t.Errorf("err = %v, want ErrEntryNotFound", err)
	}
}

func TestGrubCommands(t *testing.T) {
	g, runner := testGrub(t)
	ctx := context.Background()

	if err := g.InstallPackage(ctx, "/tmp/linux-image-6.1.0-vkm.deb"); err != nil {
		t.Fatalf("InstallPackage failed: %v", err)
	}
	if err := g.SetDefault(ctx, "1>0"); err != nil {
		t.Fatalf("SetDefault failed: %v", err)
	}
	if err := g.SetNextBoot(ctx, "1>0"); err != nil {
		t.Fatalf("SetNextBoot failed: %v", err)
	}
	if err := g.Refresh(ctx); err != nil {
		t.Fatalf("Refresh failed: %v", err)
	}
	if err := g.RemoveKernel(ctx, "5.10.0-21-amd64"); err != nil {
		t.Fatalf("RemoveKernel failed: %v", err)
	}

	want := []string{
		"dpkg -i /tmp/linux-image-6.1.0-vkm.deb",
		"grub-set-default 1>0",
		"grub-reboot 1>0",
		"update-grub",
		"dpkg --purge linux-image-5.10.0-21-amd64",
	}
	lines := runner.CommandLines()
	if len(lines) != len(want) {
		t.Fatalf("commands = %v", lines)
	}
	for i := range want {
		if lines[i] != want[i] {
			t.Errorf("command[%d] = %q, want %q", i, lines[i], want[i])
		}
	}
}

func TestGrubCommandFailure(t *testing.T) {
	g, runner := testGrub(t)
	runner.Respond("dpkg", "dependency problems", errors.New("exit status 1"))

	err := g.InstallPackage(context.Background(), "/tmp/broken.deb")
	if err == nil {
		t.Fatal("expected install error")
	}
}
