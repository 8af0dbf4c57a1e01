package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.ini")
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadDefaults(t *testing.T) {
	// Absent file: pure defaults.
	cfg, err := LoadFromPath(filepath.Join(t.TempDir(), "missing.ini"))
	if err != nil {
		t.Fatalf("LoadFromPath failed: %v", err)
	}
	if cfg.General.MaxKernels != 5 {
		t.Errorf("max_kernels default = %d, want 5", cfg.General.MaxKernels)
	}
	if cfg.VPS.TCPCongestion != "bbr" {
		t.Errorf("tcp_congestion default = %q, want bbr", cfg.VPS.TCPCongestion)
	}
	if cfg.VPS.IOScheduler != "mq-deadline" {
		t.Errorf("io_scheduler default = %q, want mq-deadline", cfg.VPS.IOScheduler)
	}
	if cfg.General.ConfirmWindow != 10*time.Minute {
		t.Errorf("confirm_window default = %s, want 10m", cfg.General.ConfirmWindow)
	}
}

func TestLoadOverrides(t *testing.T) {
	path := writeConfig(t, `
[general]
build_dir = /mnt/scratch
max_kernels = 3
parallel_jobs = 4

[compilation]
compiler = clang
enable_lto = true

[vps]
tcp_congestion = cubic
`)

	cfg, err := LoadFromPath(path)
	if err != nil {
		t.Fatalf("LoadFromPath failed: %v", err)
	}
	if cfg.General.BuildDir != "/mnt/scratch" {
		t.Errorf("build_dir = %q", cfg.General.BuildDir)
	}
	if cfg.General.MaxKernels != 3 {
		t.Errorf("max_kernels = %d, want 3", cfg.General.MaxKernels)
	}
	if cfg.General.ParallelJobs != 4 {
		t.Errorf("parallel_jobs = %d, want 4", cfg.General.ParallelJobs)
	}
	if cfg.Compilation.Compiler != "clang" || !cfg.Compilation.EnableLTO {
		t.Errorf("compilation section not applied: %+v", cfg.Compilation)
	}
	if cfg.VPS.TCPCongestion != "cubic" {
		t.Errorf("tcp_congestion = %q, want cubic", cfg.VPS.TCPCongestion)
	}
	// Untouched keys keep defaults.
	if cfg.VPS.IOScheduler != "mq-deadline" {
		t.Errorf("io_scheduler = %q, want default mq-deadline", cfg.VPS.IOScheduler)
	}
}

func TestLoadUnparseableValue(t *testing.T) {
	cases := []struct {
		name    string
		content string
	}{
		{"bad int", "[general]\nmax_kernels = lots\n"},
		{"out of range", "[general]\nmax_kernels = 0\n"},
		{"bad swappiness", "[vps]\nvm_swappiness = 200\n"},
		{"bad duration", "[general]\nconfirm_window = soon\n"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := LoadFromPath(writeConfig(t, tc.content))
			if !errors.Is(err, ErrConfig) {
				t.Errorf("expected ErrConfig, got %v", err)
			}
		})
	}
}

func TestDefaultPaths(t *testing.T) {
	cfg := Default()
	if cfg == nil {
		t.Fatal("Default returned nil")
	}
	if cfg.DBPath() != "/var/lib/vkm/vkm.db" {
		t.Errorf("DBPath = %q", cfg.DBPath())
	}
	if cfg.SwitchLockPath() != "/var/lib/vkm/switch.lock" {
		t.Errorf("SwitchLockPath = %q", cfg.SwitchLockPath())
	}
	if cfg.BackupDir("6.1.0-vps") != "/var/lib/vkm/backups/6.1.0-vps" {
		t.Errorf("BackupDir = %q", cfg.BackupDir("6.1.0-vps"))
	}
}
