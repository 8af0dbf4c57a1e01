// Package sysinfo gathers the host facts vkm needs: running kernel,
// CPU and memory capacity, free disk space and virtualization type.
package sysinfo

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"runtime"
	"strconv"
	"strings"

	"golang.org/x/sys/unix"

	"github.com/vkm-dev/vkm/internal/exec"
)

// Info is a snapshot of the host.
type Info struct {
	Kernel         string `json:"kernel"`
	Distribution   string `json:"distribution"`
	CPUModel       string `json:"cpu_model"`
	CPUCores       int    `json:"cpu_cores"`
	MemTotalMB     uint64 `json:"mem_total_mb"`
	MemAvailableMB uint64 `json:"mem_available_mb"`
	DiskFreeMB     uint64 `json:"disk_free_mb"`
	Virtualization string `json:"virtualization"`
}

// Collector reads host facts. ProcRoot and OSRelease are overridable so
// tests can point at fixture files.
type Collector struct {
	Runner    exec.CommandRunner
	ProcRoot  string
	OSRelease string
}

// NewCollector creates a Collector over the live system.
func NewCollector(runner exec.CommandRunner) *Collector {
	return &Collector{
		Runner:    runner,
		ProcRoot:  "/proc",
		OSRelease: "/etc/os-release",
	}
}

// CurrentKernel returns the running kernel release (uname -r).
func (c *Collector) CurrentKernel(ctx context.Context) (string, error) {
	out, err := c.Runner.Run(ctx, "", "uname", "-r")
	if err != nil {
		return "", fmt.Errorf("uname -r: %w", err)
	}
	return strings.TrimSpace(string(out)), nil
}

var modelRe = regexp.MustCompile(`model name\s*:\s*(.+)`)

// CPU returns the core count and model name from /proc/cpuinfo.
// Falls back to runtime.NumCPU when the file is unreadable.
func (c *Collector) CPU() (cores int, model string) {
	data, err := os.ReadFile(filepath.Join(c.ProcRoot, "cpuinfo"))
	if err != nil {
		return runtime.NumCPU(), ""
	}
	cores = strings.Count(string(data), "processor")
	if cores == 0 {
		cores = runtime.NumCPU()
	}
	if m := modelRe.FindStringSubmatch(string(data)); m != nil {
		model = strings.TrimSpace(m[1])
	}
	return cores, model
}

// Memory returns total and available memory in MB from /proc/meminfo.
func (c *Collector) Memory() (totalMB, availableMB uint64, err error) {
	data, err := os.ReadFile(filepath.Join(c.ProcRoot, "meminfo"))
	if err != nil {
		return 0, 0, fmt.Errorf("read meminfo: %w", err)
	}
	totalMB = meminfoMB(string(data), "MemTotal")
	availableMB = meminfoMB(string(data), "MemAvailable")
	return totalMB, availableMB, nil
}

func meminfoMB(content, field string) uint64 {
	re := regexp.MustCompile(field + `:\s*(\d+)`)
	m := re.FindStringSubmatch(content)
	if m == nil {
		return 0
	}
	kb, err := strconv.ParseUint(m[1], 10, 64)
	if err != nil {
		return 0
	}
	return kb / 1024
}

// DiskFreeMB returns the free space on the filesystem containing path.
func (c *Collector) DiskFreeMB(path string) (uint64, error) {
	var st unix.Statfs_t
	if err := unix.Statfs(path, &st); err != nil {
		return 0, fmt.Errorf("statfs %s: %w", path, err)
	}
	return st.Bavail * uint64(st.Bsize) / (1024 * 1024), nil
}

// Virtualization detects the hypervisor via systemd-detect-virt.
// Returns "none" on bare metal and "unknown" when detection fails.
func (c *Collector) Virtualization(ctx context.Context) string {
	out, err := c.Runner.Run(ctx, "", "systemd-detect-virt")
	if err != nil {
		// Non-zero exit also means "none" detected; distinguish by output.
		s := strings.TrimSpace(string(out))
		if s == "none" {
			return "none"
		}
		return "unknown"
	}
	return strings.TrimSpace(string(out))
}

// Distribution returns PRETTY_NAME from /etc/os-release.
func (c *Collector) Distribution() string {
	data, err := os.ReadFile(c.OSRelease)
	if err != nil {
		return "unknown"
	}
	re := regexp.MustCompile(`PRETTY_NAME="([^"]+)"`)
	if m := re.FindStringSubmatch(string(data)); m != nil {
		return m[1]
	}
	return "unknown"
}

// Collect builds a full Info snapshot. diskPath selects the filesystem
// measured for free space (typically the build dir).
func (c *Collector) Collect(ctx context.Context, diskPath string) (*Info, error) {
	kernel, err := c.CurrentKernel(ctx)
	if err != nil {
		return nil, err
	}

	cores, model := c.CPU()
	totalMB, availMB, err := c.Memory()
	if err != nil {
		return nil, err
	}

	info := &Info{
		Kernel:         kernel,
		Distribution:   c.Distribution(),
		CPUModel:       model,
		CPUCores:       cores,
		MemTotalMB:     totalMB,
		MemAvailableMB: availMB,
		Virtualization: c.Virtualization(ctx),
	}

	if diskPath != "" {
		free, err := c.DiskFreeMB(diskPath)
		if err == nil {
			info.DiskFreeMB = free
		}
	}

	return info, nil
}
