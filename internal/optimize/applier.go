// Package optimize applies runtime tunable bundles (sysctl and sysfs)
// with capture-before-write semantics so every set can be reverted.
package optimize

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// The sysfs prefix marks keys that live under /sys instead of /proc/sys,
// e.g. "sysfs:kernel/mm/transparent_hugepage/enabled".
const sysfsPrefix = "sysfs:"

// Applier reads and writes runtime tunables.
type Applier interface {
	Read(key string) (string, error)
	Write(key, value string) error
	// BlockDevices lists block devices with a tunable IO scheduler.
	BlockDevices() ([]string, error)
}

// ProcApplier is the live Applier over /proc/sys and /sys.
type ProcApplier struct {
	ProcSys string
	SysRoot string
}

// NewProcApplier creates an Applier over the real kernel interfaces.
func NewProcApplier() *ProcApplier {
	return &ProcApplier{ProcSys: "/proc/sys", SysRoot: "/sys"}
}

func (a *ProcApplier) path(key string) string {
	if rest, ok := strings.CutPrefix(key, sysfsPrefix); ok {
		return filepath.Join(a.SysRoot, rest)
	}
	return filepath.Join(a.ProcSys, strings.ReplaceAll(key, ".", "/"))
}

// Read returns the current value of a tunable. Bracketed multi-choice
// files like the IO scheduler yield the selected choice.
func (a *ProcApplier) Read(key string) (string, error) {
	data, err := os.ReadFile(a.path(key))
	if err != nil {
		return "", fmt.Errorf("read %s: %w", key, err)
	}
	value := strings.TrimSpace(string(data))
	if i := strings.Index(value, "["); i >= 0 {
		if j := strings.Index(value[i:], "]"); j > 0 {
			value = value[i+1 : i+j]
		}
	}
	return value, nil
}

// Write sets a tunable.
func (a *ProcApplier) Write(key, value string) error {
	if err := os.WriteFile(a.path(key), []byte(value+"\n"), 0644); err != nil {
		return fmt.Errorf("write %s: %w", key, err)
	}
	return nil
}

// BlockDevices lists devices under /sys/block, skipping loop and ram
// devices that have no scheduler worth tuning.
func (a *ProcApplier) BlockDevices() ([]string, error) {
	entries, err := os.ReadDir(filepath.Join(a.SysRoot, "block"))
	if err != nil {
		return nil, fmt.Errorf("list block devices: %w", err)
	}
	var devices []string
	for _, e := range entries {
		name := e.Name()
		if strings.HasPrefix(name, "loop") || strings.HasPrefix(name, "ram") {
			continue
		}
		if _, err := os.Stat(filepath.Join(a.SysRoot, "block", name, "queue", "scheduler")); err != nil {
			continue
		}
		devices = append(devices, name)
	}
	return devices, nil
}

var _ Applier = (*ProcApplier)(nil)
