package optimize

import (
	"fmt"
	"strconv"

	"github.com/vkm-dev/vkm/internal/config"
	"github.com/vkm-dev/vkm/pkg/models"
)

// Tunable categories.
const (
	CategoryNetwork = "network"
	CategoryMemory  = "memory"
	CategoryIO      = "io"
	CategoryHarden  = "harden"
	CategoryAll     = "all"
)

// Categories returns the categories "all" expands to.
func Categories() []string {
	return []string{CategoryNetwork, CategoryMemory, CategoryIO}
}

// networkBundle favors throughput on virtualized NICs: fq qdisc under
// the configured congestion control, fast open and widened buffers.
func networkBundle(cfg *config.Config) []models.Tunable {
	return []models.Tunable{
		{Key: "net.core.default_qdisc", Value: "fq"},
		{Key: "net.ipv4.tcp_congestion_control", Value: cfg.VPS.TCPCongestion},
		{Key: "net.ipv4.tcp_fastopen", Value: "3"},
		{Key: "net.ipv4.tcp_mtu_probing", Value: "1"},
		{Key: "net.core.rmem_max", Value: "16777216"},
		{Key: "net.core.wmem_max", Value: "16777216"},
		{Key: "net.ipv4.tcp_rmem", Value: "4096 87380 16777216"},
		{Key: "net.ipv4.tcp_wmem", Value: "4096 65536 16777216"},
	}
}

func memoryBundle(cfg *config.Config) []models.Tunable {
	return []models.Tunable{
		{Key: "vm.swappiness", Value: strconv.Itoa(cfg.VPS.VMSwappiness)},
		{Key: "vm.vfs_cache_pressure", Value: "50"},
		{Key: "vm.dirty_ratio", Value: "15"},
		{Key: "vm.dirty_background_ratio", Value: "5"},
		{Key: sysfsPrefix + "kernel/mm/transparent_hugepage/enabled", Value: cfg.VPS.TransparentHugepages},
	}
}

// ioBundle sets the scheduler on every rotational-agnostic block device
// plus writeback expiry suited to VPS storage.
func ioBundle(cfg *config.Config, devices []string) []models.Tunable {
	tunables := []models.Tunable{
		{Key: "vm.dirty_expire_centisecs", Value: "3000"},
		{Key: "vm.dirty_writeback_centisecs", Value: "1500"},
	}
	for _, dev := range devices {
		tunables = append(tunables, models.Tunable{
			Key:   fmt.Sprintf("%sblock/%s/queue/scheduler", sysfsPrefix, dev),
			Value: cfg.VPS.IOScheduler,
		})
	}
	return tunables
}

// hardenBundle applies the kernel attack-surface reductions the harden
// command manages. Audit logging is toggled separately.
func hardenBundle() []models.Tunable {
	return []models.Tunable{
		{Key: "kernel.kptr_restrict", Value: "2"},
		{Key: "kernel.dmesg_restrict", Value: "1"},
		{Key: "kernel.unprivileged_bpf_disabled", Value: "1"},
		{Key: "kernel.yama.ptrace_scope", Value: "1"},
		{Key: "fs.protected_hardlinks", Value: "1"},
		{Key: "fs.protected_symlinks", Value: "1"},
		{Key: "net.ipv4.tcp_syncookies", Value: "1"},
		{Key: "net.ipv4.conf.all.rp_filter", Value: "1"},
	}
}
