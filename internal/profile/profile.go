// Package profile resolves optimization profile names into kernel config
// deltas and runtime tuning hints.
package profile

import (
	"errors"
	"fmt"

	"github.com/vkm-dev/vkm/pkg/models"
)

// ErrInvalidProfile is returned for unknown profile names and for the
// custom profile with no overrides.
var ErrInvalidProfile = errors.New("invalid profile")

// Resolved is the output of profile resolution. Delta is consumed at
// configure time; the runtime hints are consumed by the optimizer after
// the kernel is active.
type Resolved struct {
	Name  string
	Delta models.ConfigDelta

	// TCPCongestion and IOScheduler are runtime defaults the profile
	// expects, applied via sysctl and sysfs rather than kernel config.
	TCPCongestion string
	IOScheduler   string
}

// vpsDelta targets KVM guests: paravirt drivers, BBR as the default
// congestion control, mq-deadline, madvise-only THP and voluntary preempt.
var vpsDelta = models.ConfigDelta{
	"CONFIG_KVM_GUEST":                    "y",
	"CONFIG_PARAVIRT":                     "y",
	"CONFIG_VIRTIO_NET":                   "y",
	"CONFIG_VIRTIO_BLK":                   "y",
	"CONFIG_TCP_CONG_BBR":                 "y",
	"CONFIG_DEFAULT_TCP_CONG":             "bbr",
	"CONFIG_MQ_IOSCHED_DEADLINE":          "y",
	"CONFIG_TRANSPARENT_HUGEPAGE_MADVISE": "y",
	"CONFIG_HARDENED_USERCOPY":            "y",
	"CONFIG_PREEMPT_VOLUNTARY":            "y",
	"CONFIG_HZ_1000":                      "y",
}

// performanceDelta favors latency on bare metal: full preempt, 1000Hz,
// topology-aware scheduling.
var performanceDelta = models.ConfigDelta{
	"CONFIG_PREEMPT":    "y",
	"CONFIG_HZ_1000":    "y",
	"CONFIG_SCHED_SMT":  "y",
	"CONFIG_SCHED_MC":   "y",
	"CONFIG_NO_HZ_IDLE": "y",
}

// minimalDelta builds a monolithic kernel with debug machinery stripped.
var minimalDelta = models.ConfigDelta{
	"CONFIG_MODULES":      "n",
	"CONFIG_DEBUG_KERNEL": "n",
	"CONFIG_DEBUG_INFO":   "n",
	"CONFIG_KALLSYMS_ALL": "n",
	"CONFIG_SOUND":        "n",
	"CONFIG_DRM":          "n",
}

// Resolve merges the named profile's built-in delta with user overrides.
// Overrides win on collision. The custom profile has no built-in delta
// and therefore requires at least one override.
func Resolve(name string, overrides map[string]string) (*Resolved, error) {
	r := &Resolved{Name: name}

	switch name {
	case models.ProfileVPS:
		r.Delta = vpsDelta.Merge(overrides)
		r.TCPCongestion = "bbr"
		r.IOScheduler = "mq-deadline"
	case models.ProfilePerformance:
		r.Delta = performanceDelta.Merge(overrides)
	case models.ProfileMinimal:
		r.Delta = minimalDelta.Merge(overrides)
	case models.ProfileCustom:
		if len(overrides) == 0 {
			return nil, fmt.Errorf("%w: custom profile requires at least one config override", ErrInvalidProfile)
		}
		r.Delta = models.ConfigDelta{}.Merge(overrides)
	default:
		return nil, fmt.Errorf("%w: %q", ErrInvalidProfile, name)
	}
	return r, nil
}
