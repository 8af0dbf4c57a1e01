package models

import "time"

// KernelStatus represents the lifecycle state of a kernel record.
type KernelStatus string

const (
	// KernelPending indicates the build has been accepted but not started.
	KernelPending KernelStatus = "pending"
	// KernelFetched indicates the source tree has been downloaded and extracted.
	KernelFetched KernelStatus = "fetched"
	// KernelPatched indicates all requested patches applied cleanly.
	KernelPatched KernelStatus = "patched"
	// KernelConfigured indicates the config delta has been merged.
	KernelConfigured KernelStatus = "configured"
	// KernelCompiled indicates a package was produced successfully.
	KernelCompiled KernelStatus = "compiled"
	// KernelInstalled indicates the package is registered with the bootloader.
	KernelInstalled KernelStatus = "installed"
	// KernelActivating indicates a switch to this kernel is awaiting boot confirmation.
	KernelActivating KernelStatus = "activating"
	// KernelActive indicates this is the confirmed running kernel.
	KernelActive KernelStatus = "active"
	// KernelInactive indicates the kernel is installed but not selected.
	KernelInactive KernelStatus = "inactive"
	// KernelFailed indicates the build failed.
	KernelFailed KernelStatus = "failed"
	// KernelRetired indicates the kernel was removed from the system.
	KernelRetired KernelStatus = "retired"
)

// Valid returns true if the status is a known value.
func (s KernelStatus) Valid() bool {
	switch s {
	case KernelPending, KernelFetched, KernelPatched, KernelConfigured,
		KernelCompiled, KernelInstalled, KernelActivating, KernelActive,
		KernelInactive, KernelFailed, KernelRetired:
		return true
	default:
		return false
	}
}

// Installed reports whether the kernel currently occupies a boot entry.
func (s KernelStatus) Installed() bool {
	switch s {
	case KernelInstalled, KernelActivating, KernelActive, KernelInactive:
		return true
	default:
		return false
	}
}

// KernelRecord describes one built kernel managed by vkm.
// The record is owned by the installer once compiled; all transitions
// go through the state store.
type KernelRecord struct {
	// ID is the unique version+variant identifier, e.g. "6.1.0-vps".
	ID string `json:"id"`
	// Version is the upstream kernel version, e.g. "6.1.0".
	Version string `json:"version"`
	// Variant is the optimization profile the kernel was built under.
	Variant string `json:"variant"`
	// SourcePath is the scratch directory the kernel was built in.
	SourcePath string `json:"source_path,omitempty"`
	// ConfigDelta holds the resolved profile delta applied at configure time.
	ConfigDelta ConfigDelta `json:"config_delta,omitempty"`
	// Status is the current lifecycle state.
	Status KernelStatus `json:"status"`
	// PackagePath is the installed .deb package path.
	PackagePath string `json:"package_path,omitempty"`
	// BootEntryID is the bootloader entry id once registered.
	BootEntryID string `json:"boot_entry_id,omitempty"`
	// Pinned marks the record as exempt from eviction.
	Pinned bool `json:"pinned,omitempty"`
	// BuildLogPath points at the preserved build log for failed builds.
	BuildLogPath string `json:"build_log_path,omitempty"`
	// CreatedAt is when the record was created.
	CreatedAt time.Time `json:"created_at"`
	// ActivatedAt is the last time this kernel became Active, if ever.
	ActivatedAt *time.Time `json:"activated_at,omitempty"`
}
