// Package boot abstracts bootloader operations so kernel installation and
// switching can be tested without touching the host.
package boot

import (
	"context"
	"errors"
)

// ErrEntryNotFound is returned when no boot entry matches a kernel version.
var ErrEntryNotFound = errors.New("boot entry not found")

// Entry is one selectable bootloader menu entry.
type Entry struct {
	// ID is the loader-specific selector, e.g. "2" or "1>0" for GRUB
	// submenu entries.
	ID string
	// Title is the menu title as displayed.
	Title string
	// KernelVersion is the kernel release the entry boots, when it can
	// be derived from the title.
	KernelVersion string
}

// Loader installs kernel packages and manipulates the boot menu.
type Loader interface {
	// InstallPackage installs a built kernel package onto the host.
	InstallPackage(ctx context.Context, pkgPath string) error

	// RemoveKernel uninstalls the kernel image package for a version.
	RemoveKernel(ctx context.Context, version string) error

	// Entries lists the current boot menu entries.
	Entries(ctx context.Context) ([]Entry, error)

	// SetDefault makes the entry the persistent default.
	SetDefault(ctx context.Context, entryID string) error

	// SetNextBoot selects the entry for the next boot only. A crash on
	// that boot falls back to the persistent default.
	SetNextBoot(ctx context.Context, entryID string) error

	// Refresh regenerates the boot menu after packages changed.
	Refresh(ctx context.Context) error
}

// EntryForVersion finds the menu entry booting the given kernel version.
func EntryForVersion(ctx context.Context, l Loader, version string) (*Entry, error) {
	entries, err := l.Entries(ctx)
	if err != nil {
		return nil, err
	}
	for i := range entries {
		if entries[i].KernelVersion == version {
			return &entries[i], nil
		}
	}
	return nil, ErrEntryNotFound
}
