package boot

import (
	"context"
	"fmt"
)

// FakeLoader is an in-memory Loader for tests.
type FakeLoader struct {
	// Installed records package paths passed to InstallPackage.
	Installed []string
	// Removed records kernel versions passed to RemoveKernel.
	Removed []string
	// Menu is the entry list Entries returns.
	Menu []Entry
	// Default and NextBoot hold the last selections.
	Default  string
	NextBoot string
	// Refreshed counts Refresh calls.
	Refreshed int

	// Fail, when set, makes every operation return this error.
	Fail error
}

// AddKernelEntry appends a menu entry for a kernel version, mimicking
// what a package install followed by Refresh produces.
func (f *FakeLoader) AddKernelEntry(version string) Entry {
	e := Entry{
		ID:            fmt.Sprintf("%d", len(f.Menu)),
		Title:         "Debian GNU/Linux, with Linux " + version,
		KernelVersion: version,
	}
	f.Menu = append(f.Menu, e)
	return e
}

func (f *FakeLoader) InstallPackage(ctx context.Context, pkgPath string) error {
	if f.Fail != nil {
		return f.Fail
	}
	f.Installed = append(f.Installed, pkgPath)
	return nil
}

func (f *FakeLoader) RemoveKernel(ctx context.Context, version string) error {
	if f.Fail != nil {
		return f.Fail
	}
	f.Removed = append(f.Removed, version)
	menu := f.Menu[:0]
	for _, e := range f.Menu {
		if e.KernelVersion != version {
			menu = append(menu, e)
		}
	}
	f.Menu = menu
	return nil
}

func (f *FakeLoader) Entries(ctx context.Context) ([]Entry, error) {
	if f.Fail != nil {
		return nil, f.Fail
	}
	return append([]Entry(nil), f.Menu...), nil
}

func (f *FakeLoader) SetDefault(ctx context.Context, entryID string) error {
	if f.Fail != nil {
		return f.Fail
	}
	f.Default = entryID
	return nil
}

func (f *FakeLoader) SetNextBoot(ctx context.Context, entryID string) error {
	if f.Fail != nil {
		return f.Fail
	}
	f.NextBoot = entryID
	return nil
}

func (f *FakeLoader) Refresh(ctx context.Context) error {
	if f.Fail != nil {
		return f.Fail
	}
	f.Refreshed++
	return nil
}

var _ Loader = (*FakeLoader)(nil)
