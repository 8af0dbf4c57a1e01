package boot

import (
	"context"
	"fmt"
	"os"
	"regexp"
	"strings"
)

// runner is the subset of exec.CommandRunner the GRUB loader needs,
// declared locally to keep the dependency direction one-way.
type runner interface {
	Run(ctx context.Context, workDir string, name string, args ...string) ([]byte, error)
}

// Grub drives GRUB2 on Debian-style hosts: dpkg for package installs,
// grub-set-default/grub-reboot for selection, update-grub to regenerate
// the menu.
type Grub struct {
	Runner runner
	// CfgPath is the generated menu to parse, /boot/grub/grub.cfg by default.
	CfgPath string
}

// NewGrub creates a Grub loader with the standard config path.
func NewGrub(r runner) *Grub {
	return &Grub{Runner: r, CfgPath: "/boot/grub/grub.cfg"}
}

// InstallPackage implements Loader.
func (g *Grub) InstallPackage(ctx context.Context, pkgPath string) error {
	out, err := g.Runner.Run(ctx, "", "dpkg", "-i", pkgPath)
	if err != nil {
		return fmt.Errorf("install %s: %v: %s", pkgPath, err, strings.TrimSpace(string(out)))
	}
	return nil
}

// RemoveKernel implements Loader.
func (g *Grub) RemoveKernel(ctx context.Context, version string) error {
	out, err := g.Runner.Run(ctx, "", "dpkg", "--purge", "linux-image-"+version)
	if err != nil {
		return fmt.Errorf("remove linux-image-%s: %v: %s", version, err, strings.TrimSpace(string(out)))
	}
	return nil
}

var (
	menuentryRe = regexp.MustCompile(`^\s*menuentry\s+'([^']+)'`)
	submenuRe   = regexp.MustCompile(`^\s*submenu\s+'([^']+)'`)
	withLinuxRe = regexp.MustCompile(`with Linux (\S+)`)
)

// Entries implements Loader by parsing the generated grub.cfg. Submenu
// entries get composite ids like "1>0" as grub-set-default expects.
func (g *Grub) Entries(ctx context.Context) ([]Entry, error) {
	data, err := os.ReadFile(g.CfgPath)
	if err != nil {
		return nil, fmt.Errorf("read grub config: %w", err)
	}

	var entries []Entry
	topIndex := -1
	subIndex := 0
	inSubmenu := false
	depth := 0

	for _, line := range strings.Split(string(data), "\n") {
		if m := submenuRe.FindStringSubmatch(line); m != nil {
			topIndex++
			inSubmenu = true
			subIndex = 0
			depth = strings.Count(line, "{")
			continue
		}
		if inSubmenu {
			depth += strings.Count(line, "{") - strings.Count(line, "}")
			if m := menuentryRe.FindStringSubmatch(line); m != nil {
				entries = append(entries, newEntry(fmt.Sprintf("%d>%d", topIndex, subIndex), m[1]))
				subIndex++
				continue
			}
			if depth <= 0 {
				inSubmenu = false
			}
			continue
		}
		if m := menuentryRe.FindStringSubmatch(line); m != nil {
			topIndex++
			entries = append(entries, newEntry(fmt.Sprintf("%d", topIndex), m[1]))
		}
	}
	return entries, nil
}

func newEntry(id, title string) Entry {
	e := Entry{ID: id, Title: title}
	if m := withLinuxRe.FindStringSubmatch(title); m != nil {
		e.KernelVersion = m[1]
	}
	return e
}

// SetDefault implements Loader.
func (g *Grub) SetDefault(ctx context.Context, entryID string) error {
	out, err := g.Runner.Run(ctx, "", "grub-set-default", entryID)
	if err != nil {
		return fmt.Errorf("grub-set-default %s: %v: %s", entryID, err, strings.TrimSpace(string(out)))
	}
	return nil
}

// SetNextBoot implements Loader.
func (g *Grub) SetNextBoot(ctx context.Context, entryID string) error {
	out, err := g.Runner.Run(ctx, "", "grub-reboot", entryID)
	if err != nil {
		return fmt.Errorf("grub-reboot %s: %v: %s", entryID, err, strings.TrimSpace(string(out)))
	}
	return nil
}

// Refresh implements Loader.
func (g *Grub) Refresh(ctx context.Context) error {
	out, err := g.Runner.Run(ctx, "", "update-grub")
	if err != nil {
		return fmt.Errorf("update-grub: %v: %s", err, strings.TrimSpace(string(out)))
	}
	return nil
}

var _ Loader = (*Grub)(nil)
